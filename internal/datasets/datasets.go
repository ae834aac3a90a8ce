// Package datasets selects a dataset implementation by name.
package datasets

import (
	"fmt"
	"sort"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
	"github.com/thyrook/trainkit/internal/data/cifar10"
	"github.com/thyrook/trainkit/internal/data/imagenet"
)

// Builder creates loaders for one dataset
type Builder func(cfg config.DatasetConfig, splits data.Splits) (*data.Loaders, error)

var builders = map[string]Builder{
	"cifar10": func(cfg config.DatasetConfig, splits data.Splits) (*data.Loaders, error) {
		return cifar10.SetDataset(cfg, cfg.ImageSize, splits)
	},
	"imagenet": func(cfg config.DatasetConfig, splits data.Splits) (*data.Loaders, error) {
		return imagenet.SetDataset(cfg, cfg.ImageSize, splits)
	},
}

// Names lists the known dataset names
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the loaders for cfg.Name
func Open(cfg config.DatasetConfig, splits data.Splits) (*data.Loaders, error) {
	build, ok := builders[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (available: %v)", cfg.Name, Names())
	}
	loaders, err := build(cfg, splits)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Name, err)
	}
	return loaders, nil
}
