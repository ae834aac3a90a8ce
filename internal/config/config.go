package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Config represents the training pipeline configuration
type Config struct {
	Dataset    DatasetConfig    `json:"dataset" yaml:"dataset"`
	Train      TrainConfig      `json:"train" yaml:"train"`
	Optimizer  OptimizerConfig  `json:"optimizer" yaml:"optimizer"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
}

// DatasetConfig selects the dataset and how it is loaded
type DatasetConfig struct {
	Name      string `json:"name" yaml:"name"`         // "cifar10" or "imagenet"
	DataPath  string `json:"datapath" yaml:"datapath"` // Dataset root directory
	ImageSize int    `json:"image_size" yaml:"image_size"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	Workers   int    `json:"workers" yaml:"workers"` // 0 loads batches inline
	Seed      int64  `json:"seed" yaml:"seed"`
}

// TrainConfig holds the epoch count and the learning-rate schedule
type TrainConfig struct {
	Epochs         int     `json:"epochs" yaml:"epochs"`
	LRScheduler    string  `json:"lr_scheduler" yaml:"lr_scheduler"`
	Warmup         int     `json:"warmup" yaml:"warmup"` // warmup_cosine only
	StepSize       int     `json:"step_size" yaml:"step_size"`
	StepGamma      float64 `json:"step_gamma" yaml:"step_gamma"`
	StepMilestones []int   `json:"step_milestones" yaml:"step_milestones"`
	LRStep         string  `json:"lr_step" yaml:"lr_step"`   // "epoch" or "batch"
	Patience       int     `json:"patience" yaml:"patience"` // Epochs without val improvement before stopping, 0 disables
}

// OptimizerConfig describes the solver and its parameter groups
type OptimizerConfig struct {
	Solver          string             `json:"solver" yaml:"solver"` // "sgd" or "adam"
	LR              float64            `json:"lr" yaml:"lr"`
	GradientClipMax float64            `json:"gradient_clip_max" yaml:"gradient_clip_max"`
	Groups          []ParamGroupConfig `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ParamGroupConfig gives one parameter group its own base learning rate.
// LR 0 means the optimizer-wide LR.
type ParamGroupConfig struct {
	Name string  `json:"name" yaml:"name"`
	LR   float64 `json:"lr,omitempty" yaml:"lr,omitempty"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	Path  string `json:"path" yaml:"path"`
}

// CheckpointConfig controls scheduler/trainer checkpoints
type CheckpointConfig struct {
	Path     string `json:"path" yaml:"path"`         // Empty disables checkpoints
	Interval int    `json:"interval" yaml:"interval"` // Save every N epochs
}

// DefaultConfig returns a CIFAR-10 warmup-cosine configuration
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Name:      "cifar10",
			DataPath:  "data",
			ImageSize: 32,
			BatchSize: 128,
			Workers:   4,
			Seed:      1,
		},
		Train: TrainConfig{
			Epochs:         200,
			LRScheduler:    "warmup_cosine",
			Warmup:         5,
			StepSize:       30,
			StepGamma:      0.1,
			StepMilestones: []int{100, 150},
			LRStep:         "batch",
		},
		Optimizer: OptimizerConfig{
			Solver:          "sgd",
			LR:              0.1,
			GradientClipMax: 0,
		},
		Log: LogConfig{
			Level: "info",
			Path:  "",
		},
		Checkpoint: CheckpointConfig{
			Path:     "checkpoints/train.db",
			Interval: 1,
		},
	}
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON. Fields missing from the
// file keep their DefaultConfig values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse json config: %w", err)
		}
	}

	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to DefaultConfig
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// Save writes the configuration to a file, as YAML or JSON by extension
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for values no component can use.
// Schedule-family parameters are checked by the scheduler itself.
func (c *Config) Validate() error {
	switch c.Dataset.Name {
	case "cifar10", "imagenet":
	default:
		return fmt.Errorf("unknown dataset: %q", c.Dataset.Name)
	}
	if c.Dataset.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", c.Dataset.BatchSize)
	}
	if c.Dataset.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Dataset.Workers)
	}
	if c.Dataset.ImageSize <= 0 {
		return fmt.Errorf("invalid image size: %d", c.Dataset.ImageSize)
	}

	if c.Train.Epochs <= 0 {
		return fmt.Errorf("invalid epochs: %d", c.Train.Epochs)
	}
	if c.Train.LRScheduler == "" {
		return fmt.Errorf("lr_scheduler not set")
	}
	switch c.Train.LRStep {
	case "epoch", "batch":
	default:
		return fmt.Errorf("invalid lr_step: %q (must be epoch or batch)", c.Train.LRStep)
	}
	if c.Train.Patience < 0 {
		return fmt.Errorf("invalid patience: %d", c.Train.Patience)
	}

	if c.Optimizer.LR <= 0 {
		return fmt.Errorf("invalid learning rate: %g", c.Optimizer.LR)
	}
	for i, g := range c.Optimizer.Groups {
		if g.Name == "" {
			return fmt.Errorf("parameter group %d has no name", i)
		}
		if g.LR < 0 {
			return fmt.Errorf("parameter group %s: invalid learning rate %g", g.Name, g.LR)
		}
	}

	if c.Checkpoint.Interval < 0 {
		return fmt.Errorf("invalid checkpoint interval: %d", c.Checkpoint.Interval)
	}

	return nil
}

// EnsureDirectories creates parent directories for the log and checkpoint files
func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.Log.Path, c.Checkpoint.Path} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
