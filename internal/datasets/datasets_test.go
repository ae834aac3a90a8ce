package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
	"github.com/thyrook/trainkit/internal/data/cifar10"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"cifar10", "imagenet"}, Names())
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(config.DatasetConfig{Name: "mnist"}, data.DefaultSplits())
	assert.ErrorContains(t, err, `unknown dataset "mnist"`)
}

func TestOpenCIFAR10(t *testing.T) {
	root := t.TempDir()
	record := make([]byte, cifar10.RecordSize)
	record[0] = 6
	require.NoError(t, os.WriteFile(filepath.Join(root, cifar10.TestFiles[0]), record, 0644))

	cfg := config.DatasetConfig{Name: "cifar10", DataPath: root, ImageSize: 32, BatchSize: 1}
	loaders, err := Open(cfg, data.Splits{Val: true})
	require.NoError(t, err)
	require.NotNil(t, loaders.Val)
	assert.Equal(t, 1, loaders.Val.NumSamples())

	_, err = Open(cfg, data.Splits{Test: true})
	assert.ErrorIs(t, err, data.ErrSplitUnavailable)
}
