package cifar10

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
)

// writeBatch writes one record per label; every pixel of record n in
// channel c is n*10+c
func writeBatch(t *testing.T, dir, name string, labels ...byte) {
	t.Helper()
	const plane = ImageSize * ImageSize
	buf := make([]byte, 0, len(labels)*RecordSize)
	for n, label := range labels {
		buf = append(buf, label)
		for c := 0; c < Channels; c++ {
			for p := 0; p < plane; p++ {
				buf = append(buf, byte(n*10+c))
			}
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf, 0644))
}

func writeArchive(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, ArchiveDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i, name := range TrainFiles {
		writeBatch(t, dir, name, byte(i), byte(i+1), byte(9-i))
	}
	writeBatch(t, dir, TestFiles[0], 3, 7)
	return dir
}

func TestLoadParsesRecords(t *testing.T) {
	dir := t.TempDir()
	writeBatch(t, dir, "a.bin", 4, 2)
	writeBatch(t, dir, "b.bin", 9)

	ds, err := Load(dir, []string{"a.bin", "b.bin"}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, 4, ds.Label(0))
	assert.Equal(t, 2, ds.Label(1))
	assert.Equal(t, 9, ds.Label(2))

	s, err := ds.Get(1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Label)
	assert.Equal(t, Channels, s.Image.C)
	assert.Equal(t, ImageSize, s.Image.H)
	assert.Equal(t, float32(10), s.Image.At(0, 0, 0))
	assert.Equal(t, float32(12), s.Image.At(2, 31, 31))

	// Records from the second file follow the first
	s, err = ds.Get(2, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(1), s.Image.At(1, 5, 5))

	_, err = ds.Get(3, nil)
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, []string{"missing.bin"}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.bin"), make([]byte, RecordSize+5), 0644))
	_, err = Load(dir, []string{"short.bin"}, nil)
	assert.ErrorContains(t, err, "truncated")

	bad := make([]byte, RecordSize)
	bad[0] = 10
	require.NoError(t, os.WriteFile(filepath.Join(dir, "label.bin"), bad, 0644))
	_, err = Load(dir, []string{"label.bin"}, nil)
	assert.ErrorContains(t, err, "label 10")
}

func TestGetDoesNotShareStorage(t *testing.T) {
	dir := t.TempDir()
	writeBatch(t, dir, "a.bin", 1)
	ds, err := Load(dir, []string{"a.bin"}, ValTransform())
	require.NoError(t, err)

	first, err := ds.Get(0, nil)
	require.NoError(t, err)
	second, err := ds.Get(0, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Image.Pix, second.Image.Pix)

	// Channel 0 of record 0 is all zeros
	assert.InDelta(t, -0.4914/0.2023, first.Image.At(0, 3, 3), 1e-5)
}

func TestTrainTransformShape(t *testing.T) {
	dir := t.TempDir()
	writeBatch(t, dir, "a.bin", 1)
	ds, err := Load(dir, []string{"a.bin"}, TrainTransform())
	require.NoError(t, err)

	s, err := ds.Get(0, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.NoError(t, s.Image.Validate())
	assert.Equal(t, ImageSize, s.Image.H)
	assert.Equal(t, ImageSize, s.Image.W)
}

func TestResolveDir(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, root, ResolveDir(root))

	dir := writeArchive(t, root)
	assert.Equal(t, dir, ResolveDir(root))
}

func TestSetDataset(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root)

	cfg := config.DatasetConfig{Name: "cifar10", DataPath: root, BatchSize: 4, Workers: 2, Seed: 5}
	loaders, err := SetDataset(cfg, ImageSize, data.DefaultSplits())
	require.NoError(t, err)
	require.NotNil(t, loaders.Train)
	require.NotNil(t, loaders.Val)
	assert.Nil(t, loaders.Test)

	assert.Equal(t, 15, loaders.Train.NumSamples())
	assert.Equal(t, 4, loaders.Train.Len())
	assert.True(t, loaders.Train.Options().Shuffle)
	assert.Equal(t, 2, loaders.Val.NumSamples())
	assert.False(t, loaders.Val.Options().Shuffle)

	var labels []int
	err = loaders.Val.Iterate(context.Background(), 0, func(_ int, b *data.Batch) error {
		assert.Equal(t, tensor.Shape{2, Channels, ImageSize, ImageSize}, b.Images.Shape())
		labels = append(labels, b.Labels...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, labels)

	seen := 0
	err = loaders.Train.Iterate(context.Background(), 0, func(_ int, b *data.Batch) error {
		seen += b.Size()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 15, seen)
}

func TestSetDatasetTrainOnly(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root)

	cfg := config.DatasetConfig{DataPath: root, BatchSize: 8}
	loaders, err := SetDataset(cfg, ImageSize, data.Splits{Train: true})
	require.NoError(t, err)
	assert.NotNil(t, loaders.Train)
	assert.Nil(t, loaders.Val)
}

func TestSetDatasetRejects(t *testing.T) {
	root := t.TempDir()
	cfg := config.DatasetConfig{DataPath: root, BatchSize: 8}

	_, err := SetDataset(cfg, 64, data.DefaultSplits())
	assert.Error(t, err)

	_, err = SetDataset(cfg, ImageSize, data.Splits{Train: true, Test: true})
	assert.ErrorIs(t, err, data.ErrSplitUnavailable)

	_, err = SetDataset(cfg, ImageSize, data.DefaultSplits())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
