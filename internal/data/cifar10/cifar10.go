// Package cifar10 reads the CIFAR-10 binary distribution and builds the
// standard augmented train and plain validation loaders.
package cifar10

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
)

const (
	// ImageSize is the only side length CIFAR-10 images come in
	ImageSize = 32
	Channels  = 3
	Classes   = 10

	// RecordSize is one label byte followed by a CHW uint8 image
	RecordSize = 1 + Channels*ImageSize*ImageSize

	// ArchiveDir is the directory the binary archive extracts to
	ArchiveDir = "cifar-10-batches-bin"
)

var (
	Mean = []float32{0.4914, 0.4822, 0.4465}
	Std  = []float32{0.2023, 0.1994, 0.2010}
)

// TrainFiles and TestFiles name the batch files of each split
var (
	TrainFiles = []string{
		"data_batch_1.bin",
		"data_batch_2.bin",
		"data_batch_3.bin",
		"data_batch_4.bin",
		"data_batch_5.bin",
	}
	TestFiles = []string{"test_batch.bin"}
)

// Dataset holds decoded CIFAR-10 records in memory
type Dataset struct {
	labels    []uint8
	pixels    []uint8
	transform data.Transform
}

// Len returns the number of images
func (d *Dataset) Len() int {
	return len(d.labels)
}

// Get returns image i as a float image passed through the dataset transform
func (d *Dataset) Get(i int, rng *rand.Rand) (data.Sample, error) {
	if i < 0 || i >= len(d.labels) {
		return data.Sample{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.labels))
	}

	const plane = Channels * ImageSize * ImageSize
	img := data.NewImage(Channels, ImageSize, ImageSize)
	raw := d.pixels[i*plane : (i+1)*plane]
	for p, v := range raw {
		img.Pix[p] = float32(v)
	}

	if d.transform != nil {
		var err error
		if img, err = d.transform(img, rng); err != nil {
			return data.Sample{}, fmt.Errorf("transform image %d: %w", i, err)
		}
	}
	return data.Sample{Image: img, Label: int(d.labels[i])}, nil
}

// Label returns the class of image i without decoding it
func (d *Dataset) Label(i int) int {
	return int(d.labels[i])
}

// Load reads the given batch files from dir
func Load(dir string, files []string, transform data.Transform) (*Dataset, error) {
	ds := &Dataset{transform: transform}
	for _, name := range files {
		if err := ds.readFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (d *Dataset) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	record := make([]byte, RecordSize)
	for n := 0; ; n++ {
		_, err := io.ReadFull(f, record)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: record %d truncated: %w", path, n, err)
		}
		if record[0] >= Classes {
			return fmt.Errorf("%s: record %d has label %d", path, n, record[0])
		}
		d.labels = append(d.labels, record[0])
		d.pixels = append(d.pixels, record[1:]...)
	}
}

// TrainTransform pads and crops, flips, then normalizes
func TrainTransform() data.Transform {
	return data.Compose(
		data.RandomCrop(ImageSize, 4),
		data.RandomHorizontalFlip(0.5),
		data.ToTensor(),
		data.Normalize(Mean, Std),
	)
}

// ValTransform only normalizes
func ValTransform() data.Transform {
	return data.Compose(
		data.ToTensor(),
		data.Normalize(Mean, Std),
	)
}

// ResolveDir returns root/cifar-10-batches-bin when it exists, else root
func ResolveDir(root string) string {
	dir := filepath.Join(root, ArchiveDir)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return root
}

// SetDataset builds the requested CIFAR-10 loaders from cfg.DataPath. The
// validation loader reads the test batch, as is usual for CIFAR-10.
func SetDataset(cfg config.DatasetConfig, imageSize int, splits data.Splits) (*data.Loaders, error) {
	if imageSize != ImageSize {
		return nil, fmt.Errorf("cifar10 images are %dx%d, got image size %d", ImageSize, ImageSize, imageSize)
	}
	if splits.Test {
		return nil, fmt.Errorf("cifar10 test: %w", data.ErrSplitUnavailable)
	}

	dir := ResolveDir(cfg.DataPath)
	loaders := &data.Loaders{}

	if splits.Train {
		ds, err := Load(dir, TrainFiles, TrainTransform())
		if err != nil {
			return nil, fmt.Errorf("failed to load cifar10 train: %w", err)
		}
		loaders.Train, err = data.NewLoader(ds, data.LoaderOptions{
			BatchSize:  cfg.BatchSize,
			Shuffle:    true,
			NumWorkers: cfg.Workers,
			Seed:       cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
	}

	if splits.Val {
		ds, err := Load(dir, TestFiles, ValTransform())
		if err != nil {
			return nil, fmt.Errorf("failed to load cifar10 val: %w", err)
		}
		loaders.Val, err = data.NewLoader(ds, data.LoaderOptions{
			BatchSize:  cfg.BatchSize,
			NumWorkers: cfg.Workers,
			Seed:       cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
	}

	return loaders, nil
}
