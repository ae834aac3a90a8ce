// Package imagenet loads ImageNet-style class folder trees with OpenCV
// decoding and the usual crop-based augmentation.
package imagenet

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
)

const (
	SplitTrain = "train"
	SplitVal   = "val"
)

var (
	Mean = []float32{0.485, 0.456, 0.406}
	Std  = []float32{0.229, 0.224, 0.225}
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Entry is one image file and its class index
type Entry struct {
	Path  string
	Label int
}

// Dataset is a class folder tree: root/<split>/<class>/<image>
type Dataset struct {
	Root    string
	Split   string
	Classes []string
	Entries []Entry

	Decode    MatTransform   // Runs on the BGR uint8 image
	Transform data.Transform // Runs on the RGB float image
}

// Len returns the number of images
func (d *Dataset) Len() int {
	return len(d.Entries)
}

// Get decodes image i and applies both transform stages
func (d *Dataset) Get(i int, rng *rand.Rand) (data.Sample, error) {
	if i < 0 || i >= len(d.Entries) {
		return data.Sample{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.Entries))
	}
	entry := d.Entries[i]

	src := gocv.IMRead(entry.Path, gocv.IMReadColor)
	defer src.Close()
	if src.Empty() {
		return data.Sample{}, fmt.Errorf("failed to decode image: %s", entry.Path)
	}

	var (
		img *data.Image
		err error
	)
	if d.Decode != nil {
		out, derr := d.Decode(src, rng)
		if derr != nil {
			return data.Sample{}, fmt.Errorf("%s: %w", entry.Path, derr)
		}
		img, err = MatToImage(out)
		out.Close()
	} else {
		img, err = MatToImage(src)
	}
	if err != nil {
		return data.Sample{}, fmt.Errorf("%s: %w", entry.Path, err)
	}
	if d.Transform != nil {
		if img, err = d.Transform(img, rng); err != nil {
			return data.Sample{}, fmt.Errorf("%s: %w", entry.Path, err)
		}
	}
	return data.Sample{Image: img, Label: entry.Label}, nil
}

// MatToImage converts a BGR uint8 Mat into an RGB CHW image with 0-255 values
func MatToImage(mat gocv.Mat) (*data.Image, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("expected 8-bit 3-channel image, got type %v", mat.Type())
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	h, w := rgb.Rows(), rgb.Cols()
	raw := rgb.ToBytes()
	if len(raw) != h*w*3 {
		return nil, fmt.Errorf("image has %d bytes, want %d", len(raw), h*w*3)
	}

	img := data.NewImage(3, h, w)
	plane := h * w
	for p := 0; p < plane; p++ {
		for c := 0; c < 3; c++ {
			img.Pix[c*plane+p] = float32(raw[p*3+c])
		}
	}
	return img, nil
}

// FindClasses lists the class folders of dir in sorted order
func FindClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read class directory: %w", err)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no class folders in %s", dir)
	}
	sort.Strings(classes)
	return classes, nil
}

// Scan indexes root/split. When classes is nil the class list is read from
// the split itself; otherwise folders not in classes are an error.
func Scan(root, split string, classes []string) (*Dataset, error) {
	dir := filepath.Join(root, split)
	found, err := FindClasses(dir)
	if err != nil {
		return nil, err
	}
	if classes == nil {
		classes = found
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	ds := &Dataset{Root: root, Split: split, Classes: classes}
	for _, class := range found {
		label, ok := index[class]
		if !ok {
			return nil, fmt.Errorf("%s: class %q not in class list", dir, class)
		}

		files, err := os.ReadDir(filepath.Join(dir, class))
		if err != nil {
			return nil, fmt.Errorf("failed to read class folder: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			ds.Entries = append(ds.Entries, Entry{
				Path:  filepath.Join(dir, class, f.Name()),
				Label: label,
			})
		}
	}
	return ds, nil
}

// TrainDecode is random resized crop followed by a horizontal flip
func TrainDecode(imageSize int) MatTransform {
	return ComposeMat(
		RandomResizedCrop(imageSize),
		RandomHorizontalFlip(0.5),
	)
}

// ValDecode resizes the shorter side to imageSize+32 and center crops
func ValDecode(imageSize int) MatTransform {
	return ComposeMat(
		Resize(imageSize+32),
		CenterCrop(imageSize),
	)
}

// Normalization is shared by both splits
func Normalization() data.Transform {
	return data.Compose(
		data.ToTensor(),
		data.Normalize(Mean, Std),
	)
}

// Hook adjusts a scanned dataset before its loader is built
type Hook func(cfg config.DatasetConfig, ds *Dataset) error

// LimitPerClass keeps the first n images of every class
func LimitPerClass(n int) Hook {
	return func(_ config.DatasetConfig, ds *Dataset) error {
		if n <= 0 {
			return fmt.Errorf("invalid per-class limit: %d", n)
		}
		counts := make(map[int]int)
		kept := ds.Entries[:0]
		for _, e := range ds.Entries {
			if counts[e.Label] < n {
				kept = append(kept, e)
				counts[e.Label]++
			}
		}
		ds.Entries = kept
		return nil
	}
}

// SetDataset builds the requested loaders from cfg.DataPath, running hooks
// on each dataset first. Validation uses the training class list when both
// splits are requested.
func SetDataset(cfg config.DatasetConfig, imageSize int, splits data.Splits, hooks ...Hook) (*data.Loaders, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("invalid image size: %d", imageSize)
	}
	if splits.Test {
		return nil, fmt.Errorf("imagenet test: %w", data.ErrSplitUnavailable)
	}

	loaders := &data.Loaders{}
	var classes []string

	build := func(split string, decode MatTransform, shuffle bool) (*data.Loader, error) {
		ds, err := Scan(cfg.DataPath, split, classes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan imagenet %s: %w", split, err)
		}
		ds.Decode = decode
		ds.Transform = Normalization()
		for _, hook := range hooks {
			if err := hook(cfg, ds); err != nil {
				return nil, fmt.Errorf("imagenet %s hook: %w", split, err)
			}
		}
		classes = ds.Classes

		return data.NewLoader(ds, data.LoaderOptions{
			BatchSize:  cfg.BatchSize,
			Shuffle:    shuffle,
			NumWorkers: cfg.Workers,
			Seed:       cfg.Seed,
		})
	}

	var err error
	if splits.Train {
		if loaders.Train, err = build(SplitTrain, TrainDecode(imageSize), true); err != nil {
			return nil, err
		}
	}
	if splits.Val {
		if loaders.Val, err = build(SplitVal, ValDecode(imageSize), false); err != nil {
			return nil, err
		}
	}
	return loaders, nil
}
