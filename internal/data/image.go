// Package data defines the image sample model shared by the dataset
// packages, the CIFAR-style tensor transforms and the batch loader.
package data

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrSplitUnavailable is returned when a dataset has no data for a
// requested split
var ErrSplitUnavailable = errors.New("split not available for dataset")

// Image is a channel-major (C, H, W) float image
type Image struct {
	C, H, W int
	Pix     []float32
}

// NewImage allocates a zeroed image
func NewImage(c, h, w int) *Image {
	return &Image{C: c, H: h, W: w, Pix: make([]float32, c*h*w)}
}

// At returns the value at channel c, row y, column x
func (im *Image) At(c, y, x int) float32 {
	return im.Pix[(c*im.H+y)*im.W+x]
}

// Set sets the value at channel c, row y, column x
func (im *Image) Set(c, y, x int, v float32) {
	im.Pix[(c*im.H+y)*im.W+x] = v
}

// Validate checks that Pix matches the declared shape
func (im *Image) Validate() error {
	if im.C <= 0 || im.H <= 0 || im.W <= 0 {
		return fmt.Errorf("invalid image shape (%d, %d, %d)", im.C, im.H, im.W)
	}
	if len(im.Pix) != im.C*im.H*im.W {
		return fmt.Errorf("image has %d values, shape (%d, %d, %d) needs %d",
			len(im.Pix), im.C, im.H, im.W, im.C*im.H*im.W)
	}
	return nil
}

// Sample is one transformed image with its class label
type Sample struct {
	Image *Image
	Label int
}

// Dataset is an indexable collection of samples. Get must return an image
// the caller may modify; rng drives random augmentation.
type Dataset interface {
	Len() int
	Get(i int, rng *rand.Rand) (Sample, error)
}

// Splits selects which loaders to build
type Splits struct {
	Train bool
	Val   bool
	Test  bool
}

// DefaultSplits builds train and validation loaders
func DefaultSplits() Splits {
	return Splits{Train: true, Val: true}
}

// Loaders holds one loader per split; unrequested splits are nil
type Loaders struct {
	Train *Loader
	Val   *Loader
	Test  *Loader
}
