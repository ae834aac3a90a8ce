package imagenet

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"gocv.io/x/gocv"
)

// MatTransform maps a decoded image to a new Mat. The caller keeps
// ownership of src and must Close the result. On error no Mat is returned.
type MatTransform func(src gocv.Mat, rng *rand.Rand) (gocv.Mat, error)

// ComposeMat chains mat transforms left to right, closing intermediates
func ComposeMat(transforms ...MatTransform) MatTransform {
	return func(src gocv.Mat, rng *rand.Rand) (gocv.Mat, error) {
		cur := src
		owned := false
		for _, t := range transforms {
			next, err := t(cur, rng)
			if owned {
				cur.Close()
			}
			if err != nil {
				return gocv.Mat{}, err
			}
			cur = next
			owned = true
		}
		if !owned {
			return src.Clone(), nil
		}
		return cur, nil
	}
}

// Crop scale and aspect ratio ranges of the standard Inception-style crop
const (
	MinCropScale = 0.08
	MaxCropScale = 1.0
	cropAttempts = 10
)

var (
	MinCropRatio = 3.0 / 4.0
	MaxCropRatio = 4.0 / 3.0
)

// resizedCropBox picks a random crop covering a random share of the image
// area with a random aspect ratio. After cropAttempts misses it falls back
// to a center crop clamped to the ratio range.
func resizedCropBox(w, h int, rng *rand.Rand) image.Rectangle {
	area := float64(w * h)
	logMin, logMax := math.Log(MinCropRatio), math.Log(MaxCropRatio)

	for attempt := 0; attempt < cropAttempts; attempt++ {
		target := area * (MinCropScale + rng.Float64()*(MaxCropScale-MinCropScale))
		ratio := math.Exp(logMin + rng.Float64()*(logMax-logMin))

		cw := int(math.Round(math.Sqrt(target * ratio)))
		ch := int(math.Round(math.Sqrt(target / ratio)))
		if cw > 0 && cw <= w && ch > 0 && ch <= h {
			top := rng.Intn(h - ch + 1)
			left := rng.Intn(w - cw + 1)
			return image.Rect(left, top, left+cw, top+ch)
		}
	}

	cw, ch := w, h
	inRatio := float64(w) / float64(h)
	switch {
	case inRatio < MinCropRatio:
		ch = int(math.Round(float64(w) / MinCropRatio))
	case inRatio > MaxCropRatio:
		cw = int(math.Round(float64(h) * MaxCropRatio))
	}
	top := (h - ch) / 2
	left := (w - cw) / 2
	return image.Rect(left, top, left+cw, top+ch)
}

// shorterSide returns the size that scales the shorter side to size and
// keeps the aspect ratio
func shorterSide(w, h, size int) image.Point {
	if w <= h {
		return image.Pt(size, int(float64(size)*float64(h)/float64(w)))
	}
	return image.Pt(int(float64(size)*float64(w)/float64(h)), size)
}

// centerBox returns the centered size x size box
func centerBox(w, h, size int) (image.Rectangle, error) {
	if size > w || size > h {
		return image.Rectangle{}, fmt.Errorf("center crop %d larger than image %dx%d", size, w, h)
	}
	top := int(math.Round(float64(h-size) / 2))
	left := int(math.Round(float64(w-size) / 2))
	return image.Rect(left, top, left+size, top+size), nil
}

// RandomResizedCrop crops a random box and resizes it to size x size
func RandomResizedCrop(size int) MatTransform {
	return func(src gocv.Mat, rng *rand.Rand) (gocv.Mat, error) {
		if src.Empty() {
			return gocv.Mat{}, fmt.Errorf("empty image")
		}
		box := resizedCropBox(src.Cols(), src.Rows(), rng)

		region := src.Region(box)
		defer region.Close()

		dst := gocv.NewMat()
		gocv.Resize(region, &dst, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
		return dst, nil
	}
}

// Resize scales the shorter side to size
func Resize(size int) MatTransform {
	return func(src gocv.Mat, _ *rand.Rand) (gocv.Mat, error) {
		if src.Empty() {
			return gocv.Mat{}, fmt.Errorf("empty image")
		}
		dst := gocv.NewMat()
		gocv.Resize(src, &dst, shorterSide(src.Cols(), src.Rows(), size), 0, 0, gocv.InterpolationLinear)
		return dst, nil
	}
}

// CenterCrop takes the centered size x size box
func CenterCrop(size int) MatTransform {
	return func(src gocv.Mat, _ *rand.Rand) (gocv.Mat, error) {
		box, err := centerBox(src.Cols(), src.Rows(), size)
		if err != nil {
			return gocv.Mat{}, err
		}
		region := src.Region(box)
		defer region.Close()
		return region.Clone(), nil
	}
}

// RandomHorizontalFlip mirrors the image with probability p
func RandomHorizontalFlip(p float64) MatTransform {
	return func(src gocv.Mat, rng *rand.Rand) (gocv.Mat, error) {
		if rng.Float64() >= p {
			return src.Clone(), nil
		}
		dst := gocv.NewMat()
		gocv.Flip(src, &dst, 1)
		return dst, nil
	}
}
