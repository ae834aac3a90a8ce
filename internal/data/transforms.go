package data

import (
	"fmt"
	"math/rand"
)

// Transform maps an image to a new or modified image. Transforms may reuse
// the input's storage.
type Transform func(img *Image, rng *rand.Rand) (*Image, error)

// Compose chains transforms left to right
func Compose(transforms ...Transform) Transform {
	return func(img *Image, rng *rand.Rand) (*Image, error) {
		var err error
		for _, t := range transforms {
			if img, err = t(img, rng); err != nil {
				return nil, err
			}
		}
		return img, nil
	}
}

// RandomCrop zero-pads each border by padding pixels and takes a random
// size x size crop
func RandomCrop(size, padding int) Transform {
	return func(img *Image, rng *rand.Rand) (*Image, error) {
		paddedH := img.H + 2*padding
		paddedW := img.W + 2*padding
		if size > paddedH || size > paddedW {
			return nil, fmt.Errorf("crop size %d larger than padded image %dx%d", size, paddedH, paddedW)
		}

		top := rng.Intn(paddedH-size+1) - padding
		left := rng.Intn(paddedW-size+1) - padding

		out := NewImage(img.C, size, size)
		for c := 0; c < img.C; c++ {
			for y := 0; y < size; y++ {
				sy := top + y
				if sy < 0 || sy >= img.H {
					continue
				}
				for x := 0; x < size; x++ {
					sx := left + x
					if sx < 0 || sx >= img.W {
						continue
					}
					out.Set(c, y, x, img.At(c, sy, sx))
				}
			}
		}
		return out, nil
	}
}

// RandomHorizontalFlip mirrors the image left-to-right with probability p
func RandomHorizontalFlip(p float64) Transform {
	return func(img *Image, rng *rand.Rand) (*Image, error) {
		if rng.Float64() >= p {
			return img, nil
		}
		FlipHorizontal(img)
		return img, nil
	}
}

// FlipHorizontal mirrors img in place
func FlipHorizontal(img *Image) {
	for c := 0; c < img.C; c++ {
		for y := 0; y < img.H; y++ {
			row := img.Pix[(c*img.H+y)*img.W : (c*img.H+y+1)*img.W]
			for l, r := 0, len(row)-1; l < r; l, r = l+1, r-1 {
				row[l], row[r] = row[r], row[l]
			}
		}
	}
}

// ToTensor scales 0-255 pixel values to [0, 1]
func ToTensor() Transform {
	return func(img *Image, _ *rand.Rand) (*Image, error) {
		for i, v := range img.Pix {
			img.Pix[i] = v / 255
		}
		return img, nil
	}
}

// Normalize subtracts mean and divides by std per channel
func Normalize(mean, std []float32) Transform {
	return func(img *Image, _ *rand.Rand) (*Image, error) {
		if len(mean) != img.C || len(std) != img.C {
			return nil, fmt.Errorf("normalize: %d channels, %d means, %d stds", img.C, len(mean), len(std))
		}
		plane := img.H * img.W
		for c := 0; c < img.C; c++ {
			m, s := mean[c], std[c]
			for i := c * plane; i < (c+1)*plane; i++ {
				img.Pix[i] = (img.Pix[i] - m) / s
			}
		}
		return img, nil
	}
}
