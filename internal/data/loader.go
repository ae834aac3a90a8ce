package data

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"
)

// Batch is a stack of samples. Images has shape (N, C, H, W) and float32
// backing; Indices are the dataset indices the samples came from.
type Batch struct {
	Images  *tensor.Dense
	Labels  []int
	Indices []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// LoaderOptions configures a Loader
type LoaderOptions struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int   // 0 builds batches on the calling goroutine
	Seed       int64 // Drives shuffling and augmentation
}

// Loader splits a dataset into batches. The final batch of an epoch may be
// short. For a fixed Seed and epoch the batches are identical regardless of
// NumWorkers.
type Loader struct {
	dataset Dataset
	opts    LoaderOptions
}

type batchResult struct {
	batch *Batch
	err   error
}

// NewLoader creates a loader over ds
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size: %d", opts.BatchSize)
	}
	if opts.NumWorkers < 0 {
		return nil, fmt.Errorf("invalid worker count: %d", opts.NumWorkers)
	}
	return &Loader{dataset: ds, opts: opts}, nil
}

// Dataset returns the underlying dataset
func (l *Loader) Dataset() Dataset {
	return l.dataset
}

// Options returns the loader options
func (l *Loader) Options() LoaderOptions {
	return l.opts
}

// NumSamples returns the dataset size
func (l *Loader) NumSamples() int {
	return l.dataset.Len()
}

// Len returns the number of batches per epoch
func (l *Loader) Len() int {
	n := l.dataset.Len()
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Iterate delivers the batches of one epoch to fn in order. fn runs on the
// calling goroutine; returning an error stops iteration. With NumWorkers > 0
// at most 2*NumWorkers batches are built ahead of fn.
func (l *Loader) Iterate(ctx context.Context, epoch int, fn func(i int, b *Batch) error) error {
	order := l.order(epoch)
	n := l.Len()

	if l.opts.NumWorkers == 0 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := l.buildBatch(order, epoch, i)
			if err != nil {
				return err
			}
			if err := fn(i, b); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	results := make([]chan batchResult, n)
	for i := range results {
		results[i] = make(chan batchResult, 1)
	}
	jobs := make(chan int)
	tokens := make(chan struct{}, 2*l.opts.NumWorkers)

	for w := 0; w < l.opts.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, err := l.buildBatch(order, epoch, i)
				results[i] <- batchResult{batch: b, err: err}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case tokens <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		var res batchResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-tokens

		if err := ctx.Err(); err != nil {
			return err
		}
		if res.err != nil {
			return res.err
		}
		if err := fn(i, res.batch); err != nil {
			return err
		}
	}
	return nil
}

// order returns the sample order for epoch
func (l *Loader) order(epoch int) []int {
	n := l.dataset.Len()
	if !l.opts.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)*1_000_003))
	return rng.Perm(n)
}

// buildBatch loads and stacks batch i of the epoch
func (l *Loader) buildBatch(order []int, epoch, i int) (*Batch, error) {
	start := i * l.opts.BatchSize
	end := start + l.opts.BatchSize
	if end > len(order) {
		end = len(order)
	}
	indices := order[start:end]

	seed := l.opts.Seed ^ (int64(epoch)<<32 | int64(i))
	rng := rand.New(rand.NewSource(seed))

	var (
		c, h, w int
		pix     []float32
		labels  = make([]int, len(indices))
	)
	for j, idx := range indices {
		s, err := l.dataset.Get(idx, rng)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", idx, err)
		}
		if s.Image == nil {
			return nil, fmt.Errorf("sample %d: image is nil", idx)
		}
		if err := s.Image.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", idx, err)
		}

		if j == 0 {
			c, h, w = s.Image.C, s.Image.H, s.Image.W
			pix = make([]float32, 0, len(indices)*c*h*w)
		} else if s.Image.C != c || s.Image.H != h || s.Image.W != w {
			return nil, fmt.Errorf("sample %d: shape (%d, %d, %d) differs from batch shape (%d, %d, %d)",
				idx, s.Image.C, s.Image.H, s.Image.W, c, h, w)
		}

		pix = append(pix, s.Image.Pix...)
		labels[j] = s.Label
	}

	images := tensor.New(
		tensor.WithShape(len(indices), c, h, w),
		tensor.WithBacking(pix),
	)

	return &Batch{
		Images:  images,
		Labels:  labels,
		Indices: append([]int(nil), indices...),
	}, nil
}
