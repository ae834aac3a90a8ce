// Package training runs the epoch loop: it feeds batches to a step
// function, advances the optimizer and the learning-rate scheduler at epoch
// or batch granularity, evaluates, logs and checkpoints.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/trainkit/internal/checkpoint"
	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
	"github.com/thyrook/trainkit/internal/logger"
	"github.com/thyrook/trainkit/internal/schedule"
)

// Granularity says how often the scheduler advances
type Granularity string

const (
	PerEpoch Granularity = "epoch"
	PerBatch Granularity = "batch"
)

// ParseGranularity parses the lr_step setting
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case PerEpoch, PerBatch:
		return g, nil
	}
	return "", fmt.Errorf("invalid lr_step %q", s)
}

// BatchPosition is the fractional schedule position after batch i of n in
// epoch
func BatchPosition(epoch, i, n int) float64 {
	return float64(epoch) + float64(i+1)/float64(n)
}

// StepFunc runs forward and backward passes for one batch and returns its
// loss. The optimizer step is taken by the trainer afterwards.
type StepFunc func(ctx context.Context, batch *data.Batch) (float64, error)

// EvalFunc returns the loss of one validation batch
type EvalFunc func(ctx context.Context, batch *data.Batch) (float64, error)

// Optimizer applies accumulated gradients
type Optimizer interface {
	Step() error
}

// Options holds loop settings
type Options struct {
	Epochs             int
	Granularity        Granularity
	CheckpointInterval int // Save every N epochs, 0 only saves the final epoch
	Patience           int // Stop after N epochs without val improvement, 0 disables
}

// OptionsFromConfig reads loop settings from cfg
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	g, err := ParseGranularity(cfg.Train.LRStep)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Epochs:             cfg.Train.Epochs,
		Granularity:        g,
		CheckpointInterval: cfg.Checkpoint.Interval,
		Patience:           cfg.Train.Patience,
	}, nil
}

// Deps are the collaborators of a Trainer. Store, Eval, Loaders.Val and
// Logger are optional.
type Deps struct {
	Loaders   *data.Loaders
	Optimizer Optimizer
	Scheduler *schedule.Scheduler
	Store     *checkpoint.Store
	Step      StepFunc
	Eval      EvalFunc
	Logger    *zap.Logger
}

// Trainer owns the training loop
type Trainer struct {
	opts    Options
	deps    Deps
	logger  *zap.Logger
	history []logger.EpochMetrics

	bestValLoss float64
	badEpochs   int
}

// New validates opts and deps
func New(opts Options, deps Deps) (*Trainer, error) {
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("invalid epochs: %d", opts.Epochs)
	}
	if _, err := ParseGranularity(string(opts.Granularity)); err != nil {
		return nil, err
	}
	if opts.CheckpointInterval < 0 || opts.Patience < 0 {
		return nil, fmt.Errorf("invalid checkpoint interval %d or patience %d", opts.CheckpointInterval, opts.Patience)
	}
	if deps.Loaders == nil || deps.Loaders.Train == nil {
		return nil, fmt.Errorf("training loader is required")
	}
	if deps.Optimizer == nil || deps.Scheduler == nil || deps.Step == nil {
		return nil, fmt.Errorf("optimizer, scheduler and step function are required")
	}

	return &Trainer{
		opts:        opts,
		deps:        deps,
		logger:      logger.OrNop(deps.Logger),
		bestValLoss: math.Inf(1),
	}, nil
}

// History returns the metrics of every epoch run so far
func (t *Trainer) History() []logger.EpochMetrics {
	return append([]logger.EpochMetrics(nil), t.history...)
}

// Run trains until Epochs is reached, early stopping triggers or ctx is
// done. A checkpoint store with a saved record resumes after that record's
// epoch.
func (t *Trainer) Run(ctx context.Context) (err error) {
	start, stopped, err := t.resume()
	if err != nil {
		return err
	}
	if stopped {
		t.logger.Info("training_already_stopped",
			zap.Int("next_epoch", start),
			zap.Float64("best_val_loss", t.bestValLoss),
		)
		return nil
	}

	done := logger.StartOperation(t.logger, "train",
		zap.Int("start_epoch", start),
		zap.Int("epochs", t.opts.Epochs),
		zap.String("lr_step", string(t.opts.Granularity)),
	)
	defer func() { done(err) }()

	if t.deps.Loaders.Train.Len() == 0 {
		return fmt.Errorf("training loader is empty")
	}

	for epoch := start; epoch < t.opts.Epochs; epoch++ {
		m, err := t.runEpoch(ctx, epoch)
		if err != nil {
			return err
		}

		stop := t.earlyStop(m)
		if err := t.maybeSave(epoch, m, stop); err != nil {
			return err
		}
		if stop {
			t.logger.Info("early_stopping",
				zap.Int("epoch", epoch),
				zap.Float64("best_val_loss", t.bestValLoss),
				zap.Int("patience", t.opts.Patience),
			)
			return nil
		}
	}
	return nil
}

// resume restores scheduler and early-stopping state from the latest
// checkpoint. It returns the first epoch to run and whether that run had
// already stopped early.
func (t *Trainer) resume() (int, bool, error) {
	if t.deps.Store == nil {
		return 0, false, nil
	}

	rec, err := t.deps.Store.Latest()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := t.deps.Scheduler.LoadState(rec.Scheduler); err != nil {
		return 0, false, fmt.Errorf("failed to restore scheduler: %w", err)
	}
	if rec.BestValLoss != nil {
		t.bestValLoss = *rec.BestValLoss
	}
	t.badEpochs = rec.BadEpochs

	t.logger.Info("resumed_from_checkpoint",
		zap.Int("epoch", rec.Epoch),
		zap.Int("scheduler_last_epoch", rec.Scheduler.LastEpoch),
		zap.Float64s("lr", rec.Scheduler.LastRates),
		zap.Int("bad_epochs", rec.BadEpochs),
		zap.Bool("stopped", rec.Stopped),
	)
	return rec.Epoch + 1, rec.Stopped, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) (logger.EpochMetrics, error) {
	started := time.Now()
	train := t.deps.Loaders.Train
	n := train.Len()

	m := logger.EpochMetrics{
		Epoch:         epoch,
		LearningRates: t.deps.Scheduler.LastRates(),
		ValLoss:       math.NaN(),
	}
	totalLoss := 0.0

	err := train.Iterate(ctx, epoch, func(i int, b *data.Batch) error {
		loss, err := t.deps.Step(ctx, b)
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
		}
		if err := t.deps.Optimizer.Step(); err != nil {
			return fmt.Errorf("epoch %d batch %d: optimizer step: %w", epoch, i, err)
		}
		if t.opts.Granularity == PerBatch {
			if err := t.deps.Scheduler.StepTo(BatchPosition(epoch, i, n)); err != nil {
				return err
			}
		}

		totalLoss += loss
		m.Batches++
		m.Samples += b.Size()
		return nil
	})
	if err != nil {
		return m, err
	}
	m.Loss = totalLoss / float64(m.Batches)

	if t.deps.Eval != nil && t.deps.Loaders.Val != nil {
		if m.ValLoss, err = t.evaluate(ctx, epoch); err != nil {
			return m, err
		}
	}

	if t.opts.Granularity == PerEpoch {
		t.deps.Scheduler.Step()
	}

	m.Duration = time.Since(started)
	logger.LogEpoch(t.logger, m)
	t.history = append(t.history, m)
	return m, nil
}

func (t *Trainer) evaluate(ctx context.Context, epoch int) (float64, error) {
	total := 0.0
	batches := 0
	err := t.deps.Loaders.Val.Iterate(ctx, epoch, func(i int, b *data.Batch) error {
		loss, err := t.deps.Eval(ctx, b)
		if err != nil {
			return fmt.Errorf("validation batch %d: %w", i, err)
		}
		total += loss
		batches++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if batches == 0 {
		return math.NaN(), nil
	}
	return total / float64(batches), nil
}

func (t *Trainer) earlyStop(m logger.EpochMetrics) bool {
	if t.opts.Patience == 0 || math.IsNaN(m.ValLoss) {
		return false
	}
	if m.ValLoss < t.bestValLoss {
		t.bestValLoss = m.ValLoss
		t.badEpochs = 0
		return false
	}
	t.badEpochs++
	return t.badEpochs >= t.opts.Patience
}

func (t *Trainer) maybeSave(epoch int, m logger.EpochMetrics, stop bool) error {
	if t.deps.Store == nil {
		return nil
	}
	last := epoch == t.opts.Epochs-1
	interval := t.opts.CheckpointInterval > 0 && (epoch+1)%t.opts.CheckpointInterval == 0
	if !last && !interval && !stop {
		return nil
	}

	rec := checkpoint.Record{
		Epoch:         epoch,
		Scheduler:     t.deps.Scheduler.State(),
		Loss:          m.Loss,
		LearningRates: m.LearningRates,
		SavedAt:       time.Now(),
		BadEpochs:     t.badEpochs,
		Stopped:       stop,
	}
	if !math.IsInf(t.bestValLoss, 1) {
		best := t.bestValLoss
		rec.BestValLoss = &best
	}
	if err := t.deps.Store.Save(rec); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	t.logger.Debug("checkpoint_saved", zap.Int("epoch", epoch), zap.String("path", t.deps.Store.Path()))
	return nil
}
