package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/thyrook/trainkit/internal/checkpoint"
	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/data"
	"github.com/thyrook/trainkit/internal/datasets"
	"github.com/thyrook/trainkit/internal/logger"
	"github.com/thyrook/trainkit/internal/optim"
	"github.com/thyrook/trainkit/internal/schedule"
	"github.com/thyrook/trainkit/internal/training"
)

// dry-run drives the full data and schedule pipeline with a no-op model:
// every batch is loaded and transformed, the scheduler and checkpoints
// advance exactly as in training.
func main() {
	configPath := flag.String("config", "config.json", "Path to a JSON or YAML config")
	epochs := flag.Int("epochs", 0, "Stop after this many epochs (0 = train.epochs)")
	noCheckpoint := flag.Bool("no-checkpoint", false, "Do not read or write checkpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := logger.Setup(logger.Level(cfg.Log.Level), cfg.Log.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *epochs, !*noCheckpoint, log); err != nil {
		log.Error("dry_run_failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, epochs int, useCheckpoint bool, log *zap.Logger) error {
	loaders, err := datasets.Open(cfg.Dataset, data.DefaultSplits())
	if err != nil {
		return err
	}
	log.Info("dataset_ready",
		zap.String("dataset", cfg.Dataset.Name),
		zap.Int("train_samples", loaders.Train.NumSamples()),
		zap.Int("train_batches", loaders.Train.Len()),
		zap.Int("val_samples", loaders.Val.NumSamples()),
	)

	opt, err := optim.FromConfig(cfg.Optimizer, cfg.Dataset.BatchSize, nil)
	if err != nil {
		return err
	}
	sched, err := schedule.FromConfig(opt, cfg.Train)
	if err != nil {
		return err
	}

	opts, err := training.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if epochs > 0 && epochs < opts.Epochs {
		opts.Epochs = epochs
	}

	var store *checkpoint.Store
	if useCheckpoint && cfg.Checkpoint.Path != "" {
		if store, err = checkpoint.Open(cfg.Checkpoint.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	noop := func(context.Context, *data.Batch) (float64, error) { return 0, nil }
	trainer, err := training.New(opts, training.Deps{
		Loaders:   loaders,
		Optimizer: opt,
		Scheduler: sched,
		Store:     store,
		Step:      noop,
		Eval:      noop,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	return trainer.Run(ctx)
}
