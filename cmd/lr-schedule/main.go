package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/thyrook/trainkit/internal/config"
	"github.com/thyrook/trainkit/internal/optim"
	"github.com/thyrook/trainkit/internal/schedule"
	"github.com/thyrook/trainkit/internal/training"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON or YAML config (defaults when empty)")
	batches := flag.Int("batches", 0, "Batches per epoch; >0 prints per-batch positions")
	scheduler := flag.String("scheduler", "", "Override train.lr_scheduler")
	epochs := flag.Int("epochs", 0, "Override train.epochs")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *scheduler != "" {
		cfg.Train.LRScheduler = *scheduler
	}
	if *epochs > 0 {
		cfg.Train.Epochs = *epochs
	}

	opt, err := optim.FromConfig(cfg.Optimizer, cfg.Dataset.BatchSize, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create optimizer: %v\n", err)
		os.Exit(1)
	}
	sched, err := schedule.FromConfig(opt, cfg.Train)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create scheduler: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(opt.ParamGroups()))
	for _, g := range opt.ParamGroups() {
		names = append(names, g.Name)
	}

	fmt.Printf("Schedule: %s over %d epochs\n", cfg.Train.LRScheduler, cfg.Train.Epochs)
	fmt.Printf("%-8s %-10s %s\n", "epoch", "position", strings.Join(names, " "))

	printRow(sched.LastEpoch(), 0, sched.LastRates())
	for epoch := 0; epoch < cfg.Train.Epochs; epoch++ {
		if *batches <= 0 {
			sched.Step()
			printRow(sched.LastEpoch(), float64(sched.LastEpoch()), sched.LastRates())
			continue
		}
		for i := 0; i < *batches; i++ {
			pos := training.BatchPosition(epoch, i, *batches)
			if err := sched.StepTo(pos); err != nil {
				fmt.Fprintf(os.Stderr, "Step failed: %v\n", err)
				os.Exit(1)
			}
			printRow(sched.LastEpoch(), pos, sched.LastRates())
		}
	}
}

func printRow(epoch int, position float64, rates []float64) {
	cols := make([]string, len(rates))
	for i, r := range rates {
		cols[i] = fmt.Sprintf("%.6f", r)
	}
	fmt.Printf("%-8d %-10.4f %s\n", epoch, position, strings.Join(cols, " "))
}
