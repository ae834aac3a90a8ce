// Package logger configures the process-wide zap logger and provides the
// structured helpers the training loop reports through.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu            sync.Mutex
	defaultLogger *zap.Logger
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a production zap logger writing to stdout and, when logPath is
// set, appending to logPath as well.
func New(level Level, logPath string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, logPath)
	}

	return cfg.Build()
}

// Setup replaces the default logger
func Setup(level Level, logPath string) error {
	l, err := New(level, logPath)
	if err != nil {
		return err
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	return nil
}

// Get returns the default logger, creating an info-level stdout logger on
// first use
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger == nil {
		l, err := New(LevelInfo, "")
		if err != nil {
			l = zap.NewNop()
		}
		defaultLogger = l
	}
	return defaultLogger
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// EpochMetrics holds per-epoch training metrics
type EpochMetrics struct {
	Epoch         int
	Loss          float64
	ValLoss       float64
	LearningRates []float64
	Batches       int
	Samples       int
	Duration      time.Duration
}

// LogEpoch logs training progress for one epoch
func LogEpoch(l *zap.Logger, m EpochMetrics) {
	throughput := 0.0
	if m.Duration > 0 {
		throughput = float64(m.Samples) / m.Duration.Seconds()
	}

	l.Info("training_epoch",
		zap.Int("epoch", m.Epoch),
		zap.Float64("loss", m.Loss),
		zap.Float64("val_loss", m.ValLoss),
		zap.Float64s("lr", m.LearningRates),
		zap.Int("batches", m.Batches),
		zap.Int("samples", m.Samples),
		zap.Float64("samples_per_sec", throughput),
		zap.Duration("duration", m.Duration),
	)
}

// StartOperation logs the start of an operation and returns a function
// that logs its completion or failure
func StartOperation(l *zap.Logger, operation string, fields ...zap.Field) func(error) {
	startTime := time.Now()
	l.Info("operation_start", append([]zap.Field{zap.String("operation", operation)}, fields...)...)

	return func(err error) {
		end := append([]zap.Field{
			zap.String("operation", operation),
			zap.Duration("duration", time.Since(startTime)),
		}, fields...)

		if err != nil {
			l.Error("operation_failed", append(end, zap.Error(err))...)
			return
		}
		l.Info("operation_complete", end...)
	}
}
