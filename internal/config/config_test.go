package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Dataset.Name != "cifar10" {
		t.Errorf("Expected dataset cifar10, got %s", cfg.Dataset.Name)
	}

	if cfg.Train.LRScheduler != "warmup_cosine" {
		t.Errorf("Expected warmup_cosine, got %s", cfg.Train.LRScheduler)
	}

	if cfg.Train.Warmup >= cfg.Train.Epochs {
		t.Errorf("Default warmup %d not below epochs %d", cfg.Train.Warmup, cfg.Train.Epochs)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "Valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "Unknown dataset",
			modifyFn:  func(c *Config) { c.Dataset.Name = "mnist" },
			expectErr: true,
		},
		{
			name:      "Zero batch size",
			modifyFn:  func(c *Config) { c.Dataset.BatchSize = 0 },
			expectErr: true,
		},
		{
			name:      "Negative workers",
			modifyFn:  func(c *Config) { c.Dataset.Workers = -1 },
			expectErr: true,
		},
		{
			name:      "Zero epochs",
			modifyFn:  func(c *Config) { c.Train.Epochs = 0 },
			expectErr: true,
		},
		{
			name:      "Missing scheduler",
			modifyFn:  func(c *Config) { c.Train.LRScheduler = "" },
			expectErr: true,
		},
		{
			name:      "Bad lr_step",
			modifyFn:  func(c *Config) { c.Train.LRStep = "iteration" },
			expectErr: true,
		},
		{
			name:      "Epoch lr_step",
			modifyFn:  func(c *Config) { c.Train.LRStep = "epoch" },
			expectErr: false,
		},
		{
			name:      "Zero learning rate",
			modifyFn:  func(c *Config) { c.Optimizer.LR = 0 },
			expectErr: true,
		},
		{
			name: "Unnamed group",
			modifyFn: func(c *Config) {
				c.Optimizer.Groups = []ParamGroupConfig{{LR: 0.1}}
			},
			expectErr: true,
		},
		{
			name:      "Negative checkpoint interval",
			modifyFn:  func(c *Config) { c.Checkpoint.Interval = -1 },
			expectErr: true,
		},
		{
			name:      "Negative patience",
			modifyFn:  func(c *Config) { c.Train.Patience = -2 },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestConfigSaveLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "train.json")

	cfg := DefaultConfig()
	cfg.Train.LRScheduler = "multistep"
	cfg.Train.StepMilestones = []int{10, 20}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Train.LRScheduler != "multistep" {
		t.Errorf("Expected multistep, got %s", loaded.Train.LRScheduler)
	}
	if len(loaded.Train.StepMilestones) != 2 || loaded.Train.StepMilestones[1] != 20 {
		t.Errorf("Milestones not preserved: %v", loaded.Train.StepMilestones)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "train.yaml")

	content := `
dataset:
  name: imagenet
  datapath: /data/imagenet
  image_size: 224
train:
  epochs: 90
  lr_scheduler: cosine
  lr_step: epoch
optimizer:
  lr: 0.4
  groups:
    - name: backbone
    - name: head
      lr: 0.8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load yaml config: %v", err)
	}

	if cfg.Dataset.Name != "imagenet" || cfg.Dataset.ImageSize != 224 {
		t.Errorf("Dataset not parsed: %+v", cfg.Dataset)
	}
	if cfg.Train.Epochs != 90 || cfg.Train.LRScheduler != "cosine" || cfg.Train.LRStep != "epoch" {
		t.Errorf("Train not parsed: %+v", cfg.Train)
	}
	if len(cfg.Optimizer.Groups) != 2 || cfg.Optimizer.Groups[1].LR != 0.8 {
		t.Errorf("Groups not parsed: %+v", cfg.Optimizer.Groups)
	}

	// Unset fields keep defaults
	if cfg.Dataset.BatchSize != DefaultConfig().Dataset.BatchSize {
		t.Errorf("Expected default batch size, got %d", cfg.Dataset.BatchSize)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault("nonexistent.json")
	if cfg == nil {
		t.Fatal("LoadOrDefault returned nil")
	}
	if cfg.Dataset.Name != "cifar10" {
		t.Error("LoadOrDefault did not return default config")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testCfg := DefaultConfig()
	testCfg.Train.Epochs = 7
	if err := testCfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded := LoadOrDefault(configPath)
	if loaded.Train.Epochs != 7 {
		t.Error("LoadOrDefault did not load existing config")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Log.Path = filepath.Join(tmpDir, "logs", "train.log")
	cfg.Checkpoint.Path = filepath.Join(tmpDir, "ckpt", "train.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("Failed to ensure directories: %v", err)
	}

	for _, dir := range []string{filepath.Join(tmpDir, "logs"), filepath.Join(tmpDir, "ckpt")} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Directory was not created: %s", dir)
		}
	}
}
