// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package trainer

import (
	"github.com/born-ml/trainer/internal/checkpoint"
	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
	"github.com/born-ml/trainer/internal/metric"
	"github.com/born-ml/trainer/internal/trainer"
	"github.com/born-ml/trainer/internal/tracking"
)

// Trainer runs the epoch loop.
type Trainer = trainer.Trainer

// Hooks run the work of one epoch.
type Hooks = trainer.Hooks

// Result is what an epoch hook reports.
type Result = trainer.Result

// Components are the objects a trainer coordinates.
type Components = trainer.Components

// Stateful is a component whose state is checkpointed.
type Stateful = trainer.Stateful

// MasterVectorHolder is implemented by criteria with per-sample targets.
type MasterVectorHolder = trainer.MasterVectorHolder

// Option customizes a Trainer.
type Option = trainer.Option

// New prepares a trainer, resuming when cfg.Resume is set.
func New(cfg *Config, placement Placement, c Components, hooks Hooks, opts ...Option) (*Trainer, error) {
	return trainer.New(cfg, placement, c, hooks, opts...)
}

// WithWriter sets the experiment tracker.
func WithWriter(w tracking.Writer) Option {
	return trainer.WithWriter(w)
}

// Config is a parsed run configuration.
type Config = config.Config

// Logger is a leveled logger.
type Logger = config.Logger

// ParseConfig loads the configuration for a run and creates its directories.
func ParseConfig(path, resume, runID string, overrides map[string]string) (*Config, error) {
	return config.Parse(path, resume, runID, overrides)
}

// GetLogger returns a logger for the named component.
func GetLogger(name string, verbosity int) (Logger, error) {
	return config.GetLogger(name, verbosity)
}

// Placement describes where training runs.
type Placement = device.Placement

// PrepareDevice picks the training device for the requested GPU count.
func PrepareDevice(logger Logger, nGPU int) Placement {
	return device.Prepare(logger, nGPU)
}

// Metric is an evaluation metric over logits.
type Metric = metric.Metric

// MetricsByName resolves metric names such as "accuracy" or "top_3_acc".
func MetricsByName(names []string) ([]Metric, error) {
	return metric.ByName(names)
}

// Checkpoint is the saved training state.
type Checkpoint = checkpoint.State

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	return checkpoint.Load(path)
}

// BestCheckpointFile is the file name of the best model checkpoint.
const BestCheckpointFile = checkpoint.BestFileName
