// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package trainer provides a supervised training loop for Born models.
//
// # Overview
//
// A Trainer runs epochs, switches from warmup to regular training, logs
// per-epoch values, tracks the best value of a monitored metric, stops early
// when it stops improving, saves checkpoints and resumes from them. The work
// done inside an epoch is supplied through Hooks.
//
// # Basic Usage
//
//	cfg, err := trainer.ParseConfig("config.yaml", "", "", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger, _ := trainer.GetLogger("train", cfg.Trainer.Verbosity)
//	placement := trainer.PrepareDevice(logger, cfg.NGPU)
//
//	t, err := trainer.New(cfg, placement, trainer.Components{
//	    Model:     model,
//	    Optimizer: optimizer,
//	    Metrics:   metrics,
//	}, hooks)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = t.Train(ctx)
//
// # Configuration
//
//	name: Mnist_MLP
//	n_gpu: 1
//	arch: {type: MLP, args: {hidden: [128]}}
//	optimizer: {type: Adam, args: {lr: 0.001}}
//	train_loss: {type: ELR, args: {beta: 0.7, lambda: 3}}
//	metrics: [accuracy, top_3_acc]
//	trainer:
//	  epochs: 100
//	  save_dir: saved/
//	  save_period: 1
//	  verbosity: 2
//	  monitor: min val_loss
//	  early_stop: 10
//	  warmup: 0
//
// # Checkpoints
//
// Checkpoints hold the architecture name, epoch, model and optimizer state,
// the best monitored value and, for criteria that keep per-sample targets,
// the master vector. The best model is written to model_best.born in the
// run's model directory.
package trainer
