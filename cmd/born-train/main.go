// Command born-train trains a classifier described by a YAML config.
//
// Usage:
//
//	born-train -config config.yaml [-device 0] [-lr 0.01] [-bs 64]
//	born-train -resume saved/models/<name>/<run>/model_best.born
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/born/tensor"
	"k8s.io/klog/v2"

	"github.com/born-ml/trainer/internal/classifier"
	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
	"github.com/born-ml/trainer/internal/trainer"
)

var (
	flagConfig = flag.String("config", "", "config file path")
	flagResume = flag.String("resume", "", "path to latest checkpoint")
	flagDevice = flag.String("device", "", "indices of GPUs to enable, e.g. 0,1")
	flagRunID  = flag.String("run-id", "", "run id (default: start timestamp)")
	flagLR     = flag.String("lr", "", "override optimizer learning rate")
	flagBS     = flag.String("bs", "", "override data loader batch size")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if err := run(); err != nil {
		logger, _ := config.GetLogger("born-train", config.VerbosityWarning)
		logger.Errorf("Error: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run() error {
	if *flagDevice != "" {
		if _, err := device.ParseIDs(*flagDevice); err != nil {
			return fmt.Errorf("-device: %w", err)
		}
		if err := os.Setenv(device.VisibleDevicesEnv, *flagDevice); err != nil {
			return err
		}
	}

	overrides := make(map[string]string)
	if *flagLR != "" {
		overrides["optimizer;args;lr"] = *flagLR
	}
	if *flagBS != "" {
		overrides["data_loader;args;batch_size"] = *flagBS
	}

	cfg, err := config.Parse(*flagConfig, *flagResume, *flagRunID, overrides)
	if err != nil {
		return err
	}
	logger, err := config.GetLogger("train", cfg.Trainer.Verbosity)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	placement := device.Prepare(logger, cfg.NGPU)
	return withBackend(logger, &placement, func(b backendRunner) error {
		return b.run(ctx, cfg, placement, logger)
	})
}

// backendRunner trains on one concrete backend type.
type backendRunner interface {
	run(ctx context.Context, cfg *config.Config, placement device.Placement, logger config.Logger) error
}

type runner[B tensor.Backend] struct {
	base B
}

func (r runner[B]) run(ctx context.Context, cfg *config.Config, placement device.Placement, logger config.Logger) error {
	setup, err := classifier.Build(cfg, r.base, logger)
	if err != nil {
		return err
	}
	tr, err := trainer.New(cfg, placement, setup.Components(), setup.Hooks)
	if err != nil {
		return err
	}
	return tr.Train(ctx)
}
