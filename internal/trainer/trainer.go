// Package trainer implements the epoch loop shared by all training runs:
// warmup scheduling, per-epoch logging, best-model monitoring, early
// stopping, checkpointing and resume.
//
// The work done inside an epoch is supplied by a Hooks implementation.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strings"

	"github.com/born-ml/born/tensor"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
	"github.com/born-ml/trainer/internal/metric"
	"github.com/born-ml/trainer/internal/monitor"
	"github.com/born-ml/trainer/internal/tracking"
)

// ProgressDescription labels the epoch progress bar.
const ProgressDescription = "Total progress: "

// Stateful is a component whose state is checkpointed.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// MasterVectorHolder is implemented by training criteria that keep
// per-sample target estimates across epochs.
type MasterVectorHolder interface {
	MasterVector() []float32
	// RestoreMasterVector replaces the estimates and marks them as
	// initialized, so the next update blends instead of overwriting.
	RestoreMasterVector(v []float32) error
}

// Components are the objects a trainer coordinates. ReparamNet, ValCriterion
// and OptimizerLoss are optional.
type Components struct {
	Model          Stateful
	ReparamNet     Stateful
	TrainCriterion any
	ValCriterion   any
	Metrics        []metric.Metric
	Optimizer      Stateful
	OptimizerLoss  Stateful
}

// Names of the metric groups in Result.Order.
const (
	MetricsGroup     = "metrics"
	ValMetricsGroup  = "val_metrics"
	TestMetricsGroup = "test_metrics"
)

// Result is what an epoch hook reports. Metric slices are ordered like
// Components.Metrics.
type Result struct {
	Scalars     map[string]float64
	Metrics     []float64
	ValMetrics  []float64
	TestMetrics []float64

	// Order lists Scalars keys and group names in logging order, e.g.
	// loss, metrics, val_loss, val_metrics. Anything it leaves out is logged
	// afterwards: scalars sorted by key, then the groups.
	Order []string
}

// Hooks run the work of one epoch.
type Hooks interface {
	TrainEpoch(ctx context.Context, epoch int) (Result, error)
	WarmupEpoch(ctx context.Context, epoch int) (Result, error)
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithWriter sets the experiment tracker instead of building one from the
// comet configuration.
func WithWriter(w tracking.Writer) Option {
	return func(t *Trainer) { t.writer = w }
}

// WithProgressOutput sets where the progress bar is drawn (stderr by default).
func WithProgressOutput(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

// Trainer runs the epoch loop.
type Trainer struct {
	cfg       *config.Config
	logger    config.Logger
	writer    tracking.Writer
	placement device.Placement
	c         Components
	hooks     Hooks
	progress  io.Writer

	epochs     int
	savePeriod int
	warmup     int
	monitor    *monitor.Monitor
	earlyStop  int

	startEpoch    int
	checkpointDir string
}

// New prepares a trainer. When cfg.Resume is set, the checkpoint is loaded
// before New returns.
func New(cfg *config.Config, placement device.Placement, c Components, hooks Hooks, opts ...Option) (*Trainer, error) {
	if c.Model == nil || c.Optimizer == nil {
		return nil, errors.New("trainer needs a model and an optimizer")
	}
	if hooks == nil {
		return nil, errors.New("trainer needs epoch hooks")
	}

	logger, err := config.GetLogger("trainer", cfg.Trainer.Verbosity)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:           cfg,
		logger:        logger,
		placement:     placement,
		c:             c,
		hooks:         hooks,
		progress:      os.Stderr,
		epochs:        cfg.Trainer.Epochs,
		savePeriod:    cfg.Trainer.SavePeriod,
		warmup:        cfg.Trainer.Warmup,
		earlyStop:     math.MaxInt,
		startEpoch:    1,
		checkpointDir: cfg.SaveDir,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.savePeriod <= 0 {
		return nil, fmt.Errorf("save period must be positive, got %d", t.savePeriod)
	}

	if t.writer == nil && cfg.Comet.API != "" {
		w, err := tracking.NewCometWriter(logger, tracking.Options{
			ProjectName:    cfg.Comet.ProjectName,
			ExperimentName: cfg.Name,
			APIKey:         cfg.Comet.API,
			LogDir:         cfg.LogDir,
			Offline:        cfg.Comet.Offline,
		})
		if err != nil {
			return nil, err
		}
		t.writer = w
	}
	if t.writer != nil {
		if err := t.writer.LogHyperparams(cfg.Raw); err != nil {
			logger.Warningf("Warning: failed to log hyperparameters: %v", err)
		}
		if err := t.writer.LogCode(); err != nil {
			logger.Warningf("Warning: failed to log code: %v", err)
		}
	}

	if placement.DataParallel() {
		logger.Warningf("Warning: %d devices requested, data parallel training is not supported. Using %s.",
			len(placement.IDs), placement)
	}
	logger.Infof("Training on %s", placement)
	if c.ReparamNet != nil {
		logger.Debugf("Reparametrization network attached")
	}

	if t.monitor, err = monitor.Parse(cfg.Trainer.Monitor); err != nil {
		return nil, err
	}
	if t.monitor.Enabled() && cfg.Trainer.EarlyStop != nil {
		t.earlyStop = *cfg.Trainer.EarlyStop
	}

	if cfg.Resume != "" {
		if err := t.resumeCheckpoint(cfg.Resume); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// StartEpoch returns the first epoch Train will run.
func (t *Trainer) StartEpoch() int { return t.startEpoch }

// Monitor returns the monitor state.
func (t *Trainer) Monitor() monitor.Monitor { return *t.monitor }

// Components returns the coordinated components.
func (t *Trainer) Components() Components { return t.c }

// Train runs epochs from StartEpoch to the configured number of epochs,
// stopping early when the monitored metric stops improving or ctx is done.
// The tracker is finalized on return.
func (t *Trainer) Train(ctx context.Context) (err error) {
	if t.writer != nil {
		defer func() {
			status := tracking.StatusFinished
			if err != nil {
				status = tracking.StatusFailed
			}
			if ferr := t.writer.Finalize(status); ferr != nil {
				t.logger.Warningf("Warning: failed to finalize experiment: %v", ferr)
			}
		}()
	}

	bar := progressbar.NewOptions(max(t.epochs-t.startEpoch+1, 0),
		progressbar.OptionSetDescription(ProgressDescription),
		progressbar.OptionSetWriter(t.progress),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
	)
	defer func() { _ = bar.Exit() }()

	notImproved := 0
	for epoch := t.startEpoch; epoch <= t.epochs; epoch++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		var result Result
		if epoch <= t.warmup {
			result, err = t.hooks.WarmupEpoch(ctx, epoch)
		} else {
			result, err = t.hooks.TrainEpoch(ctx, epoch)
		}
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		var log *Log
		if log, err = t.epochLog(epoch, result); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		for _, key := range log.Keys() {
			value, _ := log.Get(key)
			t.logger.Infof("    %-15s: %v", key, value)
		}
		if t.writer != nil {
			if err := t.writer.LogMetrics(epoch, log.Map()); err != nil {
				t.logger.Warningf("Warning: failed to log metrics: %v", err)
			}
		}

		best := false
		if t.monitor.Enabled() {
			improved := false
			if value, ok := log.Get(t.monitor.Metric); ok {
				improved = t.monitor.Improved(value)
				if improved {
					t.monitor.Best = value
				}
			} else {
				t.logger.Warningf("Warning: Metric '%s' is not found. Model performance monitoring is disabled.",
					t.monitor.Metric)
				t.monitor.Disable()
			}

			if improved {
				notImproved = 0
				best = true
			} else {
				notImproved++
			}
			if notImproved > t.earlyStop {
				t.logger.Infof("Validation performance didn't improve for %d epochs. Training stops.", t.earlyStop)
				break
			}
		}

		if epoch%t.savePeriod == 0 {
			if err := t.saveCheckpoint(epoch, best); err != nil {
				return err
			}
		}
		_ = bar.Add(1)
	}
	return nil
}

// epochLog flattens a hook result into the per-epoch log.
func (t *Trainer) epochLog(epoch int, r Result) (*Log, error) {
	groups := map[string]struct {
		prefix string
		values []float64
	}{
		MetricsGroup:     {"", r.Metrics},
		ValMetricsGroup:  {"val_", r.ValMetrics},
		TestMetricsGroup: {"test_", r.TestMetrics},
	}

	log := NewLog()
	log.Set("epoch", float64(epoch))
	done := make(map[string]bool)
	add := func(key string) error {
		if done[key] {
			return nil
		}
		done[key] = true
		if g, ok := groups[key]; ok {
			if g.values == nil {
				return nil
			}
			if len(g.values) != len(t.c.Metrics) {
				return fmt.Errorf("%smetrics has %d values for %d metrics", g.prefix, len(g.values), len(t.c.Metrics))
			}
			for i, m := range t.c.Metrics {
				log.Set(g.prefix+m.Name(), g.values[i])
			}
			return nil
		}
		value, ok := r.Scalars[key]
		if !ok {
			return fmt.Errorf("result order names unknown key %q", key)
		}
		log.Set(key, value)
		return nil
	}

	keys := append(append([]string(nil), r.Order...), sortedKeys(r.Scalars)...)
	keys = append(keys, MetricsGroup, ValMetricsGroup, TestMetricsGroup)
	for _, key := range keys {
		if err := add(key); err != nil {
			return nil, err
		}
	}
	return log, nil
}

// archName returns the type name of a model without package path or type
// arguments, e.g. "MLP" for *classifier.MLP[*autodiff.Backend[...]].
func archName(model any) string {
	typ := reflect.TypeOf(model)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil {
		return ""
	}
	name, _, _ := strings.Cut(typ.Name(), "[")
	return name
}
