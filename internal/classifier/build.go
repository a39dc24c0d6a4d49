package classifier

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/data"
	"github.com/born-ml/trainer/internal/metric"
	"github.com/born-ml/trainer/internal/optimizer"
	"github.com/born-ml/trainer/internal/trainer"
)

// Setup is everything a classifier run needs besides the trainer itself.
type Setup[B tensor.Backend] struct {
	Backend   *autodiff.Backend[B]
	Model     *MLP[*autodiff.Backend[B]]
	Criterion *Criterion
	Optimizer *optimizer.Stateful
	Metrics   []metric.Metric
	Hooks     *Hooks[B]
	TrainData *data.Loader
	ValidData *data.Loader
}

// Build creates data loaders, model, criterion, optimizer and metrics from
// cfg, on top of base wrapped in an autodiff backend.
func Build[B tensor.Backend](cfg *config.Config, base B, logger config.Logger) (*Setup[B], error) {
	train, val, err := data.FromConfig(cfg.DataLoader)
	if err != nil {
		return nil, err
	}
	ds := train.Dataset()
	logger.Infof("Loaded %d samples (%d features, %d classes), %d for training",
		ds.Len(), ds.Dim(), ds.Classes, train.Len())

	backend := autodiff.New(base)
	model, err := NewMLPFromConfig(cfg.Arch, ds.Dim(), ds.Classes, backend)
	if err != nil {
		return nil, err
	}

	criterion, err := NewCriterionFromConfig(cfg.TrainLoss, ds.Len(), ds.Classes)
	if err != nil {
		return nil, err
	}
	if cfg.ValLoss != "" && cfg.ValLoss != "CrossEntropy" {
		return nil, fmt.Errorf("unsupported val_loss %q", cfg.ValLoss)
	}

	opt, err := optimizer.Build(cfg.Optimizer, model.Parameters(), backend)
	if err != nil {
		return nil, err
	}
	if cfg.OptimizerLoss != nil {
		logger.Warningf("Warning: optimizer_loss is set but %s has no reparametrization network. Ignoring it.",
			cfg.Arch.Type)
	}

	metrics, err := metric.ByName(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	hooks, err := NewHooks(backend, model, criterion, opt, metrics, train, val)
	if err != nil {
		return nil, err
	}
	return &Setup[B]{
		Backend:   backend,
		Model:     model,
		Criterion: criterion,
		Optimizer: opt,
		Metrics:   metrics,
		Hooks:     hooks,
		TrainData: train,
		ValidData: val,
	}, nil
}

// Components returns the objects the trainer coordinates.
func (s *Setup[B]) Components() trainer.Components {
	return trainer.Components{
		Model:          s.Model,
		TrainCriterion: s.Criterion,
		Metrics:        s.Metrics,
		Optimizer:      s.Optimizer,
	}
}
