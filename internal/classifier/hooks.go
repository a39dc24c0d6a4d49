package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/trainer/internal/data"
	"github.com/born-ml/trainer/internal/metric"
	"github.com/born-ml/trainer/internal/trainer"
)

// Result keys.
const (
	LossKey    = "loss"
	RegLossKey = "reg_loss"
	ValLossKey = "val_loss"
)

// Hooks trains an MLP on the autodiff backend. They implement trainer.Hooks.
type Hooks[B tensor.Backend] struct {
	backend   *autodiff.Backend[B]
	model     *MLP[*autodiff.Backend[B]]
	criterion *Criterion
	optimizer optim.Optimizer
	metrics   []metric.Metric
	train     *data.Loader
	val       *data.Loader // optional

	trainTracker *metric.Tracker
	valTracker   *metric.Tracker
}

// NewHooks wires the epoch hooks. val may be nil.
func NewHooks[B tensor.Backend](
	backend *autodiff.Backend[B],
	model *MLP[*autodiff.Backend[B]],
	criterion *Criterion,
	opt optim.Optimizer,
	metrics []metric.Metric,
	train, val *data.Loader,
) (*Hooks[B], error) {
	if train == nil {
		return nil, errors.New("classifier hooks need a training loader")
	}
	if n := train.Dataset().Len(); n != criterion.NumSamples() {
		return nil, fmt.Errorf("criterion tracks %d samples, training dataset has %d", criterion.NumSamples(), n)
	}
	names := metric.Names(metrics)
	return &Hooks[B]{
		backend:      backend,
		model:        model,
		criterion:    criterion,
		optimizer:    opt,
		metrics:      metrics,
		train:        train,
		val:          val,
		trainTracker: metric.NewTracker(append([]string{LossKey, RegLossKey}, names...)...),
		valTracker:   metric.NewTracker(append([]string{ValLossKey}, names...)...),
	}, nil
}

// WarmupEpoch trains with plain cross-entropy.
func (h *Hooks[B]) WarmupEpoch(ctx context.Context, _ int) (trainer.Result, error) {
	return h.epoch(ctx, false)
}

// TrainEpoch trains with the regularized criterion and updates its target
// estimates.
func (h *Hooks[B]) TrainEpoch(ctx context.Context, _ int) (trainer.Result, error) {
	return h.epoch(ctx, true)
}

func (h *Hooks[B]) epoch(ctx context.Context, regularize bool) (trainer.Result, error) {
	tracker := h.trainTracker
	tracker.Reset()

	tape := h.backend.Tape()
	tape.StartRecording()
	defer tape.StopRecording()

	for _, batch := range h.train.Batches() {
		if err := ctx.Err(); err != nil {
			return trainer.Result{}, err
		}
		if err := h.step(batch, regularize, tracker); err != nil {
			return trainer.Result{}, err
		}
	}
	if regularize {
		h.criterion.EndEpoch()
	}

	avgs := tracker.Result()
	result := trainer.Result{
		Scalars: map[string]float64{LossKey: avgs[LossKey]},
		Order:   []string{LossKey},
	}
	if regularize {
		result.Scalars[RegLossKey] = avgs[RegLossKey]
		result.Order = append(result.Order, RegLossKey)
	}
	result.Metrics = h.metricAverages(avgs)
	result.Order = append(result.Order, trainer.MetricsGroup)

	if h.val != nil {
		valLoss, valMetrics, err := h.validate(ctx)
		if err != nil {
			return trainer.Result{}, err
		}
		result.Scalars[ValLossKey] = valLoss
		result.ValMetrics = valMetrics
		result.Order = append(result.Order, ValLossKey, trainer.ValMetricsGroup)
	}
	return result, nil
}

// step runs one forward/backward/update cycle. The loss gradient with respect
// to the logits is computed on the host and seeds the tape, whose last
// recorded operation produced the logits.
func (h *Hooks[B]) step(batch *data.Batch, regularize bool, tracker *metric.Tracker) error {
	tape := h.backend.Tape()
	defer tape.Clear()

	h.optimizer.ZeroGrad()

	x, err := tensor.FromSlice(batch.Features, tensor.Shape{batch.Size(), h.model.InFeatures()}, h.backend)
	if err != nil {
		return fmt.Errorf("failed to build batch tensor: %w", err)
	}
	logits := h.model.Forward(x)
	values := logits.Raw().AsFloat32()

	loss, err := h.criterion.Forward(batch.Indices, values, batch.Labels, regularize)
	if err != nil {
		return err
	}

	outputGrad, err := tensor.NewRaw(logits.Shape(), tensor.Float32, h.backend.Device())
	if err != nil {
		return fmt.Errorf("failed to allocate output gradient: %w", err)
	}
	copy(outputGrad.AsFloat32(), loss.Grad)
	grads := tape.Backward(outputGrad, h.backend)
	h.optimizer.Step(grads)

	n := batch.Size()
	tracker.Update(LossKey, loss.Total, n)
	if regularize {
		tracker.Update(RegLossKey, loss.Reg, n)
	}
	for _, m := range h.metrics {
		tracker.Update(m.Name(), m.Compute(values, h.model.Classes(), batch.Labels), n)
	}
	return nil
}

// validate evaluates the validation loader with recording disabled.
func (h *Hooks[B]) validate(ctx context.Context) (float64, []float64, error) {
	tape := h.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	tracker := h.valTracker
	tracker.Reset()
	for _, batch := range h.val.Batches() {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		n := batch.Size()
		x, err := tensor.FromSlice(batch.Features, tensor.Shape{n, h.model.InFeatures()}, h.backend)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to build batch tensor: %w", err)
		}
		y, err := tensor.FromSlice(batch.Labels, tensor.Shape{n}, h.backend)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to build label tensor: %w", err)
		}

		logits := h.model.Forward(x)
		loss := h.backend.CrossEntropy(logits.Raw(), y.Raw())
		tracker.Update(ValLossKey, float64(loss.AsFloat32()[0]), n)

		values := logits.Raw().AsFloat32()
		for _, m := range h.metrics {
			tracker.Update(m.Name(), m.Compute(values, h.model.Classes(), batch.Labels), n)
		}
	}
	avgs := tracker.Result()
	return avgs[ValLossKey], h.metricAverages(avgs), nil
}

// metricAverages orders avgs like h.metrics; missing metrics average to 0.
func (h *Hooks[B]) metricAverages(avgs map[string]float64) []float64 {
	out := make([]float64, len(h.metrics))
	for i, m := range h.metrics {
		out[i] = avgs[m.Name()]
	}
	return out
}
