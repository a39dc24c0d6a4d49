package trainer

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/born-ml/trainer/internal/checkpoint"
	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
	"github.com/born-ml/trainer/internal/metric"
	"github.com/born-ml/trainer/internal/tracking"
)

// fakeNet holds a single weight vector.
type fakeNet struct {
	weight []float32
}

func (n *fakeNet) StateDict() map[string]*tensor.RawTensor {
	raw, err := tensor.NewRaw(tensor.Shape{len(n.weight)}, tensor.Float32, tensor.CPU)
	if err != nil {
		panic(err)
	}
	copy(raw.AsFloat32(), n.weight)
	return map[string]*tensor.RawTensor{"weight": raw}
}

func (n *fakeNet) LoadStateDict(state map[string]*tensor.RawTensor) error {
	raw, ok := state["weight"]
	if !ok {
		return errors.New("missing weight")
	}
	n.weight = append([]float32(nil), raw.AsFloat32()...)
	return nil
}

type fakeOptimizer struct {
	lr float32
}

func (o *fakeOptimizer) StateDict() map[string]*tensor.RawTensor {
	raw, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	if err != nil {
		panic(err)
	}
	raw.AsFloat32()[0] = o.lr
	return map[string]*tensor.RawTensor{"lr": raw}
}

func (o *fakeOptimizer) LoadStateDict(state map[string]*tensor.RawTensor) error {
	o.lr = state["lr"].AsFloat32()[0]
	return nil
}

type fakeCriterion struct {
	vector []float32
	flag   bool
}

func (c *fakeCriterion) MasterVector() []float32 { return c.vector }

func (c *fakeCriterion) RestoreMasterVector(v []float32) error {
	c.vector = v
	c.flag = false
	return nil
}

// fakeHooks replays a scripted series of val_loss values.
type fakeHooks struct {
	valLoss []float64
	warmups []int
	trains  []int
	err     error
	cancel  func()
}

func (h *fakeHooks) result(epoch int) (Result, error) {
	if h.err != nil {
		return Result{}, h.err
	}
	if h.cancel != nil && epoch == 2 {
		h.cancel()
	}
	return Result{
		Scalars:    map[string]float64{"val_loss": h.valLoss[epoch-1], "loss": 1.0 / float64(epoch)},
		Metrics:    []float64{0.5},
		ValMetrics: []float64{0.25},
	}, nil
}

func (h *fakeHooks) WarmupEpoch(_ context.Context, epoch int) (Result, error) {
	h.warmups = append(h.warmups, epoch)
	return h.result(epoch)
}

func (h *fakeHooks) TrainEpoch(_ context.Context, epoch int) (Result, error) {
	h.trains = append(h.trains, epoch)
	return h.result(epoch)
}

type fakeWriter struct {
	params  map[string]any
	code    bool
	steps   []int
	last    map[string]float64
	status  string
	failLog bool
}

func (w *fakeWriter) LogHyperparams(params map[string]any) error {
	w.params = params
	return nil
}

func (w *fakeWriter) LogCode() error {
	w.code = true
	return nil
}

func (w *fakeWriter) Finalize(status string) error {
	w.status = status
	return nil
}

func (w *fakeWriter) LogMetrics(step int, metrics map[string]float64) error {
	if w.failLog {
		return errors.New("tracker offline")
	}
	w.steps = append(w.steps, step)
	w.last = metrics
	return nil
}

func intPtr(v int) *int { return &v }

// captureLog redirects klog output to a buffer for the rest of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	require.NoError(t, fs.Set("logtostderr", "false"))
	require.NoError(t, fs.Set("alsologtostderr", "false"))
	require.NoError(t, fs.Set("one_output", "true"))

	var buf bytes.Buffer
	klog.SetOutput(&buf)
	t.Cleanup(func() {
		klog.Flush()
		klog.SetOutput(os.Stderr)
		_ = fs.Set("logtostderr", "true")
		_ = fs.Set("one_output", "false")
	})
	return &buf
}

func testConfig(t *testing.T, monitorSpec string, earlyStop *int) *config.Config {
	t.Helper()
	return &config.Config{
		Name: "fake",
		Arch: config.Object{Type: "fakeNet"},
		Trainer: config.TrainerConfig{
			Epochs:     5,
			SavePeriod: 1,
			Verbosity:  config.VerbosityWarning,
			Monitor:    monitorSpec,
			EarlyStop:  earlyStop,
		},
		Raw:     map[string]any{"name": "fake"},
		SaveDir: t.TempDir(),
	}
}

type fixture struct {
	net    *fakeNet
	opt    *fakeOptimizer
	crit   *fakeCriterion
	hooks  *fakeHooks
	writer *fakeWriter
}

func newFixture(valLoss ...float64) *fixture {
	return &fixture{
		net:    &fakeNet{weight: []float32{1, 2, 3}},
		opt:    &fakeOptimizer{lr: 0.1},
		crit:   &fakeCriterion{vector: []float32{0.5, 0.5}, flag: true},
		hooks:  &fakeHooks{valLoss: valLoss},
		writer: &fakeWriter{},
	}
}

func (f *fixture) components() Components {
	return Components{
		Model:          f.net,
		TrainCriterion: f.crit,
		Metrics:        []metric.Metric{metric.Accuracy{}},
		Optimizer:      f.opt,
	}
}

func (f *fixture) newTrainer(t *testing.T, cfg *config.Config) *Trainer {
	t.Helper()
	tr, err := New(cfg, device.Placement{Device: tensor.CPU}, f.components(), f.hooks,
		WithWriter(f.writer), WithProgressOutput(io.Discard))
	require.NoError(t, err)
	return tr
}

func TestTrainRunsAllEpochs(t *testing.T) {
	f := newFixture(5, 4, 3, 2, 1)
	cfg := testConfig(t, "off", nil)
	cfg.Trainer.Warmup = 2

	tr := f.newTrainer(t, cfg)
	require.NoError(t, tr.Train(context.Background()))

	assert.Equal(t, []int{1, 2}, f.hooks.warmups)
	assert.Equal(t, []int{3, 4, 5}, f.hooks.trains)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.writer.steps)
	assert.Equal(t, tracking.StatusFinished, f.writer.status)
	assert.True(t, f.writer.code)
	assert.Equal(t, cfg.Raw, f.writer.params)

	_, err := os.Stat(filepath.Join(cfg.SaveDir, checkpoint.BestFileName))
	assert.True(t, os.IsNotExist(err), "no best model without monitoring")
}

func TestEpochLogLayout(t *testing.T) {
	f := newFixture(1)
	cfg := testConfig(t, "off", nil)
	tr := f.newTrainer(t, cfg)

	log, err := tr.epochLog(3, Result{
		Scalars:     map[string]float64{"val_loss": 0.2, "loss": 0.3, "reg_loss": 0.1},
		Metrics:     []float64{0.9},
		ValMetrics:  []float64{0.8},
		TestMetrics: []float64{0.7},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"epoch", "loss", "reg_loss", "val_loss", "accuracy", "val_accuracy", "test_accuracy"},
		log.Keys())
	v, _ := log.Get("epoch")
	assert.Equal(t, 3.0, v)
	v, _ = log.Get("test_accuracy")
	assert.Equal(t, 0.7, v)

	_, err = tr.epochLog(1, Result{Metrics: []float64{0.9, 0.1}})
	assert.Error(t, err)
}

func TestEpochLogFollowsResultOrder(t *testing.T) {
	f := newFixture(1)
	tr := f.newTrainer(t, testConfig(t, "off", nil))

	log, err := tr.epochLog(2, Result{
		Scalars:    map[string]float64{"val_loss": 0.2, "loss": 0.3, "lr": 0.01},
		Metrics:    []float64{0.9},
		ValMetrics: []float64{0.8},
		Order:      []string{"loss", MetricsGroup, "val_loss", ValMetricsGroup},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"epoch", "loss", "accuracy", "val_loss", "val_accuracy", "lr"},
		log.Keys())

	_, err = tr.epochLog(2, Result{Order: []string{"loss"}})
	assert.Error(t, err)
}

func TestEarlyStopping(t *testing.T) {
	tests := []struct {
		name      string
		valLoss   []float64
		earlyStop *int
		wantRan   []int
	}{
		{"stops after patience", []float64{1, 2, 3, 4, 5}, intPtr(2), []int{1, 2, 3, 4}},
		{"ties reset the counter", []float64{1, 1, 1, 1, 1}, intPtr(0), []int{1, 2, 3, 4, 5}},
		{"zero patience", []float64{1, 2, 0, 0, 0}, intPtr(0), []int{1, 2}},
		{"unset patience never stops", []float64{1, 2, 3, 4, 5}, nil, []int{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.valLoss...)
			tr := f.newTrainer(t, testConfig(t, "min val_loss", tt.earlyStop))
			require.NoError(t, tr.Train(context.Background()))
			assert.Equal(t, tt.wantRan, f.hooks.trains)
			assert.Equal(t, 1.0, tr.Monitor().Best)
		})
	}
}

func TestMissingMetricDisablesMonitoring(t *testing.T) {
	f := newFixture(3, 2, 1, 0, 0)
	cfg := testConfig(t, "max val_f1", intPtr(1))
	tr := f.newTrainer(t, cfg)
	require.NoError(t, tr.Train(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.hooks.trains)
	mon := tr.Monitor()
	assert.False(t, mon.Enabled())
	assert.Equal(t, math.Inf(-1), mon.Best)
	_, err := os.Stat(filepath.Join(cfg.SaveDir, checkpoint.BestFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveBestAndPeriodic(t *testing.T) {
	f := newFixture(3, 1, 2, 0.5, 4)
	cfg := testConfig(t, "min val_loss", nil)
	cfg.Trainer.SavePeriod = 2
	cfg.Trainer.KeepPeriodic = true
	tr := f.newTrainer(t, cfg)
	require.NoError(t, tr.Train(context.Background()))

	for _, epoch := range []int{2, 4} {
		_, err := os.Stat(filepath.Join(cfg.SaveDir, checkpoint.PeriodicFileName(epoch)))
		assert.NoError(t, err, "epoch %d", epoch)
	}
	for _, epoch := range []int{1, 3, 5} {
		_, err := os.Stat(filepath.Join(cfg.SaveDir, checkpoint.PeriodicFileName(epoch)))
		assert.True(t, os.IsNotExist(err), "epoch %d", epoch)
	}

	// Epoch 4 improved and is a save epoch. Epoch 2 improved too but was overwritten.
	state, err := checkpoint.Load(filepath.Join(cfg.SaveDir, checkpoint.BestFileName))
	require.NoError(t, err)
	assert.Equal(t, 4, state.Epoch)
	assert.Equal(t, 0.5, state.MonitorBest)
	assert.Equal(t, "fakeNet", state.Arch)
	assert.Equal(t, []float32{0.5, 0.5}, state.MasterVector)
	assert.Equal(t, []float32{1, 2, 3}, state.StateDict["weight"].AsFloat32())
	assert.InDelta(t, 0.1, state.Optimizer["lr"].AsFloat32()[0], 1e-7)
}

func TestCheckpointWithoutMasterVector(t *testing.T) {
	f := newFixture(3, 2, 1, 4, 5)
	f.crit.vector = nil
	cfg := testConfig(t, "min val_loss", nil)
	require.NoError(t, f.newTrainer(t, cfg).Train(context.Background()))

	path := filepath.Join(cfg.SaveDir, checkpoint.BestFileName)
	state, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Nil(t, state.MasterVector)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), checkpoint.FieldMasterVector)
}

func TestBestOnlySavedOnSaveEpochs(t *testing.T) {
	f := newFixture(1, 2, 3, 4, 5)
	cfg := testConfig(t, "min val_loss", nil)
	cfg.Trainer.SavePeriod = 2
	tr := f.newTrainer(t, cfg)
	require.NoError(t, tr.Train(context.Background()))

	_, err := os.Stat(filepath.Join(cfg.SaveDir, checkpoint.BestFileName))
	assert.True(t, os.IsNotExist(err), "epoch 1 was best but is not a save epoch")
}

func TestResume(t *testing.T) {
	f := newFixture(3, 2, 1, 4, 5)
	cfg := testConfig(t, "min val_loss", nil)
	require.NoError(t, f.newTrainer(t, cfg).Train(context.Background()))
	bestPath := filepath.Join(cfg.SaveDir, checkpoint.BestFileName)

	g := newFixture(3, 2, 1, 0.5, 5)
	g.net.weight = []float32{0, 0, 0}
	g.opt.lr = 1
	g.crit.vector = nil
	resumed := testConfig(t, "min val_loss", nil)
	resumed.Resume = bestPath
	tr := g.newTrainer(t, resumed)

	assert.Equal(t, 4, tr.StartEpoch())
	assert.Equal(t, 1.0, tr.Monitor().Best)
	assert.Equal(t, []float32{1, 2, 3}, g.net.weight)
	assert.InDelta(t, 0.1, g.opt.lr, 1e-7)
	assert.Equal(t, []float32{0.5, 0.5}, g.crit.vector)
	assert.False(t, g.crit.flag)

	require.NoError(t, tr.Train(context.Background()))
	assert.Equal(t, []int{4, 5}, g.hooks.trains)
	assert.Equal(t, 0.5, tr.Monitor().Best)
}

func TestResumeWithDifferentArch(t *testing.T) {
	f := newFixture(3, 2, 1, 4, 5)
	cfg := testConfig(t, "min val_loss", nil)
	require.NoError(t, f.newTrainer(t, cfg).Train(context.Background()))

	buf := captureLog(t)
	g := newFixture(3, 2, 1, 0.5, 5)
	g.net.weight = []float32{0, 0, 0}
	resumed := testConfig(t, "min val_loss", nil)
	resumed.Arch.Type = "ResNet"
	resumed.Resume = filepath.Join(cfg.SaveDir, checkpoint.BestFileName)
	tr := g.newTrainer(t, resumed)
	klog.Flush()

	assert.Contains(t, buf.String(), "Architecture configuration given in config file is different")
	assert.Equal(t, 4, tr.StartEpoch())
	assert.Equal(t, []float32{1, 2, 3}, g.net.weight, "state dict is still loaded")
}

func TestNewWarnsOnDataParallel(t *testing.T) {
	buf := captureLog(t)
	f := newFixture(1)
	_, err := New(testConfig(t, "off", nil), device.Placement{Device: tensor.WebGPU, IDs: []int{0, 1}},
		f.components(), f.hooks, WithWriter(f.writer), WithProgressOutput(io.Discard))
	require.NoError(t, err)
	klog.Flush()

	assert.Contains(t, buf.String(), "2 devices requested, data parallel training is not supported")
}

func TestResumeMissingCheckpoint(t *testing.T) {
	f := newFixture(1)
	cfg := testConfig(t, "off", nil)
	cfg.Resume = filepath.Join(t.TempDir(), "missing.born")
	_, err := New(cfg, device.Placement{}, f.components(), f.hooks, WithProgressOutput(io.Discard))
	assert.Error(t, err)
}

func TestHookErrorFailsExperiment(t *testing.T) {
	f := newFixture(1, 2, 3, 4, 5)
	f.hooks.err = errors.New("loss is NaN")
	tr := f.newTrainer(t, testConfig(t, "off", nil))

	err := tr.Train(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epoch 1")
	assert.Equal(t, tracking.StatusFailed, f.writer.status)
}

func TestTrackerErrorsDoNotStopTraining(t *testing.T) {
	f := newFixture(1, 2, 3, 4, 5)
	f.writer.failLog = true
	tr := f.newTrainer(t, testConfig(t, "off", nil))
	require.NoError(t, tr.Train(context.Background()))
	assert.Len(t, f.hooks.trains, 5)
}

func TestTrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(1, 2, 3, 4, 5)
	f.hooks.cancel = cancel
	tr := f.newTrainer(t, testConfig(t, "off", nil))

	err := tr.Train(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2}, f.hooks.trains)
}

func TestNewValidation(t *testing.T) {
	f := newFixture(1)
	cfg := testConfig(t, "off", nil)

	_, err := New(cfg, device.Placement{}, Components{Model: f.net}, f.hooks)
	assert.Error(t, err)

	_, err = New(cfg, device.Placement{}, f.components(), nil)
	assert.Error(t, err)

	bad := testConfig(t, "median val_loss", nil)
	_, err = New(bad, device.Placement{}, f.components(), f.hooks, WithWriter(f.writer))
	assert.Error(t, err)
}

type genericNet[T any] struct{ fakeNet }

func TestArchName(t *testing.T) {
	assert.Equal(t, "fakeNet", archName(&fakeNet{}))
	assert.Equal(t, "genericNet", archName(&genericNet[*fakeNet]{}))
	assert.Equal(t, "", archName(nil))
	assert.Equal(t, "Accuracy", archName(metric.Accuracy{}))
}
