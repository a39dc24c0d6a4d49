package optimizer

import (
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainer/internal/config"
)

func scalar(t *testing.T, v float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	raw.AsFloat32()[0] = v
	return raw
}

func TestBuild(t *testing.T) {
	backend := cpu.New()
	params := nn.NewLinear(4, 2, backend).Parameters()

	tests := []struct {
		name   string
		spec   config.Object
		wantLR float32
	}{
		{"sgd", config.Object{Type: "SGD", Args: map[string]any{"lr": 0.1, "momentum": 0.9}}, 0.1},
		{"sgd defaults", config.Object{Type: "SGD"}, 0.01},
		{"adam", config.Object{Type: "Adam", Args: map[string]any{"lr": 0.003, "betas": []any{0.8, 0.99}}}, 0.003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := Build(tt.spec, params, backend)
			require.NoError(t, err)
			assert.Equal(t, tt.spec.Type, opt.Type())
			assert.InDelta(t, tt.wantLR, opt.GetLR(), 1e-7)
		})
	}

	_, err := Build(config.Object{Type: "RMSprop"}, params, backend)
	assert.Error(t, err)

	_, err = Build(config.Object{Type: "Adam", Args: map[string]any{"betas": []any{0.9}}}, params, backend)
	assert.Error(t, err)
}

func TestStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	params := nn.NewLinear(4, 2, backend).Parameters()

	src, err := Build(config.Object{Type: "Adam", Args: map[string]any{"lr": 0.02}}, params, backend)
	require.NoError(t, err)
	state := src.StateDict()
	require.Contains(t, state, LRKey)
	assert.InDelta(t, 0.02, state[LRKey].AsFloat32()[0], 1e-7)

	dst, err := Build(config.Object{Type: "Adam"}, params, backend)
	require.NoError(t, err)
	require.NoError(t, dst.LoadStateDict(state))
	assert.InDelta(t, 0.02, dst.GetLR(), 1e-7)
}

func TestAdamMomentsRoundTrip(t *testing.T) {
	backend := cpu.New()
	params := nn.NewLinear(4, 2, backend).Parameters()

	moment, err := tensor.NewRaw(params[0].Tensor().Shape(), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range moment.AsFloat32() {
		moment.AsFloat32()[i] = 0.25
	}

	src, err := Build(config.Object{Type: "Adam"}, params, backend)
	require.NoError(t, err)
	require.NoError(t, src.LoadStateDict(map[string]*tensor.RawTensor{"m.0": moment, "v.0": moment}))

	state := src.StateDict()
	require.Contains(t, state, "m.0")
	require.Contains(t, state, "v.0")
	assert.Equal(t, moment.AsFloat32(), state["m.0"].AsFloat32())

	dst, err := Build(config.Object{Type: "Adam"}, params, backend)
	require.NoError(t, err)
	require.NoError(t, dst.LoadStateDict(state))
	assert.Contains(t, dst.StateDict(), "v.0")
}

func TestLoadStateDictErrors(t *testing.T) {
	backend := cpu.New()
	params := nn.NewLinear(4, 2, backend).Parameters()

	adam, err := Build(config.Object{Type: "Adam"}, params, backend)
	require.NoError(t, err)
	err = adam.LoadStateDict(map[string]*tensor.RawTensor{"m.0": scalar(t, 1)})
	assert.Error(t, err, "moment shape must match the parameter")

	sgd, err := Build(config.Object{Type: "SGD", Args: map[string]any{"momentum": 0.9}}, params, backend)
	require.NoError(t, err)
	err = sgd.LoadStateDict(map[string]*tensor.RawTensor{"velocity.0": scalar(t, 1)})
	assert.Error(t, err, "velocity shape must match the parameter")

	bad, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	assert.Error(t, sgd.LoadStateDict(map[string]*tensor.RawTensor{LRKey: bad}))

	require.NoError(t, sgd.LoadStateDict(map[string]*tensor.RawTensor{LRKey: scalar(t, 0.5)}))
	assert.InDelta(t, 0.5, sgd.GetLR(), 1e-7)
}
