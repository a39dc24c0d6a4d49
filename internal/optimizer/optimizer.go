// Package optimizer builds Born optimizers from configuration and gives them
// a checkpointable state.
package optimizer

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/trainer/internal/config"
)

// LRKey is the state dict entry holding the learning rate.
const LRKey = "lr"

type stateDicter interface {
	StateDict() map[string]*tensor.RawTensor
}

type stateLoader interface {
	LoadStateDict(map[string]*tensor.RawTensor) error
}

type lrSetter interface {
	SetLR(lr float32)
}

// Stateful is an optimizer whose state can be saved and restored.
//
// The learning rate is always part of the state. Other buffers (e.g. SGD
// momentum velocities) are included when the wrapped optimizer exports them.
type Stateful struct {
	optim.Optimizer
	kind string
}

// Wrap adds state handling to an existing optimizer.
func Wrap(kind string, opt optim.Optimizer) *Stateful {
	return &Stateful{Optimizer: opt, kind: kind}
}

// Type returns the configured optimizer type, e.g. "Adam".
func (s *Stateful) Type() string { return s.kind }

// StateDict returns the optimizer state.
func (s *Stateful) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	if sd, ok := s.Optimizer.(stateDicter); ok {
		for k, v := range sd.StateDict() {
			out[k] = v
		}
	}
	lr, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	if err == nil {
		lr.AsFloat32()[0] = s.GetLR()
		out[LRKey] = lr
	}
	return out
}

// LoadStateDict restores state produced by StateDict.
func (s *Stateful) LoadStateDict(state map[string]*tensor.RawTensor) error {
	rest := make(map[string]*tensor.RawTensor, len(state))
	for k, v := range state {
		if k != LRKey {
			rest[k] = v
		}
	}

	if lr, ok := state[LRKey]; ok {
		if lr.DType() != tensor.Float32 || lr.NumElements() != 1 {
			return fmt.Errorf("invalid %s entry: %s %v", LRKey, lr.DType(), lr.Shape())
		}
		setter, ok := s.Optimizer.(lrSetter)
		if !ok {
			return fmt.Errorf("%s optimizer does not support setting the learning rate", s.kind)
		}
		setter.SetLR(lr.AsFloat32()[0])
	}

	if loader, ok := s.Optimizer.(stateLoader); ok {
		if err := loader.LoadStateDict(rest); err != nil {
			return fmt.Errorf("failed to load %s state: %w", s.kind, err)
		}
	} else if len(rest) > 0 {
		return fmt.Errorf("%s optimizer has no state to load %d entries into", s.kind, len(rest))
	}
	return nil
}

// Build creates the optimizer described by an optimizer section over params.
//
// Supported types:
//   - SGD: args lr, momentum
//   - Adam: args lr, betas ([beta1, beta2]), eps
func Build[B tensor.Backend](spec config.Object, params []*nn.Parameter[B], backend B) (*Stateful, error) {
	switch spec.Type {
	case "SGD":
		opt := optim.NewSGD(params, optim.SGDConfig{
			LR:       float32(spec.Float("lr", 0.01)),
			Momentum: float32(spec.Float("momentum", 0)),
		}, backend)
		return Wrap(spec.Type, opt), nil
	case "Adam":
		betas, err := pair(spec, "betas", [2]float32{0.9, 0.999})
		if err != nil {
			return nil, err
		}
		opt := optim.NewAdam(params, optim.AdamConfig{
			LR:    float32(spec.Float("lr", 0.001)),
			Betas: betas,
			Eps:   float32(spec.Float("eps", 1e-8)),
		}, backend)
		return Wrap(spec.Type, opt), nil
	default:
		return nil, fmt.Errorf("unknown optimizer type %q", spec.Type)
	}
}

func pair(spec config.Object, key string, def [2]float32) ([2]float32, error) {
	v, ok := spec.Args[key]
	if !ok {
		return def, nil
	}
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return def, fmt.Errorf("%s must be a list of two numbers, got %v", key, v)
	}
	var out [2]float32
	for i, item := range list {
		o := config.Object{Args: map[string]any{"v": item}}
		f := o.Float("v", -1)
		if f < 0 {
			return def, fmt.Errorf("%s[%d] must be a non-negative number, got %v", key, i, item)
		}
		out[i] = float32(f)
	}
	return out, nil
}
