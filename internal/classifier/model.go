// Package classifier provides concrete epoch hooks over Born: a
// fully-connected classifier trained with cross-entropy plus a per-sample
// target regularizer.
package classifier

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/trainer/internal/config"
)

// MLP is a stack of Linear layers with ReLU activations in between.
type MLP[B tensor.Backend] struct {
	layers  []*nn.Linear[B]
	in      int
	classes int
}

// NewMLP creates an MLP mapping in features to classes logits through the
// given hidden layer widths.
func NewMLP[B tensor.Backend](in int, hidden []int, classes int, backend B) *MLP[B] {
	layers := make([]*nn.Linear[B], 0, len(hidden)+1)
	prev := in
	for _, width := range hidden {
		layers = append(layers, nn.NewLinear(prev, width, backend))
		prev = width
	}
	layers = append(layers, nn.NewLinear(prev, classes, backend))

	return &MLP[B]{layers: layers, in: in, classes: classes}
}

// NewMLPFromConfig builds an MLP from an arch section. Args: hidden (an
// integer or a list of integers).
func NewMLPFromConfig[B tensor.Backend](spec config.Object, in, classes int, backend B) (*MLP[B], error) {
	if spec.Type != "MLP" {
		return nil, fmt.Errorf("unknown arch type %q", spec.Type)
	}
	var hidden []int
	switch v := spec.Args["hidden"].(type) {
	case nil:
	case int:
		hidden = []int{v}
	case []any:
		for _, item := range v {
			width, ok := item.(int)
			if !ok || width <= 0 {
				return nil, fmt.Errorf("arch.args.hidden: invalid width %v", item)
			}
			hidden = append(hidden, width)
		}
	default:
		return nil, fmt.Errorf("arch.args.hidden: want an integer or a list, got %T", v)
	}
	return NewMLP(in, hidden, classes, backend), nil
}

// Forward maps [batch, in] features to [batch, classes] logits. The last
// recorded operation is the output layer, so the logits can seed a backward
// pass directly.
func (m *MLP[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	last := len(m.layers) - 1
	for _, layer := range m.layers[:last] {
		x = nn.ReLUFunc(layer.Forward(x))
	}
	return m.layers[last].Forward(x)
}

// Parameters returns all trainable parameters.
func (m *MLP[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, layer := range m.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// StateDict returns parameters keyed "fc<i>.weight" and "fc<i>.bias".
func (m *MLP[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, layer := range m.layers {
		for name, raw := range layer.StateDict() {
			state[fmt.Sprintf("fc%d.%s", i, name)] = raw
		}
	}
	return state
}

// LoadStateDict restores parameters saved by StateDict.
func (m *MLP[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for i, layer := range m.layers {
		prefix := fmt.Sprintf("fc%d.", i)
		sub := make(map[string]*tensor.RawTensor)
		for key, raw := range state {
			if name, ok := strings.CutPrefix(key, prefix); ok {
				sub[name] = raw
			}
		}
		if err := layer.LoadStateDict(sub); err != nil {
			return fmt.Errorf("layer fc%d: %w", i, err)
		}
	}
	return nil
}

// InFeatures returns the input width.
func (m *MLP[B]) InFeatures() int { return m.in }

// Classes returns the number of output classes.
func (m *MLP[B]) Classes() int { return m.classes }
