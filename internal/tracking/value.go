package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Spellings of non-finite metric values, as accepted by JavaScript's Number().
const (
	nanString    = "NaN"
	posInfString = "Infinity"
	negInfString = "-Infinity"
)

// Value is a metric value that survives JSON encoding when it is NaN or
// infinite. Finite values encode as numbers, others as strings.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return json.Marshal(nanString)
	case math.IsInf(f, 1):
		return json.Marshal(posInfString)
	case math.IsInf(f, -1):
		return json.Marshal(negInfString)
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case nanString:
			*v = Value(math.NaN())
		case posInfString:
			*v = Value(math.Inf(1))
		case negInfString:
			*v = Value(math.Inf(-1))
		default:
			return fmt.Errorf("invalid metric value %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

func toValues(metrics map[string]float64) map[string]Value {
	out := make(map[string]Value, len(metrics))
	for k, f := range metrics {
		out[k] = Value(f)
	}
	return out
}
