package metric

import (
	"gonum.org/v1/gonum/stat"
)

// Tracker accumulates per-batch values and reports their weighted means.
// The zero value is not usable; create one with NewTracker.
type Tracker struct {
	order   []string
	values  map[string][]float64
	weights map[string][]float64
}

// NewTracker returns a tracker pre-registering keys in display order.
func NewTracker(keys ...string) *Tracker {
	t := &Tracker{
		values:  make(map[string][]float64),
		weights: make(map[string][]float64),
	}
	for _, k := range keys {
		t.register(k)
	}
	return t
}

func (t *Tracker) register(key string) {
	if _, ok := t.values[key]; ok {
		return
	}
	t.order = append(t.order, key)
	t.values[key] = nil
	t.weights[key] = nil
}

// Update records value computed over n samples.
func (t *Tracker) Update(key string, value float64, n int) {
	t.register(key)
	t.values[key] = append(t.values[key], value)
	t.weights[key] = append(t.weights[key], float64(n))
}

// Avg returns the weighted mean of key, or 0 when nothing was recorded.
func (t *Tracker) Avg(key string) float64 {
	if len(t.values[key]) == 0 {
		return 0
	}
	return stat.Mean(t.values[key], t.weights[key])
}

// Result returns the mean of every key with at least one value.
func (t *Tracker) Result() map[string]float64 {
	out := make(map[string]float64, len(t.order))
	for _, k := range t.order {
		if len(t.values[k]) > 0 {
			out[k] = t.Avg(k)
		}
	}
	return out
}

// Reset clears recorded values and keeps the registered keys.
func (t *Tracker) Reset() {
	for _, k := range t.order {
		t.values[k] = t.values[k][:0]
		t.weights[k] = t.weights[k][:0]
	}
}
