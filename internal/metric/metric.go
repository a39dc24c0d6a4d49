// Package metric implements classification metrics computed from logits and
// a tracker that averages per-batch values over an epoch.
package metric

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Metric scores a batch of predictions.
//
// logits is a row-major [batch, classes] matrix. targets holds one class
// index per row.
type Metric interface {
	Name() string
	Compute(logits []float32, classes int, targets []int32) float64
}

// Accuracy is the fraction of rows whose arg-max equals the target.
type Accuracy struct{}

// Name implements Metric.
func (Accuracy) Name() string { return "accuracy" }

// Compute implements Metric.
func (Accuracy) Compute(logits []float32, classes int, targets []int32) float64 {
	if len(targets) == 0 {
		return 0
	}
	row := make([]float64, classes)
	correct := 0
	for i, target := range targets {
		toFloat64(row, logits[i*classes:(i+1)*classes])
		if int32(floats.MaxIdx(row)) == target {
			correct++
		}
	}
	return float64(correct) / float64(len(targets))
}

// TopKAccuracy is the fraction of rows whose target is among the k largest logits.
type TopKAccuracy struct {
	K int
}

// Name implements Metric.
func (m TopKAccuracy) Name() string { return "top_" + strconv.Itoa(m.K) + "_acc" }

// Compute implements Metric.
func (m TopKAccuracy) Compute(logits []float32, classes int, targets []int32) float64 {
	if len(targets) == 0 {
		return 0
	}
	k := min(m.K, classes)
	row := make([]float64, classes)
	idx := make([]int, classes)
	correct := 0
	for i, target := range targets {
		toFloat64(row, logits[i*classes:(i+1)*classes])
		floats.Argsort(row, idx) // ascending, row is sorted in place
		for _, c := range idx[classes-k:] {
			if int32(c) == target {
				correct++
				break
			}
		}
	}
	return float64(correct) / float64(len(targets))
}

// ByName builds the metrics listed in a configuration. Accepted names are
// "accuracy" and "top_<k>_acc".
func ByName(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, name := range names {
		m, err := parse(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parse(name string) (Metric, error) {
	if name == "accuracy" {
		return Accuracy{}, nil
	}
	if rest, ok := strings.CutPrefix(name, "top_"); ok {
		if k, ok := strings.CutSuffix(rest, "_acc"); ok {
			n, err := strconv.Atoi(k)
			if err == nil && n > 0 {
				return TopKAccuracy{K: n}, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown metric %q", name)
}

// Names returns the names of ms in order.
func Names(ms []Metric) []string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name()
	}
	return names
}

func toFloat64(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}
