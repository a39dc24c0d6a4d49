// Package data loads labelled datasets and iterates them in mini-batches.
//
// Every batch carries the dataset indices of its samples, so per-sample
// state (such as a criterion's target estimates) can be addressed.
package data

import (
	"errors"
	"fmt"
)

// ErrEmptyDataset is returned when a file contains no samples.
var ErrEmptyDataset = errors.New("dataset is empty")

// Dataset is an in-memory labelled dataset with fixed-width features.
type Dataset struct {
	Features [][]float32
	Labels   []int32
	Classes  int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Dim returns the feature width.
func (d *Dataset) Dim() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// validate checks feature widths and label ranges and derives Classes when unset.
func (d *Dataset) validate() error {
	if d.Len() == 0 {
		return ErrEmptyDataset
	}
	if len(d.Features) != len(d.Labels) {
		return fmt.Errorf("%d feature rows but %d labels", len(d.Features), len(d.Labels))
	}
	dim := d.Dim()
	maxLabel := int32(0)
	for i, row := range d.Features {
		if len(row) != dim {
			return fmt.Errorf("sample %d has %d features, want %d", i, len(row), dim)
		}
		if d.Labels[i] < 0 {
			return fmt.Errorf("sample %d has negative label %d", i, d.Labels[i])
		}
		maxLabel = max(maxLabel, d.Labels[i])
	}
	if d.Classes == 0 {
		d.Classes = int(maxLabel) + 1
	} else if int(maxLabel) >= d.Classes {
		return fmt.Errorf("label %d out of range for %d classes", maxLabel, d.Classes)
	}
	return nil
}
