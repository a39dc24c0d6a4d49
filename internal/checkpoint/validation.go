package checkpoint

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// validateTensors checks names, declared sizes, bounds and overlaps.
func validateTensors(entries []tensorEntry, dataSize int64) error {
	if len(entries) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(entries), MaxTensorCount),
		}
	}

	for _, e := range entries {
		if err := validateName(e.Name); err != nil {
			return err
		}
		if err := validateSize(e); err != nil {
			return err
		}
	}

	sorted := make([]tensorEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DataOffsets[0] < sorted[j].DataOffsets[0]
	})

	for i, e := range sorted {
		start, end := e.DataOffsets[0], e.DataOffsets[1]
		if start < 0 || end < start {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  e.Name,
				Details: fmt.Sprintf("data_offsets=[%d, %d]", start, end),
			}
		}
		if end > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  e.Name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if end > next.DataOffsets[0] {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  e.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						start, end, next.DataOffsets[0], next.DataOffsets[1]),
				}
			}
		}
	}

	return nil
}

func validateName(name string) error {
	if name == "" {
		return &ValidationError{Type: "invalid_name", Details: "empty tensor name"}
	}
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name[:64] + "...",
			Details: fmt.Sprintf("length %d, max %d", len(name), MaxTensorNameLen),
		}
	}
	if strings.ContainsRune(name, 0) {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "contains null byte"}
	}
	return nil
}

func validateSize(e tensorEntry) error {
	dtype, ok := stringToDtype(e.DType)
	if !ok {
		return fmt.Errorf("%w: %q for tensor %q", ErrUnsupportedDType, e.DType, e.Name)
	}
	elements := int64(1)
	for _, dim := range e.Shape {
		if dim <= 0 {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  e.Name,
				Details: fmt.Sprintf("shape %v has non-positive dimension", e.Shape),
			}
		}
		if elements > math.MaxInt64/dim {
			return sizeOverflow(e)
		}
		elements *= dim
	}
	size := int64(dtype.Size())
	if elements > math.MaxInt64/size {
		return sizeOverflow(e)
	}
	want := elements * size
	if got := e.DataOffsets[1] - e.DataOffsets[0]; got != want {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  e.Name,
			Details: fmt.Sprintf("data_offsets span %d bytes, shape %v needs %d", got, e.Shape, want),
		}
	}
	return nil
}

func sizeOverflow(e tensorEntry) error {
	return &ValidationError{
		Type:    "size_overflow",
		Tensor:  e.Name,
		Details: fmt.Sprintf("shape %v of %s overflows int64 bytes", e.Shape, e.DType),
	}
}
