package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads a numeric dataset: the label in the first column followed by
// the features. A first row that does not parse as numbers is treated as a
// header and skipped.
func LoadCSV(path string) (*Dataset, error) {
	//nolint:gosec // G304: dataset path comes from the configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func readCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	ds := &Dataset{}
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: need a label and at least one feature", line)
		}

		label, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid label %q", line, record[0])
		}
		row := make([]float32, len(record)-1)
		for i, field := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid feature %q", line, field)
			}
			row[i] = float32(v)
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, int32(label)) //nolint:gosec // G115: labels are small class ids
	}

	if err := ds.validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
