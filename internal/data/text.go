package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used for text datasets.
const DefaultEncoding = "cl100k_base"

// Encoder turns text into token ids.
type Encoder interface {
	Encode(text string) ([]int32, error)
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

// NewTikToken returns an Encoder backed by a tiktoken encoding.
func NewTikToken(encoding string) (Encoder, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &tiktokenEncoder{enc: enc}, nil
}

func (e *tiktokenEncoder) Encode(text string) ([]int32, error) {
	tokens := e.enc.Encode(text, nil, nil)
	out := make([]int32, len(tokens))
	for i, tok := range tokens {
		out[i] = int32(tok) //nolint:gosec // G115: vocab size < 2^31
	}
	return out, nil
}

// LoadText reads "label,text" rows and featurizes each text as an
// L2-normalized bag of token ids hashed into dims buckets.
func LoadText(path string, enc Encoder, dims int) (*Dataset, error) {
	//nolint:gosec // G304: dataset path comes from the configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := readText(f, enc, dims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func readText(r io.Reader, enc Encoder, dims int) (*Dataset, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("feature dims must be positive, got %d", dims)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

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
			return nil, fmt.Errorf("line %d: want label,text", line)
		}
		label, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid label %q", line, record[0])
		}

		tokens, err := enc.Encode(strings.Join(record[1:], ","))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ds.Features = append(ds.Features, bagOfTokens(tokens, dims))
		ds.Labels = append(ds.Labels, int32(label)) //nolint:gosec // G115: labels are small class ids
	}

	if err := ds.validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func bagOfTokens(tokens []int32, dims int) []float32 {
	row := make([]float32, dims)
	for _, tok := range tokens {
		row[int(tok)%dims]++
	}
	var norm float64
	for _, v := range row {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return row
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range row {
		row[i] *= scale
	}
	return row
}
