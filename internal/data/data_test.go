package data

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainer/internal/config"
)

const sampleCSV = `label,x1,x2
0,0.1,0.2
1,1.5,-0.5
# comment
2,3,4
1,0,0
`

func TestReadCSV(t *testing.T) {
	ds, err := readCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 2, ds.Dim())
	assert.Equal(t, 3, ds.Classes)
	assert.Equal(t, []int32{0, 1, 2, 1}, ds.Labels)
	assert.Equal(t, []float32{1.5, -0.5}, ds.Features[1])
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"empty":       "label,x\n",
		"ragged":      "0,1,2\n1,3\n",
		"bad feature": "0,1\n1,abc\n",
		"bad label":   "0,1\nx,2\n",
		"label only":  "0\n",
		"negative":    "0,1\n-1,2\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readCSV(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

// fakeEncoder maps every word to its length.
type fakeEncoder struct{}

func (fakeEncoder) Encode(text string) ([]int32, error) {
	words := strings.Fields(text)
	out := make([]int32, len(words))
	for i, w := range words {
		out[i] = int32(len(w))
	}
	return out, nil
}

func TestReadText(t *testing.T) {
	input := "label,text\n0,aa bb\n1,\"a, bbb\"\n"
	ds, err := readText(strings.NewReader(input), fakeEncoder{}, 4)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, 2, ds.Classes)

	// "aa bb" -> tokens {2, 2} -> bucket 2 only.
	assert.Equal(t, []float32{0, 0, 1, 0}, ds.Features[0])

	// "a, bbb" -> tokens {2, 3} -> buckets 2 and 3, normalized.
	inv := float32(1 / math.Sqrt(2))
	assert.InDeltaSlice(t, []float32{0, 0, inv, inv}, ds.Features[1], 1e-6)

	_, err = readText(strings.NewReader(input), fakeEncoder{}, 0)
	assert.Error(t, err)
}

func newTestDataset(n int) *Dataset {
	ds := &Dataset{Classes: 2}
	for i := 0; i < n; i++ {
		ds.Features = append(ds.Features, []float32{float32(i), float32(-i)})
		ds.Labels = append(ds.Labels, int32(i%2))
	}
	return ds
}

func TestLoaderBatches(t *testing.T) {
	ds := newTestDataset(10)
	l, err := NewLoader(ds, 4, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumBatches())

	batches := l.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].Indices)
	assert.Equal(t, 2, batches[2].Size())
	assert.Equal(t, []float32{8, -8, 9, -9}, batches[2].Features)
	assert.Equal(t, []int32{0, 1}, batches[2].Labels)

	_, err = NewLoader(ds, 0, false, 0)
	assert.Error(t, err)
}

func TestLoaderShuffleVisitsEverySample(t *testing.T) {
	ds := newTestDataset(25)
	l, err := NewLoader(ds, 7, true, 42)
	require.NoError(t, err)

	var seen []int
	for _, b := range l.Batches() {
		for i, idx := range b.Indices {
			assert.Equal(t, ds.Labels[idx], b.Labels[i])
			assert.Equal(t, float32(idx), b.Features[2*i])
		}
		seen = append(seen, b.Indices...)
	}
	sort.Ints(seen)
	want := make([]int, 25)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, seen)
}

func TestLoaderSplit(t *testing.T) {
	tests := []struct {
		split   float64
		wantVal int
		wantErr bool
	}{
		{0, 0, false},
		{0.2, 4, false},
		{5, 5, false},
		{-0.1, 0, true},
		{20, 0, true},
		{0.01, 0, true},
	}
	for _, tt := range tests {
		l, err := NewLoader(newTestDataset(20), 4, true, 1)
		require.NoError(t, err)

		val, err := l.Split(tt.split)
		if tt.wantErr {
			assert.Error(t, err, "split=%v", tt.split)
			continue
		}
		require.NoError(t, err)
		if tt.wantVal == 0 {
			assert.Nil(t, val)
			assert.Equal(t, 20, l.Len())
			continue
		}
		require.NotNil(t, val)
		assert.Equal(t, tt.wantVal, val.Len())
		assert.Equal(t, 20-tt.wantVal, l.Len())

		used := make(map[int]bool)
		for _, b := range append(l.Batches(), val.Batches()...) {
			for _, idx := range b.Indices {
				assert.False(t, used[idx], "sample %d in both subsets", idx)
				used[idx] = true
			}
		}
		assert.Len(t, used, 20)
	}
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	train, val, err := FromConfig(config.Object{Type: "CSV", Args: map[string]any{
		"data_path":        path,
		"batch_size":       2,
		"shuffle":          false,
		"validation_split": 1,
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 1, val.Len())
	assert.Equal(t, 2, train.NumBatches())

	_, _, err = FromConfig(config.Object{Type: "Parquet", Args: map[string]any{"data_path": path}})
	assert.Error(t, err)

	_, _, err = FromConfig(config.Object{Type: "CSV"})
	assert.Error(t, err)
}
