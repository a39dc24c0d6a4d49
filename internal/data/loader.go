package data

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/trainer/internal/config"
)

// Batch is a mini-batch in row-major layout.
type Batch struct {
	Indices  []int     // dataset index of every sample
	Features []float32 // [len(Indices), dim]
	Labels   []int32
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Indices) }

// Loader iterates a subset of a Dataset in mini-batches.
type Loader struct {
	ds        *Dataset
	indices   []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader returns a loader over the whole dataset.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed uint64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader{
		ds:        ds,
		indices:   indices,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// Len returns the number of samples the loader visits.
func (l *Loader) Len() int { return len(l.indices) }

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// Split moves a validation subset out of the loader and returns a loader over
// it. split is a fraction of the samples when below 1, otherwise a sample
// count. A zero split returns nil.
func (l *Loader) Split(split float64) (*Loader, error) {
	if split == 0 {
		return nil, nil
	}
	n := len(l.indices)
	var nVal int
	switch {
	case split < 0:
		return nil, fmt.Errorf("validation split must not be negative, got %v", split)
	case split < 1:
		nVal = int(float64(n) * split)
	default:
		nVal = int(split)
	}
	if nVal <= 0 || nVal >= n {
		return nil, fmt.Errorf("validation split %v leaves %d of %d samples for validation", split, nVal, n)
	}

	perm := append([]int(nil), l.indices...)
	l.rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	val := &Loader{
		ds:        l.ds,
		indices:   perm[:nVal],
		batchSize: l.batchSize,
		rng:       l.rng,
	}
	l.indices = perm[nVal:]
	return val, nil
}

// Batches returns one epoch of batches. Indices are reshuffled on every
// call when shuffling is enabled.
func (l *Loader) Batches() []*Batch {
	order := l.indices
	if l.shuffle {
		order = append([]int(nil), l.indices...)
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	dim := l.ds.Dim()
	batches := make([]*Batch, 0, l.NumBatches())
	for start := 0; start < len(order); start += l.batchSize {
		end := min(start+l.batchSize, len(order))
		b := &Batch{
			Indices:  append([]int(nil), order[start:end]...),
			Features: make([]float32, 0, (end-start)*dim),
			Labels:   make([]int32, 0, end-start),
		}
		for _, idx := range b.Indices {
			b.Features = append(b.Features, l.ds.Features[idx]...)
			b.Labels = append(b.Labels, l.ds.Labels[idx])
		}
		batches = append(batches, b)
	}
	return batches
}

// FromConfig builds the training loader and the optional validation loader
// described by a data_loader section.
//
// Types: "CSV" (args: data_path) and "Text" (args: data_path, encoding,
// dims). Common args: batch_size, shuffle, validation_split, seed.
func FromConfig(spec config.Object) (train, val *Loader, err error) {
	path := spec.String("data_path", "")
	if path == "" {
		return nil, nil, fmt.Errorf("data_loader.args.data_path is required")
	}

	var ds *Dataset
	switch spec.Type {
	case "CSV":
		ds, err = LoadCSV(path)
	case "Text":
		var enc Encoder
		enc, err = NewTikToken(spec.String("encoding", DefaultEncoding))
		if err != nil {
			return nil, nil, err
		}
		ds, err = LoadText(path, enc, spec.Int("dims", 512))
	default:
		return nil, nil, fmt.Errorf("unknown data loader type %q", spec.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	//nolint:gosec // G115: seed is a small configuration value
	seed := uint64(spec.Int("seed", 0))
	train, err = NewLoader(ds, spec.Int("batch_size", 32), spec.Bool("shuffle", true), seed)
	if err != nil {
		return nil, nil, err
	}
	val, err = train.Split(spec.Float("validation_split", 0))
	if err != nil {
		return nil, nil, err
	}
	return train, val, nil
}
