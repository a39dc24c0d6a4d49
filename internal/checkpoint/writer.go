package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/born-ml/born/tensor"
)

// writeTensors writes tensors and metadata to w.
//
// Tensors are written in alphabetical order by name. The checksum of the
// data section is added to the metadata under FieldChecksum.
func writeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	blobs := make([][]byte, 0, len(names))
	hasher := sha256.New()

	var offset int64
	for _, name := range names {
		raw := tensors[name]
		if raw == nil {
			return fmt.Errorf("tensor %s is nil", name)
		}
		dtype, ok := dtypeToString(raw.DType())
		if !ok {
			return fmt.Errorf("%w: %s for tensor %s", ErrUnsupportedDType, raw.DType(), name)
		}

		size := int64(raw.NumElements() * raw.DType().Size())
		data := raw.Data()[:size]

		shape := raw.Shape()
		shape64 := make([]int64, len(shape))
		for i, dim := range shape {
			shape64[i] = int64(dim)
		}

		header[name] = TensorHeader{
			DType:       dtype,
			Shape:       shape64,
			DataOffsets: [2]int64{offset, offset + size},
		}
		blobs = append(blobs, data)
		hasher.Write(data)
		offset += size
	}

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[FieldFormat] = FormatName
	meta[FieldChecksum] = hex.EncodeToString(hasher.Sum(nil))
	header[MetadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, data := range blobs {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", names[i], err)
		}
	}

	return nil
}
