package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/born-ml/born/tensor"
)

// readTensors parses a checkpoint image and returns its tensors and metadata.
// Tensors are created on the CPU device.
func readTensors(image []byte) (map[string]*tensor.RawTensor, map[string]string, error) {
	if len(image) < HeaderLenSize {
		return nil, nil, fmt.Errorf("file too short: %d bytes", len(image))
	}

	headerSize := binary.LittleEndian.Uint64(image[:HeaderLenSize])
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	dataStart := int64(HeaderLenSize) + int64(headerSize)
	if dataStart > int64(len(image)) {
		return nil, nil, fmt.Errorf("header size %d exceeds file size %d", headerSize, len(image))
	}

	var rawHeader map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(image[HeaderLenSize:dataStart]))
	if err := dec.Decode(&rawHeader); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	metadata := make(map[string]string)
	if metaJSON, ok := rawHeader[MetadataKey]; ok {
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		delete(rawHeader, MetadataKey)
	}
	if metadata[FieldFormat] != FormatName {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, metadata[FieldFormat])
	}

	entries := make([]tensorEntry, 0, len(rawHeader))
	for name, msg := range rawHeader {
		var th TensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, nil, fmt.Errorf("failed to parse tensor %s: %w", name, err)
		}
		entries = append(entries, tensorEntry{Name: name, TensorHeader: th})
	}

	data := image[dataStart:]
	if err := validateTensors(entries, int64(len(data))); err != nil {
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}

	stored, ok := metadata[FieldChecksum]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingField, FieldChecksum)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != stored {
		return nil, nil, ErrChecksumMismatch
	}

	tensors := make(map[string]*tensor.RawTensor, len(entries))
	for _, e := range entries {
		dtype, _ := stringToDtype(e.DType) // checked by validateTensors
		shape := make(tensor.Shape, len(e.Shape))
		for i, dim := range e.Shape {
			shape[i] = int(dim)
		}

		raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create tensor %s: %w", e.Name, err)
		}
		copy(raw.Data(), data[e.DataOffsets[0]:e.DataOffsets[1]])
		tensors[e.Name] = raw
	}

	return tensors, metadata, nil
}
