package checkpoint

import (
	"github.com/born-ml/born/tensor"
)

// Format constants.
const (
	FormatName    = "born-trainer/v1"
	MetadataKey   = "__metadata__"
	HeaderLenSize = 8 // uint64 LE header length prefix
)

// Checkpoint field names. They are shared with the tensor name prefixes
// and the metadata keys.
const (
	FieldArch         = "arch"
	FieldEpoch        = "epoch"
	FieldStateDict    = "state_dict"
	FieldOptimizer    = "optimizer"
	FieldMonitorBest  = "monitor_best"
	FieldMasterVector = "masterVector"
	FieldFormat       = "format"
	FieldChecksum     = "checksum"
)

// File names used by the trainer.
const (
	BestFileName     = "model_best.born"
	periodicTemplate = "checkpoint-epoch%d.born"
)

// Data type strings, following the SafeTensors spelling.
const (
	DTypeFloat32 = "F32"
	DTypeFloat64 = "F64"
	DTypeInt32   = "I32"
	DTypeInt64   = "I64"
	DTypeUint8   = "U8"
	DTypeBool    = "BOOL"
)

// TensorHeader describes one tensor in the header.
type TensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// tensorEntry is a named TensorHeader, used during validation.
type tensorEntry struct {
	Name string
	TensorHeader
}

func dtypeToString(dt tensor.DataType) (string, bool) {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32, true
	case tensor.Float64:
		return DTypeFloat64, true
	case tensor.Int32:
		return DTypeInt32, true
	case tensor.Int64:
		return DTypeInt64, true
	case tensor.Uint8:
		return DTypeUint8, true
	case tensor.Bool:
		return DTypeBool, true
	default:
		return "", false
	}
}

func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeInt32:
		return tensor.Int32, true
	case DTypeInt64:
		return tensor.Int64, true
	case DTypeUint8:
		return tensor.Uint8, true
	case DTypeBool:
		return tensor.Bool, true
	default:
		return 0, false
	}
}
