// Package checkpoint saves and restores training checkpoints.
//
// A checkpoint file holds the model and optimizer state dictionaries plus the
// bookkeeping needed to resume training:
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object]
//	  [Tensor data: raw bytes, in header order]
//
// The header has one "__metadata__" entry with string values (arch, epoch,
// monitor_best, format, checksum) and one entry per tensor:
//
//	"state_dict.fc1.weight": {"dtype": "F32", "shape": [128, 784], "data_offsets": [0, 401408]}
//
// Tensor names are prefixed by the section they belong to:
//   - "state_dict." for model parameters
//   - "optimizer." for optimizer buffers
//   - "masterVector" for the training criterion's master vector
//
// The tensor data section is covered by a SHA-256 checksum stored in the
// metadata, and tensor offsets are validated before any data is read.
//
// Example usage:
//
//	state := &checkpoint.State{
//	    Arch:        "MLP",
//	    Epoch:       12,
//	    StateDict:   model.StateDict(),
//	    Optimizer:   optimizer.StateDict(),
//	    MonitorBest: 0.913,
//	}
//	if err := checkpoint.Save(filepath.Join(dir, checkpoint.BestFileName), state); err != nil {
//	    log.Fatal(err)
//	}
//
//	restored, err := checkpoint.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model.LoadStateDict(restored.StateDict)
package checkpoint
