package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/born/tensor"
)

// State is a complete training snapshot.
type State struct {
	Arch         string                       // model type name
	Epoch        int                          // last finished epoch
	StateDict    map[string]*tensor.RawTensor // model parameters
	Optimizer    map[string]*tensor.RawTensor // optimizer state
	MonitorBest  float64                      // best monitored value, may be ±Inf
	MasterVector []float32                    // training criterion state, may be nil
}

// PeriodicFileName returns the file name of the checkpoint for an epoch.
func PeriodicFileName(epoch int) string {
	return fmt.Sprintf(periodicTemplate, epoch)
}

// Save writes the state to path.
//
// The file is written to a temporary name in the same directory and renamed
// into place, so a crash never leaves a truncated checkpoint behind.
func Save(path string, s *State) (err error) {
	tensors, err := s.tensors()
	if err != nil {
		return err
	}
	metadata := map[string]string{
		FieldArch:        s.Arch,
		FieldEpoch:       strconv.Itoa(s.Epoch),
		FieldMonitorBest: strconv.FormatFloat(s.MonitorBest, 'g', -1, 64),
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = writeTensors(bw, tensors, metadata); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	//nolint:gosec // G304: checkpoint path comes from user input
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	tensors, metadata, err := readTensors(image)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	s := &State{
		Arch:      metadata[FieldArch],
		StateDict: make(map[string]*tensor.RawTensor),
		Optimizer: make(map[string]*tensor.RawTensor),
	}

	epoch, ok := metadata[FieldEpoch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldEpoch)
	}
	if s.Epoch, err = strconv.Atoi(epoch); err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", FieldEpoch, epoch, err)
	}

	best, ok := metadata[FieldMonitorBest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldMonitorBest)
	}
	if s.MonitorBest, err = strconv.ParseFloat(best, 64); err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", FieldMonitorBest, best, err)
	}

	for name, raw := range tensors {
		switch {
		case name == FieldMasterVector:
			if raw.DType() != tensor.Float32 {
				return nil, fmt.Errorf("%s must be float32, got %s", FieldMasterVector, raw.DType())
			}
			s.MasterVector = append([]float32(nil), raw.AsFloat32()...)
		case strings.HasPrefix(name, FieldStateDict+"."):
			s.StateDict[strings.TrimPrefix(name, FieldStateDict+".")] = raw
		case strings.HasPrefix(name, FieldOptimizer+"."):
			s.Optimizer[strings.TrimPrefix(name, FieldOptimizer+".")] = raw
		default:
			return nil, fmt.Errorf("unexpected tensor %q in checkpoint", name)
		}
	}

	return s, nil
}

func (s *State) tensors() (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor, len(s.StateDict)+len(s.Optimizer)+1)
	for name, raw := range s.StateDict {
		out[FieldStateDict+"."+name] = raw
	}
	for name, raw := range s.Optimizer {
		out[FieldOptimizer+"."+name] = raw
	}
	if len(s.MasterVector) > 0 {
		raw, err := tensor.NewRaw(tensor.Shape{len(s.MasterVector)}, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", FieldMasterVector, err)
		}
		copy(raw.AsFloat32(), s.MasterVector)
		out[FieldMasterVector] = raw
	}
	return out, nil
}
