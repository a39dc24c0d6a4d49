package tracking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Offline experiment file names.
const (
	HyperparamsFile = "hyperparams.json"
	MetricsFile     = "metrics.jsonl"
	CodeFile        = "code.zip"
	StatusFile      = "status.json"
)

// MetricRecord is one line of MetricsFile.
type MetricRecord struct {
	Step      int              `json:"step"`
	Timestamp int64            `json:"timestamp"`
	Metrics   map[string]Value `json:"metrics"`
}

// StatusRecord is the content of StatusFile.
type StatusRecord struct {
	ExperimentKey  string `json:"experiment_key"`
	ProjectName    string `json:"project_name"`
	ExperimentName string `json:"experiment_name"`
	Status         string `json:"status"`
	Started        int64  `json:"started"`
	Ended          int64  `json:"ended,omitempty"`
}

type offlineSink struct {
	dir    string
	record StatusRecord
}

func newOfflineSink(opts Options, key string) (*offlineSink, error) {
	dir := filepath.Join(opts.LogDir, "comet", key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %w", err)
	}
	s := &offlineSink{
		dir: dir,
		record: StatusRecord{
			ExperimentKey:  key,
			ProjectName:    opts.ProjectName,
			ExperimentName: opts.ExperimentName,
			Status:         "running",
			Started:        time.Now().UnixMilli(),
		},
	}
	if err := s.writeJSON(StatusFile, s.record); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *offlineSink) parameters(params map[string]any) error {
	return s.writeJSON(HyperparamsFile, params)
}

func (s *offlineSink) code(archive []byte) error {
	path := filepath.Join(s.dir, CodeFile)
	if err := os.WriteFile(path, archive, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *offlineSink) metrics(step int, metrics map[string]float64) error {
	path := filepath.Join(s.dir, MetricsFile)
	//nolint:gosec // G304: path is built from the run log directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rec := MetricRecord{Step: step, Timestamp: time.Now().UnixMilli(), Metrics: toValues(metrics)}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("failed to append metrics: %w", err)
	}
	return nil
}

func (s *offlineSink) status(status string) error {
	s.record.Status = status
	s.record.Ended = time.Now().UnixMilli()
	return s.writeJSON(StatusFile, s.record)
}

func (s *offlineSink) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
