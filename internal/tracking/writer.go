// Package tracking records hyperparameters, source code and per-epoch metrics
// of a training run with an experiment tracker.
package tracking

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/trainer/internal/config"
)

// DefaultBaseURL is the Comet REST API root used when Options.BaseURL is empty.
const DefaultBaseURL = "https://www.comet.com/api/rest/v2"

// Status values reported when an experiment ends.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrFinalized is returned by writes after Finalize.
var ErrFinalized = errors.New("experiment already finalized")

// Writer receives everything a trainer reports about a run.
type Writer interface {
	LogHyperparams(params map[string]any) error
	LogCode() error
	LogMetrics(step int, metrics map[string]float64) error
	Finalize(status string) error
}

// Options configures a CometWriter.
type Options struct {
	ProjectName    string
	ExperimentName string
	APIKey         string
	LogDir         string // run log directory; offline experiments live below it
	Offline        bool
	SourceDir      string // root of the source tree archived by LogCode, "." if empty
	BaseURL        string // REST root, DefaultBaseURL if empty
	HTTPClient     *http.Client
}

// sink is where a CometWriter sends its records.
type sink interface {
	parameters(params map[string]any) error
	code(archive []byte) error
	metrics(step int, metrics map[string]float64) error
	status(status string) error
}

// CometWriter reports a run to Comet, either through the REST API or into an
// offline experiment directory that can be uploaded later.
type CometWriter struct {
	logger    config.Logger
	key       string
	sourceDir string
	sink      sink
	done      bool
}

// NewCometWriter starts an experiment.
func NewCometWriter(logger config.Logger, opts Options) (*CometWriter, error) {
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	w := &CometWriter{logger: logger, sourceDir: opts.SourceDir}

	if opts.Offline {
		w.key = uuid.NewString()
		s, err := newOfflineSink(opts, w.key)
		if err != nil {
			return nil, err
		}
		w.sink = s
		logger.Infof("Comet offline experiment %s stored in %s", w.key, s.dir)
		return w, nil
	}

	if opts.APIKey == "" {
		return nil, errors.New("comet api key is required for online experiments")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	s, err := newRESTSink(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create comet experiment: %w", err)
	}
	w.key = s.key
	w.sink = s
	logger.Infof("Comet experiment %s created in project %s", w.key, opts.ProjectName)
	return w, nil
}

// Key returns the experiment key.
func (w *CometWriter) Key() string { return w.key }

// LogHyperparams records the run configuration.
func (w *CometWriter) LogHyperparams(params map[string]any) error {
	if w.done {
		return ErrFinalized
	}
	return w.sink.parameters(params)
}

// LogCode archives the Go sources below the source directory.
func (w *CometWriter) LogCode() error {
	if w.done {
		return ErrFinalized
	}
	archive, err := zipSources(w.sourceDir)
	if err != nil {
		return fmt.Errorf("failed to archive sources: %w", err)
	}
	return w.sink.code(archive)
}

// LogMetrics records one epoch worth of values.
func (w *CometWriter) LogMetrics(step int, metrics map[string]float64) error {
	if w.done {
		return ErrFinalized
	}
	return w.sink.metrics(step, metrics)
}

// Finalize marks the experiment as ended. Later calls are no-ops.
func (w *CometWriter) Finalize(status string) error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.sink.status(status); err != nil {
		return err
	}
	w.logger.Debugf("Comet experiment %s finalized: %s", w.key, status)
	return nil
}

// flatten turns nested maps into dotted keys, e.g. {"a": {"b": 1}} -> {"a.b": 1}.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}
