// Package config loads training configuration files and derives the run
// directories (checkpoints and logs) for a training session.
//
// Configuration files are JSON or YAML. JSON is accepted as-is because it is
// a subset of YAML:
//
//	{
//	    "name": "mlp_noisy",
//	    "n_gpu": 1,
//	    "arch": {"type": "MLP", "args": {"hidden": 128}},
//	    "optimizer": {"type": "Adam", "args": {"lr": 0.001}},
//	    "trainer": {
//	        "epochs": 50,
//	        "save_dir": "saved/",
//	        "save_period": 1,
//	        "verbosity": 2,
//	        "monitor": "max val_accuracy",
//	        "early_stop": 10,
//	        "warmup": 2
//	    },
//	    "comet": {"api": null, "project_name": "born", "offline": true}
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the resolved config written next to checkpoints.
const ConfigFileName = "config.json"

// RunIDLayout is the time layout used for default run identifiers.
const RunIDLayout = "0102_150405"

// ErrNoConfig is returned when neither a config file nor a resume path is given.
var ErrNoConfig = errors.New("configuration file need to be specified. Add '-config config.json', for example")

// Object describes a component built from configuration: a type name plus
// constructor arguments.
type Object struct {
	Type string         `yaml:"type"`
	Args map[string]any `yaml:"args"`
}

// Float returns a float argument, or def when absent or not numeric.
func (o Object) Float(key string, def float64) float64 {
	switch v := o.Args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns an integer argument, or def when absent or not numeric.
func (o Object) Int(key string, def int) int {
	switch v := o.Args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns a boolean argument, or def when absent.
func (o Object) Bool(key string, def bool) bool {
	if v, ok := o.Args[key].(bool); ok {
		return v
	}
	return def
}

// String returns a string argument, or def when absent.
func (o Object) String(key, def string) string {
	if v, ok := o.Args[key].(string); ok {
		return v
	}
	return def
}

// TrainerConfig holds the "trainer" section.
type TrainerConfig struct {
	Epochs       int    `yaml:"epochs"`
	SaveDir      string `yaml:"save_dir"`
	SavePeriod   int    `yaml:"save_period"`
	Verbosity    int    `yaml:"verbosity"`
	Monitor      string `yaml:"monitor"`
	EarlyStop    *int   `yaml:"early_stop"` // nil: never stop early
	Warmup       int    `yaml:"warmup"`
	KeepPeriodic bool   `yaml:"keep_periodic"`
}

// CometConfig holds the "comet" experiment tracking section.
// An empty API key disables tracking.
type CometConfig struct {
	API         string `yaml:"api"`
	ProjectName string `yaml:"project_name"`
	Offline     bool   `yaml:"offline"`
}

// Config is a parsed training configuration.
type Config struct {
	Name          string        `yaml:"name"`
	NGPU          int           `yaml:"n_gpu"`
	Arch          Object        `yaml:"arch"`
	DataLoader    Object        `yaml:"data_loader"`
	Optimizer     Object        `yaml:"optimizer"`
	OptimizerLoss *Object       `yaml:"optimizer_loss"`
	TrainLoss     Object        `yaml:"train_loss"`
	ValLoss       string        `yaml:"val_loss"`
	Metrics       []string      `yaml:"metrics"`
	Trainer       TrainerConfig `yaml:"trainer"`
	Comet         CometConfig   `yaml:"comet"`

	Raw     map[string]any `yaml:"-"` // decoded document, logged as hyperparameters
	Resume  string         `yaml:"-"` // checkpoint to resume from, empty for a fresh run
	RunID   string         `yaml:"-"`
	SaveDir string         `yaml:"-"` // <save_dir>/models/<name>/<run_id>
	LogDir  string         `yaml:"-"` // <save_dir>/log/<name>/<run_id>
}

// Load decodes a configuration file without touching the filesystem otherwise.
func Load(path string) (*Config, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Parse loads the configuration for a run and creates its directories.
//
// When path is empty and resume is set, the config saved next to the
// checkpoint is used. Overrides address nested keys with ';' separators,
// e.g. "optimizer;args;lr" -> "0.01". An empty runID defaults to a timestamp.
func Parse(path, resume, runID string, overrides map[string]string) (*Config, error) {
	if path == "" {
		if resume == "" {
			return nil, ErrNoConfig
		}
		path = filepath.Join(filepath.Dir(resume), ConfigFileName)
	}

	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := setByPath(raw, key, value); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}
	cfg.Resume = resume

	if runID == "" {
		runID = time.Now().Format(RunIDLayout)
	}
	cfg.RunID = runID

	if err := cfg.makeDirs(); err != nil {
		return nil, err
	}
	if err := cfg.writeResolved(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) makeDirs() error {
	base := c.Trainer.SaveDir
	if base == "" {
		base = "saved"
	}
	c.SaveDir = filepath.Join(base, "models", c.Name, c.RunID)
	c.LogDir = filepath.Join(base, "log", c.Name, c.RunID)

	for _, dir := range []string{c.SaveDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) writeResolved() error {
	data, err := json.MarshalIndent(c.Raw, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(c.SaveDir, ConfigFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readRaw(path string) (map[string]any, error) {
	//nolint:gosec // G304: config path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return raw, nil
}

func decode(raw map[string]any) (*Config, error) {
	// Round-trip through YAML so typed fields follow the same decoding rules
	// as the file itself.
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg := &Config{
		Trainer: TrainerConfig{SavePeriod: 1, Verbosity: 2, Monitor: "off"},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Trainer.SavePeriod <= 0 {
		return nil, fmt.Errorf("trainer.save_period must be positive, got %d", cfg.Trainer.SavePeriod)
	}
	if cfg.Trainer.Monitor == "" {
		cfg.Trainer.Monitor = "off"
	}
	cfg.Raw = raw
	return cfg, nil
}

// setByPath sets a ';'-separated key path in a decoded document. The value is
// decoded as YAML so numbers and booleans keep their type.
func setByPath(raw map[string]any, keyPath, value string) error {
	keys := strings.Split(keyPath, ";")
	var typed any
	if err := yaml.Unmarshal([]byte(value), &typed); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, keyPath, err)
	}

	node := raw
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[key] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = typed
	return nil
}
