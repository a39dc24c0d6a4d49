package config

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Verbosity levels accepted by GetLogger.
const (
	VerbosityWarning = 0
	VerbosityInfo    = 1
	VerbosityDebug   = 2
)

// Logger is a named klog front end with a per-logger verbosity threshold.
//
// Warnings are always written. Info lines need verbosity >= 1 and debug
// lines need verbosity >= 2.
type Logger struct {
	name      string
	verbosity int
}

// GetLogger returns a logger for the named component.
func GetLogger(name string, verbosity int) (Logger, error) {
	if verbosity < VerbosityWarning || verbosity > VerbosityDebug {
		return Logger{}, fmt.Errorf("verbosity option %d is invalid. Valid options are 0, 1, 2", verbosity)
	}
	return Logger{name: name, verbosity: verbosity}, nil
}

// Name returns the component name.
func (l Logger) Name() string { return l.name }

// Verbosity returns the configured threshold.
func (l Logger) Verbosity() int { return l.verbosity }

// Infof logs at info level.
func (l Logger) Infof(format string, args ...any) {
	if l.verbosity >= VerbosityInfo {
		klog.InfoDepth(1, l.prefix(format, args...))
	}
}

// Debugf logs at debug level.
func (l Logger) Debugf(format string, args ...any) {
	if l.verbosity >= VerbosityDebug {
		klog.InfoDepth(1, l.prefix(format, args...))
	}
}

// Warningf logs a warning regardless of verbosity.
func (l Logger) Warningf(format string, args ...any) {
	klog.WarningDepth(1, l.prefix(format, args...))
}

// Errorf logs an error regardless of verbosity.
func (l Logger) Errorf(format string, args ...any) {
	klog.ErrorDepth(1, l.prefix(format, args...))
}

func (l Logger) prefix(format string, args ...any) string {
	if l.name == "" {
		return fmt.Sprintf(format, args...)
	}
	return l.name + ": " + fmt.Sprintf(format, args...)
}
