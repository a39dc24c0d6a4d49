// Package monitor tracks the best value of a monitored training metric.
package monitor

import (
	"fmt"
	"math"
	"strings"
)

// Mode is the comparison direction of a monitor.
type Mode string

// Monitor modes.
const (
	Off Mode = "off"
	Min Mode = "min"
	Max Mode = "max"
)

// Monitor holds the monitored metric name, its mode and the best value seen.
type Monitor struct {
	Mode   Mode
	Metric string
	Best   float64
}

// Parse builds a monitor from a setting of the form "off", "min <metric>" or
// "max <metric>".
func Parse(spec string) (*Monitor, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == string(Off)) {
		return &Monitor{Mode: Off}, nil
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("monitor %q: expected \"off\" or \"<min|max> <metric>\"", spec)
	}

	m := &Monitor{Mode: Mode(fields[0]), Metric: fields[1]}
	switch m.Mode {
	case Min:
		m.Best = math.Inf(1)
	case Max:
		m.Best = math.Inf(-1)
	default:
		return nil, fmt.Errorf("monitor %q: mode must be min or max, got %q", spec, fields[0])
	}
	return m, nil
}

// Enabled reports whether the monitor compares values.
func (m *Monitor) Enabled() bool {
	return m.Mode != Off
}

// Improved reports whether value is at least as good as the best so far.
// Ties count as improvements.
func (m *Monitor) Improved(value float64) bool {
	switch m.Mode {
	case Min:
		return value <= m.Best
	case Max:
		return value >= m.Best
	default:
		return false
	}
}

// Disable turns monitoring off. The best value is kept for checkpoints.
func (m *Monitor) Disable() {
	m.Mode = Off
}

// String returns the monitor in its configuration form.
func (m *Monitor) String() string {
	if m.Mode == Off {
		return string(Off)
	}
	return string(m.Mode) + " " + m.Metric
}
