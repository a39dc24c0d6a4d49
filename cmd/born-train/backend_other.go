//go:build !windows

package main

import (
	"github.com/born-ml/born/backend/cpu"

	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
)

// withBackend runs fn on the CPU backend.
func withBackend(_ config.Logger, _ *device.Placement, fn func(backendRunner) error) error {
	return fn(runner[*cpu.Backend]{base: cpu.New()})
}
