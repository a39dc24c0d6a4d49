//go:build windows

package main

import (
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/backend/webgpu"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/trainer/internal/config"
	"github.com/born-ml/trainer/internal/device"
)

// withBackend runs fn on WebGPU when the placement asks for a GPU and the
// adapter can be opened, otherwise on the CPU backend.
func withBackend(logger config.Logger, placement *device.Placement, fn func(backendRunner) error) error {
	if placement.UseGPU() {
		gpu, err := webgpu.New()
		if err == nil {
			defer gpu.Release()
			logger.Infof("Using %s backend", gpu.Name())
			return fn(runner[*webgpu.Backend]{base: gpu})
		}
		logger.Warningf("Warning: failed to create WebGPU backend, training will be performed on CPU: %v", err)
		*placement = device.Placement{Device: tensor.CPU}
	}
	return fn(runner[*cpu.Backend]{base: cpu.New()})
}
