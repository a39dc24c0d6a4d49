//go:build windows

package device

import "github.com/go-webgpu/webgpu/wgpu"

// GPUCount returns the number of usable WebGPU adapters.
//
// WebGPU only hands out the default adapter, so the count is 0 or 1.
func GPUCount() (count int) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			count = 0
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return 0
	}
	adapter.Release()

	return 1
}
