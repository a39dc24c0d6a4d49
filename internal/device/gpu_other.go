//go:build !windows

package device

// GPUCount returns the number of usable GPUs. The WebGPU backend is only
// built on windows, so other platforms always train on CPU.
func GPUCount() int {
	return 0
}
