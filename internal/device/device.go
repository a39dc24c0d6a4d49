// Package device selects where training runs: the first GPU when one is
// configured and available, otherwise the CPU.
package device

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/born/tensor"
	"github.com/klauspost/cpuid/v2"

	"github.com/born-ml/trainer/internal/config"
)

// Placement is the outcome of device preparation.
type Placement struct {
	Device tensor.Device // tensor.WebGPU or tensor.CPU
	IDs    []int         // GPU ids to use, empty on CPU
}

// UseGPU reports whether training runs on a GPU.
func (p Placement) UseGPU() bool {
	return len(p.IDs) > 0
}

// DataParallel reports whether more than one device was requested.
func (p Placement) DataParallel() bool {
	return len(p.IDs) > 1
}

// String formats the placement as "webgpu:0" or "cpu".
func (p Placement) String() string {
	if !p.UseGPU() {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", strings.ToLower(p.Device.String()), p.IDs[0])
}

// VisibleDevicesEnv restricts the GPU ids a run may use, e.g. "0,2".
const VisibleDevicesEnv = "BORN_VISIBLE_DEVICES"

// Prepare clamps the requested GPU count to what the machine offers and
// returns the placement.
func Prepare(logger config.Logger, nGPUUse int) Placement {
	visible, err := ParseIDs(os.Getenv(VisibleDevicesEnv))
	if err != nil {
		logger.Warningf("Warning: ignoring %s: %v", VisibleDevicesEnv, err)
		visible = nil
	}
	return PrepareWith(logger, nGPUUse, GPUCount(), visible...)
}

// ParseIDs parses a comma-separated list of device ids. An empty string
// yields no ids.
func ParseIDs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ids []int
	for _, field := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid device id %q", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PrepareWith is Prepare with an explicit number of available GPUs. When
// visible ids are given, only those may be used.
func PrepareWith(logger config.Logger, nGPUUse, available int, visible ...int) Placement {
	if len(visible) > 0 {
		available = min(available, len(visible))
	}
	if nGPUUse > 0 && available == 0 {
		logger.Warningf("Warning: There's no GPU available on this machine, " +
			"training will be performed on CPU.")
		nGPUUse = 0
	}
	if nGPUUse > available {
		logger.Warningf("Warning: The number of GPU's configured to use is %d, but only %d are available "+
			"on this machine.", nGPUUse, available)
		nGPUUse = available
	}
	if nGPUUse < 0 {
		nGPUUse = 0
	}

	if nGPUUse == 0 {
		logger.Debugf("Training on CPU: %s", CPUInfo())
		return Placement{Device: tensor.CPU}
	}

	ids := make([]int, nGPUUse)
	for i := range ids {
		ids[i] = i
		if len(visible) > 0 {
			ids[i] = visible[i]
		}
	}
	return Placement{Device: tensor.WebGPU, IDs: ids}
}

// CPUInfo describes the host CPU.
func CPUInfo() string {
	c := cpuid.CPU
	brand := c.BrandName
	if brand == "" {
		brand = "unknown CPU"
	}
	features := "no AVX2"
	if c.Supports(cpuid.AVX2, cpuid.FMA3) {
		features = "AVX2+FMA"
	}
	return fmt.Sprintf("%s (%d cores, %d threads, %s)", brand, c.PhysicalCores, c.LogicalCores, features)
}
