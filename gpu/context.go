// Package gpu runs the backbone's 2D convolutions on a WebGPU device.
//
// The device is optional: NewConv2D fails with an error matching
// nn.ErrBackend when no adapter is available and callers keep the CPU
// backend.
package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/graphsensor/graphsensor-code/nn"
)

// Context holds the single WebGPU context for the process
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	err      error
}

var ctx Context

func backendError(op string, err error) error {
	return nn.NewError(fmt.Errorf("%w: %w", nn.ErrBackend, err)).Op(op).Build()
}

// GetContext returns the singleton GPU context, initializing it on first use.
// Adapters are tried high-performance first, then low-power, then whatever
// the platform offers by default.
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		log := slog.Default().With("component", "gpu")

		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			ctx.err = backendError("gpu", fmt.Errorf("failed to create WebGPU instance"))
			return
		}

		var err error
		for _, opts := range []*wgpu.RequestAdapterOptions{
			{PowerPreference: wgpu.PowerPreferenceHighPerformance},
			{PowerPreference: wgpu.PowerPreferenceLowPower},
			nil,
		} {
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			if err == nil && ctx.Adapter != nil {
				break
			}
			log.Debug("adapter request failed, falling back", "error", err)
		}
		if ctx.Adapter == nil {
			ctx.err = backendError("gpu", fmt.Errorf("all adapter attempts failed: %v", err))
			return
		}

		info := ctx.Adapter.GetInfo()
		log.Info("using GPU adapter", "name", info.Name, "vendor", info.VendorName, "type", info.AdapterType)

		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			ctx.err = backendError("gpu", err)
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, backendError("gpu", fmt.Errorf("WebGPU device or queue not initialized"))
	}
	return &ctx, nil
}

// Available reports whether a GPU device could be initialized
func Available() bool {
	_, err := GetContext()
	return err == nil
}
