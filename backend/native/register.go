//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/taskgraph/backend"
	"github.com/gogpu/taskgraph/device"
)

func init() {
	backend.Register(backend.BackendNoop, OpenNoop)
}

// OpenNoop opens the wgpu HAL noop adapter. Graphs run through the full
// device path without a GPU.
func OpenNoop() (*backend.Opened, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("noop: no adapter")
	}
	limits := gputypes.DefaultLimits()
	openDev, err := adapters[0].Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open adapter: %w", err)
	}
	d := New(backend.BackendNoop, openDev.Device, openDev.Queue, &limits)
	return &backend.Opened{
		Device: d,
		NewSwapchain: func(name string, info device.ImageInfo, images int) (backend.Swapchain, error) {
			return d.NewSwapchain(name, info, images)
		},
		WaitIdle: d.WaitIdle,
		Close: func() {
			if err := d.Close(); err != nil {
				d.log().Warn("native: close", "device", d.name, "err", err)
			}
			openDev.Device.Destroy()
			instance.Destroy()
		},
	}, nil
}
