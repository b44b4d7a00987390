package backend

import (
	"errors"

	"github.com/gogpu/taskgraph/device"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or cannot open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend names registered by the packages of this module.
const (
	// BackendNoop runs graphs through the wgpu HAL noop adapter.
	BackendNoop = "noop"

	// BackendTrace records every device call as text.
	BackendTrace = "trace"
)

// Swapchain is a presentation target whose next image the caller acquires
// before every execution.
type Swapchain interface {
	device.Swapchain
	Acquire() device.ImageID
}

// Opened is a device opened by a backend, together with the backend
// specific operations a headless runner needs.
type Opened struct {
	Device device.Device

	// NewSwapchain creates an offscreen swapchain of images images.
	NewSwapchain func(name string, info device.ImageInfo, images int) (Swapchain, error)

	// Trace returns the recorded commands. Nil for backends that do not
	// record.
	Trace func() []string

	// ResetTrace clears the recorded commands. May be nil.
	ResetTrace func()

	// WaitIdle blocks until the device has finished all submitted work.
	WaitIdle func() error

	// Close releases the device.
	Close func()
}
