//go:build !nogpu

package native

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
)

// Swapchain is an offscreen presentation target: a ring of textures the
// host application reads back or composites after Present.
type Swapchain struct {
	dev     *Device
	name    string
	images  []device.ImageID
	current int
	acquire *binarySemaphore
	present *binarySemaphore

	presented atomic.Uint64
}

// NewSwapchain creates count images described by info. An undefined
// format is replaced by the provider's surface format.
func (d *Device) NewSwapchain(name string, info device.ImageInfo, count int) (*Swapchain, error) {
	if info.Format == gputypes.TextureFormatUndefined {
		info.Format = d.surfaceFormat
	}
	if info.Format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("%w: swapchain %q has no format", ErrInvalidDescriptor, name)
	}
	sc := &Swapchain{
		dev:     d,
		name:    name,
		current: -1,
		acquire: &binarySemaphore{dev: d, name: name + ".acquire"},
		present: &binarySemaphore{dev: d, name: name + ".present"},
	}
	for i := range max(count, 1) {
		img := info
		img.Name = fmt.Sprintf("%s[%d]", name, i)
		id, err := d.CreateImage(img)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.images = append(sc.images, id)
	}
	return sc, nil
}

// Acquire advances to the next image and signals the acquire semaphore.
func (s *Swapchain) Acquire() device.ImageID {
	s.current = (s.current + 1) % len(s.images)
	s.acquire.signal()
	return s.images[s.current]
}

func (s *Swapchain) Name() string { return s.name }

func (s *Swapchain) CurrentImage() device.ImageID {
	if s.current < 0 {
		return device.InvalidID
	}
	return s.images[s.current]
}

func (s *Swapchain) AcquireSemaphore() device.BinarySemaphore { return s.acquire }
func (s *Swapchain) PresentSemaphore() device.BinarySemaphore { return s.present }

// Images returns the images of the ring in acquire order.
func (s *Swapchain) Images() []device.ImageID { return s.images }

// Presented returns how many frames have been presented.
func (s *Swapchain) Presented() uint64 { return s.presented.Load() }

// Destroy destroys the images of the swapchain.
func (s *Swapchain) Destroy() {
	for _, id := range s.images {
		s.dev.DestroyImage(id)
	}
	s.images = nil
	s.current = -1
}
