//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/taskgraph/device"
)

// layoutUsage maps an image layout to the texture usage hal transitions
// between. WebGPU has no layouts; the usage is what the backend derives
// its native layout from.
func layoutUsage(l device.Layout) gputypes.TextureUsage {
	switch l {
	case device.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case device.LayoutReadOnly:
		return gputypes.TextureUsageTextureBinding
	case device.LayoutAttachment, device.LayoutPresentSrc:
		return gputypes.TextureUsageRenderAttachment
	case device.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case device.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	}
	return 0
}

// commandList is a finished hal command buffer waiting for Submit.
type commandList struct {
	dev    *Device
	queue  device.Queue
	cmd    hal.CommandBuffer
	labels []string
}

func (c *commandList) Queue() device.Queue { return c.queue }

func (c *commandList) Discard() {
	c.dev.submitMu.Lock()
	defer c.dev.submitMu.Unlock()
	if c.cmd == nil {
		return
	}
	c.dev.device.FreeCommandBuffer(c.cmd)
	c.cmd = nil
}

// recorder records task graph commands into a hal.CommandEncoder.
//
// Global barriers have no hal equivalent: WebGPU orders memory accesses
// within a queue on its own. They are counted and otherwise dropped. Image
// barriers become texture usage transitions over the whole texture.
//
// A recorder is used from a single goroutine.
type recorder struct {
	dev    *Device
	queue  device.Queue
	name   string
	enc    hal.CommandEncoder
	labels []string
	done   bool
}

// CreateCommandRecorder begins a hal encoding for queue.
func (d *Device) CreateCommandRecorder(queue device.Queue, name string) (device.CommandRecorder, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: queue %d", ErrInvalidDescriptor, queue)
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: name})
	if err != nil {
		return nil, fmt.Errorf("native: create encoder %q: %w", name, err)
	}
	if err := enc.BeginEncoding(name); err != nil {
		return nil, fmt.Errorf("native: begin encoding %q: %w", name, err)
	}
	return &recorder{dev: d, queue: queue, name: name, enc: enc}, nil
}

func (r *recorder) Queue() device.Queue { return r.queue }

func (r *recorder) InsertLabel(label string) {
	r.labels = append(r.labels, label)
}

func (r *recorder) PipelineBarrier(device.Barrier) {
	r.dev.barriers.Add(1)
}

func (r *recorder) ImageBarrier(b device.ImageBarrier) {
	r.dev.barriers.Add(1)
	r.transition([]device.ImageBarrier{b})
}

// SignalEvent is a no-op: the matching WaitEvents performs the transitions.
func (r *recorder) SignalEvent(device.EventBarriers) {}

func (r *recorder) WaitEvents(es []device.EventBarriers) {
	for _, e := range es {
		r.dev.barriers.Add(uint64(len(e.Barriers) + len(e.ImageBarriers)))
		r.transition(e.ImageBarriers)
	}
}

func (r *recorder) ResetEvent(device.Event, device.Stage) {}

func (r *recorder) transition(bs []device.ImageBarrier) {
	var out []hal.TextureBarrier
	for _, b := range bs {
		oldUsage, newUsage := layoutUsage(b.OldLayout), layoutUsage(b.NewLayout)
		if oldUsage == newUsage {
			continue
		}
		tex, ok := r.dev.Texture(b.Image)
		if !ok {
			r.dev.log().Warn("native: barrier on unknown image", "recorder", r.name, "image", b.Image)
			continue
		}
		out = append(out, hal.TextureBarrier{
			Texture: tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: oldUsage,
				NewUsage: newUsage,
			},
		})
	}
	if len(out) == 0 {
		return
	}
	r.enc.TransitionTextures(out)
	r.dev.transitions.Add(uint64(len(out)))
}

func (r *recorder) Complete() (device.CommandList, error) {
	if r.done {
		return nil, fmt.Errorf("native: recorder %q already completed", r.name)
	}
	r.done = true
	cmd, err := r.enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding %q: %w", r.name, err)
	}
	return &commandList{dev: r.dev, queue: r.queue, cmd: cmd, labels: r.labels}, nil
}

func (r *recorder) Discard() {
	if r.done {
		return
	}
	r.done = true
	r.enc.DiscardEncoding()
}
