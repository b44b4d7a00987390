package fakedevice

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/taskgraph/device"
)

// Block is a fake memory block.
type Block struct {
	dev  *Device
	name string
	size uint64
	base uint64
}

func (b *Block) Size() uint64 { return b.size }
func (b *Block) Name() string { return b.name }

func (b *Block) Destroy() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	delete(b.dev.blocks, b)
}

// BinarySemaphore tracks whether it has a pending signal.
type BinarySemaphore struct {
	name      string
	signalled atomic.Bool
}

func (s *BinarySemaphore) Destroy() {}

// Signal marks the semaphore signalled, as a swapchain acquire would.
func (s *BinarySemaphore) Signal() { s.signalled.Store(true) }

// Signalled reports whether a signal is pending.
func (s *BinarySemaphore) Signalled() bool { return s.signalled.Load() }

// TimelineSemaphore completes signals immediately.
type TimelineSemaphore struct {
	mu      sync.Mutex
	name    string
	value   uint64
	pending uint64
}

func (s *TimelineSemaphore) Destroy() {}

func (s *TimelineSemaphore) Value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *TimelineSemaphore) signal(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = max(s.value, v)
}

// Event is a fake split-barrier event.
type Event struct {
	name string
}

func (e *Event) Destroy() {}

// CommandList holds the recorded lines of one recorder.
type CommandList struct {
	dev      *Device
	queue    device.Queue
	lines    []string
	released bool // submitted or discarded; guarded by dev.mu
}

func (c *CommandList) Queue() device.Queue { return c.queue }

func (c *CommandList) Discard() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.release(c)
}

// Lines returns the recorded commands.
func (c *CommandList) Lines() []string { return c.lines }

// Recorder records commands as text.
type Recorder struct {
	dev   *Device
	queue device.Queue
	name  string
	lines []string
	done  bool
}

func (r *Recorder) Queue() device.Queue { return r.queue }

func (r *Recorder) add(format string, args ...any) {
	if r.done {
		panic("fakedevice: recorder used after Complete")
	}
	r.lines = append(r.lines, r.queue.String()+": "+fmt.Sprintf(format, args...))
}

// Command records an arbitrary command, for example "dispatch 8x8".
func (r *Recorder) Command(cmd string) { r.add("%s", cmd) }

func (r *Recorder) InsertLabel(label string) { r.add("label %s", label) }

func (r *Recorder) PipelineBarrier(b device.Barrier) {
	r.add("barrier %s -> %s", b.Src, b.Dst)
}

func (r *Recorder) ImageBarrier(b device.ImageBarrier) {
	r.add("%s", r.imageBarrier(b))
}

func (r *Recorder) imageBarrier(b device.ImageBarrier) string {
	return fmt.Sprintf("image-barrier %s %s %s -> %s %s -> %s",
		r.dev.imageName(b.Image), b.Slice, b.Src, b.Dst, b.OldLayout, b.NewLayout)
}

func (r *Recorder) describe(e device.EventBarriers) string {
	parts := []string{e.Event.(*Event).name}
	for _, b := range e.Barriers {
		parts = append(parts, fmt.Sprintf("[barrier %s -> %s]", b.Src, b.Dst))
	}
	for _, b := range e.ImageBarriers {
		parts = append(parts, "["+r.imageBarrier(b)+"]")
	}
	return strings.Join(parts, " ")
}

func (r *Recorder) SignalEvent(e device.EventBarriers) {
	r.add("signal-event %s", r.describe(e))
}

func (r *Recorder) WaitEvents(es []device.EventBarriers) {
	for _, e := range es {
		r.add("wait-event %s", r.describe(e))
	}
}

func (r *Recorder) ResetEvent(e device.Event, stage device.Stage) {
	r.add("reset-event %s %s", e.(*Event).name, stage)
}

func (r *Recorder) Complete() (device.CommandList, error) {
	if r.done {
		return nil, fmt.Errorf("fakedevice: recorder %q completed twice", r.name)
	}
	r.done = true
	r.dev.mu.Lock()
	r.dev.pendingLists++
	r.dev.mu.Unlock()
	return &CommandList{dev: r.dev, queue: r.queue, lines: r.lines}, nil
}

func (r *Recorder) Discard() {
	r.done = true
	r.lines = nil
}

// Swapchain rotates through a fixed set of images.
type Swapchain struct {
	name    string
	images  []device.ImageID
	current int
	acquire *BinarySemaphore
	present *BinarySemaphore
}

// NewSwapchain creates count images described by info.
func NewSwapchain(d *Device, name string, info device.ImageInfo, count int) (*Swapchain, error) {
	sc := &Swapchain{
		name:    name,
		current: -1,
		acquire: &BinarySemaphore{name: name + ".acquire"},
		present: &BinarySemaphore{name: name + ".present"},
	}
	for i := range max(count, 1) {
		img := info
		img.Name = fmt.Sprintf("%s[%d]", name, i)
		id, err := d.CreateImage(img)
		if err != nil {
			return nil, err
		}
		sc.images = append(sc.images, id)
	}
	return sc, nil
}

// Acquire advances to the next image and signals the acquire semaphore.
func (s *Swapchain) Acquire() device.ImageID {
	s.current = (s.current + 1) % len(s.images)
	s.acquire.Signal()
	return s.images[s.current]
}

func (s *Swapchain) Name() string { return s.name }

func (s *Swapchain) CurrentImage() device.ImageID {
	if s.current < 0 {
		return 0
	}
	return s.images[s.current]
}

func (s *Swapchain) AcquireSemaphore() device.BinarySemaphore { return s.acquire }
func (s *Swapchain) PresentSemaphore() device.BinarySemaphore { return s.present }
