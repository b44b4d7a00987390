//go:build !nogpu

package native

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/taskgraph/device"
)

// inflight holds command buffers until the device fence reaches serial.
type inflight struct {
	serial uint64
	cmds   []hal.CommandBuffer
}

// binarySemaphore is tracked on the CPU. hal submissions on the single
// queue are already ordered, so only the signal/wait pairing is checked.
type binarySemaphore struct {
	dev       *Device
	name      string
	signalled atomic.Bool
}

func (s *binarySemaphore) Destroy() {}

// signal marks the semaphore signalled, as a swapchain acquire does.
func (s *binarySemaphore) signal() { s.signalled.Store(true) }

// timeline is a timeline semaphore backed by a hal fence.
type timeline struct {
	dev   *Device
	name  string
	fence hal.Fence

	mu        sync.Mutex
	submitted uint64
	reached   uint64
	pending   []uint64
}

// Value returns the highest signalled value the fence has reached.
func (t *timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pending) > 0 {
		ok, err := t.dev.device.Wait(t.fence, t.pending[0], 0)
		if err != nil || !ok {
			break
		}
		t.reached = t.pending[0]
		t.pending = t.pending[1:]
	}
	return t.reached
}

func (t *timeline) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fence != nil {
		t.dev.device.DestroyFence(t.fence)
		t.fence = nil
	}
}

// event carries split barriers. The transitions happen at WaitEvents.
type event struct {
	name string
}

func (e *event) Destroy() {}

func (d *Device) CreateBinarySemaphore(name string) (device.BinarySemaphore, error) {
	return &binarySemaphore{dev: d, name: name}, nil
}

// CreateTimelineSemaphore creates a fence that starts at initial.
func (d *Device) CreateTimelineSemaphore(name string, initial uint64) (device.TimelineSemaphore, error) {
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create fence %q: %w", name, err)
	}
	t := &timeline{dev: d, name: name, fence: fence}
	if initial > 0 {
		d.submitMu.Lock()
		err = d.queue.Submit(nil, fence, initial)
		d.submitMu.Unlock()
		if err != nil {
			d.device.DestroyFence(fence)
			return nil, fmt.Errorf("native: initialize fence %q: %w", name, err)
		}
		t.submitted = initial
		t.pending = []uint64{initial}
	}
	return t, nil
}

func (d *Device) CreateEvent(name string) (device.Event, error) {
	return &event{name: name}, nil
}

// Submit submits the command lists to the hal queue.
//
// Every queue maps to the single hal queue, so a timeline wait is satisfied
// by ordering once its value has been submitted. Waiting on a value no
// submission signals returns ErrSemaphore.
func (d *Device) Submit(info device.SubmitInfo) error {
	if !info.Queue.Valid() {
		return fmt.Errorf("%w: queue %d", ErrInvalidDescriptor, info.Queue)
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	waitBinary := make([]*binarySemaphore, len(info.WaitBinary))
	for i, s := range info.WaitBinary {
		b, ok := s.(*binarySemaphore)
		if !ok || b.dev != d {
			return fmt.Errorf("%w: binary semaphore %T", ErrForeignObject, s)
		}
		if !b.signalled.Load() {
			return fmt.Errorf("%w: %s waits on unsignalled binary semaphore %q", ErrSemaphore, info.Queue, b.name)
		}
		waitBinary[i] = b
	}
	for _, p := range info.WaitTimeline {
		t, ok := p.Semaphore.(*timeline)
		if !ok || t.dev != d {
			return fmt.Errorf("%w: timeline semaphore %T", ErrForeignObject, p.Semaphore)
		}
		t.mu.Lock()
		submitted := t.submitted
		t.mu.Unlock()
		if submitted < p.Value {
			return fmt.Errorf("%w: %s waits on %q value %d, only %d submitted", ErrSemaphore, info.Queue, t.name, p.Value, submitted)
		}
	}
	signals := make([]*timeline, len(info.SignalTimeline))
	for i, p := range info.SignalTimeline {
		t, ok := p.Semaphore.(*timeline)
		if !ok || t.dev != d {
			return fmt.Errorf("%w: timeline semaphore %T", ErrForeignObject, p.Semaphore)
		}
		signals[i] = t
	}
	signalBinary := make([]*binarySemaphore, len(info.SignalBinary))
	for i, s := range info.SignalBinary {
		b, ok := s.(*binarySemaphore)
		if !ok || b.dev != d {
			return fmt.Errorf("%w: binary semaphore %T", ErrForeignObject, s)
		}
		signalBinary[i] = b
	}
	cmds := make([]hal.CommandBuffer, 0, len(info.CommandLists))
	for _, l := range info.CommandLists {
		cl, ok := l.(*commandList)
		if !ok || cl.dev != d {
			return fmt.Errorf("%w: command list %T", ErrForeignObject, l)
		}
		if cl.queue != info.Queue {
			return fmt.Errorf("%w: command list for %s submitted to %s", ErrInvalidDescriptor, cl.queue, info.Queue)
		}
		if cl.cmd == nil {
			return fmt.Errorf("%w: command list submitted twice", ErrInvalidDescriptor)
		}
		cmds = append(cmds, cl.cmd)
	}

	if d.fence == nil {
		fence, err := d.device.CreateFence()
		if err != nil {
			return fmt.Errorf("native: create fence: %w", err)
		}
		d.fence = fence
	}

	d.flushHostBuffers()
	serial := d.serial + 1
	if err := d.queue.Submit(cmds, d.fence, serial); err != nil {
		return fmt.Errorf("native: submit on %s: %w", info.Queue, err)
	}
	d.serial = serial
	for _, l := range info.CommandLists {
		l.(*commandList).cmd = nil
	}
	if len(cmds) > 0 {
		d.inflight = append(d.inflight, inflight{serial: serial, cmds: cmds})
	}

	for _, b := range waitBinary {
		b.signalled.Store(false)
	}
	for i, t := range signals {
		v := info.SignalTimeline[i].Value
		if err := d.queue.Submit(nil, t.fence, v); err != nil {
			return fmt.Errorf("native: signal %q to %d: %w", t.name, v, err)
		}
		t.mu.Lock()
		if v > t.submitted {
			t.submitted = v
		}
		t.pending = append(t.pending, v)
		t.mu.Unlock()
	}
	for _, b := range signalBinary {
		b.signalled.Store(true)
	}

	d.submits.Add(1)
	d.log().Debug("native: submit", "queue", info.Queue, "lists", len(cmds), "serial", serial)
	d.retireLocked(false)
	return nil
}

// flushHostBuffers uploads the host shadow of every HostVisible buffer.
func (d *Device) flushHostBuffers() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, b := range d.buffers {
		if b.host != nil {
			d.queue.WriteBuffer(b.buf, 0, b.host)
		}
	}
}

// Present consumes the wait semaphores and hands the current image of an
// offscreen swapchain back to its owner.
func (d *Device) Present(info device.PresentInfo) error {
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok || sc.dev != d {
		return fmt.Errorf("%w: swapchain %T", ErrForeignObject, info.Swapchain)
	}
	for _, s := range info.Wait {
		b, ok := s.(*binarySemaphore)
		if !ok || b.dev != d {
			return fmt.Errorf("%w: binary semaphore %T", ErrForeignObject, s)
		}
		if !b.signalled.CompareAndSwap(true, false) {
			return fmt.Errorf("%w: present of %q waits on unsignalled %q", ErrSemaphore, sc.name, b.name)
		}
	}
	sc.presented.Add(1)
	d.presents.Add(1)
	return nil
}

func (d *Device) retire(all bool) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.retireLocked(all)
}

// retireLocked frees the command buffers the fence has passed. With all
// set the queue is known to be idle.
func (d *Device) retireLocked(all bool) {
	n := 0
	for _, in := range d.inflight {
		if !all {
			ok, err := d.device.Wait(d.fence, in.serial, 0)
			if err != nil || !ok {
				break
			}
		}
		for _, cmd := range in.cmds {
			d.device.FreeCommandBuffer(cmd)
		}
		n++
	}
	d.inflight = append(d.inflight[:0], d.inflight[n:]...)
}
