package taskgraph

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/gogpu/taskgraph/device"
)

// contexts tracks the live contexts that SetLogger reaches. It holds weak
// pointers, so a context that is dropped without Close is still collected.
var (
	contextsMu sync.Mutex
	contexts   = map[weak.Pointer[Context]]struct{}{}
)

func forgetContext(wp weak.Pointer[Context]) {
	contextsMu.Lock()
	delete(contexts, wp)
	contextsMu.Unlock()
}

// Context owns what graphs of one device share: the identity allocator for
// external resources and graphs, and one timeline semaphore per queue used
// to order submissions across queues and across graphs.
//
// Context is safe for concurrent use.
type Context struct {
	dev device.Device

	nextUID   atomic.Uint64
	nextGraph atomic.Uint32

	mu        sync.Mutex
	timelines [device.QueueCount]*queueTimeline
	closed    bool
}

type queueTimeline struct {
	sem   device.TimelineSemaphore
	value uint64
}

// NewContext creates a context for dev.
func NewContext(dev device.Device) *Context {
	c := &Context{dev: dev}
	propagateLogger(dev, Logger())

	wp := weak.Make(c)
	contextsMu.Lock()
	contexts[wp] = struct{}{}
	contextsMu.Unlock()
	runtime.AddCleanup(c, forgetContext, wp)
	return c
}

// Device returns the device the context was created for.
func (c *Context) Device() device.Device { return c.dev }

func (c *Context) newUID() uint64 { return c.nextUID.Add(1) }

func (c *Context) newGraphID() uint32 { return c.nextGraph.Add(1) }

// timeline returns the queue timeline, creating it on first use.
// Caller must hold c.mu.
func (c *Context) timeline(q device.Queue) (*queueTimeline, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if t := c.timelines[q]; t != nil {
		return t, nil
	}
	sem, err := c.dev.CreateTimelineSemaphore(fmt.Sprintf("taskgraph.%s", q), 0)
	if err != nil {
		return nil, fmt.Errorf("taskgraph: create %s timeline: %w", q, err)
	}
	t := &queueTimeline{sem: sem}
	c.timelines[q] = t
	return t, nil
}

// submitSignal passes the next timeline value of q to submit and keeps it
// only if submit succeeds. Submissions through one context are serialized,
// so every queue timeline is signalled in increasing order. submit must not
// call back into c.
func (c *Context) submitSignal(q device.Queue, submit func(sig device.TimelinePair) error) (device.TimelinePair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.timeline(q)
	if err != nil {
		return device.TimelinePair{}, err
	}
	sig := device.TimelinePair{Semaphore: t.sem, Value: t.value + 1}
	if err := submit(sig); err != nil {
		return device.TimelinePair{}, err
	}
	t.value = sig.Value
	return sig, nil
}

// pair returns the pair waiting for value on q's timeline.
func (c *Context) pair(q device.Queue, value uint64) (device.TimelinePair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.timeline(q)
	if err != nil {
		return device.TimelinePair{}, err
	}
	return device.TimelinePair{Semaphore: t.sem, Value: value}, nil
}

// QueueTimeline returns the timeline semaphore of q and the last value
// submitted on it. Waiting for that value waits for every submission made
// to q through this context.
func (c *Context) QueueTimeline(q device.Queue) (device.TimelinePair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.timeline(q)
	if err != nil {
		return device.TimelinePair{}, err
	}
	return device.TimelinePair{Semaphore: t.sem, Value: t.value}, nil
}

// Close destroys the queue timelines. Graphs of the context must be closed
// first. A context dropped without Close leaks its timeline semaphores.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for i, t := range c.timelines {
		if t != nil {
			t.sem.Destroy()
			c.timelines[i] = nil
		}
	}

	forgetContext(weak.Make(c))
}
