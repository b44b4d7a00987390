package taskgraph

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/arena"
	"github.com/gogpu/taskgraph/internal/cache"
	"github.com/gogpu/taskgraph/internal/parallel"
)

// SubmitInfo carries caller semaphores for one submit. Waits are attached
// to the submit's lowest queue; signals are issued once every queue of the
// submit has finished.
type SubmitInfo struct {
	WaitStages     device.Stage
	WaitBinary     []device.BinarySemaphore
	SignalBinary   []device.BinarySemaphore
	WaitTimeline   []device.TimelinePair
	SignalTimeline []device.TimelinePair
}

func (s SubmitInfo) empty() bool {
	return len(s.WaitBinary) == 0 && len(s.SignalBinary) == 0 &&
		len(s.WaitTimeline) == 0 && len(s.SignalTimeline) == 0
}

// PresentInfo configures the presentation of the swapchain image.
type PresentInfo struct {
	// AdditionalWait semaphores are waited on by the present call besides
	// the graph's own present semaphore.
	AdditionalWait []device.BinarySemaphore
}

// TaskGraph records tasks, compiles them into a schedule once and executes
// that schedule any number of times.
//
// Recording methods must be called from one goroutine. Execute may be
// called from any goroutine; executions are serialized.
type TaskGraph struct {
	ctx  *Context
	dev  device.Device
	id   uint32
	info GraphInfo

	resources []*resource
	byName    map[string]int
	byUID     map[uint64]int
	swapchain int

	tasks   []*task
	submits []SubmitInfo // closed submits
	present *PresentInfo

	// err is the first construction or scheduling error.
	err       error
	completed bool
	closed    bool

	plan *compiled

	blobs *arena.Arena
	views *cache.Cache[viewKey, device.ImageViewID]
	pool  *parallel.WorkerPool

	transfer *TransferMemoryPool
	scratch  [device.QueueCount]*arena.Arena

	// transientDone holds, per queue, the timeline value after which the
	// previous execution no longer touches transient memory on that queue.
	transientDone [device.QueueCount]uint64

	mu    sync.Mutex
	stats Stats
}

// NewGraph creates an empty graph on ctx.
func NewGraph(ctx *Context, info GraphInfo, opts ...GraphOption) (*TaskGraph, error) {
	for _, opt := range opts {
		opt(&info)
	}
	info = info.withDefaults()
	if ctx == nil {
		return nil, fmt.Errorf("taskgraph: NewGraph %q: nil context", info.Name)
	}
	ctx.mu.Lock()
	closed := ctx.closed
	ctx.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("taskgraph: NewGraph %q: %w", info.Name, ErrClosed)
	}

	g := &TaskGraph{
		ctx:       ctx,
		dev:       ctx.dev,
		id:        ctx.newGraphID(),
		info:      info,
		byName:    make(map[string]int),
		byUID:     make(map[uint64]int),
		swapchain: -1,
		blobs:     arena.New(0),
	}
	if info.ParallelRecording {
		g.pool = parallel.NewWorkerPool(info.RecordWorkers)
	}
	return g, nil
}

// Name returns the graph name.
func (g *TaskGraph) Name() string { return g.info.Name }

// Info returns the configuration the graph was created with.
func (g *TaskGraph) Info() GraphInfo { return g.info }

// Context returns the context the graph belongs to.
func (g *TaskGraph) Context() *Context { return g.ctx }

// Err returns the error that failed the graph, if any.
func (g *TaskGraph) Err() error { return g.err }

// fail records err as the graph's terminal error and returns it.
func (g *TaskGraph) fail(err error) error {
	if g.err == nil {
		g.err = err
		Logger().Debug("taskgraph: graph failed", "graph", g.info.Name, "err", err)
	}
	return err
}

// recording returns an error unless the graph accepts new resources and
// tasks. Modifying a completed graph does not fail it.
func (g *TaskGraph) recording() error {
	switch {
	case g.closed:
		return ErrClosed
	case g.err != nil:
		return &graphError{err: g.err}
	case g.completed:
		return fmt.Errorf("%w: %q", ErrGraphCompleted, g.info.Name)
	}
	return nil
}

// Submit closes the current submit. Tasks added afterwards belong to the
// next submit and start only after every queue of this one has finished.
func (g *TaskGraph) Submit(info SubmitInfo) error {
	if err := g.recording(); err != nil {
		return err
	}
	if g.present != nil {
		return g.fail(fmt.Errorf("%w: Submit after Present", ErrAfterPresent))
	}
	g.submits = append(g.submits, info)
	return nil
}

// Present marks the end of the graph: after the last task that touches the
// swapchain image, the image is transitioned for presentation and
// presented. Tasks not yet submitted are submitted implicitly.
func (g *TaskGraph) Present(info PresentInfo) error {
	if err := g.recording(); err != nil {
		return err
	}
	if g.present != nil {
		return g.fail(fmt.Errorf("%w: Present called twice", ErrAfterPresent))
	}
	if g.swapchain < 0 {
		return g.fail(fmt.Errorf("%w: no swapchain image registered", ErrPresentWithoutUse))
	}
	g.present = &info
	return nil
}

// Complete compiles the graph: it builds the access timelines, schedules
// tasks into batches, synthesizes barriers and allocates transient
// resources. A graph is completed once.
func (g *TaskGraph) Complete() error {
	if err := g.recording(); err != nil {
		return err
	}
	start := time.Now()

	if n := len(g.tasks); n > 0 && g.tasks[n-1].submit == len(g.submits) {
		g.submits = append(g.submits, SubmitInfo{})
	}
	g.plan = newCompiled(len(g.submits))

	if err := g.buildTimelines(); err != nil {
		return g.fail(err)
	}
	g.schedule()
	if err := g.synthesizeBarriers(); err != nil {
		return g.fail(err)
	}
	if err := g.allocateTransients(); err != nil {
		return g.fail(err)
	}
	if err := g.createDeviceObjects(); err != nil {
		g.destroyDeviceObjects()
		return g.fail(err)
	}
	g.completed = true
	g.stats = g.plan.stats(len(g.tasks))

	Logger().Info("taskgraph: graph completed",
		"graph", g.info.Name,
		"tasks", len(g.tasks),
		"submits", len(g.plan.submits),
		"batches", g.stats.Batches,
		"barriers", g.stats.Barriers+g.stats.ImageTransitions,
		"transient_memory", g.stats.TransientMemory,
		"elapsed", time.Since(start))
	return nil
}

// Completed reports whether Complete succeeded.
func (g *TaskGraph) Completed() bool { return g.completed }

// Close destroys the graph's device objects and releases its external
// resources. Close waits for a running Execute.
func (g *TaskGraph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.destroyDeviceObjects()
	if g.views != nil {
		g.views.Purge()
	}
	if g.pool != nil {
		g.pool.Close()
	}
	for _, r := range g.resources {
		if r.ext != nil {
			r.ext.graphs.Add(-1)
		}
	}
}

// createDeviceObjects creates what the compiled schedule needs on the
// device: transient resources, split barrier events, the transfer pool and
// the per-task attachment blobs.
func (g *TaskGraph) createDeviceObjects() error {
	if err := g.createTransients(); err != nil {
		return err
	}
	for i, sp := range g.plan.splits {
		ev, err := g.dev.CreateEvent(fmt.Sprintf("%s.split%d", g.info.Name, i))
		if err != nil {
			return fmt.Errorf("taskgraph: create split barrier event: %w", err)
		}
		sp.event = ev
	}
	if g.info.StagingMemorySize > 0 {
		tp, err := NewTransferMemoryPool(g.ctx, TransferMemoryPoolInfo{
			Name: g.info.Name + ".staging",
			Size: uint64(g.info.StagingMemorySize),
		})
		if err != nil {
			return err
		}
		g.transfer = tp
	}
	for q := range g.scratch {
		g.scratch[q] = arena.New(0)
	}

	// Every external image attachment holds a cached view during an
	// execution, so the cache must never evict below that count.
	views := 0
	for _, r := range g.resources {
		if r.ext != nil && r.kind == KindImage {
			views += len(r.refs)
		}
	}
	g.views = cache.New(max(g.info.ViewCacheSize, 2*views), func(_ viewKey, id device.ImageViewID) {
		g.dev.DestroyImageView(id)
	})

	for _, t := range g.tasks {
		t.blob = g.blobs.Alloc(len(t.attachments)*blobStride, blobStride)
		for i := range t.attachments {
			if err := g.resolveTransient(&t.attachments[i]); err != nil {
				return fmt.Errorf("task %q attachment %d: %w", t.name, i, err)
			}
		}
		writeBlob(t.blob, t.attachments)
	}
	return nil
}

func (g *TaskGraph) destroyDeviceObjects() {
	if g.plan == nil {
		return
	}
	for _, sp := range g.plan.splits {
		if sp.event != nil {
			sp.event.Destroy()
			sp.event = nil
		}
	}
	if g.transfer != nil {
		g.transfer.Destroy()
		g.transfer = nil
	}
	g.destroyTransients()
}
