package taskgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/slice"
)

// ExecuteInfo carries per-execution synchronization with work outside the
// graph.
type ExecuteInfo struct {
	// WaitTimeline is waited on by the first submission of every queue.
	WaitTimeline []device.TimelinePair

	// SignalTimeline is signalled once every submission of the execution
	// has finished.
	SignalTimeline []device.TimelinePair
}

// viewKey identifies a cached view of an external image.
type viewKey struct {
	image device.ImageID
	slice device.ImageSlice
	dim   gputypes.TextureViewDimension
}

type batchKey struct {
	submit int
	queue  device.Queue
	batch  int
}

type queueKey struct {
	submit int
	queue  device.Queue
}

// connection holds the barriers that link one execution to the state an
// earlier execution left behind.
type connection struct {
	barriers []device.Barrier
	images   []device.ImageBarrier
}

// execution is the per-call state of Execute.
type execution struct {
	info ExecuteInfo

	connect  map[batchKey]*connection
	waits    map[queueKey][]device.TimelinePair
	head     map[queueKey][]device.Barrier // before a queue's image init
	preamble struct {
		images  []device.ImageBarrier
		waits   []device.TimelinePair
		targets []queueKey
	}

	// signals holds the timeline value each queue of each submit signals.
	signals [][device.QueueCount]uint64
	last    [device.QueueCount]uint64
	started device.QueueBits
	prev    []device.TimelinePair

	submissions int
}

func (e *execution) connection(k batchKey) *connection {
	c := e.connect[k]
	if c == nil {
		c = &connection{}
		e.connect[k] = c
	}
	return c
}

// addWait adds p to the waits of k, keeping the largest value per
// semaphore.
func (e *execution) addWait(k queueKey, p device.TimelinePair) {
	e.waits[k] = appendWait(e.waits[k], p)
}

func appendWait(list []device.TimelinePair, p device.TimelinePair) []device.TimelinePair {
	for i := range list {
		if list[i].Semaphore == p.Semaphore {
			list[i].Value = max(list[i].Value, p.Value)
			return list
		}
	}
	return append(list, p)
}

// Execute replays the compiled schedule. External resources are validated
// and re-patched first; their final access state is stored for the next
// execution of any graph of the same Context.
//
// Errors from Execute do not fail the graph: an execution rejected because
// of an external resource may be retried after fixing the resource.
func (g *TaskGraph) Execute(ctx context.Context, info ExecuteInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		return ErrClosed
	case g.err != nil:
		return &graphError{err: g.err}
	case !g.completed:
		return fmt.Errorf("%w: %q", ErrNotCompleted, g.info.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	for _, a := range g.scratch {
		a.Reset()
	}
	if g.transfer != nil {
		g.transfer.Reclaim()
	}
	if err := g.patchExternals(); err != nil {
		return err
	}

	run := &execution{
		info:    info,
		connect: make(map[batchKey]*connection),
		waits:   make(map[queueKey][]device.TimelinePair),
		head:    make(map[queueKey][]device.Barrier),
		signals: make([][device.QueueCount]uint64, len(g.plan.submits)),
	}
	if err := g.connectExternals(run); err != nil {
		return err
	}
	if err := g.connectTransients(run); err != nil {
		return err
	}
	if err := g.submitPreamble(run); err != nil {
		return err
	}
	for s := range g.plan.submits {
		if err := g.executeSubmit(ctx, run, s); err != nil {
			return err
		}
	}
	if err := g.finish(run); err != nil {
		return err
	}
	g.persist(run)

	g.stats.Executions++
	g.stats.Submissions = run.submissions
	g.stats.LastExecution = time.Since(start)
	Logger().Debug("taskgraph: executed",
		"graph", g.info.Name, "execution", g.stats.Executions,
		"submissions", run.submissions, "elapsed", g.stats.LastExecution)
	return nil
}

// patchExternals checks every referenced external resource and refreshes
// the attachment data of those whose identity changed.
func (g *TaskGraph) patchExternals() error {
	for _, r := range g.resources {
		if r.ext == nil || len(r.refs) == 0 {
			continue
		}
		id, gen := r.ext.current()
		if id.isZero() {
			return fmt.Errorf("%w: %q has no %s", ErrInvalidExternal, r.name, r.kind)
		}
		changed := !r.patched || gen != r.generation || id != r.id
		imgInfo, err := g.lookupExternal(r, id, changed)
		if err != nil {
			return err
		}
		old := r.id
		r.id, r.generation, r.patched = id, gen, true
		if changed && r.kind == KindImage && !old.isZero() && old.image != id.image {
			n := g.views.DeleteFunc(func(k viewKey, _ device.ImageViewID) bool { return k.image == old.image })
			Logger().Debug("taskgraph: dropped views of replaced image", "resource", r.name, "views", n)
		}
		if err := g.refreshAttachments(r, imgInfo, changed); err != nil {
			return err
		}
		if changed {
			g.stats.Patches++
			Logger().Debug("taskgraph: patched external", "graph", g.info.Name, "resource", r.name, "id", id)
		}
	}
	return nil
}

// lookupExternal verifies that id is live and, when full is set, that it
// fits every attachment of r.
func (g *TaskGraph) lookupExternal(r *resource, id payload, full bool) (device.ImageInfo, error) {
	switch r.kind {
	case KindBuffer:
		info, ok := g.dev.LookupBuffer(id.buffer)
		if !ok {
			return device.ImageInfo{}, fmt.Errorf("%w: %q: %s is not live", ErrInvalidExternal, r.name, id)
		}
		if !full {
			return device.ImageInfo{}, nil
		}
		for _, u := range r.refs {
			t := g.tasks[u.task]
			if a := t.attachments[u.attachment].access; !bufferUsageFits(info.Usage, a) {
				return device.ImageInfo{}, fmt.Errorf("%w: %q usage %#x does not allow %s in task %q",
					ErrUsageMismatch, r.name, uint64(info.Usage), a, t.name)
			}
		}
		return device.ImageInfo{}, nil

	case KindImage:
		info, ok := g.dev.LookupImage(id.image)
		if !ok {
			return info, fmt.Errorf("%w: %q: %s is not live", ErrInvalidExternal, r.name, id)
		}
		if !full {
			return info, nil
		}
		for _, u := range r.refs {
			t := g.tasks[u.task]
			a := &t.attachments[u.attachment]
			if !a.slice.Within(max(info.MipLevels, 1), max(info.ArrayLayers, 1)) {
				return info, fmt.Errorf("%w: %q slice %s of task %q outside %s (%d mips, %d layers)",
					ErrInvalidExternal, r.name, a.slice, t.name, id, info.MipLevels, info.ArrayLayers)
			}
			if !imageUsageFits(info.Usage, a.access) {
				return info, fmt.Errorf("%w: %q usage %#x does not allow %s in task %q",
					ErrUsageMismatch, r.name, uint64(info.Usage), a.access, t.name)
			}
		}
		return info, nil

	case KindBLAS:
		if _, ok := g.dev.LookupBLAS(id.blas); !ok {
			return device.ImageInfo{}, fmt.Errorf("%w: %q: %s is not live", ErrInvalidExternal, r.name, id)
		}
	case KindTLAS:
		if _, ok := g.dev.LookupTLAS(id.tlas); !ok {
			return device.ImageInfo{}, fmt.Errorf("%w: %q: %s is not live", ErrInvalidExternal, r.name, id)
		}
	}
	return device.ImageInfo{}, nil
}

// refreshAttachments recomputes the blob values of every attachment of r.
// Image views come from the view cache, so unchanged images reuse them.
func (g *TaskGraph) refreshAttachments(r *resource, info device.ImageInfo, changed bool) error {
	if r.kind != KindImage && !changed {
		return nil
	}
	dirty := make(map[int]struct{})
	for _, u := range r.refs {
		a := &g.tasks[u.task].attachments[u.attachment]
		before := a.value
		switch r.kind {
		case KindBuffer:
			a.value = g.dev.BufferDeviceAddress(r.id.buffer)
		case KindImage:
			key := viewKey{image: r.id.image, slice: a.slice, dim: a.viewDimension(info)}
			view, err := g.views.GetOrCreate(key, func() (device.ImageViewID, error) {
				return g.dev.CreateImageView(device.ImageViewInfo{
					Name:      r.name,
					Image:     key.image,
					Dimension: key.dim,
					Slice:     key.slice,
				})
			})
			if err != nil {
				return fmt.Errorf("taskgraph: view of %q: %w", r.name, err)
			}
			a.view = view
			a.value = uint64(view)
		case KindBLAS:
			a.value = g.dev.BLASDeviceAddress(r.id.blas)
		case KindTLAS:
			a.value = g.dev.TLASDeviceAddress(r.id.tlas)
		}
		if a.value != before {
			dirty[u.task] = struct{}{}
		}
	}
	for ti := range dirty {
		t := g.tasks[ti]
		writeBlob(t.blob, t.attachments)
	}
	return nil
}

// connectExternals computes the barriers and waits that order the first
// accesses of external resources after whatever used them before.
func (g *TaskGraph) connectExternals(run *execution) error {
	states := make(map[int]persisted)
	for _, fu := range g.plan.firstUses {
		r := g.resources[fu.resource]
		grp := r.groups[fu.group]
		st, ok := states[r.index]
		if !ok {
			st = r.ext.snapshot()
			states[r.index] = st
		}
		if r.swapchain {
			g.connectSwapchain(run, r, grp, fu.slice)
			continue
		}
		if r.kind != KindImage && st.access.Flags == device.AccessRead && grp.readOnly() {
			continue
		}
		if err := g.connectWaits(run, r, grp, st); err != nil {
			return err
		}
		q, single := grp.queues.Single()
		if r.kind != KindImage {
			if !single || !st.queues.Has(q) || st.access.IsZero() {
				continue
			}
			c := run.connection(batchKey{grp.submit, q, grp.spans[q].first})
			c.barriers = mergeBarrier(c.barriers, device.Barrier{Src: st.access, Dst: grp.memory()})
			continue
		}

		var barriers []device.ImageBarrier
		matches, uncovered := slice.Query(st.slices, fu.slice)
		for _, m := range matches {
			prev := m.Value
			src := device.Access{}
			if single && prev.queues.Has(q) {
				src = prev.access
			}
			if prev.layout == grp.layout && (src.IsZero() || (src.Flags == device.AccessRead && grp.readOnly())) {
				continue
			}
			if !single {
				// The transition runs in a preamble on main, ordered after
				// earlier work of main by the barrier and after other queues
				// by timeline waits.
				src = device.Access{Stages: device.StageAllCommands}
				if prev.queues.Has(device.QueueMain) {
					src = prev.access
				}
			}
			barriers = append(barriers, device.ImageBarrier{
				Src: src, Dst: grp.memory(), OldLayout: prev.layout, NewLayout: grp.layout,
				Image: r.id.image, Slice: m.Slice,
			})
		}
		r.ext.mu.Lock()
		initial := r.ext.initialLayout
		r.ext.mu.Unlock()
		for _, s := range uncovered {
			if initial == grp.layout {
				continue
			}
			barriers = append(barriers, device.ImageBarrier{
				Dst: grp.memory(), OldLayout: initial, NewLayout: grp.layout, Image: r.id.image, Slice: s,
			})
		}
		if len(barriers) == 0 {
			continue
		}
		if single {
			c := run.connection(batchKey{grp.submit, q, grp.spans[q].first})
			c.images = append(c.images, barriers...)
			continue
		}
		// A group shared by several queues cannot carry the transition;
		// it runs in a preamble on the main queue.
		run.preamble.images = append(run.preamble.images, barriers...)
		st.queues.Each(func(p device.Queue) {
			if st.timeline[p] > 0 {
				if pair, err := g.ctx.pair(p, st.timeline[p]); err == nil {
					run.preamble.waits = appendWait(run.preamble.waits, pair)
				}
			}
		})
		grp.queues.Each(func(tq device.Queue) {
			run.preamble.targets = append(run.preamble.targets, queueKey{grp.submit, tq})
		})
	}
	return nil
}

// connectWaits makes the queues of grp wait for the last use of r on every
// other queue. A group spanning several queues gets no connecting barrier,
// so it also waits on its own queues.
func (g *TaskGraph) connectWaits(run *execution, r *resource, grp *accessGroup, st persisted) error {
	_, single := grp.queues.Single()
	var err error
	st.queues.Each(func(p device.Queue) {
		v := st.timeline[p]
		if v == 0 || err != nil {
			return
		}
		grp.queues.Each(func(q device.Queue) {
			if (q == p && single) || err != nil {
				return
			}
			var pair device.TimelinePair
			pair, err = g.ctx.pair(p, v)
			if err == nil {
				run.addWait(queueKey{grp.submit, q}, pair)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("taskgraph: connect %q: %w", r.name, err)
	}
	return nil
}

// connectTransients orders the first transient accesses of every queue
// after the last ones of the previous execution. All transients share one
// memory block, so the block is connected as a whole: other queues are
// waited for, and a queue that writes transients gets a barrier ahead of
// its first use.
func (g *TaskGraph) connectTransients(run *execution) error {
	tp := &g.plan.transients
	var err error
	tp.queues.Each(func(q device.Queue) {
		k := queueKey{tp.first[q], q}
		for p, v := range g.transientDone {
			if v == 0 || err != nil {
				continue
			}
			if device.Queue(p) == q {
				if tp.access[q].Flags != device.AccessRead {
					run.head[k] = append(run.head[k], device.Barrier{Src: tp.access[q], Dst: tp.access[q]})
				}
				continue
			}
			var pair device.TimelinePair
			if pair, err = g.ctx.pair(device.Queue(p), v); err == nil {
				run.addWait(k, pair)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("taskgraph: connect transients: %w", err)
	}
	return nil
}

// connectSwapchain discards the previous contents of a freshly acquired
// swapchain image.
func (g *TaskGraph) connectSwapchain(run *execution, r *resource, grp *accessGroup, s device.ImageSlice) {
	q, _ := grp.queues.Single()
	c := run.connection(batchKey{grp.submit, q, grp.spans[q].first})
	c.images = append(c.images, device.ImageBarrier{
		Src:       device.Access{Stages: grp.stages},
		Dst:       grp.memory(),
		OldLayout: device.LayoutUndefined,
		NewLayout: grp.layout,
		Image:     r.id.image,
		Slice:     s,
	})
}

func (g *TaskGraph) submitPreamble(run *execution) error {
	p := &run.preamble
	if len(p.images) == 0 {
		return nil
	}
	rec, err := g.dev.CreateCommandRecorder(device.QueueMain, g.info.Name+".preamble")
	if err != nil {
		return fmt.Errorf("taskgraph: preamble recorder: %w", err)
	}
	rec.InsertLabel("preamble")
	for _, b := range p.images {
		rec.ImageBarrier(b)
	}
	list, err := rec.Complete()
	if err != nil {
		return fmt.Errorf("taskgraph: preamble: %w", err)
	}
	waits := append(append([]device.TimelinePair(nil), p.waits...), run.info.WaitTimeline...)
	sig, err := g.ctx.submitSignal(device.QueueMain, func(sig device.TimelinePair) error {
		return g.dev.Submit(device.SubmitInfo{
			Queue:          device.QueueMain,
			CommandLists:   []device.CommandList{list},
			WaitTimeline:   waits,
			SignalTimeline: []device.TimelinePair{sig},
		})
	})
	if err != nil {
		list.Discard()
		return fmt.Errorf("taskgraph: submit preamble: %w", err)
	}
	run.started |= device.QueueMain.Bit()
	run.submissions++
	run.last[device.QueueMain] = sig.Value
	for _, k := range p.targets {
		if k.queue != device.QueueMain {
			run.addWait(k, sig)
		}
	}
	return nil
}

// executeSubmit records every queue of submit s and submits them in queue
// order.
func (g *TaskGraph) executeSubmit(ctx context.Context, run *execution, s int) error {
	sp := g.plan.submits[s]
	user := g.submits[s]
	lists := make([]device.CommandList, len(sp.queues))

	if g.pool != nil && len(sp.queues) > 1 {
		work := make([]func(context.Context) error, len(sp.queues))
		for i, qp := range sp.queues {
			work[i] = func(ctx context.Context) error {
				l, err := g.recordQueue(ctx, run, s, qp)
				lists[i] = l
				return err
			}
		}
		if err := g.pool.ExecuteAll(ctx, work); err != nil {
			discardLists(lists)
			return err
		}
	} else {
		for i, qp := range sp.queues {
			l, err := g.recordQueue(ctx, run, s, qp)
			if err != nil {
				discardLists(lists)
				return err
			}
			lists[i] = l
		}
	}

	if len(sp.queues) == 0 {
		if user.empty() {
			return nil
		}
		sig, err := g.submitJoin(run, run.prev, user, nil)
		if err != nil {
			return err
		}
		run.prev = []device.TimelinePair{sig}
		return nil
	}

	var next []device.TimelinePair
	for i, qp := range sp.queues {
		q := qp.queue
		si := device.SubmitInfo{Queue: q, CommandLists: []device.CommandList{lists[i]}}
		si.WaitTimeline = append(si.WaitTimeline, run.prev...)
		for _, p := range run.waits[queueKey{s, q}] {
			si.WaitTimeline = appendWait(si.WaitTimeline, p)
		}
		if !run.started.Has(q) {
			si.WaitTimeline = append(si.WaitTimeline, run.info.WaitTimeline...)
			run.started |= q.Bit()
		}
		if i == 0 {
			si.WaitStages = user.WaitStages
			si.WaitBinary = append(si.WaitBinary, user.WaitBinary...)
			si.WaitTimeline = append(si.WaitTimeline, user.WaitTimeline...)
			if len(user.WaitBinary) > 0 && si.WaitStages == device.StageNone {
				si.WaitStages = device.StageAllCommands
			}
		}
		if qp.waitAcquire {
			sc := g.resources[g.swapchain].ext.swapchain
			si.WaitBinary = append(si.WaitBinary, sc.AcquireSemaphore())
			si.WaitStages |= g.plan.acquire.stages
		}
		if qp.signalPresent {
			sc := g.resources[g.swapchain].ext.swapchain
			si.SignalBinary = append(si.SignalBinary, sc.PresentSemaphore())
		}
		if len(sp.queues) == 1 {
			si.SignalBinary = append(si.SignalBinary, user.SignalBinary...)
			si.SignalTimeline = append(si.SignalTimeline, user.SignalTimeline...)
		}
		sig, err := g.ctx.submitSignal(q, func(sig device.TimelinePair) error {
			si.SignalTimeline = append([]device.TimelinePair{sig}, si.SignalTimeline...)
			return g.dev.Submit(si)
		})
		if err != nil {
			discardLists(lists[i:])
			return fmt.Errorf("taskgraph: submit %d on %s: %w", s, q, err)
		}
		run.submissions++
		run.signals[s][q] = sig.Value
		run.last[q] = sig.Value
		next = append(next, sig)
	}
	run.prev = next

	if len(sp.queues) > 1 && (len(user.SignalBinary) > 0 || len(user.SignalTimeline) > 0) {
		_, err := g.submitJoin(run, next, SubmitInfo{
			SignalBinary:   user.SignalBinary,
			SignalTimeline: user.SignalTimeline,
		}, nil)
		return err
	}
	return nil
}

// discardLists frees recorded lists that will not be submitted.
func discardLists(lists []device.CommandList) {
	for _, l := range lists {
		if l != nil {
			l.Discard()
		}
	}
}

// submitJoin submits no commands on the main queue. It waits for waits and
// the caller semaphores of user, then signals the caller semaphores. It
// returns the main timeline value the join signals.
func (g *TaskGraph) submitJoin(run *execution, waits []device.TimelinePair, user SubmitInfo, extra []device.TimelinePair) (device.TimelinePair, error) {
	si := device.SubmitInfo{
		Queue:        device.QueueMain,
		WaitStages:   user.WaitStages,
		WaitBinary:   user.WaitBinary,
		SignalBinary: user.SignalBinary,
		WaitTimeline: append(append([]device.TimelinePair(nil), waits...), user.WaitTimeline...),
	}
	if len(si.WaitBinary) > 0 && si.WaitStages == device.StageNone {
		si.WaitStages = device.StageAllCommands
	}
	sig, err := g.ctx.submitSignal(device.QueueMain, func(sig device.TimelinePair) error {
		si.SignalTimeline = append(append([]device.TimelinePair{sig}, user.SignalTimeline...), extra...)
		return g.dev.Submit(si)
	})
	if err != nil {
		return device.TimelinePair{}, fmt.Errorf("taskgraph: join submission: %w", err)
	}
	run.submissions++
	run.last[device.QueueMain] = sig.Value
	return sig, nil
}

// recordQueue records the work of one queue of submit s.
func (g *TaskGraph) recordQueue(ctx context.Context, run *execution, s int, qp *queuePlan) (device.CommandList, error) {
	q := qp.queue
	rec, err := g.dev.CreateCommandRecorder(q, fmt.Sprintf("%s.submit%d.%s", g.info.Name, s, q))
	if err != nil {
		return nil, fmt.Errorf("taskgraph: recorder for %s: %w", q, err)
	}
	completed := false
	defer func() {
		if !completed {
			rec.Discard()
		}
	}()

	for _, b := range run.head[queueKey{s, q}] {
		rec.PipelineBarrier(b)
	}
	for _, t := range qp.init {
		rec.ImageBarrier(g.resolveImage(t))
	}
	for bi, b := range qp.batches {
		if len(b.waits) > 0 {
			evs := make([]device.EventBarriers, len(b.waits))
			for i, si := range b.waits {
				evs[i] = g.eventBarriers(g.plan.splits[si])
			}
			rec.WaitEvents(evs)
			for _, si := range b.waits {
				sp := g.plan.splits[si]
				rec.ResetEvent(sp.event, sp.dstStages())
			}
		}
		if c := run.connect[batchKey{s, q, bi}]; c != nil {
			for _, br := range c.barriers {
				rec.PipelineBarrier(br)
			}
			for _, ib := range c.images {
				rec.ImageBarrier(ib)
			}
		}
		for _, br := range b.barriers {
			rec.PipelineBarrier(br)
		}
		for _, t := range b.images {
			rec.ImageBarrier(g.resolveImage(t))
		}
		for _, ti := range b.tasks {
			if err := g.runTask(ctx, rec, ti); err != nil {
				return nil, err
			}
		}
		for _, si := range b.signals {
			rec.SignalEvent(g.eventBarriers(g.plan.splits[si]))
		}
	}
	for _, t := range qp.post {
		rec.ImageBarrier(g.resolveImage(t))
	}

	completed = true
	list, err := rec.Complete()
	if err != nil {
		return nil, fmt.Errorf("taskgraph: complete %s recording: %w", q, err)
	}
	return list, nil
}

func (g *TaskGraph) resolveImage(t imageTransition) device.ImageBarrier {
	return t.barrier(g.resources[t.resource].id.image)
}

func (g *TaskGraph) eventBarriers(sp *splitBarrier) device.EventBarriers {
	eb := device.EventBarriers{Event: sp.event, Barriers: sp.barriers}
	for _, t := range sp.images {
		eb.ImageBarriers = append(eb.ImageBarriers, g.resolveImage(t))
	}
	return eb
}

// runTask labels the stream, checks the task's blob and invokes its
// callback.
func (g *TaskGraph) runTask(ctx context.Context, rec device.CommandRecorder, index int) error {
	t := g.tasks[index]
	rec.InsertLabel("task " + t.name)
	if err := checkBlob(t.blob, t.attachments); err != nil {
		return fmt.Errorf("task %q: %w", t.name, err)
	}
	if t.callback == nil {
		return nil
	}
	ti := &TaskInterface{
		Device:   g.dev,
		Recorder: rec,
		Transfer: g.transfer,
		ctx:      ctx,
		graph:    g,
		task:     t,
	}
	if err := t.callback(ti); err != nil {
		return fmt.Errorf("taskgraph: task %q: %w", t.name, err)
	}
	return nil
}

// finish presents the swapchain image and signals the caller's timeline
// semaphores.
func (g *TaskGraph) finish(run *execution) error {
	if pp := g.plan.present; pp != nil {
		sc := g.resources[g.swapchain].ext.swapchain
		wait := append([]device.BinarySemaphore{sc.PresentSemaphore()}, g.present.AdditionalWait...)
		if err := g.dev.Present(device.PresentInfo{Queue: pp.queue, Swapchain: sc, Wait: wait}); err != nil {
			return fmt.Errorf("taskgraph: present %q: %w", sc.Name(), err)
		}
	}
	if len(run.info.SignalTimeline) == 0 {
		return nil
	}
	var waits []device.TimelinePair
	for q, v := range run.last {
		if v == 0 {
			continue
		}
		p, err := g.ctx.pair(device.Queue(q), v)
		if err != nil {
			return err
		}
		waits = append(waits, p)
	}
	_, err := g.submitJoin(run, waits, SubmitInfo{}, run.info.SignalTimeline)
	return err
}

// persist stores the final access state of every external resource and
// the last use of transient memory on every queue.
func (g *TaskGraph) persist(run *execution) {
	tp := &g.plan.transients
	tp.queues.Each(func(q device.Queue) {
		g.transientDone[q] = run.signals[tp.last[q]][q]
	})
	for _, r := range g.resources {
		if r.ext == nil || !r.used() {
			continue
		}
		st := r.ext.snapshot()
		if r.kind != KindImage {
			last := r.groups[len(r.groups)-1]
			st = persisted{access: last.memory(), queues: last.queues}
			last.queues.Each(func(q device.Queue) {
				st.timeline[q] = run.signals[last.submit][q]
			})
			r.ext.store(st)
			continue
		}
		if r.swapchain {
			st = persisted{}
		}
		for _, e := range r.final {
			grp := r.groups[e.Value]
			v := sliceState{layout: grp.layout, access: grp.memory(), queues: grp.queues}
			if r.swapchain && g.plan.present != nil {
				v = sliceState{layout: device.LayoutPresentSrc, queues: g.plan.present.queue.Bit()}
			}
			st.slices = slice.Assign(st.slices, e.Slice, v)
			st.queues |= v.queues
			grp.queues.Each(func(q device.Queue) {
				st.timeline[q] = max(st.timeline[q], run.signals[grp.submit][q])
			})
		}
		r.ext.store(st)
	}
	if g.transfer != nil {
		var pairs []device.TimelinePair
		for q, v := range run.last {
			if v == 0 {
				continue
			}
			if p, err := g.ctx.pair(device.Queue(q), v); err == nil {
				pairs = append(pairs, p)
			}
		}
		g.transfer.Commit(pairs)
	}
}
