package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/slice"
)

// imageTransition is an image barrier whose image is resolved at execution.
type imageTransition struct {
	resource  int
	slice     device.ImageSlice
	src, dst  device.Access
	oldLayout device.Layout
	newLayout device.Layout
}

func (t imageTransition) barrier(img device.ImageID) device.ImageBarrier {
	return device.ImageBarrier{
		Src:       t.src,
		Dst:       t.dst,
		OldLayout: t.oldLayout,
		NewLayout: t.newLayout,
		Image:     img,
		Slice:     t.slice,
	}
}

// splitBarrier is a dependency carried by an event: signalled after the
// source batch and waited before the destination batch on the same queue.
type splitBarrier struct {
	submit   int
	queue    device.Queue
	srcBatch int
	dstBatch int
	barriers []device.Barrier
	images   []imageTransition
	event    device.Event
}

func (s *splitBarrier) dstStages() device.Stage {
	var st device.Stage
	for _, b := range s.barriers {
		st |= b.Dst.Stages
	}
	for _, t := range s.images {
		st |= t.dst.Stages
	}
	return st
}

// mergeBarrier adds b to list. A barrier with the same source absorbs the
// destination of b.
func mergeBarrier(list []device.Barrier, b device.Barrier) []device.Barrier {
	for i := range list {
		if list[i].Src == b.Src {
			list[i].Dst = list[i].Dst.Or(b.Dst)
			return list
		}
	}
	return append(list, b)
}

// mergeImage adds t to list. A transition of the same slice with the same
// source and layouts absorbs the destination of t.
func mergeImage(list []imageTransition, t imageTransition) []imageTransition {
	for i := range list {
		l := &list[i]
		if l.resource == t.resource && l.slice == t.slice && l.src == t.src &&
			l.oldLayout == t.oldLayout && l.newLayout == t.newLayout {
			l.dst = l.dst.Or(t.dst)
			return list
		}
	}
	return append(list, t)
}

// place records a dependency from srcBatch to dstBatch on queue q of
// submit s. With split barriers enabled, dependencies that skip at least
// one batch are carried by an event.
func (g *TaskGraph) place(s int, q device.Queue, srcBatch, dstBatch int, b *device.Barrier, t *imageTransition) {
	qp := g.plan.queue(s, q)
	if g.info.SplitBarriers && srcBatch >= 0 && dstBatch-srcBatch > 1 {
		sp := g.split(s, q, srcBatch, dstBatch)
		if b != nil {
			sp.barriers = mergeBarrier(sp.barriers, *b)
		}
		if t != nil {
			sp.images = mergeImage(sp.images, *t)
		}
		return
	}
	batch := qp.batches[dstBatch]
	if b != nil {
		batch.barriers = mergeBarrier(batch.barriers, *b)
	}
	if t != nil {
		batch.images = mergeImage(batch.images, *t)
	}
}

// split returns the split barrier between two batches, creating it on
// first use.
func (g *TaskGraph) split(s int, q device.Queue, src, dst int) *splitBarrier {
	qp := g.plan.queue(s, q)
	for _, i := range qp.batches[dst].waits {
		if sp := g.plan.splits[i]; sp.srcBatch == src {
			return sp
		}
	}
	sp := &splitBarrier{submit: s, queue: q, srcBatch: src, dstBatch: dst}
	i := len(g.plan.splits)
	g.plan.splits = append(g.plan.splits, sp)
	qp.batches[src].signals = append(qp.batches[src].signals, i)
	qp.batches[dst].waits = append(qp.batches[dst].waits, i)
	return sp
}

// synthesizeBarriers walks the access timeline of every resource and
// records the barriers between consecutive groups.
func (g *TaskGraph) synthesizeBarriers() error {
	for _, r := range g.resources {
		if !r.used() {
			continue
		}
		if r.kind == KindImage {
			if err := g.imageBarriers(r); err != nil {
				return err
			}
			continue
		}
		g.memoryBarriers(r)
	}

	if g.swapchain >= 0 {
		r := g.resources[g.swapchain]
		if r.used() {
			first := r.groups[0]
			q, _ := first.queues.Single()
			g.plan.acquire = &syncPoint{submit: first.submit, queue: q, stages: first.stages}
			g.plan.queue(first.submit, q).waitAcquire = true
		}
	}
	if g.present != nil {
		g.presentTransition()
	}
	return nil
}

// memoryBarriers handles buffers and acceleration structures: one global
// barrier between consecutive groups of the same submit. Ordering across
// submits comes from the submit semaphores.
func (g *TaskGraph) memoryBarriers(r *resource) {
	for i := 1; i < len(r.groups); i++ {
		prev, cur := r.groups[i-1], r.groups[i]
		if prev.submit != cur.submit || (prev.readOnly() && cur.readOnly()) {
			continue
		}
		q, _ := cur.queues.Single()
		b := device.Barrier{Src: prev.memory(), Dst: cur.memory()}
		g.place(cur.submit, q, prev.spans[q].last, cur.spans[q].first, &b, nil)
	}
	if r.ext != nil {
		g.plan.firstUses = append(g.plan.firstUses, firstUse{resource: r.index, group: 0})
	}
}

// imageBarriers tracks the group that last touched every subresource and
// emits transitions where a new group takes over a slice.
func (g *TaskGraph) imageBarriers(r *resource) error {
	var state []slice.Entry[int]
	for gi, grp := range r.groups {
		for _, u := range grp.uses {
			a := &g.tasks[u.task].attachments[u.attachment]
			matches, uncovered := slice.Query(state, a.slice)
			for _, m := range matches {
				if m.Value == gi {
					continue
				}
				if err := g.imageTransition(r, r.groups[m.Value], grp, m.Slice); err != nil {
					return err
				}
			}
			for _, s := range uncovered {
				g.firstImageUse(r, grp, s)
			}
			state = slice.Assign(state, a.slice, gi)
		}
	}
	r.final = state
	return nil
}

func (g *TaskGraph) imageTransition(r *resource, prev, cur *accessGroup, s device.ImageSlice) error {
	if prev.layout == cur.layout && prev.readOnly() && cur.readOnly() {
		return nil
	}
	t := imageTransition{
		resource:  r.index,
		slice:     s,
		src:       prev.memory(),
		dst:       cur.memory(),
		oldLayout: prev.layout,
		newLayout: cur.layout,
	}
	if prev.submit == cur.submit {
		q, _ := cur.queues.Single()
		g.place(cur.submit, q, prev.spans[q].last, cur.spans[q].first, nil, &t)
		return nil
	}

	// Across submits the semaphores order execution; only the layout is
	// left to change.
	if prev.layout == cur.layout {
		return nil
	}
	if q, ok := cur.queues.Single(); ok {
		t.src = device.Access{}
		g.place(cur.submit, q, -1, cur.spans[q].first, nil, &t)
		return nil
	}
	if q, ok := prev.queues.Single(); ok {
		t.dst = device.Access{}
		qp := g.plan.queue(prev.submit, q)
		qp.post = mergeImage(qp.post, t)
		return nil
	}
	return fmt.Errorf("%w: image %q changes layout %s -> %s between %s and %s",
		ErrMixedQueueAccess, r.name, prev.layout, cur.layout, prev, cur)
}

// firstImageUse handles a slice no earlier group touched. Transient slices
// are initialized from UNDEFINED; external slices are connected at every
// execution.
func (g *TaskGraph) firstImageUse(r *resource, grp *accessGroup, s device.ImageSlice) {
	if r.ext != nil {
		g.plan.firstUses = append(g.plan.firstUses, firstUse{resource: r.index, group: grp.index, slice: s})
		return
	}
	q, _ := grp.queues.Single()
	t := imageTransition{
		resource:  r.index,
		slice:     s,
		dst:       grp.memory(),
		oldLayout: device.LayoutUndefined,
		newLayout: grp.layout,
	}
	if _, ok := r.batchScoped(); ok {
		// The memory may have belonged to an aliased resource a few
		// batches earlier on this queue.
		if g.info.AliasTransients {
			t.src = device.Access{Stages: device.StageAllCommands, Flags: device.AccessReadWrite}
		}
		g.place(grp.submit, q, -1, grp.spans[q].first, nil, &t)
		return
	}
	qp := g.plan.queue(grp.submit, q)
	qp.init = mergeImage(qp.init, t)
}

// presentTransition moves every slice of the swapchain image to
// PRESENT_SRC at the end of the queue that touches it last.
func (g *TaskGraph) presentTransition() {
	r := g.resources[g.swapchain]
	last := r.groups[len(r.groups)-1]
	q, _ := last.queues.Single()
	qp := g.plan.queue(last.submit, q)
	for _, e := range r.final {
		prev := r.groups[e.Value]
		qp.post = mergeImage(qp.post, imageTransition{
			resource:  r.index,
			slice:     e.Slice,
			src:       prev.memory(),
			oldLayout: prev.layout,
			newLayout: device.LayoutPresentSrc,
		})
	}
	qp.signalPresent = true
	g.plan.present = &syncPoint{submit: last.submit, queue: q, stages: last.stages}
}
