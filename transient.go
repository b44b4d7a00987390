package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/alloc"
)

// transientPlan is the placement of every created transient resource in
// one memory block.
type transientPlan struct {
	resources  []int // resource indices, in declaration order
	lifetimes  []alloc.Lifetime
	placements []alloc.Placement
	size       uint64
	alignment  uint64
	typeBits   uint32

	block device.MemoryBlock
	views []device.ImageViewID

	// Queues touching transient memory, with the first and last submit
	// each of them does so in and the union of their accesses.
	queues device.QueueBits
	first  [device.QueueCount]int
	last   [device.QueueCount]int
	access [device.QueueCount]device.Access
}

// allocateTransients computes lifetimes and places every used transient
// resource. Unused transients are never created.
func (g *TaskGraph) allocateTransients() error {
	tp := &g.plan.transients
	var reqs []alloc.Request
	for _, r := range g.resources {
		if !r.transient() || !r.used() {
			continue
		}
		g.completeUsage(r)
		req := g.requirements(r)
		lt := g.lifetime(r)
		reqs = append(reqs, alloc.Request{
			Size:           req.Size,
			Alignment:      req.Alignment,
			MemoryTypeBits: req.MemoryTypeBits,
			Lifetime:       lt,
		})
		tp.resources = append(tp.resources, r.index)
		tp.lifetimes = append(tp.lifetimes, lt)
		for _, grp := range r.groups {
			grp.queues.Each(func(q device.Queue) {
				if !tp.queues.Has(q) || grp.submit < tp.first[q] {
					tp.first[q] = grp.submit
				}
				tp.last[q] = max(tp.last[q], grp.submit)
				tp.access[q] = tp.access[q].Or(grp.memory())
			})
			tp.queues |= grp.queues
		}
	}
	if len(reqs) == 0 {
		return nil
	}

	res := alloc.Place(reqs, g.info.AliasTransients)
	if res.MemoryTypeBits == 0 {
		return fmt.Errorf("%w: %d transients in graph %q", ErrIncompatibleMemory, len(reqs), g.info.Name)
	}
	tp.placements = res.Placements
	tp.size = res.Size
	tp.alignment = res.Alignment
	tp.typeBits = res.MemoryTypeBits

	if g.info.AliasTransients {
		g.aliasBarriers()
	}
	Logger().Debug("taskgraph: transients placed",
		"graph", g.info.Name, "count", len(reqs), "size", res.Size, "alias", g.info.AliasTransients)
	return nil
}

// completeUsage adds the usage flags the accesses of r require.
func (g *TaskGraph) completeUsage(r *resource) {
	for _, u := range r.refs {
		a := g.tasks[u.task].attachments[u.attachment].access
		switch r.kind {
		case KindBuffer:
			r.bufferInfo.Usage |= bufferUsage(a)
		case KindImage:
			r.imageInfo.Usage |= imageUsage(a)
		}
	}
}

func (g *TaskGraph) requirements(r *resource) device.MemoryRequirements {
	switch r.kind {
	case KindBuffer:
		return g.dev.BufferMemoryRequirements(r.bufferInfo)
	case KindImage:
		return g.dev.ImageMemoryRequirements(r.imageInfo)
	}
	return g.dev.AccelerationStructureMemoryRequirements(r.asInfo)
}

// lifetime returns the span during which r must keep its memory. A
// resource confined to one queue of one submit is tracked in batches of
// that queue; any other resource is live for whole submits, because batches
// of different queues are not ordered.
func (g *TaskGraph) lifetime(r *resource) alloc.Lifetime {
	first, last := r.groups[0], r.groups[len(r.groups)-1]
	lt := alloc.Lifetime{FirstSubmit: first.submit, LastSubmit: last.submit}
	lt.GlobalFirst, lt.GlobalLast = g.taskRange(r)
	if q, ok := r.batchScoped(); ok {
		lt.BatchGranularity = true
		lt.Queue = uint8(q)
		lt.FirstBatch = first.spans[q].first
		lt.LastBatch = last.spans[q].last
	}
	return lt
}

// aliasBarriers orders reuse of memory inside one queue of one submit. A
// later resource that shares bytes with an earlier one waits for the
// earlier one's last access. Images get this from their initialization
// transition instead.
func (g *TaskGraph) aliasBarriers() {
	tp := &g.plan.transients
	for i, ri := range tp.resources {
		for j, rj := range tp.resources {
			if i == j {
				continue
			}
			a, b := tp.lifetimes[i], tp.lifetimes[j]
			if !a.BatchGranularity || !b.BatchGranularity ||
				a.FirstSubmit != b.FirstSubmit || a.Queue != b.Queue || a.LastBatch >= b.FirstBatch {
				continue
			}
			pa, pb := tp.placements[i], tp.placements[j]
			if pa.End() <= pb.Offset || pb.End() <= pa.Offset {
				continue
			}
			later := g.resources[rj]
			if later.kind == KindImage {
				continue
			}
			earlier := g.resources[ri]
			src := earlier.groups[len(earlier.groups)-1]
			dst := later.groups[0]
			br := device.Barrier{Src: src.memory(), Dst: dst.memory()}
			g.place(b.FirstSubmit, device.Queue(b.Queue), a.LastBatch, b.FirstBatch, &br, nil)
		}
	}
}

// createTransients creates the memory block and binds every placed
// transient into it.
func (g *TaskGraph) createTransients() error {
	tp := &g.plan.transients
	if len(tp.resources) == 0 {
		return nil
	}
	block, err := g.dev.CreateMemoryBlock(device.MemoryRequirements{
		Size:           max(tp.size, 1),
		Alignment:      tp.alignment,
		MemoryTypeBits: tp.typeBits,
	}, g.info.Name+".transients")
	if err != nil {
		return fmt.Errorf("taskgraph: transient memory block of %d bytes: %w", tp.size, err)
	}
	tp.block = block

	for i, ri := range tp.resources {
		r := g.resources[ri]
		off := tp.placements[i].Offset
		var err error
		switch r.kind {
		case KindBuffer:
			r.id.buffer, err = g.dev.CreateBufferFromBlock(r.bufferInfo, block, off)
		case KindImage:
			r.id.image, err = g.dev.CreateImageFromBlock(r.imageInfo, block, off)
		case KindBLAS:
			r.id.blas, err = g.dev.CreateBLASFromBlock(r.asInfo, block, off)
		case KindTLAS:
			r.id.tlas, err = g.dev.CreateTLASFromBlock(r.asInfo, block, off)
		}
		if err != nil {
			return fmt.Errorf("taskgraph: create transient %s %q at offset %d: %w", r.kind, r.name, off, err)
		}
		r.id.kind = r.kind
	}
	return nil
}

// resolveTransient computes the blob value of an attachment to a
// transient resource. Attachments to external resources are resolved by
// patchExternals.
func (g *TaskGraph) resolveTransient(a *attachment) error {
	r := g.resources[a.resource]
	if !r.transient() || r.id.isZero() {
		return nil
	}
	switch r.kind {
	case KindBuffer:
		a.value = g.dev.BufferDeviceAddress(r.id.buffer)
	case KindImage:
		view, err := g.dev.CreateImageView(device.ImageViewInfo{
			Name:      r.name,
			Image:     r.id.image,
			Dimension: a.viewDimension(r.imageInfo),
			Slice:     a.slice,
		})
		if err != nil {
			return fmt.Errorf("taskgraph: view of %q: %w", r.name, err)
		}
		g.plan.transients.views = append(g.plan.transients.views, view)
		a.view = view
		a.value = uint64(view)
	case KindBLAS:
		a.value = g.dev.BLASDeviceAddress(r.id.blas)
	case KindTLAS:
		a.value = g.dev.TLASDeviceAddress(r.id.tlas)
	}
	return nil
}

func (g *TaskGraph) destroyTransients() {
	tp := &g.plan.transients
	for _, v := range tp.views {
		g.dev.DestroyImageView(v)
	}
	tp.views = nil
	for _, ri := range tp.resources {
		r := g.resources[ri]
		switch {
		case r.id.isZero():
		case r.kind == KindBuffer:
			g.dev.DestroyBuffer(r.id.buffer)
		case r.kind == KindImage:
			g.dev.DestroyImage(r.id.image)
		case r.kind == KindBLAS:
			g.dev.DestroyBLAS(r.id.blas)
		case r.kind == KindTLAS:
			g.dev.DestroyTLAS(r.id.tlas)
		}
		r.id = payload{kind: r.kind}
	}
	if tp.block != nil {
		tp.block.Destroy()
		tp.block = nil
	}
}
