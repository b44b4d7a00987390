package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/device"
)

// accessGroup is a maximal run of compatible accesses to one resource.
// Only concurrent access types extend a group, so a group with several
// members, or several queues, never needs synchronization inside it.
type accessGroup struct {
	index  int
	typ    AccessType
	stages device.Stage
	queues device.QueueBits
	submit int
	layout device.Layout // images only
	uses   []use

	// Scheduling state. Batches are submit-relative and shared by all
	// queues until they are remapped.
	scheduled bool
	minBatch  int
	maxBatch  int

	// spans holds the dense local batches the group covers per queue.
	spans [device.QueueCount]span
}

// use locates one attachment.
type use struct {
	task       int
	attachment int
}

// span is an inclusive range of local batches.
type span struct {
	first, last int
}

func (g *accessGroup) memory() device.Access {
	return device.Access{Stages: g.stages, Flags: g.typ.Flags()}
}

func (g *accessGroup) readOnly() bool { return g.typ.Flags() == device.AccessRead }

func (g *accessGroup) String() string {
	return fmt.Sprintf("%s on %s in submit %d", Access{Stages: g.stages, Type: g.typ}, g.queues, g.submit)
}

// extends reports whether an access of type t with layout l in submit s
// joins g.
func (g *accessGroup) extends(t AccessType, l device.Layout, s int) bool {
	return g.typ == t && t.Concurrent() && g.submit == s && g.layout == l
}

// buildTimelines scans tasks in declaration order and groups the accesses
// of every resource.
func (g *TaskGraph) buildTimelines() error {
	for _, r := range g.resources {
		r.groups = nil
	}
	for _, t := range g.tasks {
		for i := range t.attachments {
			a := &t.attachments[i]
			if a.access.Type == AccessTypeNone {
				continue
			}
			r := g.resources[a.resource]
			layout := device.LayoutUndefined
			if r.kind == KindImage {
				layout = a.access.layout()
			}
			u := use{task: t.index, attachment: i}

			if n := len(r.groups); n > 0 && r.groups[n-1].extends(a.access.Type, layout, t.submit) {
				last := r.groups[n-1]
				last.stages |= a.access.Stages
				last.queues |= t.queue.Bit()
				last.uses = append(last.uses, u)
				a.group = last.index
				continue
			}
			grp := &accessGroup{
				index:  len(r.groups),
				typ:    a.access.Type,
				stages: a.access.Stages,
				queues: t.queue.Bit(),
				submit: t.submit,
				layout: layout,
				uses:   []use{u},
			}
			r.groups = append(r.groups, grp)
			a.group = grp.index
		}
	}

	for _, r := range g.resources {
		if err := g.checkTimeline(r); err != nil {
			return err
		}
	}
	if g.present != nil {
		r := g.resources[g.swapchain]
		if !r.used() {
			return fmt.Errorf("%w: no task accesses %q", ErrPresentWithoutUse, r.name)
		}
		if last := r.groups[len(r.groups)-1]; last.queues.Count() > 1 {
			return fmt.Errorf("%w: %q last accessed on %s", ErrPresentMultiQueue, r.name, last.queues)
		}
	}
	return nil
}

// checkTimeline rejects access sequences that cannot be ordered inside a
// submit.
func (g *TaskGraph) checkTimeline(r *resource) error {
	for i := 1; i < len(r.groups); i++ {
		prev, cur := r.groups[i-1], r.groups[i]
		if prev.submit != cur.submit {
			continue
		}
		pq, pok := prev.queues.Single()
		cq, cok := cur.queues.Single()
		if !pok || !cok || pq != cq {
			return fmt.Errorf("%w: %q accessed as %s then as %s",
				ErrMixedQueueAccess, r.name, prev, cur)
		}
	}
	if !r.used() {
		return nil
	}
	first := r.groups[0]
	if first.queues.Count() > 1 {
		switch {
		case r.kind == KindImage && r.transient():
			return fmt.Errorf("%w: transient image %q first accessed on %s",
				ErrMixedQueueAccess, r.name, first.queues)
		case r.swapchain:
			return fmt.Errorf("%w: swapchain image %q first accessed on %s",
				ErrMixedQueueAccess, r.name, first.queues)
		}
	}
	return nil
}
