package taskgraph

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gogpu/taskgraph/device"
)

// Schedule is a read-only snapshot of a compiled graph.
type Schedule struct {
	Name       string
	Submits    []SubmitSchedule
	Splits     []SplitSchedule
	Transients []TransientAllocation
	MemorySize uint64
	Tasks      []TaskPlacement

	// Present is set when the graph presents; it names the queue whose
	// submission signals the present semaphore.
	Present *QueueRef
	Acquire *QueueRef
}

// QueueRef names one queue of one submit.
type QueueRef struct {
	Submit int
	Queue  device.Queue
}

// SubmitSchedule is one submit.
type SubmitSchedule struct {
	Index  int
	Queues []QueueSchedule
}

// QueueSchedule is the work of one queue in one submit.
type QueueSchedule struct {
	Queue   device.Queue
	Init    []ImageTransition
	Batches []BatchSchedule
	Post    []ImageTransition

	WaitsAcquire   bool
	SignalsPresent bool
}

// BatchSchedule is one batch and the barriers before it.
type BatchSchedule struct {
	Index            int
	Tasks            []string
	Barriers         []device.Barrier
	ImageTransitions []ImageTransition
	WaitSplits       []int
	SignalSplits     []int
}

// ImageTransition is a compiled image barrier.
type ImageTransition struct {
	Resource  string
	Slice     device.ImageSlice
	Src       device.Access
	Dst       device.Access
	OldLayout device.Layout
	NewLayout device.Layout
}

func (t ImageTransition) String() string {
	return fmt.Sprintf("%s %s %s -> %s %s -> %s", t.Resource, t.Slice, t.Src, t.Dst, t.OldLayout, t.NewLayout)
}

// SplitSchedule is a split barrier.
type SplitSchedule struct {
	Submit           int
	Queue            device.Queue
	SignalAfter      int
	WaitBefore       int
	Barriers         []device.Barrier
	ImageTransitions []ImageTransition
}

// TransientAllocation is the placement of one transient resource.
type TransientAllocation struct {
	Resource string
	Kind     Kind
	Offset   uint64
	Size     uint64
	Lifetime string
}

// TaskPlacement locates a task in the schedule.
type TaskPlacement struct {
	Name   string
	Submit int
	Queue  device.Queue
	Batch  int
}

// BarrierCount returns the number of barriers and image transitions in s.
func (s *Schedule) BarrierCount() int {
	n := 0
	for _, sub := range s.Submits {
		for _, q := range sub.Queues {
			n += len(q.Init) + len(q.Post)
			for _, b := range q.Batches {
				n += len(b.Barriers) + len(b.ImageTransitions)
			}
		}
	}
	for _, sp := range s.Splits {
		n += len(sp.Barriers) + len(sp.ImageTransitions)
	}
	return n
}

// Task returns the placement of the named task.
func (s *Schedule) Task(name string) (TaskPlacement, bool) {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskPlacement{}, false
}

// Schedule returns a snapshot of the compiled schedule, or nil before
// Complete.
func (g *TaskGraph) Schedule() *Schedule {
	if !g.completed {
		return nil
	}
	s := &Schedule{Name: g.info.Name, MemorySize: g.plan.transients.size}
	for _, sp := range g.plan.submits {
		ss := SubmitSchedule{Index: sp.index}
		for _, qp := range sp.queues {
			qs := QueueSchedule{
				Queue:          qp.queue,
				Init:           g.transitions(qp.init),
				Post:           g.transitions(qp.post),
				WaitsAcquire:   qp.waitAcquire,
				SignalsPresent: qp.signalPresent,
			}
			for bi, b := range qp.batches {
				bs := BatchSchedule{
					Index:            bi,
					Barriers:         append([]device.Barrier(nil), b.barriers...),
					ImageTransitions: g.transitions(b.images),
					WaitSplits:       append([]int(nil), b.waits...),
					SignalSplits:     append([]int(nil), b.signals...),
				}
				for _, ti := range b.tasks {
					bs.Tasks = append(bs.Tasks, g.tasks[ti].name)
				}
				qs.Batches = append(qs.Batches, bs)
			}
			ss.Queues = append(ss.Queues, qs)
		}
		s.Submits = append(s.Submits, ss)
	}
	for _, sp := range g.plan.splits {
		s.Splits = append(s.Splits, SplitSchedule{
			Submit:           sp.submit,
			Queue:            sp.queue,
			SignalAfter:      sp.srcBatch,
			WaitBefore:       sp.dstBatch,
			Barriers:         append([]device.Barrier(nil), sp.barriers...),
			ImageTransitions: g.transitions(sp.images),
		})
	}
	tp := &g.plan.transients
	for i, ri := range tp.resources {
		r := g.resources[ri]
		s.Transients = append(s.Transients, TransientAllocation{
			Resource: r.name,
			Kind:     r.kind,
			Offset:   tp.placements[i].Offset,
			Size:     tp.placements[i].Size,
			Lifetime: tp.lifetimes[i].String(),
		})
	}
	for _, t := range g.tasks {
		s.Tasks = append(s.Tasks, TaskPlacement{Name: t.name, Submit: t.submit, Queue: t.queue, Batch: t.batch})
	}
	if p := g.plan.present; p != nil {
		s.Present = &QueueRef{Submit: p.submit, Queue: p.queue}
	}
	if a := g.plan.acquire; a != nil {
		s.Acquire = &QueueRef{Submit: a.submit, Queue: a.queue}
	}
	return s
}

func (g *TaskGraph) transitions(ts []imageTransition) []ImageTransition {
	if len(ts) == 0 {
		return nil
	}
	out := make([]ImageTransition, len(ts))
	for i, t := range ts {
		out[i] = ImageTransition{
			Resource:  g.resources[t.resource].name,
			Slice:     t.slice,
			Src:       t.src,
			Dst:       t.dst,
			OldLayout: t.oldLayout,
			NewLayout: t.newLayout,
		}
	}
	return out
}

// AccessGroupInfo describes one access group of a resource.
type AccessGroupInfo struct {
	Type   AccessType
	Stages device.Stage
	Queues device.QueueBits
	Submit int
	Layout device.Layout
	Tasks  []string
}

// AccessGroups returns the access timeline of the named resource. It is
// empty before Complete and for unknown names.
func (g *TaskGraph) AccessGroups(name string) []AccessGroupInfo {
	i, ok := g.byName[name]
	if !ok || !g.completed {
		return nil
	}
	var out []AccessGroupInfo
	for _, grp := range g.resources[i].groups {
		info := AccessGroupInfo{
			Type:   grp.typ,
			Stages: grp.stages,
			Queues: grp.queues,
			Submit: grp.submit,
			Layout: grp.layout,
		}
		for _, u := range grp.uses {
			info.Tasks = append(info.Tasks, g.tasks[u.task].name)
		}
		out = append(out, info)
	}
	return out
}

// DebugString returns WriteDebug output as a string.
func (g *TaskGraph) DebugString() string {
	var sb strings.Builder
	_ = g.WriteDebug(&sb)
	return sb.String()
}

// WriteDebug writes a human-readable dump of the compiled schedule.
func (g *TaskGraph) WriteDebug(w io.Writer) error {
	bw := bufio.NewWriter(w)
	s := g.Schedule()
	if s == nil {
		fmt.Fprintf(bw, "graph %q: not completed (%d tasks)\n", g.info.Name, len(g.tasks))
		return bw.Flush()
	}
	st := g.plan.stats(len(g.tasks))
	fmt.Fprintf(bw, "graph %q: %d tasks, %d submits, %d batches, %d barriers, %d image transitions\n",
		s.Name, st.Tasks, st.Submits, st.Batches, st.Barriers, st.ImageTransitions)
	for _, sub := range s.Submits {
		fmt.Fprintf(bw, "submit %d\n", sub.Index)
		for _, q := range sub.Queues {
			flags := ""
			if q.WaitsAcquire {
				flags += " waits-acquire"
			}
			if q.SignalsPresent {
				flags += " signals-present"
			}
			fmt.Fprintf(bw, "  queue %s%s\n", q.Queue, flags)
			for _, t := range q.Init {
				fmt.Fprintf(bw, "    init %s\n", t)
			}
			for _, b := range q.Batches {
				fmt.Fprintf(bw, "    batch %d\n", b.Index)
				for _, i := range b.WaitSplits {
					fmt.Fprintf(bw, "      wait split %d\n", i)
				}
				for _, br := range b.Barriers {
					fmt.Fprintf(bw, "      %s\n", br)
				}
				for _, t := range b.ImageTransitions {
					fmt.Fprintf(bw, "      transition %s\n", t)
				}
				for _, name := range b.Tasks {
					fmt.Fprintf(bw, "      task %s\n", name)
				}
				for _, i := range b.SignalSplits {
					fmt.Fprintf(bw, "      signal split %d\n", i)
				}
			}
			for _, t := range q.Post {
				fmt.Fprintf(bw, "    post %s\n", t)
			}
		}
	}
	for i, sp := range s.Splits {
		fmt.Fprintf(bw, "split %d: submit %d %s batch %d -> %d\n", i, sp.Submit, sp.Queue, sp.SignalAfter, sp.WaitBefore)
		for _, br := range sp.Barriers {
			fmt.Fprintf(bw, "  %s\n", br)
		}
		for _, t := range sp.ImageTransitions {
			fmt.Fprintf(bw, "  transition %s\n", t)
		}
	}
	if len(s.Transients) > 0 {
		fmt.Fprintf(bw, "transient memory: %d bytes\n", s.MemorySize)
		for _, t := range s.Transients {
			fmt.Fprintf(bw, "  %s %q [%d, %d) %s\n", t.Kind, t.Resource, t.Offset, t.Offset+t.Size, t.Lifetime)
		}
	}
	if s.Present != nil {
		fmt.Fprintf(bw, "present after submit %d on %s\n", s.Present.Submit, s.Present.Queue)
	}
	return bw.Flush()
}
