package taskgraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/taskgraph/device"
)

// compiled is everything Complete derives from the recorded graph.
type compiled struct {
	submits []*submitPlan
	splits  []*splitBarrier

	// batchBase is the graph-wide index of each submit's first batch.
	batchBase []int

	transients transientPlan
	firstUses  []firstUse

	acquire *syncPoint
	present *syncPoint
}

// submitPlan is one submit: the queues it uses in queue order.
type submitPlan struct {
	index   int
	queues  []*queuePlan
	byQueue [device.QueueCount]*queuePlan
	batches int // global batches before remapping
}

// queuePlan is the work of one queue inside one submit.
type queuePlan struct {
	queue   device.Queue
	init    []imageTransition // before the first batch
	batches []*batchPlan
	post    []imageTransition // after the last batch

	waitAcquire   bool
	signalPresent bool
}

// batchPlan is a set of tasks recorded without synchronization between
// them, preceded by the barriers they need.
type batchPlan struct {
	tasks    []int
	barriers []device.Barrier
	images   []imageTransition
	waits    []int // split barriers waited before the batch
	signals  []int // split barriers signalled after the batch
}

// syncPoint names a queue of a submit.
type syncPoint struct {
	submit int
	queue  device.Queue
	stages device.Stage
}

// firstUse is the first access of an external resource, or of one slice
// of an external image. Its connecting barrier depends on the state a
// previous execution left behind.
type firstUse struct {
	resource int
	group    int
	slice    device.ImageSlice
}

func newCompiled(submits int) *compiled {
	c := &compiled{
		submits:   make([]*submitPlan, submits),
		batchBase: make([]int, submits),
	}
	for i := range c.submits {
		c.submits[i] = &submitPlan{index: i}
	}
	return c
}

// queue returns the plan of q in submit s. It is nil when no task of the
// submit runs on q.
func (c *compiled) queue(s int, q device.Queue) *queuePlan {
	return c.submits[s].byQueue[q]
}

// schedule assigns every task to the earliest batch its access groups
// allow, then remaps batches to dense per-queue indices.
func (g *TaskGraph) schedule() {
	for _, t := range g.tasks {
		batch := 0
		for i := range t.attachments {
			a := &t.attachments[i]
			if a.group < 0 {
				continue
			}
			r := g.resources[a.resource]
			grp := r.groups[a.group]
			if !grp.scheduled {
				grp.scheduled = true
				grp.minBatch = 0
				if a.group > 0 {
					if prev := r.groups[a.group-1]; prev.submit == grp.submit {
						grp.minBatch = prev.maxBatch + 1
					}
				}
				grp.maxBatch = grp.minBatch
			}
			batch = max(batch, grp.minBatch)
		}
		t.globalBatch = batch
		for i := range t.attachments {
			a := &t.attachments[i]
			if a.group < 0 {
				continue
			}
			grp := g.resources[a.resource].groups[a.group]
			grp.maxBatch = max(grp.maxBatch, batch)
		}
		sp := g.plan.submits[t.submit]
		sp.batches = max(sp.batches, batch+1)
	}

	base := 0
	for i, sp := range g.plan.submits {
		g.plan.batchBase[i] = base
		base += sp.batches
	}

	g.remapBatches()
	g.computeSpans()
	g.checkSchedule()
}

// remapBatches turns the shared submit-relative batch numbers into dense
// per-queue indices, keeping their order.
func (g *TaskGraph) remapBatches() {
	var used [device.QueueCount][]int
	for s, sp := range g.plan.submits {
		for q := range used {
			used[q] = used[q][:0]
		}
		for _, t := range g.tasks {
			if t.submit == s {
				used[t.queue] = append(used[t.queue], t.globalBatch)
			}
		}
		for q := range used {
			if len(used[q]) == 0 {
				continue
			}
			slices.Sort(used[q])
			dense := slices.Compact(used[q])
			qp := &queuePlan{queue: device.Queue(q), batches: make([]*batchPlan, len(dense))}
			for i := range qp.batches {
				qp.batches[i] = &batchPlan{}
			}
			sp.byQueue[q] = qp
			sp.queues = append(sp.queues, qp)
			used[q] = dense
		}
		for _, t := range g.tasks {
			if t.submit != s {
				continue
			}
			t.batch, _ = slices.BinarySearch(used[t.queue], t.globalBatch)
			b := sp.byQueue[t.queue].batches[t.batch]
			b.tasks = append(b.tasks, t.index)
		}
	}
}

func (g *TaskGraph) computeSpans() {
	for _, r := range g.resources {
		for _, grp := range r.groups {
			var seen device.QueueBits
			for _, u := range grp.uses {
				t := g.tasks[u.task]
				sp := &grp.spans[t.queue]
				if !seen.Has(t.queue) {
					seen |= t.queue.Bit()
					*sp = span{first: t.batch, last: t.batch}
					continue
				}
				sp.first = min(sp.first, t.batch)
				sp.last = max(sp.last, t.batch)
			}
		}
	}
}

// checkSchedule panics when the schedule breaks an invariant the execution
// relies on. A panic here is a scheduler bug, not a caller error.
func (g *TaskGraph) checkSchedule() {
	for _, sp := range g.plan.submits {
		for _, qp := range sp.queues {
			for i, b := range qp.batches {
				if len(b.tasks) == 0 {
					panic(fmt.Sprintf("taskgraph: submit %d queue %s batch %d is empty", sp.index, qp.queue, i))
				}
			}
		}
	}
	for _, r := range g.resources {
		for i := 1; i < len(r.groups); i++ {
			prev, cur := r.groups[i-1], r.groups[i]
			if prev.submit != cur.submit {
				continue
			}
			q, _ := cur.queues.Single()
			if prev.spans[q].last >= cur.spans[q].first {
				panic(fmt.Sprintf("taskgraph: %q groups %d and %d overlap on %s: batches [%d,%d] and [%d,%d]",
					r.name, i-1, i, q, prev.spans[q].first, prev.spans[q].last, cur.spans[q].first, cur.spans[q].last))
			}
		}
	}
}

// taskRange returns the smallest and largest graph-wide batch of the tasks
// that access r.
func (g *TaskGraph) taskRange(r *resource) (first, last int) {
	first, last = -1, -1
	for _, grp := range r.groups {
		for _, u := range grp.uses {
			t := g.tasks[u.task]
			b := g.plan.batchBase[t.submit] + t.globalBatch
			if first < 0 || b < first {
				first = b
			}
			last = max(last, b)
		}
	}
	return first, last
}
