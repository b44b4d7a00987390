package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/device"
)

// Task is a unit of GPU work.
type Task struct {
	// Name labels the task in command streams, dumps and errors. Empty names
	// are replaced by "task<N>".
	Name string

	// Queue is the queue the task records on.
	Queue device.Queue

	// Attachments are every resource the task touches. A task must not use
	// resources it did not attach.
	Attachments []Attachment

	// Callback records the task's commands. It may be nil.
	Callback func(ti *TaskInterface) error
}

// task is a Task resolved against the graph.
type task struct {
	index       int
	name        string
	queue       device.Queue
	submit      int
	attachments []attachment
	callback    func(ti *TaskInterface) error

	// Assigned by the scheduler.
	globalBatch int // submit-relative, shared by all queues
	batch       int // dense per queue and submit

	blob []byte
}

// AddTask appends a task to the graph. Attachments are resolved and
// checked immediately.
func (g *TaskGraph) AddTask(t Task) error {
	if err := g.recording(); err != nil {
		return err
	}
	if g.present != nil {
		return g.fail(fmt.Errorf("%w: task %q added after Present", ErrAfterPresent, t.Name))
	}
	if !t.Queue.Valid() {
		return g.fail(fmt.Errorf("%w: task %q uses unknown queue %d", ErrInvalidTask, t.Name, t.Queue))
	}
	name := t.Name
	if name == "" {
		name = fmt.Sprintf("task%d", len(g.tasks))
	}

	rt := &task{
		index:       len(g.tasks),
		name:        name,
		queue:       t.Queue,
		submit:      len(g.submits),
		attachments: make([]attachment, len(t.Attachments)),
		callback:    t.Callback,
	}
	seen := make(map[int]int, len(t.Attachments))
	for i, a := range t.Attachments {
		att, err := g.resolveAttachment(name, i, a)
		if err != nil {
			return g.fail(err)
		}
		if j, dup := seen[att.resource]; dup {
			return g.fail(fmt.Errorf("%w: task %q attachments %d and %d both use %q",
				ErrAliasedAttachment, name, j, i, g.resources[att.resource].name))
		}
		seen[att.resource] = i
		rt.attachments[i] = att
	}
	for i, att := range rt.attachments {
		r := g.resources[att.resource]
		r.refs = append(r.refs, use{task: rt.index, attachment: i})
	}
	g.tasks = append(g.tasks, rt)
	return nil
}

func (g *TaskGraph) resolveAttachment(taskName string, i int, a Attachment) (attachment, error) {
	if a.View == nil || a.View.ResourceID().IsZero() {
		return attachment{}, fmt.Errorf("%w: task %q attachment %d has no view", ErrInvalidTask, taskName, i)
	}
	id := a.View.ResourceID()

	var index int
	if id.External() {
		idx, ok := g.byUID[id.uid]
		if !ok {
			return attachment{}, fmt.Errorf("%w: task %q attachment %d refers to %s #%d",
				ErrUnregisteredResource, taskName, i, id.kind, id.uid)
		}
		index = idx
	} else {
		if id.graph != g.id || int(id.index) >= len(g.resources) {
			return attachment{}, fmt.Errorf("%w: task %q attachment %d refers to %s %d of graph %d",
				ErrForeignResource, taskName, i, id.kind, id.index, id.graph)
		}
		index = int(id.index)
	}
	r := g.resources[index]
	if a.Kind != r.kind || id.kind != r.kind {
		return attachment{}, fmt.Errorf("%w: task %q attachment %d declared %s, %q is a %s",
			ErrKindMismatch, taskName, i, a.Kind, r.name, r.kind)
	}

	att := attachment{
		kind:     r.kind,
		access:   a.Access,
		resource: index,
		viewDim:  a.ViewDimension,
		group:    -1,
	}
	if r.kind != KindImage && att.access.Type == AccessTypeSampled {
		att.access.Type = AccessTypeRead
	}
	if r.kind == KindImage {
		v, _ := a.View.(ImageView)
		att.slice = v.resolve(r.mips, r.layers)
		if att.slice.Empty() || !att.slice.Within(r.mips, r.layers) {
			return attachment{}, fmt.Errorf("%w: task %q attachment %d slice %s outside %q (%d mips, %d layers)",
				ErrInvalidTask, taskName, i, att.slice, r.name, r.mips, r.layers)
		}
	}
	return att, nil
}
