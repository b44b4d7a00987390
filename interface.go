package taskgraph

import (
	"context"

	"github.com/gogpu/taskgraph/device"
)

// AttachmentInfo describes one attachment of the running task.
type AttachmentInfo struct {
	Kind     Kind
	Access   Access
	Resource string
	Slice    device.ImageSlice // images only
	Layout   device.Layout     // images only
}

// TaskInterface is what a task callback sees: the device, the recorder of
// its queue and the resolved attachments, indexed like Task.Attachments.
//
// A TaskInterface is valid only during the callback.
type TaskInterface struct {
	Device   device.Device
	Recorder device.CommandRecorder

	// Transfer is the graph's staging memory pool, nil when disabled.
	Transfer *TransferMemoryPool

	ctx   context.Context
	graph *TaskGraph
	task  *task
}

// Context returns the context of the running Execute.
func (ti *TaskInterface) Context() context.Context { return ti.ctx }

// TaskName returns the name of the running task.
func (ti *TaskInterface) TaskName() string { return ti.task.name }

// Queue returns the queue the task records on.
func (ti *TaskInterface) Queue() device.Queue { return ti.task.queue }

// Len returns the number of attachments.
func (ti *TaskInterface) Len() int { return len(ti.task.attachments) }

func (ti *TaskInterface) attachment(i int) (*attachment, *resource) {
	a := &ti.task.attachments[i]
	return a, ti.graph.resources[a.resource]
}

// Attachment describes attachment i.
func (ti *TaskInterface) Attachment(i int) AttachmentInfo {
	a, r := ti.attachment(i)
	info := AttachmentInfo{Kind: a.kind, Access: a.access, Resource: r.name}
	if a.kind == KindImage {
		info.Slice = a.slice
		info.Layout = ti.Layout(i)
	}
	return info
}

// Buffer returns the buffer of attachment i, or InvalidID when it is not
// a buffer attachment.
func (ti *TaskInterface) Buffer(i int) device.BufferID {
	_, r := ti.attachment(i)
	if r.kind != KindBuffer {
		return device.InvalidID
	}
	return r.id.buffer
}

// Image returns the image of attachment i.
func (ti *TaskInterface) Image(i int) device.ImageID {
	_, r := ti.attachment(i)
	if r.kind != KindImage {
		return device.InvalidID
	}
	return r.id.image
}

// View returns the image view created for the slice of attachment i.
func (ti *TaskInterface) View(i int) device.ImageViewID {
	a, _ := ti.attachment(i)
	return a.view
}

// BLAS returns the bottom level acceleration structure of attachment i.
func (ti *TaskInterface) BLAS(i int) device.BLASID {
	_, r := ti.attachment(i)
	if r.kind != KindBLAS {
		return device.InvalidID
	}
	return r.id.blas
}

// TLAS returns the top level acceleration structure of attachment i.
func (ti *TaskInterface) TLAS(i int) device.TLASID {
	_, r := ti.attachment(i)
	if r.kind != KindTLAS {
		return device.InvalidID
	}
	return r.id.tlas
}

// DeviceAddress returns the device address of a buffer or acceleration
// structure attachment. It is zero for images.
func (ti *TaskInterface) DeviceAddress(i int) uint64 {
	a, _ := ti.attachment(i)
	if a.kind == KindImage {
		return 0
	}
	return a.value
}

// Layout returns the layout the image of attachment i is in while the task
// runs.
func (ti *TaskInterface) Layout(i int) device.Layout {
	a, _ := ti.attachment(i)
	if a.kind != KindImage {
		return device.LayoutUndefined
	}
	return a.access.layout()
}

// AttachmentBlob returns a copy of the task's shader-visible attachment
// data: one little endian uint64 per attachment holding the device address
// or the image view.
func (ti *TaskInterface) AttachmentBlob() []byte {
	return append([]byte(nil), ti.task.blob...)
}

// Scratch returns zeroed memory that stays valid until the next execution
// of the graph.
func (ti *TaskInterface) Scratch(size, align int) []byte {
	return ti.graph.scratch[ti.task.queue].Alloc(size, align)
}
