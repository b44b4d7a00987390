package device

import "errors"

// ErrUnsupported is returned by implementations for capabilities they do
// not provide, such as acceleration structures on a WebGPU HAL.
var ErrUnsupported = errors.New("device: unsupported")

// Destroyer is implemented by device objects that own driver state.
type Destroyer interface {
	Destroy()
}

// MemoryBlock is a range of device memory that resources can be bound into.
type MemoryBlock interface {
	Destroyer
	Size() uint64
}

// BinarySemaphore is a GPU-GPU signal that is waited on exactly once per
// signal.
type BinarySemaphore interface {
	Destroyer
}

// TimelineSemaphore is a monotonically increasing GPU counter.
type TimelineSemaphore interface {
	Destroyer

	// Value returns the last value the GPU has reached.
	Value() uint64
}

// TimelinePair is a timeline semaphore together with the value to wait for
// or to signal.
type TimelinePair struct {
	Semaphore TimelineSemaphore
	Value     uint64
}

// Reached reports whether the semaphore has reached the value.
func (p TimelinePair) Reached() bool { return p.Semaphore.Value() >= p.Value }

// Event is the synchronization object behind a split barrier.
type Event interface {
	Destroyer
}

// CommandList is a finished recording ready for submission.
type CommandList interface {
	Queue() Queue

	// Discard frees a list that will not be submitted. It does nothing
	// once the list was submitted.
	Discard()
}

// CommandRecorder records commands for one queue.
type CommandRecorder interface {
	Queue() Queue

	// InsertLabel marks the stream, for example before a task callback.
	InsertLabel(label string)

	PipelineBarrier(b Barrier)
	ImageBarrier(b ImageBarrier)

	SignalEvent(e EventBarriers)
	WaitEvents(es []EventBarriers)
	ResetEvent(e Event, stage Stage)

	// Complete finishes recording. The recorder must not be used afterwards.
	Complete() (CommandList, error)

	// Discard abandons recording.
	Discard()
}

// Swapchain is the presentation target of a graph.
type Swapchain interface {
	Name() string

	// CurrentImage returns the image acquired for this frame.
	CurrentImage() ImageID

	// AcquireSemaphore is signalled when CurrentImage may be written.
	AcquireSemaphore() BinarySemaphore

	// PresentSemaphore is waited on by presentation.
	PresentSemaphore() BinarySemaphore
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Queue        Queue
	CommandLists []CommandList

	// WaitStages are the stages that wait on the binary semaphores.
	WaitStages     Stage
	WaitBinary     []BinarySemaphore
	SignalBinary   []BinarySemaphore
	WaitTimeline   []TimelinePair
	SignalTimeline []TimelinePair
}

// PresentInfo describes one presentation.
type PresentInfo struct {
	Queue     Queue
	Swapchain Swapchain
	Wait      []BinarySemaphore
}

// Device is the GPU capability surface used by the task graph.
//
// Implementations must be safe for concurrent use: command recorders of
// different queues are filled from different goroutines when parallel
// recording is enabled.
type Device interface {
	Name() string

	CreateBuffer(info BufferInfo) (BufferID, error)
	CreateImage(info ImageInfo) (ImageID, error)
	CreateImageView(info ImageViewInfo) (ImageViewID, error)
	CreateBLAS(info AccelerationStructureInfo) (BLASID, error)
	CreateTLAS(info AccelerationStructureInfo) (TLASID, error)

	DestroyBuffer(id BufferID)
	DestroyImage(id ImageID)
	DestroyImageView(id ImageViewID)
	DestroyBLAS(id BLASID)
	DestroyTLAS(id TLASID)

	BufferMemoryRequirements(info BufferInfo) MemoryRequirements
	ImageMemoryRequirements(info ImageInfo) MemoryRequirements
	AccelerationStructureMemoryRequirements(info AccelerationStructureInfo) MemoryRequirements

	// CreateMemoryBlock allocates memory satisfying req.
	CreateMemoryBlock(req MemoryRequirements, name string) (MemoryBlock, error)

	// The *FromBlock variants bind the new resource at offset inside block.
	CreateBufferFromBlock(info BufferInfo, block MemoryBlock, offset uint64) (BufferID, error)
	CreateImageFromBlock(info ImageInfo, block MemoryBlock, offset uint64) (ImageID, error)
	CreateBLASFromBlock(info AccelerationStructureInfo, block MemoryBlock, offset uint64) (BLASID, error)
	CreateTLASFromBlock(info AccelerationStructureInfo, block MemoryBlock, offset uint64) (TLASID, error)

	// Validity and description queries. ok is false for IDs that were
	// never created or have been destroyed.
	LookupBuffer(id BufferID) (info BufferInfo, ok bool)
	LookupImage(id ImageID) (info ImageInfo, ok bool)
	LookupBLAS(id BLASID) (info AccelerationStructureInfo, ok bool)
	LookupTLAS(id TLASID) (info AccelerationStructureInfo, ok bool)

	BufferDeviceAddress(id BufferID) uint64
	BLASDeviceAddress(id BLASID) uint64
	TLASDeviceAddress(id TLASID) uint64

	// MapBuffer returns the host view of a HostVisible buffer.
	MapBuffer(id BufferID) ([]byte, error)

	CreateCommandRecorder(queue Queue, name string) (CommandRecorder, error)
	CreateBinarySemaphore(name string) (BinarySemaphore, error)
	CreateTimelineSemaphore(name string, initial uint64) (TimelineSemaphore, error)
	CreateEvent(name string) (Event, error)

	Submit(info SubmitInfo) error
	Present(info PresentInfo) error
}
