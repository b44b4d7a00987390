// Package fakedevice implements device.Device in memory.
//
// Every recorded command is kept as a line of text. Command lists are
// appended to the device trace when they are submitted, so the trace shows
// what a GPU would execute, in submission order. Submitted work completes
// immediately: timeline semaphores jump to their signal values inside Submit.
//
// Submit and Present validate semaphore usage: waiting on a binary semaphore
// that was never signalled, or on a timeline value no submission signals,
// is reported as an error.
package fakedevice

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/alloc"
)

// Errors reported by the fake device.
var (
	ErrUnknownResource = errors.New("fakedevice: unknown resource")
	ErrOutOfBlock      = errors.New("fakedevice: resource exceeds memory block")
	ErrSemaphore       = errors.New("fakedevice: semaphore misuse")
	ErrNotMappable     = errors.New("fakedevice: buffer is not host visible")
)

// Memory type bits reported by the fake device.
const (
	BufferMemoryTypes = 0b0111
	ImageMemoryTypes  = 0b0110

	bufferAlignment = 256
	imageAlignment  = 4096
)

type buffer struct {
	info   device.BufferInfo
	data   []byte
	block  *Block
	offset uint64
}

type image struct {
	info   device.ImageInfo
	block  *Block
	offset uint64
}

type accel struct {
	info   device.AccelerationStructureInfo
	block  *Block
	offset uint64
}

// Counts is the number of live objects per kind.
type Counts struct {
	Buffers, Images, Views, BLAS, TLAS, Blocks int
}

// SubmitRecord is one accepted submission.
type SubmitRecord struct {
	Queue        device.Queue
	Lists        int
	WaitBinary   []string
	SignalBinary []string
	WaitTimeline []string
	SignalCount  int
}

// Device is an in-memory device.Device.
type Device struct {
	mu     sync.Mutex
	name   string
	nextID uint64

	buffers map[device.BufferID]*buffer
	images  map[device.ImageID]*image
	views   map[device.ImageViewID]device.ImageViewInfo
	blas    map[device.BLASID]*accel
	tlas    map[device.TLASID]*accel
	blocks  map[*Block]struct{}

	trace        []string
	submits      []SubmitRecord
	presents     int
	pendingLists int

	failNextSubmit error
}

var _ device.Device = (*Device)(nil)

// New creates an empty device.
func New(name string) *Device {
	return &Device{
		name:    name,
		buffers: make(map[device.BufferID]*buffer),
		images:  make(map[device.ImageID]*image),
		views:   make(map[device.ImageViewID]device.ImageViewInfo),
		blas:    make(map[device.BLASID]*accel),
		tlas:    make(map[device.TLASID]*accel),
		blocks:  make(map[*Block]struct{}),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// Trace returns a copy of the executed command trace.
func (d *Device) Trace() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.trace...)
}

// ResetTrace clears the trace and the submission log.
func (d *Device) ResetTrace() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = nil
	d.submits = nil
	d.presents = 0
}

// Submits returns the accepted submissions.
func (d *Device) Submits() []SubmitRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SubmitRecord(nil), d.submits...)
}

// Presents returns the number of accepted presentations.
func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

// PendingLists returns the number of completed command lists that were
// neither submitted nor discarded.
func (d *Device) PendingLists() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingLists
}

// release marks l as no longer pending. Caller must hold d.mu.
func (d *Device) release(l *CommandList) {
	if !l.released {
		l.released = true
		d.pendingLists--
	}
}

// FailNextSubmit makes the next Submit return err.
func (d *Device) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextSubmit = err
}

// Live returns the number of live objects.
func (d *Device) Live() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counts{
		Buffers: len(d.buffers),
		Images:  len(d.images),
		Views:   len(d.views),
		BLAS:    len(d.blas),
		TLAS:    len(d.tlas),
		Blocks:  len(d.blocks),
	}
}

// BufferPlacement returns the block and offset a buffer was bound at.
func (d *Device) BufferPlacement(id device.BufferID) (*Block, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		return b.block, b.offset
	}
	return nil, 0
}

// ImagePlacement returns the block and offset an image was bound at.
func (d *Device) ImagePlacement(id device.ImageID) (*Block, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.images[id]; ok {
		return i.block, i.offset
	}
	return nil, 0
}

func (d *Device) CreateBuffer(info device.BufferInfo) (device.BufferID, error) {
	return d.createBuffer(info, nil, 0)
}

func (d *Device) CreateBufferFromBlock(info device.BufferInfo, block device.MemoryBlock, offset uint64) (device.BufferID, error) {
	b, err := d.checkBlock(block, offset, d.BufferMemoryRequirements(info).Size)
	if err != nil {
		return 0, fmt.Errorf("buffer %q: %w", info.Name, err)
	}
	return d.createBuffer(info, b, offset)
}

func (d *Device) createBuffer(info device.BufferInfo, block *Block, offset uint64) (device.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BufferID(d.newID())
	b := &buffer{info: info, block: block, offset: offset}
	if info.HostVisible {
		b.data = make([]byte, info.Size)
	}
	d.buffers[id] = b
	return id, nil
}

func (d *Device) CreateImage(info device.ImageInfo) (device.ImageID, error) {
	return d.createImage(info, nil, 0)
}

func (d *Device) CreateImageFromBlock(info device.ImageInfo, block device.MemoryBlock, offset uint64) (device.ImageID, error) {
	b, err := d.checkBlock(block, offset, d.ImageMemoryRequirements(info).Size)
	if err != nil {
		return 0, fmt.Errorf("image %q: %w", info.Name, err)
	}
	return d.createImage(info, b, offset)
}

func (d *Device) createImage(info device.ImageInfo, block *Block, offset uint64) (device.ImageID, error) {
	if info.Width == 0 || info.Height == 0 {
		return 0, fmt.Errorf("fakedevice: image %q has zero extent", info.Name)
	}
	info.MipLevels = max(info.MipLevels, 1)
	info.ArrayLayers = max(info.ArrayLayers, 1)
	info.Depth = max(info.Depth, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.ImageID(d.newID())
	d.images[id] = &image{info: info, block: block, offset: offset}
	return id, nil
}

func (d *Device) CreateImageView(info device.ImageViewInfo) (device.ImageViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[info.Image]
	if !ok {
		return 0, fmt.Errorf("%w: image %d", ErrUnknownResource, info.Image)
	}
	if !info.Slice.Within(img.info.MipLevels, img.info.ArrayLayers) {
		return 0, fmt.Errorf("fakedevice: view slice %s outside image %q", info.Slice, img.info.Name)
	}
	id := device.ImageViewID(d.newID())
	d.views[id] = info
	return id, nil
}

func (d *Device) CreateBLAS(info device.AccelerationStructureInfo) (device.BLASID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BLASID(d.newID())
	d.blas[id] = &accel{info: info}
	return id, nil
}

func (d *Device) CreateTLAS(info device.AccelerationStructureInfo) (device.TLASID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.TLASID(d.newID())
	d.tlas[id] = &accel{info: info}
	return id, nil
}

func (d *Device) CreateBLASFromBlock(info device.AccelerationStructureInfo, block device.MemoryBlock, offset uint64) (device.BLASID, error) {
	b, err := d.checkBlock(block, offset, d.AccelerationStructureMemoryRequirements(info).Size)
	if err != nil {
		return 0, fmt.Errorf("blas %q: %w", info.Name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BLASID(d.newID())
	d.blas[id] = &accel{info: info, block: b, offset: offset}
	return id, nil
}

func (d *Device) CreateTLASFromBlock(info device.AccelerationStructureInfo, block device.MemoryBlock, offset uint64) (device.TLASID, error) {
	b, err := d.checkBlock(block, offset, d.AccelerationStructureMemoryRequirements(info).Size)
	if err != nil {
		return 0, fmt.Errorf("tlas %q: %w", info.Name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.TLASID(d.newID())
	d.tlas[id] = &accel{info: info, block: b, offset: offset}
	return id, nil
}

func (d *Device) checkBlock(block device.MemoryBlock, offset, size uint64) (*Block, error) {
	b, ok := block.(*Block)
	if !ok {
		return nil, fmt.Errorf("%w: foreign memory block", ErrUnknownResource)
	}
	d.mu.Lock()
	_, live := d.blocks[b]
	d.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("%w: destroyed memory block", ErrUnknownResource)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("%w: [%d,%d) in block of %d bytes", ErrOutOfBlock, offset, offset+size, b.size)
	}
	return b, nil
}

func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

func (d *Device) DestroyImage(id device.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, id)
}

func (d *Device) DestroyImageView(id device.ImageViewID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, id)
}

func (d *Device) DestroyBLAS(id device.BLASID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blas, id)
}

func (d *Device) DestroyTLAS(id device.TLASID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tlas, id)
}

func (d *Device) BufferMemoryRequirements(info device.BufferInfo) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           alloc.AlignUp(max(info.Size, 1), bufferAlignment),
		Alignment:      bufferAlignment,
		MemoryTypeBits: BufferMemoryTypes,
	}
}

func (d *Device) ImageMemoryRequirements(info device.ImageInfo) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           alloc.AlignUp(device.ImageByteSize(info), imageAlignment),
		Alignment:      imageAlignment,
		MemoryTypeBits: ImageMemoryTypes,
	}
}

func (d *Device) AccelerationStructureMemoryRequirements(info device.AccelerationStructureInfo) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           alloc.AlignUp(max(info.Size, 1), bufferAlignment),
		Alignment:      bufferAlignment,
		MemoryTypeBits: BufferMemoryTypes,
	}
}

func (d *Device) CreateMemoryBlock(req device.MemoryRequirements, name string) (device.MemoryBlock, error) {
	if req.MemoryTypeBits == 0 {
		return nil, fmt.Errorf("fakedevice: memory block %q has no memory type", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &Block{dev: d, name: name, size: req.Size, base: d.newID() << 40}
	d.blocks[b] = struct{}{}
	return b, nil
}

func (d *Device) LookupBuffer(id device.BufferID) (device.BufferInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return device.BufferInfo{}, false
	}
	return b.info, true
}

func (d *Device) LookupImage(id device.ImageID) (device.ImageInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.images[id]
	if !ok {
		return device.ImageInfo{}, false
	}
	return i.info, true
}

func (d *Device) LookupBLAS(id device.BLASID) (device.AccelerationStructureInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.blas[id]
	if !ok {
		return device.AccelerationStructureInfo{}, false
	}
	return a.info, true
}

func (d *Device) LookupTLAS(id device.TLASID) (device.AccelerationStructureInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.tlas[id]
	if !ok {
		return device.AccelerationStructureInfo{}, false
	}
	return a.info, true
}

// Device addresses are the block base plus offset for placed resources and
// the ID shifted into the upper half otherwise.
func (d *Device) BufferDeviceAddress(id device.BufferID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return 0
	}
	return address(uint64(id), b.block, b.offset)
}

func (d *Device) BLASDeviceAddress(id device.BLASID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.blas[id]
	if !ok {
		return 0
	}
	return address(uint64(id), a.block, a.offset)
}

func (d *Device) TLASDeviceAddress(id device.TLASID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.tlas[id]
	if !ok {
		return 0
	}
	return address(uint64(id), a.block, a.offset)
}

func address(id uint64, block *Block, offset uint64) uint64 {
	if block != nil {
		return block.base + offset
	}
	return id << 32
}

func (d *Device) MapBuffer(id device.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if b.data == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotMappable, b.info.Name)
	}
	return b.data, nil
}

func (d *Device) imageName(id device.ImageID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.images[id]; ok && i.info.Name != "" {
		return i.info.Name
	}
	return fmt.Sprintf("image#%d", id)
}

func (d *Device) CreateBinarySemaphore(name string) (device.BinarySemaphore, error) {
	return &BinarySemaphore{name: name}, nil
}

func (d *Device) CreateTimelineSemaphore(name string, initial uint64) (device.TimelineSemaphore, error) {
	return &TimelineSemaphore{name: name, value: initial, pending: initial}, nil
}

func (d *Device) CreateEvent(name string) (device.Event, error) {
	return &Event{name: name}, nil
}

func (d *Device) CreateCommandRecorder(queue device.Queue, name string) (device.CommandRecorder, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("fakedevice: invalid queue %d", queue)
	}
	return &Recorder{dev: d, queue: queue, name: name}, nil
}

// Submit executes the command lists and signals semaphores.
func (d *Device) Submit(info device.SubmitInfo) error {
	d.mu.Lock()
	if err := d.failNextSubmit; err != nil {
		d.failNextSubmit = nil
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	rec := SubmitRecord{Queue: info.Queue, Lists: len(info.CommandLists), SignalCount: len(info.SignalTimeline)}
	for _, s := range info.WaitBinary {
		b := s.(*BinarySemaphore)
		if !b.signalled.CompareAndSwap(true, false) {
			return fmt.Errorf("%w: %s waits on unsignalled binary semaphore %q", ErrSemaphore, info.Queue, b.name)
		}
		rec.WaitBinary = append(rec.WaitBinary, b.name)
	}
	for _, p := range info.WaitTimeline {
		t := p.Semaphore.(*TimelineSemaphore)
		if t.Value() < p.Value {
			return fmt.Errorf("%w: %s waits on %q value %d that is never signalled", ErrSemaphore, info.Queue, t.name, p.Value)
		}
		rec.WaitTimeline = append(rec.WaitTimeline, t.name)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("submit %s lists=%d wait=%s signal=%s",
		info.Queue, len(info.CommandLists), strings.Join(append(rec.WaitBinary, rec.WaitTimeline...), ","),
		strings.Join(binaryNames(info.SignalBinary), ",")))
	for _, l := range info.CommandLists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("%w: foreign command list", ErrUnknownResource)
		}
		if cl.queue != info.Queue {
			return fmt.Errorf("fakedevice: command list for %s submitted to %s", cl.queue, info.Queue)
		}
		lines = append(lines, cl.lines...)
	}

	for _, p := range info.SignalTimeline {
		p.Semaphore.(*TimelineSemaphore).signal(p.Value)
	}
	for _, s := range info.SignalBinary {
		s.(*BinarySemaphore).signalled.Store(true)
	}
	rec.SignalBinary = binaryNames(info.SignalBinary)

	d.mu.Lock()
	for _, l := range info.CommandLists {
		d.release(l.(*CommandList))
	}
	d.trace = append(d.trace, lines...)
	d.submits = append(d.submits, rec)
	d.mu.Unlock()
	return nil
}

// Present consumes the wait semaphores.
func (d *Device) Present(info device.PresentInfo) error {
	for _, s := range info.Wait {
		b := s.(*BinarySemaphore)
		if !b.signalled.CompareAndSwap(true, false) {
			return fmt.Errorf("%w: present waits on unsignalled %q", ErrSemaphore, b.name)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presents++
	d.trace = append(d.trace, fmt.Sprintf("present %s on %s", info.Swapchain.Name(), info.Queue))
	return nil
}

func binaryNames(ss []device.BinarySemaphore) []string {
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.(*BinarySemaphore).name
	}
	return names
}
