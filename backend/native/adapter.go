//go:build !nogpu

// Package native implements device.Device on top of gogpu/wgpu/hal.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/alloc"
)

// Memory requirement granularity reported to the task graph.
const (
	bufferAlignment = 256
	imageAlignment  = 4096
	memoryTypeBits  = 1
)

// idleTimeout bounds WaitIdle.
const idleTimeout = 5 * time.Second

type halBuffer struct {
	buf  hal.Buffer
	info device.BufferInfo
	host []byte // shadow of a HostVisible buffer
}

type halImage struct {
	tex  hal.Texture
	info device.ImageInfo

	// external images belong to a swapchain and are not destroyed here.
	external bool
}

type halView struct {
	view  hal.TextureView
	image device.ImageID
}

// Device adapts a hal.Device and its queue to device.Device.
//
// WebGPU exposes a single queue, so every task graph queue records onto
// the same hal.Queue and submissions execute in submission order. Timeline
// semaphores are hal fences; binary semaphores and events are tracked on
// the CPU.
//
// Thread safety: Device is safe for concurrent use. Resource maps are
// protected by a mutex.
type Device struct {
	name   string
	device hal.Device
	queue  hal.Queue
	limits gputypes.Limits

	surfaceFormat gputypes.TextureFormat

	logger atomic.Pointer[slog.Logger]

	// ID generation
	nextID atomic.Uint64

	mu      sync.RWMutex
	buffers map[device.BufferID]*halBuffer
	images  map[device.ImageID]*halImage
	views   map[device.ImageViewID]*halView

	// submitMu serializes queue access and guards the fields below.
	submitMu sync.Mutex
	fence    hal.Fence
	serial   uint64
	inflight []inflight

	submits     atomic.Uint64
	barriers    atomic.Uint64
	transitions atomic.Uint64
	presents    atomic.Uint64

	aliasWarning sync.Once
}

// Counters reports what the device has been asked to do.
type Counters struct {
	Submits     uint64
	Barriers    uint64
	Transitions uint64
	Presents    uint64
}

// New wraps device and queue. If limits is nil, default limits are used.
func New(name string, dev hal.Device, queue hal.Queue, limits *gputypes.Limits) *Device {
	lim := gputypes.DefaultLimits()
	if limits != nil {
		lim = *limits
	}
	d := &Device{
		name:    name,
		device:  dev,
		queue:   queue,
		limits:  lim,
		buffers: make(map[device.BufferID]*halBuffer),
		images:  make(map[device.ImageID]*halImage),
		views:   make(map[device.ImageViewID]*halView),
	}
	d.logger.Store(slog.New(nopHandler{}))
	return d
}

// NewFromProvider shares the device of a host application. The provider
// must also expose HalDevice() and HalQueue() returning hal.Device and
// hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNoHALProvider, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNoHALProvider, hp.HalQueue())
	}
	d := New("provider", dev, queue, nil)
	d.surfaceFormat = provider.SurfaceFormat()
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// SurfaceFormat returns the provider's surface format, or
// TextureFormatUndefined for devices created with New.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return d.surfaceFormat }

// Limits returns the adapter limits the device was created with.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// SetLogger sets the logger for device diagnostics. Nil restores the
// silent default.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	d.logger.Store(l)
}

func (d *Device) log() *slog.Logger { return d.logger.Load() }

// Counters returns a snapshot of the device counters.
func (d *Device) Counters() Counters {
	return Counters{
		Submits:     d.submits.Load(),
		Barriers:    d.barriers.Load(),
		Transitions: d.transitions.Load(),
		Presents:    d.presents.Load(),
	}
}

// newID generates a unique resource ID. Zero is never returned.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

// === Buffers ===

func (d *Device) CreateBuffer(info device.BufferInfo) (device.BufferID, error) {
	if info.Size == 0 {
		return device.InvalidID, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, info.Name)
	}
	if info.Size > d.limits.MaxBufferSize {
		return device.InvalidID, fmt.Errorf("%w: buffer %q of %d bytes exceeds %d",
			ErrInvalidDescriptor, info.Name, info.Size, d.limits.MaxBufferSize)
	}
	usage := info.Usage
	if info.HostVisible {
		// Host writes reach the buffer through Queue.WriteBuffer.
		usage = usage&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageMapWrite) | gputypes.BufferUsageCopyDst
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: info.Name,
		Size:  alloc.AlignUp(info.Size, 4),
		Usage: usage,
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create buffer %q: %w", info.Name, err)
	}
	b := &halBuffer{buf: buf, info: info}
	if info.HostVisible {
		b.host = make([]byte, info.Size)
	}

	id := device.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = b
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if ok {
		delete(d.buffers, id)
	}
	d.mu.Unlock()

	if ok {
		d.device.DestroyBuffer(b.buf)
	}
}

func (d *Device) LookupBuffer(id device.BufferID) (device.BufferInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return device.BufferInfo{}, false
	}
	return b.info, true
}

// BufferDeviceAddress returns an opaque handle of the buffer. WebGPU has
// no buffer device addresses; the value is unique per live buffer.
func (d *Device) BufferDeviceAddress(id device.BufferID) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.buffers[id]; !ok {
		return 0
	}
	return uint64(id) << 32
}

// MapBuffer returns the host shadow of a HostVisible buffer. The shadow is
// uploaded before every submission.
func (d *Device) MapBuffer(id device.BufferID) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if b.host == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotMappable, b.info.Name)
	}
	return b.host, nil
}

// === Images ===

func (d *Device) CreateImage(info device.ImageInfo) (device.ImageID, error) {
	if info.Width == 0 || info.Height == 0 {
		return device.InvalidID, fmt.Errorf("%w: image %q has zero extent", ErrInvalidDescriptor, info.Name)
	}
	dim := info.Dimension
	layers := max(info.ArrayLayers, 1)
	switch dim {
	case gputypes.TextureDimension1D:
	case gputypes.TextureDimension3D:
		layers = max(info.Depth, 1)
	default:
		dim = gputypes.TextureDimension2D
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: info.Name,
		Size: hal.Extent3D{
			Width:              info.Width,
			Height:             info.Height,
			DepthOrArrayLayers: layers,
		},
		MipLevelCount: max(info.MipLevels, 1),
		SampleCount:   max(info.SampleCount, 1),
		Dimension:     dim,
		Format:        info.Format,
		Usage:         info.Usage,
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create image %q: %w", info.Name, err)
	}
	info.MipLevels = max(info.MipLevels, 1)
	info.ArrayLayers = max(info.ArrayLayers, 1)

	id := device.ImageID(d.newID())
	d.mu.Lock()
	d.images[id] = &halImage{tex: tex, info: info}
	d.mu.Unlock()
	return id, nil
}

// DestroyImage destroys the image and every view of it.
func (d *Device) DestroyImage(id device.ImageID) {
	d.mu.Lock()
	img, ok := d.images[id]
	if ok {
		delete(d.images, id)
	}
	var views []hal.TextureView
	for vid, v := range d.views {
		if v.image == id {
			views = append(views, v.view)
			delete(d.views, vid)
		}
	}
	d.mu.Unlock()

	for _, v := range views {
		d.device.DestroyTextureView(v)
	}
	if ok && !img.external {
		d.device.DestroyTexture(img.tex)
	}
}

func (d *Device) LookupImage(id device.ImageID) (device.ImageInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	img, ok := d.images[id]
	if !ok {
		return device.ImageInfo{}, false
	}
	return img.info, true
}

// Texture returns the hal texture of an image, for callbacks that record
// hal commands directly.
func (d *Device) Texture(id device.ImageID) (hal.Texture, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	img, ok := d.images[id]
	if !ok {
		return nil, false
	}
	return img.tex, true
}

// Buffer returns the hal buffer of a buffer ID.
func (d *Device) Buffer(id device.BufferID) (hal.Buffer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, false
	}
	return b.buf, true
}

// TextureView returns the hal view of a view ID.
func (d *Device) TextureView(id device.ImageViewID) (hal.TextureView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.views[id]
	if !ok {
		return nil, false
	}
	return v.view, true
}

func (d *Device) CreateImageView(info device.ImageViewInfo) (device.ImageViewID, error) {
	d.mu.RLock()
	img, ok := d.images[info.Image]
	d.mu.RUnlock()
	if !ok {
		return device.InvalidID, fmt.Errorf("%w: image %d", ErrUnknownResource, info.Image)
	}
	if !info.Slice.Within(img.info.MipLevels, img.info.ArrayLayers) {
		return device.InvalidID, fmt.Errorf("%w: view slice %s outside image %q", ErrInvalidDescriptor, info.Slice, img.info.Name)
	}
	view, err := d.device.CreateTextureView(img.tex, &hal.TextureViewDescriptor{
		Label:           info.Name,
		Format:          img.info.Format,
		Dimension:       info.Dimension,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    info.Slice.BaseMip,
		MipLevelCount:   info.Slice.MipCount,
		BaseArrayLayer:  info.Slice.BaseLayer,
		ArrayLayerCount: info.Slice.LayerCount,
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create view of %q: %w", img.info.Name, err)
	}

	id := device.ImageViewID(d.newID())
	d.mu.Lock()
	d.views[id] = &halView{view: view, image: info.Image}
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroyImageView(id device.ImageViewID) {
	d.mu.Lock()
	v, ok := d.views[id]
	if ok {
		delete(d.views, id)
	}
	d.mu.Unlock()

	if ok {
		d.device.DestroyTextureView(v.view)
	}
}

// === Acceleration structures ===

func (d *Device) CreateBLAS(info device.AccelerationStructureInfo) (device.BLASID, error) {
	return device.InvalidID, fmt.Errorf("%w: BLAS %q", device.ErrUnsupported, info.Name)
}

func (d *Device) CreateTLAS(info device.AccelerationStructureInfo) (device.TLASID, error) {
	return device.InvalidID, fmt.Errorf("%w: TLAS %q", device.ErrUnsupported, info.Name)
}

func (d *Device) DestroyBLAS(device.BLASID) {}
func (d *Device) DestroyTLAS(device.TLASID) {}

func (d *Device) LookupBLAS(device.BLASID) (device.AccelerationStructureInfo, bool) {
	return device.AccelerationStructureInfo{}, false
}

func (d *Device) LookupTLAS(device.TLASID) (device.AccelerationStructureInfo, bool) {
	return device.AccelerationStructureInfo{}, false
}

func (d *Device) BLASDeviceAddress(device.BLASID) uint64 { return 0 }
func (d *Device) TLASDeviceAddress(device.TLASID) uint64 { return 0 }

// === Memory ===

func (d *Device) BufferMemoryRequirements(info device.BufferInfo) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           alloc.AlignUp(info.Size, bufferAlignment),
		Alignment:      bufferAlignment,
		MemoryTypeBits: memoryTypeBits,
	}
}

func (d *Device) ImageMemoryRequirements(info device.ImageInfo) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           alloc.AlignUp(device.ImageByteSize(info), imageAlignment),
		Alignment:      imageAlignment,
		MemoryTypeBits: memoryTypeBits,
	}
}

func (d *Device) AccelerationStructureMemoryRequirements(info device.AccelerationStructureInfo) device.MemoryRequirements {
	return device.MemoryRequirements{Size: alloc.AlignUp(info.Size, bufferAlignment), Alignment: bufferAlignment, MemoryTypeBits: memoryTypeBits}
}

// Block is a memory block. WebGPU cannot place resources in caller-owned
// memory, so resources created from a block get dedicated allocations and
// the block only accounts for their placement.
type Block struct {
	name string
	size uint64
}

func (b *Block) Size() uint64 { return b.size }
func (b *Block) Destroy()     {}

func (d *Device) CreateMemoryBlock(req device.MemoryRequirements, name string) (device.MemoryBlock, error) {
	if req.MemoryTypeBits&memoryTypeBits == 0 {
		return nil, fmt.Errorf("%w: memory block %q has no memory type", ErrInvalidDescriptor, name)
	}
	return &Block{name: name, size: req.Size}, nil
}

func (d *Device) checkBlock(block device.MemoryBlock, offset, size uint64, what string) error {
	b, ok := block.(*Block)
	if !ok {
		return fmt.Errorf("%w: foreign memory block for %s", ErrUnknownResource, what)
	}
	if offset+size > b.size {
		return fmt.Errorf("%w: %s at [%d,%d) in block %q of %d bytes", ErrInvalidDescriptor, what, offset, offset+size, b.name, b.size)
	}
	d.aliasWarning.Do(func() {
		d.log().Warn("native: transient aliasing is not supported, placed resources get dedicated memory",
			"device", d.name, "block", b.name)
	})
	return nil
}

func (d *Device) CreateBufferFromBlock(info device.BufferInfo, block device.MemoryBlock, offset uint64) (device.BufferID, error) {
	if err := d.checkBlock(block, offset, d.BufferMemoryRequirements(info).Size, "buffer "+info.Name); err != nil {
		return device.InvalidID, err
	}
	return d.CreateBuffer(info)
}

func (d *Device) CreateImageFromBlock(info device.ImageInfo, block device.MemoryBlock, offset uint64) (device.ImageID, error) {
	if err := d.checkBlock(block, offset, d.ImageMemoryRequirements(info).Size, "image "+info.Name); err != nil {
		return device.InvalidID, err
	}
	return d.CreateImage(info)
}

func (d *Device) CreateBLASFromBlock(info device.AccelerationStructureInfo, _ device.MemoryBlock, _ uint64) (device.BLASID, error) {
	return d.CreateBLAS(info)
}

func (d *Device) CreateTLASFromBlock(info device.AccelerationStructureInfo, _ device.MemoryBlock, _ uint64) (device.TLASID, error) {
	return d.CreateTLAS(info)
}

// === Lifetime ===

// WaitIdle blocks until the queue has finished all submitted work.
func (d *Device) WaitIdle() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	d.submitMu.Lock()
	err = d.queue.Submit(nil, fence, 1)
	d.submitMu.Unlock()
	if err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, idleTimeout)
	if err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	if !ok {
		return ErrTimeout
	}
	d.retire(true)
	return nil
}

// Close waits for the queue and destroys every resource still alive. The
// hal device itself stays owned by the caller.
func (d *Device) Close() error {
	err := d.WaitIdle()

	d.mu.Lock()
	views, images, buffers := d.views, d.images, d.buffers
	d.views = make(map[device.ImageViewID]*halView)
	d.images = make(map[device.ImageID]*halImage)
	d.buffers = make(map[device.BufferID]*halBuffer)
	d.mu.Unlock()

	for _, v := range views {
		d.device.DestroyTextureView(v.view)
	}
	for _, img := range images {
		if !img.external {
			d.device.DestroyTexture(img.tex)
		}
	}
	for _, b := range buffers {
		d.device.DestroyBuffer(b.buf)
	}

	d.submitMu.Lock()
	if d.fence != nil {
		d.device.DestroyFence(d.fence)
		d.fence = nil
	}
	d.submitMu.Unlock()
	return err
}

var _ device.Device = (*Device)(nil)

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (nopHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h nopHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return h }
func (h nopHandler) WithGroup(_ string) slog.Handler             { return h }
