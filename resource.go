package taskgraph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/slice"
)

// Kind is the kind of a resource. It never changes.
type Kind uint8

// Resource kinds.
const (
	KindInvalid Kind = iota
	KindBuffer
	KindImage
	KindBLAS
	KindTLAS
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindBLAS:
		return "blas"
	case KindTLAS:
		return "tlas"
	}
	return "invalid"
}

// ResourceID identifies a resource in the eyes of graphs. External
// resources carry a context-wide unique id; transient resources carry the
// creating graph and their index in it.
type ResourceID struct {
	kind  Kind
	uid   uint64
	graph uint32
	index uint32
}

// Kind returns the kind of the identified resource.
func (id ResourceID) Kind() Kind { return id.kind }

// IsZero reports whether id identifies nothing.
func (id ResourceID) IsZero() bool { return id.kind == KindInvalid }

// External reports whether id identifies an external resource.
func (id ResourceID) External() bool { return id.uid != 0 }

// View is anything that identifies a resource for an attachment.
type View interface {
	ResourceID() ResourceID
}

// BufferView refers to a buffer.
type BufferView struct{ id ResourceID }

func (v BufferView) ResourceID() ResourceID { return v.id }

// BLASView refers to a bottom level acceleration structure.
type BLASView struct{ id ResourceID }

func (v BLASView) ResourceID() ResourceID { return v.id }

// TLASView refers to a top level acceleration structure.
type TLASView struct{ id ResourceID }

func (v TLASView) ResourceID() ResourceID { return v.id }

// ImageView refers to a slice of an image. A zero count in the slice means
// "to the last mip" or "to the last layer", so the zero slice covers the
// whole image.
type ImageView struct {
	id    ResourceID
	slice device.ImageSlice
}

func (v ImageView) ResourceID() ResourceID { return v.id }

// Slice returns the requested slice. Zero counts are resolved against the
// image when the view is attached.
func (v ImageView) Slice() device.ImageSlice { return v.slice }

// WithSlice returns a view of s.
func (v ImageView) WithSlice(s device.ImageSlice) ImageView {
	v.slice = s
	return v
}

// Mips returns a view restricted to count mips starting at base.
func (v ImageView) Mips(base, count uint32) ImageView {
	v.slice.BaseMip, v.slice.MipCount = base, count
	return v
}

// Layers returns a view restricted to count layers starting at base.
func (v ImageView) Layers(base, count uint32) ImageView {
	v.slice.BaseLayer, v.slice.LayerCount = base, count
	return v
}

// resolve fills zero counts against an image of mips levels and layers
// layers.
func (v ImageView) resolve(mips, layers uint32) device.ImageSlice {
	s := v.slice
	if s.MipCount == 0 && s.BaseMip < mips {
		s.MipCount = mips - s.BaseMip
	}
	if s.LayerCount == 0 && s.BaseLayer < layers {
		s.LayerCount = layers - s.BaseLayer
	}
	return s
}

// payload is the device identity of a resource, tagged by Kind.
type payload struct {
	kind   Kind
	buffer device.BufferID
	image  device.ImageID
	blas   device.BLASID
	tlas   device.TLASID
}

func (p payload) isZero() bool {
	switch p.kind {
	case KindBuffer:
		return p.buffer == 0
	case KindImage:
		return p.image == 0
	case KindBLAS:
		return p.blas == 0
	case KindTLAS:
		return p.tlas == 0
	}
	return true
}

func (p payload) String() string {
	switch p.kind {
	case KindBuffer:
		return fmt.Sprintf("buffer#%d", p.buffer)
	case KindImage:
		return fmt.Sprintf("image#%d", p.image)
	case KindBLAS:
		return fmt.Sprintf("blas#%d", p.blas)
	case KindTLAS:
		return fmt.Sprintf("tlas#%d", p.tlas)
	}
	return "none"
}

// sliceState is the persisted state of one image slice.
type sliceState struct {
	layout device.Layout
	access device.Access
	queues device.QueueBits
}

// persisted is the access state an external resource carries from one
// execution to the next.
type persisted struct {
	access   device.Access // buffers and acceleration structures
	queues   device.QueueBits
	timeline [device.QueueCount]uint64 // value signalled after the last use on each queue
	slices   []slice.Entry[sliceState]
}

// external is the shared state behind the External* handles.
type external struct {
	ctx       *Context
	uid       uint64
	kind      Kind
	name      string
	swapchain device.Swapchain

	// Slice extent used to resolve whole-image views.
	mips, layers uint32

	// initialLayout is assumed for slices with no persisted state.
	initialLayout device.Layout

	mu         sync.Mutex
	id         payload
	generation uint64
	state      persisted

	graphs atomic.Int32
}

func newExternal(c *Context, kind Kind, name string, id payload) *external {
	e := &external{ctx: c, uid: c.newUID(), kind: kind, name: name, id: id, mips: 1, layers: 1}
	e.id.kind = kind
	return e
}

func (e *external) view() ResourceID { return ResourceID{kind: e.kind, uid: e.uid} }

// current returns the identity to use for the next execution.
func (e *external) current() (payload, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.swapchain != nil {
		id := e.swapchain.CurrentImage()
		if id != e.id.image {
			e.id.image = id
			e.generation++
		}
	}
	return e.id, e.generation
}

func (e *external) set(id payload, layout device.Layout) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id.kind = e.kind
	if id == e.id {
		return
	}
	e.id = id
	e.generation++
	e.initialLayout = layout
	e.state = persisted{}
}

func (e *external) snapshot() persisted {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.slices = append([]slice.Entry[sliceState](nil), e.state.slices...)
	return s
}

func (e *external) store(s persisted) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// ExternalBufferInfo describes an external buffer.
type ExternalBufferInfo struct {
	Name   string
	Buffer device.BufferID
}

// ExternalBuffer is a buffer owned by the caller whose identity may change
// between executions. Its access state persists across graphs of the same
// Context.
type ExternalBuffer struct{ e *external }

// NewExternalBuffer creates an external buffer.
func (c *Context) NewExternalBuffer(info ExternalBufferInfo) *ExternalBuffer {
	return &ExternalBuffer{e: newExternal(c, KindBuffer, info.Name, payload{buffer: info.Buffer})}
}

func (b *ExternalBuffer) Name() string     { return b.e.name }
func (b *ExternalBuffer) View() BufferView { return BufferView{id: b.e.view()} }

// Attached returns the number of open graphs that registered b.
func (b *ExternalBuffer) Attached() int { return int(b.e.graphs.Load()) }

// Buffer returns the current buffer.
func (b *ExternalBuffer) Buffer() device.BufferID {
	id, _ := b.e.current()
	return id.buffer
}

// SetBuffer replaces the buffer. The new buffer is assumed idle.
func (b *ExternalBuffer) SetBuffer(id device.BufferID) {
	b.e.set(payload{buffer: id}, device.LayoutUndefined)
}

// ExternalImageInfo describes an external image.
type ExternalImageInfo struct {
	Name  string
	Image device.ImageID

	// Swapchain, when set, supplies the image at every execution and marks
	// the resource as the graph's presentation target.
	Swapchain device.Swapchain

	// MipLevels and ArrayLayers bound whole-image views. Zero means one.
	MipLevels   uint32
	ArrayLayers uint32

	// InitialLayout is the layout of Image before its first use.
	InitialLayout device.Layout
}

// ExternalImage is an image owned by the caller, or a swapchain image.
type ExternalImage struct{ e *external }

// NewExternalImage creates an external image.
func (c *Context) NewExternalImage(info ExternalImageInfo) *ExternalImage {
	e := newExternal(c, KindImage, info.Name, payload{image: info.Image})
	e.swapchain = info.Swapchain
	e.mips = max(info.MipLevels, 1)
	e.layers = max(info.ArrayLayers, 1)
	e.initialLayout = info.InitialLayout
	if e.name == "" && info.Swapchain != nil {
		e.name = info.Swapchain.Name()
	}
	return &ExternalImage{e: e}
}

func (i *ExternalImage) Name() string    { return i.e.name }
func (i *ExternalImage) View() ImageView { return ImageView{id: i.e.view()} }
func (i *ExternalImage) Attached() int   { return int(i.e.graphs.Load()) }

// Swapchain returns the swapchain backing the image, if any.
func (i *ExternalImage) Swapchain() device.Swapchain { return i.e.swapchain }

// Image returns the current image.
func (i *ExternalImage) Image() device.ImageID {
	id, _ := i.e.current()
	return id.image
}

// SetImage replaces the image. layout is the layout the new image is in;
// its persisted per-slice state is discarded.
func (i *ExternalImage) SetImage(id device.ImageID, layout device.Layout) {
	i.e.set(payload{image: id}, layout)
}

// Layout returns the persisted layout of the subresource (mip, layer).
func (i *ExternalImage) Layout(mip, layer uint32) device.Layout {
	s := i.e.snapshot()
	matches, _ := slice.Query(s.slices, device.ImageSlice{BaseMip: mip, MipCount: 1, BaseLayer: layer, LayerCount: 1})
	if len(matches) == 0 {
		i.e.mu.Lock()
		defer i.e.mu.Unlock()
		return i.e.initialLayout
	}
	return matches[0].Value.layout
}

// ExternalAccelerationStructureInfo describes an external BLAS or TLAS.
type ExternalAccelerationStructureInfo struct {
	Name string
	BLAS device.BLASID
	TLAS device.TLASID
}

// ExternalBLAS is a caller-owned bottom level acceleration structure.
type ExternalBLAS struct{ e *external }

// NewExternalBLAS creates an external BLAS from info.BLAS.
func (c *Context) NewExternalBLAS(info ExternalAccelerationStructureInfo) *ExternalBLAS {
	return &ExternalBLAS{e: newExternal(c, KindBLAS, info.Name, payload{blas: info.BLAS})}
}

func (b *ExternalBLAS) Name() string   { return b.e.name }
func (b *ExternalBLAS) View() BLASView { return BLASView{id: b.e.view()} }
func (b *ExternalBLAS) Attached() int  { return int(b.e.graphs.Load()) }
func (b *ExternalBLAS) SetBLAS(id device.BLASID) {
	b.e.set(payload{blas: id}, device.LayoutUndefined)
}

// ExternalTLAS is a caller-owned top level acceleration structure.
type ExternalTLAS struct{ e *external }

// NewExternalTLAS creates an external TLAS from info.TLAS.
func (c *Context) NewExternalTLAS(info ExternalAccelerationStructureInfo) *ExternalTLAS {
	return &ExternalTLAS{e: newExternal(c, KindTLAS, info.Name, payload{tlas: info.TLAS})}
}

func (t *ExternalTLAS) Name() string   { return t.e.name }
func (t *ExternalTLAS) View() TLASView { return TLASView{id: t.e.view()} }
func (t *ExternalTLAS) Attached() int  { return int(t.e.graphs.Load()) }
func (t *ExternalTLAS) SetTLAS(id device.TLASID) {
	t.e.set(payload{tlas: id}, device.LayoutUndefined)
}
