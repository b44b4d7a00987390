package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/slice"
)

// resource is a graph-local resource record.
type resource struct {
	index int
	kind  Kind
	name  string

	ext       *external // nil for transients
	swapchain bool

	// Transient descriptions. Usage flags are completed from the accesses.
	bufferInfo device.BufferInfo
	imageInfo  device.ImageInfo
	asInfo     device.AccelerationStructureInfo

	mips, layers uint32

	// refs lists every attachment of the resource, including those with
	// AccessTypeNone.
	refs []use

	// Filled by Complete. final maps every touched slice of an image to
	// the group that touched it last.
	groups []*accessGroup
	final  []slice.Entry[int]

	// Live identity. Transients get theirs at Complete; externals are
	// patched before every execution.
	id         payload
	generation uint64
	patched    bool
}

func (r *resource) transient() bool { return r.ext == nil }

// used reports whether any task accesses the resource.
func (r *resource) used() bool { return len(r.groups) > 0 }

// batchScoped reports whether every access of r happens on one queue
// within one submit. Such resources are tracked at batch granularity.
func (r *resource) batchScoped() (device.Queue, bool) {
	if !r.used() {
		return 0, false
	}
	var queues device.QueueBits
	for _, grp := range r.groups {
		queues |= grp.queues
	}
	q, ok := queues.Single()
	if !ok || r.groups[0].submit != r.groups[len(r.groups)-1].submit {
		return 0, false
	}
	return q, true
}

func (g *TaskGraph) addResource(r *resource) error {
	if r.name == "" {
		return fmt.Errorf("%w: %s without a name", ErrInvalidResource, r.kind)
	}
	if _, dup := g.byName[r.name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, r.name)
	}
	r.index = len(g.resources)
	g.resources = append(g.resources, r)
	g.byName[r.name] = r.index
	return nil
}

func (g *TaskGraph) registerExternal(e *external) (ResourceID, error) {
	if err := g.recording(); err != nil {
		return ResourceID{}, err
	}
	if e.ctx != g.ctx {
		return ResourceID{}, g.fail(fmt.Errorf("%w: external %q belongs to another context", ErrForeignResource, e.name))
	}
	if _, dup := g.byUID[e.uid]; dup {
		return ResourceID{}, g.fail(fmt.Errorf("%w: %q", ErrAlreadyRegistered, e.name))
	}
	if e.swapchain != nil && g.swapchain >= 0 {
		return ResourceID{}, g.fail(fmt.Errorf("%w: %q and %q", ErrMultipleSwapchains,
			g.resources[g.swapchain].name, e.name))
	}
	name := e.name
	if name == "" {
		name = fmt.Sprintf("%s#%d", e.kind, e.uid)
	}
	r := &resource{kind: e.kind, name: name, ext: e, swapchain: e.swapchain != nil, mips: e.mips, layers: e.layers}
	if err := g.addResource(r); err != nil {
		return ResourceID{}, g.fail(err)
	}
	g.byUID[e.uid] = r.index
	if r.swapchain {
		g.swapchain = r.index
	}
	e.graphs.Add(1)
	return e.view(), nil
}

// RegisterBuffer makes an external buffer usable by the graph's tasks.
func (g *TaskGraph) RegisterBuffer(b *ExternalBuffer) (BufferView, error) {
	id, err := g.registerExternal(b.e)
	return BufferView{id: id}, err
}

// RegisterImage makes an external image usable by the graph's tasks. At most
// one swapchain image may be registered.
func (g *TaskGraph) RegisterImage(i *ExternalImage) (ImageView, error) {
	id, err := g.registerExternal(i.e)
	return ImageView{id: id}, err
}

// RegisterBLAS makes an external BLAS usable by the graph's tasks.
func (g *TaskGraph) RegisterBLAS(b *ExternalBLAS) (BLASView, error) {
	id, err := g.registerExternal(b.e)
	return BLASView{id: id}, err
}

// RegisterTLAS makes an external TLAS usable by the graph's tasks.
func (g *TaskGraph) RegisterTLAS(t *ExternalTLAS) (TLASView, error) {
	id, err := g.registerExternal(t.e)
	return TLASView{id: id}, err
}

// createTransient adds r to a recording graph. invalid, if not nil, is the
// reason r's description was rejected; it fails the graph only while the
// graph is still recording.
func (g *TaskGraph) createTransient(r *resource, invalid error) (ResourceID, error) {
	if err := g.recording(); err != nil {
		return ResourceID{}, err
	}
	if invalid != nil {
		return ResourceID{}, g.fail(invalid)
	}
	if err := g.addResource(r); err != nil {
		return ResourceID{}, g.fail(err)
	}
	return ResourceID{kind: r.kind, graph: g.id, index: uint32(r.index)}, nil
}

// CreateTransientBuffer declares a buffer owned by the graph. It is created
// by Complete if a task uses it. Usage flags required by the declared
// accesses are added to info.Usage.
func (g *TaskGraph) CreateTransientBuffer(info device.BufferInfo) (BufferView, error) {
	var invalid error
	if info.Size == 0 {
		invalid = fmt.Errorf("%w: buffer %q has zero size", ErrInvalidResource, info.Name)
	}
	id, err := g.createTransient(&resource{kind: KindBuffer, name: info.Name, bufferInfo: info, mips: 1, layers: 1}, invalid)
	return BufferView{id: id}, err
}

// CreateTransientImage declares an image owned by the graph.
func (g *TaskGraph) CreateTransientImage(info device.ImageInfo) (ImageView, error) {
	var invalid error
	if info.Width == 0 || info.Height == 0 {
		invalid = fmt.Errorf("%w: image %q has zero extent", ErrInvalidResource, info.Name)
	}
	info.MipLevels = max(info.MipLevels, 1)
	info.ArrayLayers = max(info.ArrayLayers, 1)
	info.Depth = max(info.Depth, 1)
	info.SampleCount = max(info.SampleCount, 1)
	id, err := g.createTransient(&resource{
		kind:      KindImage,
		name:      info.Name,
		imageInfo: info,
		mips:      info.MipLevels,
		layers:    info.ArrayLayers,
	}, invalid)
	return ImageView{id: id}, err
}

// CreateTransientBLAS declares a BLAS owned by the graph.
func (g *TaskGraph) CreateTransientBLAS(info device.AccelerationStructureInfo) (BLASView, error) {
	var invalid error
	if info.Size == 0 {
		invalid = fmt.Errorf("%w: blas %q has zero size", ErrInvalidResource, info.Name)
	}
	id, err := g.createTransient(&resource{kind: KindBLAS, name: info.Name, asInfo: info, mips: 1, layers: 1}, invalid)
	return BLASView{id: id}, err
}

// CreateTransientTLAS declares a TLAS owned by the graph.
func (g *TaskGraph) CreateTransientTLAS(info device.AccelerationStructureInfo) (TLASView, error) {
	var invalid error
	if info.Size == 0 {
		invalid = fmt.Errorf("%w: tlas %q has zero size", ErrInvalidResource, info.Name)
	}
	id, err := g.createTransient(&resource{kind: KindTLAS, name: info.Name, asInfo: info, mips: 1, layers: 1}, invalid)
	return TLASView{id: id}, err
}
