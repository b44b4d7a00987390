package taskgraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/fakedevice"
)

// newTestGraph creates a graph on a fresh fake device. The transfer pool is
// disabled unless info asks for one.
func newTestGraph(t *testing.T, info GraphInfo, opts ...GraphOption) (*fakedevice.Device, *Context, *TaskGraph) {
	t.Helper()
	dev := fakedevice.New("test")
	ctx := NewContext(dev)
	t.Cleanup(ctx.Close)
	if info.StagingMemorySize == 0 {
		info.StagingMemorySize = -1
	}
	g, err := NewGraph(ctx, info, opts...)
	if err != nil {
		t.Fatalf("NewGraph() = %v", err)
	}
	t.Cleanup(g.Close)
	return dev, ctx, g
}

func mustBuffer(t *testing.T, g *TaskGraph, name string, size uint64) BufferView {
	t.Helper()
	v, err := g.CreateTransientBuffer(device.BufferInfo{Name: name, Size: size})
	if err != nil {
		t.Fatalf("CreateTransientBuffer(%q) = %v", name, err)
	}
	return v
}

func mustImage(t *testing.T, g *TaskGraph, name string, w, h uint32) ImageView {
	t.Helper()
	v, err := g.CreateTransientImage(device.ImageInfo{
		Name:   name,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  w,
		Height: h,
	})
	if err != nil {
		t.Fatalf("CreateTransientImage(%q) = %v", name, err)
	}
	return v
}

func mustTask(t *testing.T, g *TaskGraph, task Task) {
	t.Helper()
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask(%q) = %v", task.Name, err)
	}
}

func mustComplete(t *testing.T, g *TaskGraph) {
	t.Helper()
	if err := g.Complete(); err != nil {
		t.Fatalf("Complete() = %v", err)
	}
}

// externalBuffer creates a device buffer and wraps it as an external.
func externalBuffer(t *testing.T, dev *fakedevice.Device, ctx *Context, name string, usage gputypes.BufferUsage) (*ExternalBuffer, device.BufferID) {
	t.Helper()
	id, err := dev.CreateBuffer(device.BufferInfo{Name: name, Size: 1024, Usage: usage})
	if err != nil {
		t.Fatal(err)
	}
	return ctx.NewExternalBuffer(ExternalBufferInfo{Name: name, Buffer: id}), id
}

func TestNewGraphDefaults(t *testing.T) {
	dev := fakedevice.New("defaults")
	ctx := NewContext(dev)
	defer ctx.Close()

	g, err := NewGraph(ctx, GraphInfo{})
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	info := g.Info()
	if info.Name != DefaultGraphName {
		t.Errorf("Name = %q, want %q", info.Name, DefaultGraphName)
	}
	if info.StagingMemorySize != DefaultStagingMemorySize {
		t.Errorf("StagingMemorySize = %d, want %d", info.StagingMemorySize, DefaultStagingMemorySize)
	}
	if info.ViewCacheSize != DefaultViewCacheSize {
		t.Errorf("ViewCacheSize = %d, want %d", info.ViewCacheSize, DefaultViewCacheSize)
	}
}

func TestNewGraphOptions(t *testing.T) {
	dev := fakedevice.New("options")
	ctx := NewContext(dev)
	defer ctx.Close()

	g, err := NewGraph(ctx, GraphInfo{Name: "base"},
		WithName("frame"),
		WithAliasTransients(true),
		WithSplitBarriers(true),
		WithParallelRecording(3),
		WithStagingMemorySize(-1))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	want := GraphInfo{
		Name:              "frame",
		AliasTransients:   true,
		SplitBarriers:     true,
		ParallelRecording: true,
		RecordWorkers:     3,
		StagingMemorySize: -1,
		ViewCacheSize:     DefaultViewCacheSize,
	}
	if got := g.Info(); got != want {
		t.Errorf("Info() = %+v, want %+v", got, want)
	}
}

func TestNewGraphClosedContext(t *testing.T) {
	ctx := NewContext(fakedevice.New("closed"))
	ctx.Close()
	if _, err := NewGraph(ctx, GraphInfo{}); !errors.Is(err, ErrClosed) {
		t.Errorf("NewGraph() = %v, want ErrClosed", err)
	}
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, dev *fakedevice.Device, ctx *Context, g *TaskGraph) error
		want  error
	}{
		{
			name: "duplicate name",
			build: func(t *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				mustBuffer(t, g, "b", 64)
				_, err := g.CreateTransientImage(device.ImageInfo{Name: "b", Width: 4, Height: 4})
				return err
			},
			want: ErrDuplicateName,
		},
		{
			name: "empty resource name",
			build: func(_ *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				_, err := g.CreateTransientBuffer(device.BufferInfo{Size: 64})
				return err
			},
			want: ErrInvalidResource,
		},
		{
			name: "zero sized buffer",
			build: func(_ *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				_, err := g.CreateTransientBuffer(device.BufferInfo{Name: "b"})
				return err
			},
			want: ErrInvalidResource,
		},
		{
			name: "kind mismatch",
			build: func(t *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				img := mustImage(t, g, "img", 4, 4)
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, img)}})
			},
			want: ErrKindMismatch,
		},
		{
			name: "aliased attachment",
			build: func(t *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				b := mustBuffer(t, g, "b", 64)
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{
					BufferAttachment(ComputeShaderRead, b),
					BufferAttachment(TransferWrite, b),
				}})
			},
			want: ErrAliasedAttachment,
		},
		{
			name: "unregistered external",
			build: func(t *testing.T, dev *fakedevice.Device, ctx *Context, g *TaskGraph) error {
				ext, _ := externalBuffer(t, dev, ctx, "ext", gputypes.BufferUsageStorage)
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, ext.View())}})
			},
			want: ErrUnregisteredResource,
		},
		{
			name: "foreign transient",
			build: func(t *testing.T, _ *fakedevice.Device, ctx *Context, g *TaskGraph) error {
				other, err := NewGraph(ctx, GraphInfo{Name: "other", StagingMemorySize: -1})
				if err != nil {
					t.Fatal(err)
				}
				defer other.Close()
				b := mustBuffer(t, other, "b", 64)
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, b)}})
			},
			want: ErrForeignResource,
		},
		{
			name: "external of another context",
			build: func(t *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				dev2 := fakedevice.New("other")
				ctx2 := NewContext(dev2)
				defer ctx2.Close()
				ext, _ := externalBuffer(t, dev2, ctx2, "ext", gputypes.BufferUsageStorage)
				_, err := g.RegisterBuffer(ext)
				return err
			},
			want: ErrForeignResource,
		},
		{
			name: "registered twice",
			build: func(t *testing.T, dev *fakedevice.Device, ctx *Context, g *TaskGraph) error {
				ext, _ := externalBuffer(t, dev, ctx, "ext", gputypes.BufferUsageStorage)
				if _, err := g.RegisterBuffer(ext); err != nil {
					t.Fatal(err)
				}
				_, err := g.RegisterBuffer(ext)
				return err
			},
			want: ErrAlreadyRegistered,
		},
		{
			name: "two swapchains",
			build: func(t *testing.T, dev *fakedevice.Device, ctx *Context, g *TaskGraph) error {
				info := device.ImageInfo{Width: 8, Height: 8, Usage: gputypes.TextureUsageRenderAttachment}
				sc1, _ := fakedevice.NewSwapchain(dev, "a", info, 2)
				sc2, _ := fakedevice.NewSwapchain(dev, "b", info, 2)
				if _, err := g.RegisterImage(ctx.NewExternalImage(ExternalImageInfo{Swapchain: sc1})); err != nil {
					t.Fatal(err)
				}
				_, err := g.RegisterImage(ctx.NewExternalImage(ExternalImageInfo{Swapchain: sc2}))
				return err
			},
			want: ErrMultipleSwapchains,
		},
		{
			name: "invalid queue",
			build: func(_ *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				return g.AddTask(Task{Name: "t", Queue: device.Queue(device.QueueCount)})
			},
			want: ErrInvalidTask,
		},
		{
			name: "slice outside image",
			build: func(t *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				img := mustImage(t, g, "img", 4, 4)
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{
					ImageAttachment(ComputeShaderWrite, img.Mips(1, 1)),
				}})
			},
			want: ErrInvalidTask,
		},
		{
			name: "missing view",
			build: func(_ *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				return g.AddTask(Task{Name: "t", Attachments: []Attachment{{Kind: KindBuffer, Access: ComputeShaderRead}}})
			},
			want: ErrInvalidTask,
		},
		{
			name: "present without swapchain",
			build: func(_ *testing.T, _ *fakedevice.Device, _ *Context, g *TaskGraph) error {
				return g.Present(PresentInfo{})
			},
			want: ErrPresentWithoutUse,
		},
		{
			name: "task after present",
			build: func(t *testing.T, dev *fakedevice.Device, ctx *Context, g *TaskGraph) error {
				sc, _ := fakedevice.NewSwapchain(dev, "swap", device.ImageInfo{Width: 8, Height: 8}, 2)
				if _, err := g.RegisterImage(ctx.NewExternalImage(ExternalImageInfo{Swapchain: sc})); err != nil {
					t.Fatal(err)
				}
				if err := g.Present(PresentInfo{}); err != nil {
					t.Fatal(err)
				}
				return g.AddTask(Task{Name: "late"})
			},
			want: ErrAfterPresent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ctx, g := newTestGraph(t, GraphInfo{Name: "errors"})
			err := tt.build(t, dev, ctx, g)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(g.Err(), tt.want) {
				t.Errorf("Err() = %v, want %v", g.Err(), tt.want)
			}

			// The graph refuses further work and reports the first error.
			err = g.AddTask(Task{Name: "after"})
			if !errors.Is(err, ErrGraphFailed) || !errors.Is(err, tt.want) {
				t.Errorf("AddTask after failure = %v, want ErrGraphFailed wrapping %v", err, tt.want)
			}
			if err := g.Complete(); !errors.Is(err, ErrGraphFailed) {
				t.Errorf("Complete after failure = %v, want ErrGraphFailed", err)
			}
		})
	}
}

func TestCompletedGraphRejectsChanges(t *testing.T) {
	_, _, g := newTestGraph(t, GraphInfo{Name: "done"})
	mustTask(t, g, Task{Name: "only"})
	mustComplete(t, g)

	if err := g.AddTask(Task{Name: "late"}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("AddTask() = %v, want ErrGraphCompleted", err)
	}
	if _, err := g.CreateTransientBuffer(device.BufferInfo{Name: "b", Size: 4}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("CreateTransientBuffer() = %v, want ErrGraphCompleted", err)
	}
	if _, err := g.CreateTransientBuffer(device.BufferInfo{Name: "empty"}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("CreateTransientBuffer() with zero size = %v, want ErrGraphCompleted", err)
	}
	if _, err := g.CreateTransientImage(device.ImageInfo{Name: "flat"}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("CreateTransientImage() with zero extent = %v, want ErrGraphCompleted", err)
	}
	if _, err := g.CreateTransientBLAS(device.AccelerationStructureInfo{Name: "blas"}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("CreateTransientBLAS() with zero size = %v, want ErrGraphCompleted", err)
	}
	if _, err := g.CreateTransientTLAS(device.AccelerationStructureInfo{Name: "tlas"}); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("CreateTransientTLAS() with zero size = %v, want ErrGraphCompleted", err)
	}
	if err := g.Complete(); !errors.Is(err, ErrGraphCompleted) {
		t.Errorf("second Complete() = %v, want ErrGraphCompleted", err)
	}
	if g.Err() != nil {
		t.Errorf("Err() = %v, want nil", g.Err())
	}
	if !g.Completed() {
		t.Error("Completed() = false")
	}
}

func TestExecuteBeforeComplete(t *testing.T) {
	_, _, g := newTestGraph(t, GraphInfo{})
	mustTask(t, g, Task{Name: "only"})
	if err := g.Execute(t.Context(), ExecuteInfo{}); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Execute() = %v, want ErrNotCompleted", err)
	}
}

func TestCloseReleasesResources(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "close"})
	ext, _ := externalBuffer(t, dev, ctx, "ext", gputypes.BufferUsageStorage)
	ev, err := g.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	if ext.Attached() != 1 {
		t.Errorf("Attached() = %d, want 1", ext.Attached())
	}
	b := mustBuffer(t, g, "scratch", 256)
	img := mustImage(t, g, "img", 16, 16)
	mustTask(t, g, Task{Name: "t", Attachments: []Attachment{
		BufferAttachment(ComputeShaderWrite, b),
		BufferAttachment(ComputeShaderRead, ev),
		ImageAttachment(ComputeShaderWrite, img),
	}})
	mustComplete(t, g)

	live := dev.Live()
	if live.Blocks != 1 || live.Images != 1 || live.Views != 1 || live.Buffers != 2 {
		t.Errorf("Live() after Complete = %+v", live)
	}

	g.Close()
	live = dev.Live()
	if live.Blocks != 0 || live.Images != 0 || live.Views != 0 || live.Buffers != 1 {
		t.Errorf("Live() after Close = %+v, want only the external buffer", live)
	}
	if ext.Attached() != 0 {
		t.Errorf("Attached() after Close = %d, want 0", ext.Attached())
	}
	if err := g.Execute(t.Context(), ExecuteInfo{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() after Close = %v, want ErrClosed", err)
	}
	if err := g.AddTask(Task{}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddTask() after Close = %v, want ErrClosed", err)
	}
}

func TestUnusedTransientsAreNotCreated(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{})
	mustBuffer(t, g, "unused", 1024)
	used := mustBuffer(t, g, "used", 1024)
	mustTask(t, g, Task{Name: "t", Attachments: []Attachment{BufferAttachment(TransferWrite, used)}})
	mustComplete(t, g)

	if n := dev.Live().Buffers; n != 1 {
		t.Errorf("live buffers = %d, want 1", n)
	}
	if st := g.Stats(); st.Transients != 1 {
		t.Errorf("Stats().Transients = %d, want 1", st.Transients)
	}
}

func TestDefaultTaskNames(t *testing.T) {
	_, _, g := newTestGraph(t, GraphInfo{})
	mustTask(t, g, Task{})
	mustTask(t, g, Task{Queue: device.QueueCompute0})
	mustComplete(t, g)

	s := g.Schedule()
	for _, name := range []string{"task0", "task1"} {
		if _, ok := s.Task(name); !ok {
			t.Errorf("task %q not in schedule", name)
		}
	}
}
