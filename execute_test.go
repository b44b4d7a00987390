package taskgraph

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/fakedevice"
)

func mustExecute(t *testing.T, g *TaskGraph, info ExecuteInfo) {
	t.Helper()
	if err := g.Execute(context.Background(), info); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
}

// executeTrace runs g once and returns what the device saw.
func executeTrace(t *testing.T, dev *fakedevice.Device, g *TaskGraph) []string {
	t.Helper()
	dev.ResetTrace()
	mustExecute(t, g, ExecuteInfo{})
	return dev.Trace()
}

func TestExecuteWriteThenRead(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "a"})
	b := mustBuffer(t, g, "B", 256)
	mustTask(t, g, Task{Name: "T1", Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, b)}})
	mustTask(t, g, Task{Name: "T2", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, b)}})
	mustComplete(t, g)

	want := []string{
		"submit main lists=1 wait= signal=",
		"main: label task T1",
		"main: barrier compute_shader:write -> compute_shader:read",
		"main: label task T2",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Fatalf("first trace mismatch (-want +got):\n%s", diff)
	}
	// Later executions reuse the memory the previous one left behind.
	want = slices.Insert(want, 1, "main: barrier compute_shader:read_write -> compute_shader:read_write")
	for i := 1; i < 3; i++ {
		if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
			t.Fatalf("execution %d trace mismatch (-want +got):\n%s", i, diff)
		}
	}
	st := g.Stats()
	if st.Executions != 3 || st.Submissions != 1 {
		t.Errorf("Stats() = %+v, want 3 executions of 1 submission", st)
	}
}

func swapchainGraph(t *testing.T) (*fakedevice.Device, *fakedevice.Swapchain, *ExternalImage, *TaskGraph) {
	t.Helper()
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "b"})
	sc, err := fakedevice.NewSwapchain(dev, "swap", device.ImageInfo{
		Format: gputypes.TextureFormatBGRA8Unorm,
		Width:  64,
		Height: 64,
		Usage:  gputypes.TextureUsageRenderAttachment,
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	ext := ctx.NewExternalImage(ExternalImageInfo{Swapchain: sc})
	v, err := g.RegisterImage(ext)
	if err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "draw", Attachments: []Attachment{ImageAttachment(ColorAttachment, v)}})
	if err := g.Present(PresentInfo{}); err != nil {
		t.Fatal(err)
	}
	mustComplete(t, g)
	return dev, sc, ext, g
}

func TestExecutePresent(t *testing.T) {
	dev, sc, ext, g := swapchainGraph(t)

	if ext.Name() != "swap" {
		t.Errorf("Name() = %q, want the swapchain name", ext.Name())
	}
	s := g.Schedule()
	if s.Present == nil || *s.Present != (QueueRef{Submit: 0, Queue: device.QueueMain}) {
		t.Errorf("Present = %+v, want submit 0 on main", s.Present)
	}
	q := s.Submits[0].Queues[0]
	if !q.WaitsAcquire || !q.SignalsPresent {
		t.Errorf("queue = %+v, want it to wait for acquire and signal present", q)
	}

	for i, img := range []string{"swap[0]", "swap[1]", "swap[0]"} {
		sc.Acquire()
		want := []string{
			"submit main lists=1 wait=swap.acquire signal=swap.present",
			"main: image-barrier " + img + " mips[0,1) layers[0,1) color_attachment:none -> color_attachment:read_write UNDEFINED -> ATTACHMENT",
			"main: label task draw",
			"main: image-barrier " + img + " mips[0,1) layers[0,1) color_attachment:read_write -> none:none ATTACHMENT -> PRESENT_SRC",
			"present swap on main",
		}
		if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
			t.Fatalf("execution %d trace mismatch (-want +got):\n%s", i, diff)
		}
	}
	if dev.Presents() != 3 {
		t.Errorf("Presents() = %d, want 3", dev.Presents())
	}
	if l := ext.Layout(0, 0); l != device.LayoutPresentSrc {
		t.Errorf("Layout(0, 0) = %s, want PRESENT_SRC", l)
	}
	if n := dev.Live().Views; n != 1 {
		t.Errorf("live views = %d, want only the view of the current image", n)
	}
}

func TestExecuteWithoutAcquire(t *testing.T) {
	_, _, _, g := swapchainGraph(t)
	err := g.Execute(context.Background(), ExecuteInfo{})
	if !errors.Is(err, ErrInvalidExternal) {
		t.Fatalf("Execute() = %v, want ErrInvalidExternal", err)
	}
	if g.Err() != nil {
		t.Errorf("Err() = %v, want the graph to stay usable", g.Err())
	}
}

// An external buffer written on compute0 and read on main connects every
// execution after the first to the read of the previous one.
func TestExecuteIsIdempotent(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "idem"})
	ext, _ := externalBuffer(t, dev, ctx, "data", gputypes.BufferUsageStorage)
	v, err := g.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "produce", Queue: device.QueueCompute0, Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, v)}})
	if err := g.Submit(SubmitInfo{}); err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "consume", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, v)}})
	mustComplete(t, g)

	first := executeTrace(t, dev, g)
	wantFirst := []string{
		"submit compute0 lists=1 wait= signal=",
		"compute0: label task produce",
		"submit main lists=1 wait=taskgraph.compute0 signal=",
		"main: label task consume",
	}
	if diff := cmp.Diff(wantFirst, first); diff != "" {
		t.Fatalf("first trace mismatch (-want +got):\n%s", diff)
	}

	second := executeTrace(t, dev, g)
	third := executeTrace(t, dev, g)
	if diff := cmp.Diff(second, third); diff != "" {
		t.Errorf("repeated executions differ (-second +third):\n%s", diff)
	}
	if second[0] != "submit compute0 lists=1 wait=taskgraph.main signal=" {
		t.Errorf("second execution starts with %q, want a wait on the main queue", second[0])
	}
}

func TestExecutePatchesExternalBuffer(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "patch"})
	ext, b1 := externalBuffer(t, dev, ctx, "data", gputypes.BufferUsageStorage)
	v, err := g.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	var (
		gotBuffer device.BufferID
		gotAddr   uint64
		gotBlob   []byte
	)
	mustTask(t, g, Task{
		Name:        "use",
		Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, v)},
		Callback: func(ti *TaskInterface) error {
			gotBuffer, gotAddr, gotBlob = ti.Buffer(0), ti.DeviceAddress(0), ti.AttachmentBlob()
			return nil
		},
	})
	mustComplete(t, g)

	check := func(id device.BufferID, patches uint64) {
		t.Helper()
		mustExecute(t, g, ExecuteInfo{})
		if gotBuffer != id {
			t.Errorf("Buffer(0) = %d, want %d", gotBuffer, id)
		}
		if want := dev.BufferDeviceAddress(id); gotAddr != want {
			t.Errorf("DeviceAddress(0) = %#x, want %#x", gotAddr, want)
		}
		if got := binary.LittleEndian.Uint64(gotBlob); got != gotAddr {
			t.Errorf("blob holds %#x, want %#x", got, gotAddr)
		}
		if got := g.Stats().Patches; got != patches {
			t.Errorf("Patches = %d, want %d", got, patches)
		}
	}
	check(b1, 1)
	check(b1, 1)

	b2, _ := dev.CreateBuffer(device.BufferInfo{Name: "data2", Size: 1024, Usage: gputypes.BufferUsageStorage})
	ext.SetBuffer(b2)
	check(b2, 2)

	dev.DestroyBuffer(b2)
	if err := g.Execute(context.Background(), ExecuteInfo{}); !errors.Is(err, ErrInvalidExternal) {
		t.Fatalf("Execute() with destroyed buffer = %v, want ErrInvalidExternal", err)
	}
	if g.Err() != nil {
		t.Fatalf("Err() = %v, want nil", g.Err())
	}
	b3, _ := dev.CreateBuffer(device.BufferInfo{Name: "data3", Size: 1024, Usage: gputypes.BufferUsageStorage})
	ext.SetBuffer(b3)
	check(b3, 3)
}

func TestExecuteUsageMismatch(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "usage"})
	ext, _ := externalBuffer(t, dev, ctx, "src", gputypes.BufferUsageCopySrc)
	v, err := g.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "write", Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, v)}})
	mustComplete(t, g)

	if err := g.Execute(context.Background(), ExecuteInfo{}); !errors.Is(err, ErrUsageMismatch) {
		t.Fatalf("Execute() = %v, want ErrUsageMismatch", err)
	}
	if len(dev.Trace()) != 0 {
		t.Errorf("trace = %q, want nothing submitted", dev.Trace())
	}
}

func TestExecuteExternalImage(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "img"})
	newImage := func(name string) device.ImageID {
		id, err := dev.CreateImage(device.ImageInfo{
			Name:   name,
			Format: gputypes.TextureFormatRGBA8Unorm,
			Width:  16,
			Height: 16,
			Usage:  gputypes.TextureUsageStorageBinding,
		})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	ext := ctx.NewExternalImage(ExternalImageInfo{Name: "tex", Image: newImage("tex")})
	v, err := g.RegisterImage(ext)
	if err != nil {
		t.Fatal(err)
	}
	var view device.ImageViewID
	mustTask(t, g, Task{
		Name:        "fill",
		Attachments: []Attachment{ImageAttachment(ComputeShaderWrite, v)},
		Callback: func(ti *TaskInterface) error {
			view = ti.View(0)
			return nil
		},
	})
	mustComplete(t, g)

	want := []string{
		"submit main lists=1 wait= signal=",
		"main: image-barrier tex mips[0,1) layers[0,1) none:none -> compute_shader:write UNDEFINED -> GENERAL",
		"main: label task fill",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Fatalf("first trace mismatch (-want +got):\n%s", diff)
	}
	first := view

	want[1] = "main: image-barrier tex mips[0,1) layers[0,1) compute_shader:write -> compute_shader:write GENERAL -> GENERAL"
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Fatalf("second trace mismatch (-want +got):\n%s", diff)
	}
	if view != first {
		t.Errorf("view changed from %d to %d for the same image", first, view)
	}
	if ext.Layout(0, 0) != device.LayoutGeneral {
		t.Errorf("Layout(0, 0) = %s, want GENERAL", ext.Layout(0, 0))
	}

	// A replacement image already in GENERAL needs no transition.
	ext.SetImage(newImage("tex2"), device.LayoutGeneral)
	want = []string{"submit main lists=1 wait= signal=", "main: label task fill"}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Fatalf("trace after SetImage mismatch (-want +got):\n%s", diff)
	}
	if view == first {
		t.Error("view was not replaced with the image")
	}
	if n := dev.Live().Views; n != 1 {
		t.Errorf("live views = %d, want the stale view destroyed", n)
	}
}

func TestExecuteAcrossGraphs(t *testing.T) {
	dev, ctx, g1 := newTestGraph(t, GraphInfo{Name: "g1"})
	g2, err := NewGraph(ctx, GraphInfo{Name: "g2", StagingMemorySize: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer g2.Close()

	ext, _ := externalBuffer(t, dev, ctx, "shared", gputypes.BufferUsageStorage)
	v1, err := g1.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := g2.RegisterBuffer(ext)
	if err != nil {
		t.Fatal(err)
	}
	if ext.Attached() != 2 {
		t.Errorf("Attached() = %d, want 2", ext.Attached())
	}
	mustTask(t, g1, Task{Name: "produce", Queue: device.QueueCompute0, Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, v1)}})
	mustTask(t, g2, Task{Name: "consume", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, v2)}})
	mustComplete(t, g1)
	mustComplete(t, g2)

	mustExecute(t, g1, ExecuteInfo{})
	want := []string{
		"submit main lists=1 wait=taskgraph.compute0 signal=",
		"main: label task consume",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g2)); diff != "" {
		t.Errorf("consumer trace mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteSignalsSemaphores(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "sem"})
	sem, _ := dev.CreateTimelineSemaphore("user", 0)
	done, _ := dev.CreateTimelineSemaphore("done", 0)
	b := mustBuffer(t, g, "B", 64)
	mustTask(t, g, Task{Name: "work", Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, b)}})
	if err := g.Submit(SubmitInfo{SignalTimeline: []device.TimelinePair{{Semaphore: sem, Value: 5}}}); err != nil {
		t.Fatal(err)
	}
	mustComplete(t, g)

	dev.ResetTrace()
	mustExecute(t, g, ExecuteInfo{SignalTimeline: []device.TimelinePair{{Semaphore: done, Value: 1}}})
	want := []string{
		"submit main lists=1 wait= signal=",
		"main: label task work",
		"submit main lists=0 wait=taskgraph.main signal=",
	}
	if diff := cmp.Diff(want, dev.Trace()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if sem.Value() != 5 || done.Value() != 1 {
		t.Errorf("semaphores = %d, %d, want 5, 1", sem.Value(), done.Value())
	}
}

func TestExecuteWaitsForCaller(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "wait"})
	ready, _ := dev.CreateTimelineSemaphore("ready", 0)
	mustTask(t, g, Task{Name: "work"})
	mustComplete(t, g)

	info := ExecuteInfo{WaitTimeline: []device.TimelinePair{{Semaphore: ready, Value: 1}}}
	if err := g.Execute(context.Background(), info); !errors.Is(err, fakedevice.ErrSemaphore) {
		t.Fatalf("Execute() before the wait is signalled = %v, want ErrSemaphore", err)
	}
	if err := dev.Submit(device.SubmitInfo{
		Queue:          device.QueueMain,
		SignalTimeline: []device.TimelinePair{{Semaphore: ready, Value: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	dev.ResetTrace()
	mustExecute(t, g, info)
	if got := dev.Trace()[0]; got != "submit main lists=1 wait=ready signal=" {
		t.Errorf("first submission = %q, want a wait on ready", got)
	}
}

func multiQueueGraph(t *testing.T, opts ...GraphOption) (*fakedevice.Device, device.TimelineSemaphore, *TaskGraph) {
	t.Helper()
	dev, _, g := newTestGraph(t, GraphInfo{Name: "multi"}, opts...)
	sem, _ := dev.CreateTimelineSemaphore("user", 0)
	a := mustBuffer(t, g, "A", 64)
	b := mustBuffer(t, g, "B", 64)
	mustTask(t, g, Task{Name: "a", Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, a)}})
	mustTask(t, g, Task{Name: "b", Queue: device.QueueCompute0, Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, b)}})
	if err := g.Submit(SubmitInfo{SignalTimeline: []device.TimelinePair{{Semaphore: sem, Value: 1}}}); err != nil {
		t.Fatal(err)
	}
	mustComplete(t, g)
	return dev, sem, g
}

func TestExecuteJoinsQueues(t *testing.T) {
	want := []string{
		"submit main lists=1 wait= signal=",
		"main: label task a",
		"submit compute0 lists=1 wait= signal=",
		"compute0: label task b",
		"submit main lists=0 wait=taskgraph.main,taskgraph.compute0 signal=",
	}
	tests := []struct {
		name string
		opts []GraphOption
	}{
		{"sequential", nil},
		{"parallel", []GraphOption{WithParallelRecording(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, sem, g := multiQueueGraph(t, tt.opts...)
			if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
				t.Errorf("trace mismatch (-want +got):\n%s", diff)
			}
			if sem.Value() != 1 {
				t.Errorf("user semaphore = %d, want 1", sem.Value())
			}
			if got := g.Stats().Submissions; got != 3 {
				t.Errorf("Submissions = %d, want 3", got)
			}
		})
	}
}

func TestExecuteSubmitFailureReleasesWork(t *testing.T) {
	tests := []struct {
		name string
		opts []GraphOption
	}{
		{"sequential", nil},
		{"parallel", []GraphOption{WithParallelRecording(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _, g := multiQueueGraph(t, tt.opts...)
			errLost := errors.New("device lost")
			dev.FailNextSubmit(errLost)
			if err := g.Execute(context.Background(), ExecuteInfo{}); !errors.Is(err, errLost) {
				t.Fatalf("Execute() = %v, want the submit error", err)
			}
			if n := dev.PendingLists(); n != 0 {
				t.Errorf("PendingLists() = %d, want every unsubmitted list discarded", n)
			}
			for _, q := range []device.Queue{device.QueueMain, device.QueueCompute0} {
				p, err := g.ctx.QueueTimeline(q)
				if err != nil {
					t.Fatal(err)
				}
				if !p.Reached() {
					t.Errorf("%s timeline value %d is never signalled", q, p.Value)
				}
			}
			mustExecute(t, g, ExecuteInfo{})
			if n := dev.PendingLists(); n != 0 {
				t.Errorf("PendingLists() after a good execution = %d, want 0", n)
			}
		})
	}
}

func TestExecuteReusesTransientMemory(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "reuse"})
	b := mustBuffer(t, g, "B", 256)
	mustTask(t, g, Task{Name: "W", Queue: device.QueueCompute0, Attachments: []Attachment{BufferAttachment(ComputeShaderWrite, b)}})
	if err := g.Submit(SubmitInfo{}); err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "R", Attachments: []Attachment{BufferAttachment(ComputeShaderRead, b)}})
	mustComplete(t, g)

	want := []string{
		"submit compute0 lists=1 wait= signal=",
		"compute0: label task W",
		"submit main lists=1 wait=taskgraph.compute0 signal=",
		"main: label task R",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Fatalf("first trace mismatch (-want +got):\n%s", diff)
	}

	// The writer must not overwrite B while the last execution still reads
	// it on main.
	want = []string{
		"submit compute0 lists=1 wait=taskgraph.main signal=",
		"compute0: barrier compute_shader:write -> compute_shader:write",
		"compute0: label task W",
		"submit main lists=1 wait=taskgraph.compute0 signal=",
		"main: label task R",
	}
	for i := 1; i < 3; i++ {
		if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
			t.Fatalf("execution %d trace mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestExecuteSharedTransitionPreamble(t *testing.T) {
	dev, ctx, writer := newTestGraph(t, GraphInfo{Name: "writer"})
	id, err := dev.CreateImage(device.ImageInfo{
		Name:   "X",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  16,
		Height: 16,
		Usage:  gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatal(err)
	}
	ext := ctx.NewExternalImage(ExternalImageInfo{Name: "X", Image: id})
	wv, err := writer.RegisterImage(ext)
	if err != nil {
		t.Fatal(err)
	}
	mustTask(t, writer, Task{Name: "fill", Attachments: []Attachment{ImageAttachment(ComputeShaderWrite, wv)}})
	mustComplete(t, writer)

	readers, err := NewGraph(ctx, GraphInfo{Name: "readers", StagingMemorySize: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer readers.Close()
	rv, err := readers.RegisterImage(ext)
	if err != nil {
		t.Fatal(err)
	}
	mustTask(t, readers, Task{Name: "R0", Attachments: []Attachment{ImageAttachment(ComputeShaderSampled, rv)}})
	mustTask(t, readers, Task{Name: "R1", Queue: device.QueueCompute0, Attachments: []Attachment{ImageAttachment(ComputeShaderSampled, rv)}})
	mustComplete(t, readers)

	mustExecute(t, writer, ExecuteInfo{})
	want := []string{
		"submit main lists=1 wait=taskgraph.main signal=",
		"main: label preamble",
		"main: image-barrier X mips[0,1) layers[0,1) compute_shader:write -> compute_shader:read GENERAL -> READ_ONLY",
		"submit main lists=1 wait=taskgraph.main signal=",
		"main: label task R0",
		"submit compute0 lists=1 wait=taskgraph.main signal=",
		"compute0: label task R1",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, readers)); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if l := ext.Layout(0, 0); l != device.LayoutReadOnly {
		t.Errorf("Layout(0, 0) = %s, want READ_ONLY", l)
	}
}

func TestExecuteEmptySubmitWaits(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "upload"})
	sem, err := dev.CreateBinarySemaphore("upload_done")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Submit(SubmitInfo{WaitBinary: []device.BinarySemaphore{sem}}); err != nil {
		t.Fatal(err)
	}
	mustTask(t, g, Task{Name: "use"})
	mustComplete(t, g)

	sem.(*fakedevice.BinarySemaphore).Signal()
	want := []string{
		"submit main lists=0 wait=upload_done signal=",
		"submit main lists=1 wait=taskgraph.main signal=",
		"main: label task use",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteSplitBarrierTrace(t *testing.T) {
	dev, g := splitGraph(t, true)
	want := []string{
		"submit main lists=1 wait= signal=",
		"main: label task T1",
		"main: signal-event split.split0 [barrier compute_shader:write -> compute_shader:read]",
		"main: barrier compute_shader:write -> compute_shader:read",
		"main: label task T2",
		"main: wait-event split.split0 [barrier compute_shader:write -> compute_shader:read]",
		"main: reset-event split.split0 compute_shader",
		"main: barrier compute_shader:write -> compute_shader:read",
		"main: label task T3",
	}
	if diff := cmp.Diff(want, executeTrace(t, dev, g)); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskInterface(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "ti"})
	b := mustBuffer(t, g, "buf", 128)
	img, err := g.CreateTransientImage(device.ImageInfo{
		Name:   "img",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  8,
		Height: 8,
	})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	mustTask(t, g, Task{
		Name: "inspect",
		Attachments: []Attachment{
			BufferAttachment(ComputeShaderWrite, b),
			ImageAttachment(ComputeShaderWrite, img),
		},
		Callback: func(ti *TaskInterface) error {
			called = true
			if ti.TaskName() != "inspect" || ti.Queue() != device.QueueMain || ti.Len() != 2 {
				t.Errorf("task = %q on %s with %d attachments", ti.TaskName(), ti.Queue(), ti.Len())
			}
			if ti.Context() == nil || ti.Device == nil || ti.Recorder == nil {
				t.Error("TaskInterface is missing its context, device or recorder")
			}
			if ti.Transfer != nil {
				t.Error("Transfer is set with the staging pool disabled")
			}
			if a := ti.Attachment(0); a.Kind != KindBuffer || a.Resource != "buf" || a.Access != ComputeShaderWrite {
				t.Errorf("Attachment(0) = %+v", a)
			}
			if a := ti.Attachment(1); a.Kind != KindImage || a.Layout != device.LayoutGeneral {
				t.Errorf("Attachment(1) = %+v, want an image in GENERAL", a)
			}
			if ti.Buffer(0) == device.InvalidID || ti.Buffer(1) != device.InvalidID {
				t.Errorf("Buffer() = %d, %d", ti.Buffer(0), ti.Buffer(1))
			}
			if ti.Image(0) != device.InvalidID || ti.Image(1) == device.InvalidID || ti.View(1) == device.InvalidID {
				t.Errorf("Image() = %d, %d, View(1) = %d", ti.Image(0), ti.Image(1), ti.View(1))
			}
			if got, want := ti.DeviceAddress(0), dev.BufferDeviceAddress(ti.Buffer(0)); got != want {
				t.Errorf("DeviceAddress(0) = %#x, want %#x", got, want)
			}
			if ti.DeviceAddress(1) != 0 || ti.Layout(0) != device.LayoutUndefined {
				t.Error("image accessors answer for the buffer attachment or vice versa")
			}
			blob := ti.AttachmentBlob()
			if len(blob) != 2*blobStride || binary.LittleEndian.Uint64(blob[blobStride:]) != uint64(ti.View(1)) {
				t.Errorf("AttachmentBlob() = %x", blob)
			}
			s := ti.Scratch(64, 16)
			if len(s) != 64 {
				t.Errorf("len(Scratch(64, 16)) = %d", len(s))
			}
			for _, c := range s {
				if c != 0 {
					t.Fatal("Scratch() returned dirty memory")
				}
			}
			s[0] = 0xff
			return nil
		},
	})
	mustComplete(t, g)
	mustExecute(t, g, ExecuteInfo{})
	mustExecute(t, g, ExecuteInfo{})
	if !called {
		t.Fatal("callback was not called")
	}
}

func TestExecuteErrorsKeepGraphUsable(t *testing.T) {
	dev, _, g := newTestGraph(t, GraphInfo{Name: "errs"})
	errBoom := errors.New("boom")
	fail := true
	mustTask(t, g, Task{Name: "flaky", Callback: func(*TaskInterface) error {
		if fail {
			return errBoom
		}
		return nil
	}})
	mustComplete(t, g)

	if err := g.Execute(context.Background(), ExecuteInfo{}); !errors.Is(err, errBoom) {
		t.Fatalf("Execute() = %v, want the callback error", err)
	}
	fail = false

	errLost := errors.New("device lost")
	dev.FailNextSubmit(errLost)
	if err := g.Execute(context.Background(), ExecuteInfo{}); !errors.Is(err, errLost) {
		t.Fatalf("Execute() = %v, want the submit error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Execute(ctx, ExecuteInfo{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() with canceled context = %v", err)
	}

	if g.Err() != nil {
		t.Fatalf("Err() = %v, want nil", g.Err())
	}
	mustExecute(t, g, ExecuteInfo{})
	if got := g.Stats().Executions; got != 1 {
		t.Errorf("Executions = %d, want only the successful one counted", got)
	}
}

func TestExecuteReclaimsStagingMemory(t *testing.T) {
	_, _, g := newTestGraph(t, GraphInfo{Name: "staging", StagingMemorySize: 4096})
	mustTask(t, g, Task{Name: "upload", Callback: func(ti *TaskInterface) error {
		a, err := ti.Transfer.MustAllocate(3000, 256)
		if err != nil {
			return err
		}
		a.Host[0] = 1
		return nil
	}})
	mustComplete(t, g)
	for range 10 {
		mustExecute(t, g, ExecuteInfo{})
	}
}

func TestExecuteAccelerationStructures(t *testing.T) {
	dev, ctx, g := newTestGraph(t, GraphInfo{Name: "rt"})
	blas, err := g.CreateTransientBLAS(device.AccelerationStructureInfo{Name: "blas", Size: 4096})
	if err != nil {
		t.Fatal(err)
	}
	tlasID, err := dev.CreateTLAS(device.AccelerationStructureInfo{Name: "tlas", Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	ext := ctx.NewExternalTLAS(ExternalAccelerationStructureInfo{Name: "tlas", TLAS: tlasID})
	tlas, err := g.RegisterTLAS(ext)
	if err != nil {
		t.Fatal(err)
	}

	var (
		gotBLAS device.BLASID
		gotTLAS device.TLASID
		gotAddr uint64
	)
	mustTask(t, g, Task{
		Name: "build",
		Attachments: []Attachment{
			BLASAttachment(AccelerationBuildWrite, blas),
			TLASAttachment(AccelerationBuildWrite, tlas),
		},
		Callback: func(ti *TaskInterface) error {
			gotBLAS = ti.BLAS(0)
			return nil
		},
	})
	mustTask(t, g, Task{
		Name:        "trace",
		Attachments: []Attachment{TLASAttachment(RayTracingShaderRead, tlas)},
		Callback: func(ti *TaskInterface) error {
			gotTLAS, gotAddr = ti.TLAS(0), ti.DeviceAddress(0)
			return nil
		},
	})
	mustComplete(t, g)

	if got := len(g.Schedule().Submits[0].Queues[0].Batches); got != 2 {
		t.Errorf("batches = %d, want 2", got)
	}
	mustExecute(t, g, ExecuteInfo{})
	if gotBLAS == device.InvalidID {
		t.Error("BLAS(0) = InvalidID, want the transient BLAS")
	}
	if gotTLAS != tlasID {
		t.Errorf("TLAS(0) = %d, want %d", gotTLAS, tlasID)
	}
	if want := dev.TLASDeviceAddress(tlasID); gotAddr != want {
		t.Errorf("DeviceAddress(0) = %#x, want %#x", gotAddr, want)
	}
	if ext.Attached() != 1 {
		t.Errorf("Attached() = %d, want 1", ext.Attached())
	}

	g.Close()
	live := dev.Live()
	if live.BLAS != 0 || live.TLAS != 1 {
		t.Errorf("after Close: %d BLAS, %d TLAS; want 0 and 1", live.BLAS, live.TLAS)
	}
	if ext.Attached() != 0 {
		t.Errorf("Attached() after Close = %d, want 0", ext.Attached())
	}
}
