// Package taskgraph schedules GPU work described as a graph of tasks.
//
// # Overview
//
// A TaskGraph records tasks together with the resources they access and
// compiles them once into a schedule: tasks are packed into batches per
// queue, the minimal set of pipeline barriers, split barriers and image
// layout transitions is inserted between them, and graph-owned transient
// resources are placed into a single aliased memory block. The compiled
// schedule is then executed any number of times.
//
// # Quick Start
//
//	ctx := taskgraph.NewContext(dev)
//	g, _ := taskgraph.NewGraph(ctx, taskgraph.GraphInfo{Name: "frame"})
//
//	color, _ := g.CreateTransientImage(device.ImageInfo{
//		Name:   "color",
//		Format: gputypes.TextureFormatRGBA8Unorm,
//		Width:  1920,
//		Height: 1080,
//	})
//	g.AddTask(taskgraph.Task{
//		Name: "draw",
//		Attachments: []taskgraph.Attachment{
//			taskgraph.ImageAttachment(taskgraph.ColorAttachment, color),
//		},
//		Callback: func(ti *taskgraph.TaskInterface) error {
//			// record draw commands on ti.Recorder
//			return nil
//		},
//	})
//	if err := g.Complete(); err != nil {
//		return err
//	}
//	for range frames {
//		if err := g.Execute(context.Background(), taskgraph.ExecuteInfo{}); err != nil {
//			return err
//		}
//	}
//
// # Resources
//
// External resources are owned by the caller and registered with a graph;
// their backing buffer or image may change between executions, and the
// graph re-patches attachments and connects to the resource's last known
// access state every time it runs. Transient resources are owned by the
// graph, exist only while it executes and may share memory with other
// transients whose lifetimes do not overlap.
//
// # Submits and presentation
//
// Submit splits the graph into submits; a submit starts only after every
// queue of the previous one has finished. Present ends the graph by
// transitioning the registered swapchain image for presentation.
//
// # Errors
//
// Recording and compilation errors wrap the sentinel errors of this package
// and fail the graph: every later call reports the first error. Errors
// returned by Execute leave the graph usable.
//
// # Logging
//
// The package logs through log/slog; see SetLogger.
package taskgraph
