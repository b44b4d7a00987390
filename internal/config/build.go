package config

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/device"
)

// Usage given to the external resources a graph file declares. Files do
// not name usages, so every usage a task could need is granted.
const (
	externalBufferUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageUniform | gputypes.BufferUsageVertex |
		gputypes.BufferUsageIndex | gputypes.BufferUsageIndirect | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	externalImageUsage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageStorageBinding |
		gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
)

// AcquiringSwapchain is a swapchain whose next image the caller acquires
// before every execution.
type AcquiringSwapchain interface {
	device.Swapchain
	Acquire() device.ImageID
}

// SwapchainFunc creates the swapchain of a graph on the device it runs on.
type SwapchainFunc func(name string, info device.ImageInfo, images int) (AcquiringSwapchain, error)

// Built is a graph created from its description, together with the
// external resources created for it.
type Built struct {
	Graph     *taskgraph.TaskGraph
	Swapchain AcquiringSwapchain

	dev     device.Device
	buffers []device.BufferID
	images  []device.ImageID
}

// Build records g into a new graph of ctx and completes it. External
// resources are created on the context's device; the swapchain, if any,
// comes from newSwapchain. callback, if not nil, is the callback of every
// task.
func Build(ctx *taskgraph.Context, g *Graph, newSwapchain SwapchainFunc, callback func(*taskgraph.TaskInterface) error) (*Built, error) {
	opts := []taskgraph.GraphOption{
		taskgraph.WithAliasTransients(g.AliasTransients),
		taskgraph.WithSplitBarriers(g.SplitBarriers),
	}
	if g.RecordWorkers >= 0 {
		opts = append(opts, taskgraph.WithParallelRecording(g.RecordWorkers))
	}
	tg, err := taskgraph.NewGraph(ctx, taskgraph.GraphInfo{Name: g.Name, StagingMemorySize: g.StagingMemory}, opts...)
	if err != nil {
		return nil, err
	}
	b := &Built{Graph: tg, dev: ctx.Device()}
	if err := b.record(ctx, g, newSwapchain, callback); err != nil {
		b.Close()
		return nil, fmt.Errorf("config: graph %q: %w", g.Name, err)
	}
	return b, nil
}

func (b *Built) record(ctx *taskgraph.Context, g *Graph, newSwapchain SwapchainFunc, callback func(*taskgraph.TaskInterface) error) error {
	views := make(map[string]taskgraph.View)

	for _, buf := range g.Buffers {
		info := device.BufferInfo{Name: buf.Name, Size: buf.Size, HostVisible: buf.HostVisible}
		if !buf.External {
			v, err := b.Graph.CreateTransientBuffer(info)
			if err != nil {
				return err
			}
			views[buf.Name] = v
			continue
		}
		info.Usage = externalBufferUsage
		if buf.HostVisible {
			info.Usage |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
		}
		id, err := b.dev.CreateBuffer(info)
		if err != nil {
			return err
		}
		b.buffers = append(b.buffers, id)
		v, err := b.Graph.RegisterBuffer(ctx.NewExternalBuffer(taskgraph.ExternalBufferInfo{Name: buf.Name, Buffer: id}))
		if err != nil {
			return err
		}
		views[buf.Name] = v
	}

	for _, img := range g.Images {
		if !img.External {
			v, err := b.Graph.CreateTransientImage(img.Info)
			if err != nil {
				return err
			}
			views[img.Info.Name] = v
			continue
		}
		info := img.Info
		info.Usage = externalImageUsage
		id, err := b.dev.CreateImage(info)
		if err != nil {
			return err
		}
		b.images = append(b.images, id)
		v, err := b.Graph.RegisterImage(ctx.NewExternalImage(taskgraph.ExternalImageInfo{
			Name:        info.Name,
			Image:       id,
			MipLevels:   info.MipLevels,
			ArrayLayers: info.ArrayLayers,
		}))
		if err != nil {
			return err
		}
		views[info.Name] = v
	}

	for _, sc := range g.Swapchains {
		if newSwapchain == nil {
			return fmt.Errorf("%w: swapchain %q but no way to create one", ErrInvalid, sc.Info.Name)
		}
		s, err := newSwapchain(sc.Info.Name, sc.Info, sc.Images)
		if err != nil {
			return err
		}
		b.Swapchain = s
		v, err := b.Graph.RegisterImage(ctx.NewExternalImage(taskgraph.ExternalImageInfo{Swapchain: s}))
		if err != nil {
			return err
		}
		views[sc.Info.Name] = v
	}

	for _, t := range g.Tasks {
		task := taskgraph.Task{Name: t.Name, Queue: t.Queue, Callback: callback}
		for _, a := range t.Attachments {
			switch v := views[a.Resource].(type) {
			case taskgraph.BufferView:
				task.Attachments = append(task.Attachments, taskgraph.BufferAttachment(a.Access, v))
			case taskgraph.ImageView:
				task.Attachments = append(task.Attachments, taskgraph.ImageAttachment(a.Access, v.WithSlice(a.Slice)))
			default:
				return fmt.Errorf("%w: task %q attaches unknown resource %q", ErrInvalid, t.Name, a.Resource)
			}
		}
		if err := b.Graph.AddTask(task); err != nil {
			return err
		}
		if t.Submit {
			if err := b.Graph.Submit(taskgraph.SubmitInfo{}); err != nil {
				return err
			}
		}
	}
	if g.Present {
		if err := b.Graph.Present(taskgraph.PresentInfo{}); err != nil {
			return err
		}
	}
	return b.Graph.Complete()
}

// Close closes the graph and destroys the external resources.
func (b *Built) Close() {
	b.Graph.Close()
	for _, id := range b.buffers {
		b.dev.DestroyBuffer(id)
	}
	for _, id := range b.images {
		b.dev.DestroyImage(id)
	}
	if d, ok := b.Swapchain.(device.Destroyer); ok {
		d.Destroy()
	}
	b.buffers, b.images, b.Swapchain = nil, nil, nil
}
