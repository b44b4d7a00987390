// Package config loads task graph descriptions from HCL files.
//
// A file holds one or more graph blocks:
//
//	graph "frame" {
//	  split_barriers = true
//
//	  buffer "particles" {
//	    size = 4096
//	  }
//	  swapchain "window" {
//	    format = "bgra8unorm"
//	    width  = 1280
//	    height = 720
//	  }
//
//	  task "simulate" {
//	    queue = queue.compute0
//	    attach "particles" {
//	      access = access.compute_shader_write
//	    }
//	  }
//	  task "draw" {
//	    attach "particles" {
//	      access = access.vertex_shader_read
//	    }
//	    attach "window" {
//	      access = access.color_attachment
//	    }
//	  }
//
//	  present = true
//	}
//
// Queue and access names are available as the queue and access objects;
// plain strings are accepted too.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/device"
)

// ErrInvalid is returned for files that parse but describe an invalid graph.
var ErrInvalid = errors.New("config: invalid graph description")

// DefaultSwapchainImages is the image count of a swapchain block without
// an images attribute.
const DefaultSwapchainImages = 2

// File is the content of one or more graph files.
type File struct {
	Graphs []*Graph
}

// Graph describes one task graph.
type Graph struct {
	Name            string
	AliasTransients bool
	SplitBarriers   bool
	RecordWorkers   int
	StagingMemory   int
	Present         bool

	Buffers    []Buffer
	Images     []Image
	Swapchains []Swapchain
	Tasks      []Task
}

// Buffer is a transient buffer, or an external one the loader creates.
type Buffer struct {
	Name        string
	Size        uint64
	External    bool
	HostVisible bool
}

// Image is a transient image, or an external one the loader creates.
type Image struct {
	Info     device.ImageInfo
	External bool
}

// Swapchain is an external image supplied by a swapchain at every
// execution.
type Swapchain struct {
	Info   device.ImageInfo
	Images int
}

// Task is one task of a graph.
type Task struct {
	Name        string
	Queue       device.Queue
	Attachments []Attach

	// Submit closes the current submit after the task.
	Submit bool
}

// Attach is one attachment of a task.
type Attach struct {
	Resource string
	Access   taskgraph.Access

	// Slice restricts image attachments. Zero counts cover the rest of the
	// image.
	Slice device.ImageSlice
}

// Graph returns the graph with the given name, or nil.
func (f *File) Graph(name string) *Graph {
	for _, g := range f.Graphs {
		if g.Name == name {
			return g
		}
	}
	return nil
}

type fileRoot struct {
	Graphs []*graphBlock `hcl:"graph,block"`
}

type graphBlock struct {
	Name            string            `hcl:"name,label"`
	AliasTransients *bool             `hcl:"alias_transients,optional"`
	SplitBarriers   *bool             `hcl:"split_barriers,optional"`
	RecordWorkers   *int              `hcl:"record_workers,optional"`
	StagingMemory   *int              `hcl:"staging_memory,optional"`
	Present         *bool             `hcl:"present,optional"`
	Buffers         []*bufferBlock    `hcl:"buffer,block"`
	Images          []*imageBlock     `hcl:"image,block"`
	Swapchains      []*swapchainBlock `hcl:"swapchain,block"`
	Tasks           []*taskBlock      `hcl:"task,block"`
}

type bufferBlock struct {
	Name        string `hcl:"name,label"`
	Size        int64  `hcl:"size"`
	External    *bool  `hcl:"external,optional"`
	HostVisible *bool  `hcl:"host_visible,optional"`
}

type imageBlock struct {
	Name        string `hcl:"name,label"`
	Format      string `hcl:"format"`
	Width       int    `hcl:"width"`
	Height      int    `hcl:"height"`
	Depth       *int   `hcl:"depth,optional"`
	MipLevels   *int   `hcl:"mip_levels,optional"`
	ArrayLayers *int   `hcl:"array_layers,optional"`
	External    *bool  `hcl:"external,optional"`
}

type swapchainBlock struct {
	Name   string `hcl:"name,label"`
	Format string `hcl:"format"`
	Width  int    `hcl:"width"`
	Height int    `hcl:"height"`
	Images *int   `hcl:"images,optional"`
}

type taskBlock struct {
	Name    string         `hcl:"name,label"`
	Queue   *string        `hcl:"queue,optional"`
	Submit  *bool          `hcl:"submit,optional"`
	Attachs []*attachBlock `hcl:"attach,block"`
}

type attachBlock struct {
	Resource   string `hcl:"resource,label"`
	Access     string `hcl:"access"`
	BaseMip    *int   `hcl:"base_mip,optional"`
	MipCount   *int   `hcl:"mip_count,optional"`
	BaseLayer  *int   `hcl:"base_layer,optional"`
	LayerCount *int   `hcl:"layer_count,optional"`
}

// EvalContext exposes the queue and access names as objects of strings,
// so that queue.compute0 evaluates to "compute0".
func EvalContext() *hcl.EvalContext {
	queues := make(map[string]cty.Value, device.QueueCount)
	for _, q := range device.Queues() {
		queues[q.String()] = cty.StringVal(q.String())
	}
	accesses := make(map[string]cty.Value)
	for _, name := range taskgraph.AccessNames() {
		accesses[name] = cty.StringVal(name)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"queue":  cty.ObjectVal(queues),
			"access": cty.ObjectVal(accesses),
		},
	}
}

// Load reads and parses the graph files at paths. Graph names must be
// unique across all files.
func Load(paths ...string) (*File, error) {
	parser := hclparse.NewParser()
	out := &File{}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		f, err := parse(parser, src, path)
		if err != nil {
			return nil, err
		}
		for _, g := range f.Graphs {
			if out.Graph(g.Name) != nil {
				return nil, fmt.Errorf("%w: graph %q defined twice (again in %s)", ErrInvalid, g.Name, path)
			}
			out.Graphs = append(out.Graphs, g)
		}
	}
	return out, nil
}

// Parse parses one graph file held in memory. filename is used in
// diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	return parse(hclparse.NewParser(), src, filename)
}

func parse(parser *hclparse.Parser, src []byte, filename string) (*File, error) {
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, EvalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	f := &File{}
	for _, gb := range root.Graphs {
		g, err := translateGraph(gb)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		if f.Graph(g.Name) != nil {
			return nil, fmt.Errorf("%w: %s: graph %q defined twice", ErrInvalid, filename, g.Name)
		}
		f.Graphs = append(f.Graphs, g)
	}
	return f, nil
}

func translateGraph(gb *graphBlock) (*Graph, error) {
	g := &Graph{
		Name:            gb.Name,
		AliasTransients: deref(gb.AliasTransients, false),
		SplitBarriers:   deref(gb.SplitBarriers, false),
		RecordWorkers:   deref(gb.RecordWorkers, -1),
		StagingMemory:   deref(gb.StagingMemory, 0),
		Present:         deref(gb.Present, false),
	}
	names := make(map[string]string)
	declare := func(kind, name string) error {
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%w: graph %q: %s %q clashes with %s of the same name", ErrInvalid, g.Name, kind, name, prev)
		}
		names[name] = kind
		return nil
	}

	for _, b := range gb.Buffers {
		if err := declare("buffer", b.Name); err != nil {
			return nil, err
		}
		if b.Size <= 0 {
			return nil, fmt.Errorf("%w: buffer %q: size must be positive", ErrInvalid, b.Name)
		}
		g.Buffers = append(g.Buffers, Buffer{
			Name:        b.Name,
			Size:        uint64(b.Size),
			External:    deref(b.External, false),
			HostVisible: deref(b.HostVisible, false),
		})
	}
	for _, ib := range gb.Images {
		if err := declare("image", ib.Name); err != nil {
			return nil, err
		}
		info, err := imageInfo(ib.Name, ib.Format, ib.Width, ib.Height)
		if err != nil {
			return nil, err
		}
		owner := fmt.Sprintf("image %q", ib.Name)
		if info.Depth, err = count(owner, "depth", ib.Depth, 0); err != nil {
			return nil, err
		}
		if info.Depth > 1 {
			info.Dimension = gputypes.TextureDimension3D
		}
		if info.MipLevels, err = count(owner, "mip_levels", ib.MipLevels, 1); err != nil {
			return nil, err
		}
		if info.ArrayLayers, err = count(owner, "array_layers", ib.ArrayLayers, 1); err != nil {
			return nil, err
		}
		g.Images = append(g.Images, Image{Info: info, External: deref(ib.External, false)})
	}
	for _, sb := range gb.Swapchains {
		if err := declare("swapchain", sb.Name); err != nil {
			return nil, err
		}
		if len(gb.Swapchains) > 1 {
			return nil, fmt.Errorf("%w: graph %q: more than one swapchain", ErrInvalid, g.Name)
		}
		info, err := imageInfo(sb.Name, sb.Format, sb.Width, sb.Height)
		if err != nil {
			return nil, err
		}
		info.Usage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
			gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding
		images := deref(sb.Images, DefaultSwapchainImages)
		if images < 1 {
			return nil, fmt.Errorf("%w: swapchain %q: images must be positive", ErrInvalid, sb.Name)
		}
		g.Swapchains = append(g.Swapchains, Swapchain{Info: info, Images: images})
	}
	if g.Present && len(g.Swapchains) == 0 {
		return nil, fmt.Errorf("%w: graph %q presents without a swapchain", ErrInvalid, g.Name)
	}

	for _, tb := range gb.Tasks {
		t, err := translateTask(tb, names)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", g.Name, err)
		}
		g.Tasks = append(g.Tasks, t)
	}
	return g, nil
}

func translateTask(tb *taskBlock, names map[string]string) (Task, error) {
	t := Task{Name: tb.Name, Submit: deref(tb.Submit, false)}
	if tb.Queue != nil {
		q, err := device.ParseQueue(*tb.Queue)
		if err != nil {
			return Task{}, fmt.Errorf("%w: task %q: %w", ErrInvalid, tb.Name, err)
		}
		t.Queue = q
	}
	for _, ab := range tb.Attachs {
		kind, ok := names[ab.Resource]
		if !ok {
			return Task{}, fmt.Errorf("%w: task %q attaches undeclared resource %q", ErrInvalid, tb.Name, ab.Resource)
		}
		access, err := taskgraph.ParseAccess(ab.Access)
		if err != nil {
			return Task{}, fmt.Errorf("%w: task %q: %w", ErrInvalid, tb.Name, err)
		}
		a := Attach{Resource: ab.Resource, Access: access}
		if ab.BaseMip != nil || ab.MipCount != nil || ab.BaseLayer != nil || ab.LayerCount != nil {
			if kind == "buffer" {
				return Task{}, fmt.Errorf("%w: task %q: buffer %q cannot take an image slice", ErrInvalid, tb.Name, ab.Resource)
			}
			owner := fmt.Sprintf("task %q: attach %q", tb.Name, ab.Resource)
			for _, f := range []struct {
				attr string
				src  *int
				dst  *uint32
			}{
				{"base_mip", ab.BaseMip, &a.Slice.BaseMip},
				{"mip_count", ab.MipCount, &a.Slice.MipCount},
				{"base_layer", ab.BaseLayer, &a.Slice.BaseLayer},
				{"layer_count", ab.LayerCount, &a.Slice.LayerCount},
			} {
				if *f.dst, err = count(owner, f.attr, f.src, 0); err != nil {
					return Task{}, err
				}
			}
		}
		t.Attachments = append(t.Attachments, a)
	}
	return t, nil
}

var formats = map[string]gputypes.TextureFormat{
	"r8unorm":              gputypes.TextureFormatR8Unorm,
	"rgba8unorm":           gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm":           gputypes.TextureFormatBGRA8Unorm,
	"depth24plus_stencil8": gputypes.TextureFormatDepth24PlusStencil8,
}

func imageInfo(name, format string, width, height int) (device.ImageInfo, error) {
	f, ok := formats[strings.ToLower(format)]
	if !ok {
		return device.ImageInfo{}, fmt.Errorf("%w: image %q: unknown format %q", ErrInvalid, name, format)
	}
	if width <= 0 || height <= 0 {
		return device.ImageInfo{}, fmt.Errorf("%w: image %q: extent %dx%d", ErrInvalid, name, width, height)
	}
	return device.ImageInfo{
		Name:   name,
		Format: f,
		Width:  uint32(width),
		Height: uint32(height),
	}, nil
}

// count returns the value of an optional count attribute, or def when it is
// not set. Values that do not fit a uint32 are rejected.
func count(owner, attr string, p *int, def int) (uint32, error) {
	v := deref(p, def)
	if v < 0 || int64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s: %s %d out of range", ErrInvalid, owner, attr, v)
	}
	return uint32(v), nil
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
