package device

import "github.com/gogpu/gputypes"

// Resource IDs. Zero is never a valid ID.
type (
	BufferID    uint64
	ImageID     uint64
	ImageViewID uint64
	BLASID      uint64
	TLASID      uint64
)

// InvalidID is the zero value shared by all resource IDs.
const InvalidID = 0

// BufferInfo describes a buffer.
type BufferInfo struct {
	Name  string
	Size  uint64
	Usage gputypes.BufferUsage

	// HostVisible requests memory the CPU can map.
	HostVisible bool
}

// ImageInfo describes an image.
type ImageInfo struct {
	Name        string
	Dimension   gputypes.TextureDimension
	Format      gputypes.TextureFormat
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	SampleCount uint32
	Usage       gputypes.TextureUsage
}

// FullSlice returns the slice covering every subresource of the image.
func (i ImageInfo) FullSlice() ImageSlice { return FullSlice(i.MipLevels, i.ArrayLayers) }

// ImageViewInfo describes a view of an image slice.
type ImageViewInfo struct {
	Name      string
	Image     ImageID
	Dimension gputypes.TextureViewDimension
	Slice     ImageSlice
}

// AccelerationStructureInfo describes a bottom or top level acceleration
// structure.
type AccelerationStructureInfo struct {
	Name string
	Size uint64
}

// MemoryRequirements describes what a resource needs from a memory block.
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// BytesPerPixel returns the texel size of the formats the task graph sizes
// images with. Unknown formats are treated as 4 bytes per texel.
func BytesPerPixel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	}
	return 4
}

// ImageByteSize returns the tightly packed size of every subresource of an
// image described by info.
func ImageByteSize(info ImageInfo) uint64 {
	bpp := BytesPerPixel(info.Format)
	w, h, d := uint64(max(info.Width, 1)), uint64(max(info.Height, 1)), uint64(max(info.Depth, 1))
	var total uint64
	for range max(info.MipLevels, 1) {
		total += w * h * d * bpp
		w, h, d = max(w/2, 1), max(h/2, 1), max(d/2, 1)
	}
	return total * uint64(max(info.ArrayLayers, 1)) * uint64(max(info.SampleCount, 1))
}
