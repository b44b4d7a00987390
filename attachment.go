package taskgraph

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
)

// Attachment declares one access of a task to one resource.
type Attachment struct {
	// Kind is the kind the task expects. It must match the resource.
	Kind   Kind
	Access Access
	View   View

	// ViewDimension selects the image view type handed to the task. The
	// zero value picks 2D, or 2D array for multi-layer slices.
	ViewDimension gputypes.TextureViewDimension
}

// BufferAttachment declares an access to a buffer.
func BufferAttachment(access Access, view View) Attachment {
	return Attachment{Kind: KindBuffer, Access: access, View: view}
}

// ImageAttachment declares an access to the slice of an image named by view.
func ImageAttachment(access Access, view View) Attachment {
	return Attachment{Kind: KindImage, Access: access, View: view}
}

// ImageAttachmentAs declares an image access with an explicit view type.
func ImageAttachmentAs(access Access, view View, dim gputypes.TextureViewDimension) Attachment {
	return Attachment{Kind: KindImage, Access: access, View: view, ViewDimension: dim}
}

// BLASAttachment declares an access to a bottom level acceleration structure.
func BLASAttachment(access Access, view View) Attachment {
	return Attachment{Kind: KindBLAS, Access: access, View: view}
}

// TLASAttachment declares an access to a top level acceleration structure.
func TLASAttachment(access Access, view View) Attachment {
	return Attachment{Kind: KindTLAS, Access: access, View: view}
}

// attachment is an Attachment resolved against the graph.
type attachment struct {
	kind     Kind
	access   Access
	resource int
	slice    device.ImageSlice
	viewDim  gputypes.TextureViewDimension
	group    int // index into the resource's groups, -1 for AccessTypeNone

	// Resolved identity, refreshed when externals change.
	view  device.ImageViewID
	value uint64 // device address or view id written to the blob
}

// viewDimension returns the view type to create for a.
func (a *attachment) viewDimension(info device.ImageInfo) gputypes.TextureViewDimension {
	if a.viewDim != 0 {
		return a.viewDim
	}
	switch {
	case info.Dimension == gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	case info.Dimension == gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case a.slice.LayerCount > 1:
		return gputypes.TextureViewDimension2DArray
	}
	return gputypes.TextureViewDimension2D
}

// blobStride is the size of one attachment entry in a task blob.
const blobStride = 8

// writeBlob stores the attachment values of t into its blob.
func writeBlob(blob []byte, atts []attachment) {
	for i := range atts {
		binary.LittleEndian.PutUint64(blob[i*blobStride:], atts[i].value)
	}
}

// checkBlob verifies that blob matches the resolved attachments.
func checkBlob(blob []byte, atts []attachment) error {
	if len(blob) != len(atts)*blobStride {
		return fmt.Errorf("%w: %d bytes for %d attachments", ErrBlobMismatch, len(blob), len(atts))
	}
	for i := range atts {
		if v := binary.LittleEndian.Uint64(blob[i*blobStride:]); v != atts[i].value {
			return fmt.Errorf("%w: attachment %d holds %#x, want %#x", ErrBlobMismatch, i, v, atts[i].value)
		}
	}
	return nil
}

// bufferUsageFits reports whether usage allows access on a buffer.
func bufferUsageFits(usage gputypes.BufferUsage, a Access) bool {
	if a.Type == AccessTypeNone {
		return true
	}
	flags := a.Type.Flags()
	need := gputypes.BufferUsage(0)
	if a.Stages&device.StageTransfer != 0 {
		if flags&device.AccessRead != 0 {
			need |= gputypes.BufferUsageCopySrc
		}
		if flags&device.AccessWrite != 0 {
			need |= gputypes.BufferUsageCopyDst
		}
	}
	if a.Stages&device.StageHost != 0 {
		if flags&device.AccessRead != 0 {
			need |= gputypes.BufferUsageMapRead
		}
		if flags&device.AccessWrite != 0 {
			need |= gputypes.BufferUsageMapWrite
		}
	}
	if a.Stages&device.StageIndexInput != 0 {
		need |= gputypes.BufferUsageIndex
	}
	if a.Stages&device.StageDrawIndirect != 0 {
		need |= gputypes.BufferUsageIndirect
	}
	if usage&need != need {
		return false
	}
	if a.Stages&shaderStages != 0 {
		if flags&device.AccessWrite != 0 {
			return usage&gputypes.BufferUsageStorage != 0
		}
		return usage&(gputypes.BufferUsageStorage|gputypes.BufferUsageUniform) != 0
	}
	return true
}

// imageUsageFits reports whether usage allows access on an image.
func imageUsageFits(usage gputypes.TextureUsage, a Access) bool {
	need := imageUsage(a)
	return usage&need == need
}

// imageUsage returns the usage flags an image needs for a.
func imageUsage(a Access) gputypes.TextureUsage {
	if a.Type == AccessTypeNone {
		return 0
	}
	flags := a.Type.Flags()
	var need gputypes.TextureUsage
	if a.Stages&device.StageTransfer != 0 {
		if flags&device.AccessRead != 0 {
			need |= gputypes.TextureUsageCopySrc
		}
		if flags&device.AccessWrite != 0 {
			need |= gputypes.TextureUsageCopyDst
		}
	}
	if a.Stages&device.StageAttachments != 0 {
		need |= gputypes.TextureUsageRenderAttachment
	}
	if a.Stages&shaderStages != 0 {
		if a.Type == AccessTypeSampled {
			need |= gputypes.TextureUsageTextureBinding
		} else {
			need |= gputypes.TextureUsageStorageBinding
		}
	}
	return need
}

// bufferUsage returns the usage flags a transient buffer needs for a.
func bufferUsage(a Access) gputypes.BufferUsage {
	if a.Type == AccessTypeNone {
		return 0
	}
	flags := a.Type.Flags()
	var need gputypes.BufferUsage
	if a.Stages&device.StageTransfer != 0 {
		if flags&device.AccessRead != 0 {
			need |= gputypes.BufferUsageCopySrc
		}
		if flags&device.AccessWrite != 0 {
			need |= gputypes.BufferUsageCopyDst
		}
	}
	if a.Stages&device.StageIndexInput != 0 {
		need |= gputypes.BufferUsageIndex
	}
	if a.Stages&device.StageDrawIndirect != 0 {
		need |= gputypes.BufferUsageIndirect
	}
	if a.Stages&shaderStages != 0 {
		need |= gputypes.BufferUsageStorage
	}
	return need
}

// shaderStages are the stages that access resources through bindings.
const shaderStages = device.StageVertexShader | device.StageTessControlShader |
	device.StageTessEvalShader | device.StageGeometryShader | device.StageTaskShader |
	device.StageMeshShader | device.StageFragmentShader | device.StageComputeShader |
	device.StageRayTracingShader | device.StageAllGraphics | device.StageAllCommands
