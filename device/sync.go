package device

import (
	"fmt"
	"strings"
)

// Stage is a set of pipeline stages.
type Stage uint32

// Pipeline stages.
const (
	StageNone               Stage = 0
	StageTopOfPipe          Stage = 1 << 0
	StageDrawIndirect       Stage = 1 << 1
	StageIndexInput         Stage = 1 << 2
	StageVertexShader       Stage = 1 << 3
	StageTessControlShader  Stage = 1 << 4
	StageTessEvalShader     Stage = 1 << 5
	StageGeometryShader     Stage = 1 << 6
	StageTaskShader         Stage = 1 << 7
	StageMeshShader         Stage = 1 << 8
	StageFragmentShader     Stage = 1 << 9
	StageEarlyFragmentTests Stage = 1 << 10
	StageLateFragmentTests  Stage = 1 << 11
	StageColorAttachment    Stage = 1 << 12
	StageResolve            Stage = 1 << 13
	StageComputeShader      Stage = 1 << 14
	StageTransfer           Stage = 1 << 15
	StageHost               Stage = 1 << 16
	StageAccelerationBuild  Stage = 1 << 17
	StageRayTracingShader   Stage = 1 << 18
	StageBottomOfPipe       Stage = 1 << 19
	StageAllGraphics        Stage = 1 << 20
	StageAllCommands        Stage = 1 << 21

	// StageDepthStencilAttachment covers both fragment test stages.
	StageDepthStencilAttachment = StageEarlyFragmentTests | StageLateFragmentTests

	// StageAttachments are the stages that access images as render targets.
	StageAttachments = StageColorAttachment | StageDepthStencilAttachment | StageResolve
)

var stageNames = []struct {
	stage Stage
	name  string
}{
	{StageTopOfPipe, "top_of_pipe"},
	{StageDrawIndirect, "draw_indirect"},
	{StageIndexInput, "index_input"},
	{StageVertexShader, "vertex_shader"},
	{StageTessControlShader, "tess_control_shader"},
	{StageTessEvalShader, "tess_eval_shader"},
	{StageGeometryShader, "geometry_shader"},
	{StageTaskShader, "task_shader"},
	{StageMeshShader, "mesh_shader"},
	{StageFragmentShader, "fragment_shader"},
	{StageEarlyFragmentTests, "early_fragment_tests"},
	{StageLateFragmentTests, "late_fragment_tests"},
	{StageColorAttachment, "color_attachment"},
	{StageResolve, "resolve"},
	{StageComputeShader, "compute_shader"},
	{StageTransfer, "transfer"},
	{StageHost, "host"},
	{StageAccelerationBuild, "acceleration_build"},
	{StageRayTracingShader, "ray_tracing_shader"},
	{StageBottomOfPipe, "bottom_of_pipe"},
	{StageAllGraphics, "all_graphics"},
	{StageAllCommands, "all_commands"},
}

// String lists the stages, for example "compute_shader|transfer".
func (s Stage) String() string {
	if s == StageNone {
		return "none"
	}
	var parts []string
	rest := s
	for _, sn := range stageNames {
		if s&sn.stage != 0 {
			parts = append(parts, sn.name)
			rest &^= sn.stage
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseStage parses a single stage name as printed by [Stage.String].
func ParseStage(name string) (Stage, error) {
	for _, sn := range stageNames {
		if sn.name == name {
			return sn.stage, nil
		}
	}
	return StageNone, fmt.Errorf("device: unknown stage %q", name)
}

// AccessFlags describes whether memory is read, written, or both.
type AccessFlags uint8

// Memory access flags.
const (
	AccessNone  AccessFlags = 0
	AccessRead  AccessFlags = 1 << 0
	AccessWrite AccessFlags = 1 << 1

	AccessReadWrite = AccessRead | AccessWrite
)

// String returns "none", "read", "write" or "read_write".
func (f AccessFlags) String() string {
	switch f {
	case AccessNone:
		return "none"
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_write"
	}
	return fmt.Sprintf("access(%d)", uint8(f))
}

// Access is one side of a memory dependency.
type Access struct {
	Stages Stage
	Flags  AccessFlags
}

// Or returns the union of a and b.
func (a Access) Or(b Access) Access {
	return Access{Stages: a.Stages | b.Stages, Flags: a.Flags | b.Flags}
}

// IsZero reports whether a names no stage and no access.
func (a Access) IsZero() bool { return a.Stages == StageNone && a.Flags == AccessNone }

func (a Access) String() string { return a.Stages.String() + ":" + a.Flags.String() }

// Layout is an image layout.
type Layout uint8

// Image layouts.
const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutReadOnly
	LayoutAttachment
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

var layoutNames = [...]string{
	LayoutUndefined:   "UNDEFINED",
	LayoutGeneral:     "GENERAL",
	LayoutReadOnly:    "READ_ONLY",
	LayoutAttachment:  "ATTACHMENT",
	LayoutTransferSrc: "TRANSFER_SRC",
	LayoutTransferDst: "TRANSFER_DST",
	LayoutPresentSrc:  "PRESENT_SRC",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

// Barrier is a global memory barrier.
type Barrier struct {
	Src Access
	Dst Access
}

func (b Barrier) String() string {
	return fmt.Sprintf("barrier %s -> %s", b.Src, b.Dst)
}

// ImageBarrier is a memory barrier with a layout transition on a slice of
// one image.
type ImageBarrier struct {
	Src       Access
	Dst       Access
	OldLayout Layout
	NewLayout Layout
	Image     ImageID
	Slice     ImageSlice
}

func (b ImageBarrier) String() string {
	return fmt.Sprintf("image-barrier image=%d %s %s -> %s %s -> %s",
		b.Image, b.Slice, b.Src, b.Dst, b.OldLayout, b.NewLayout)
}

// EventBarriers are the dependencies carried by one split barrier. The same
// value is passed to [CommandRecorder.SignalEvent] and
// [CommandRecorder.WaitEvents].
type EventBarriers struct {
	Event         Event
	Barriers      []Barrier
	ImageBarriers []ImageBarrier
}
