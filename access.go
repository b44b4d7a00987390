package taskgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/taskgraph/device"
)

// AccessType is how a task uses a resource.
type AccessType uint8

// Access types. The concurrent types let consecutive tasks share one access
// group and run without barriers between them.
const (
	AccessTypeNone AccessType = iota
	AccessTypeRead
	AccessTypeSampled
	AccessTypeWrite
	AccessTypeReadWrite
	AccessTypeWriteConcurrent
	AccessTypeReadWriteConcurrent
)

var accessTypeNames = [...]string{
	AccessTypeNone:                "none",
	AccessTypeRead:                "read",
	AccessTypeSampled:             "sampled",
	AccessTypeWrite:               "write",
	AccessTypeReadWrite:           "read_write",
	AccessTypeWriteConcurrent:     "write_concurrent",
	AccessTypeReadWriteConcurrent: "read_write_concurrent",
}

func (t AccessType) String() string {
	if int(t) < len(accessTypeNames) {
		return accessTypeNames[t]
	}
	return fmt.Sprintf("access_type(%d)", uint8(t))
}

// Concurrent reports whether tasks with this access may overlap.
func (t AccessType) Concurrent() bool {
	switch t {
	case AccessTypeRead, AccessTypeSampled, AccessTypeWriteConcurrent, AccessTypeReadWriteConcurrent:
		return true
	}
	return false
}

// Flags returns the memory access flags of t.
func (t AccessType) Flags() device.AccessFlags {
	switch t {
	case AccessTypeRead, AccessTypeSampled:
		return device.AccessRead
	case AccessTypeWrite, AccessTypeWriteConcurrent:
		return device.AccessWrite
	case AccessTypeReadWrite, AccessTypeReadWriteConcurrent:
		return device.AccessReadWrite
	}
	return device.AccessNone
}

// Access combines pipeline stages with an access type.
type Access struct {
	Stages device.Stage
	Type   AccessType
}

func (a Access) String() string { return a.Stages.String() + ":" + a.Type.String() }

// memory returns the device-level access of a.
func (a Access) memory() device.Access {
	return device.Access{Stages: a.Stages, Flags: a.Type.Flags()}
}

// layout returns the image layout a task expects for a.
func (a Access) layout() device.Layout {
	switch {
	case a.Type == AccessTypeNone:
		return device.LayoutUndefined
	case a.Type == AccessTypeSampled:
		return device.LayoutReadOnly
	case a.Stages&device.StageAttachments != 0 && a.Stages&^device.StageAttachments == 0:
		return device.LayoutAttachment
	}
	return device.LayoutGeneral
}

// Predefined accesses.
var (
	AccessNone = Access{}

	VertexShaderRead    = Access{device.StageVertexShader, AccessTypeRead}
	VertexShaderSampled = Access{device.StageVertexShader, AccessTypeSampled}

	FragmentShaderRead      = Access{device.StageFragmentShader, AccessTypeRead}
	FragmentShaderSampled   = Access{device.StageFragmentShader, AccessTypeSampled}
	FragmentShaderWrite     = Access{device.StageFragmentShader, AccessTypeWrite}
	FragmentShaderReadWrite = Access{device.StageFragmentShader, AccessTypeReadWrite}

	ComputeShaderRead                = Access{device.StageComputeShader, AccessTypeRead}
	ComputeShaderSampled             = Access{device.StageComputeShader, AccessTypeSampled}
	ComputeShaderWrite               = Access{device.StageComputeShader, AccessTypeWrite}
	ComputeShaderReadWrite           = Access{device.StageComputeShader, AccessTypeReadWrite}
	ComputeShaderWriteConcurrent     = Access{device.StageComputeShader, AccessTypeWriteConcurrent}
	ComputeShaderReadWriteConcurrent = Access{device.StageComputeShader, AccessTypeReadWriteConcurrent}

	RayTracingShaderRead      = Access{device.StageRayTracingShader, AccessTypeRead}
	RayTracingShaderSampled   = Access{device.StageRayTracingShader, AccessTypeSampled}
	RayTracingShaderWrite     = Access{device.StageRayTracingShader, AccessTypeWrite}
	RayTracingShaderReadWrite = Access{device.StageRayTracingShader, AccessTypeReadWrite}

	ColorAttachment            = Access{device.StageColorAttachment, AccessTypeReadWrite}
	DepthStencilAttachment     = Access{device.StageDepthStencilAttachment, AccessTypeReadWrite}
	DepthStencilAttachmentRead = Access{device.StageDepthStencilAttachment, AccessTypeRead}
	ResolveWrite               = Access{device.StageResolve, AccessTypeWrite}

	IndexRead    = Access{device.StageIndexInput, AccessTypeRead}
	IndirectRead = Access{device.StageDrawIndirect, AccessTypeRead}

	TransferRead            = Access{device.StageTransfer, AccessTypeRead}
	TransferWrite           = Access{device.StageTransfer, AccessTypeWrite}
	TransferWriteConcurrent = Access{device.StageTransfer, AccessTypeWriteConcurrent}
	HostTransferRead        = Access{device.StageHost, AccessTypeRead}
	HostTransferWrite       = Access{device.StageHost, AccessTypeWrite}

	AccelerationBuildRead      = Access{device.StageAccelerationBuild, AccessTypeRead}
	AccelerationBuildWrite     = Access{device.StageAccelerationBuild, AccessTypeWrite}
	AccelerationBuildReadWrite = Access{device.StageAccelerationBuild, AccessTypeReadWrite}

	AnyRead  = Access{device.StageAllCommands, AccessTypeRead}
	AnyWrite = Access{device.StageAllCommands, AccessTypeWrite}
)

var namedAccesses = map[string]Access{
	"none":                                 AccessNone,
	"vertex_shader_read":                   VertexShaderRead,
	"vertex_shader_sampled":                VertexShaderSampled,
	"fragment_shader_read":                 FragmentShaderRead,
	"fragment_shader_sampled":              FragmentShaderSampled,
	"fragment_shader_write":                FragmentShaderWrite,
	"fragment_shader_read_write":           FragmentShaderReadWrite,
	"compute_shader_read":                  ComputeShaderRead,
	"compute_shader_sampled":               ComputeShaderSampled,
	"compute_shader_write":                 ComputeShaderWrite,
	"compute_shader_read_write":            ComputeShaderReadWrite,
	"compute_shader_write_concurrent":      ComputeShaderWriteConcurrent,
	"compute_shader_read_write_concurrent": ComputeShaderReadWriteConcurrent,
	"ray_tracing_shader_read":              RayTracingShaderRead,
	"ray_tracing_shader_sampled":           RayTracingShaderSampled,
	"ray_tracing_shader_write":             RayTracingShaderWrite,
	"ray_tracing_shader_read_write":        RayTracingShaderReadWrite,
	"color_attachment":                     ColorAttachment,
	"depth_stencil_attachment":             DepthStencilAttachment,
	"depth_stencil_attachment_read":        DepthStencilAttachmentRead,
	"resolve_write":                        ResolveWrite,
	"index_read":                           IndexRead,
	"indirect_read":                        IndirectRead,
	"transfer_read":                        TransferRead,
	"transfer_write":                       TransferWrite,
	"transfer_write_concurrent":            TransferWriteConcurrent,
	"host_transfer_read":                   HostTransferRead,
	"host_transfer_write":                  HostTransferWrite,
	"acceleration_build_read":              AccelerationBuildRead,
	"acceleration_build_write":             AccelerationBuildWrite,
	"acceleration_build_read_write":        AccelerationBuildReadWrite,
	"any_read":                             AnyRead,
	"any_write":                            AnyWrite,
}

// ParseAccess returns the predefined access with the given name, for
// example "compute_shader_write".
func ParseAccess(name string) (Access, error) {
	a, ok := namedAccesses[strings.ToLower(name)]
	if !ok {
		return Access{}, fmt.Errorf("taskgraph: unknown access %q", name)
	}
	return a, nil
}

// AccessNames returns the names accepted by ParseAccess, sorted.
func AccessNames() []string {
	names := make([]string, 0, len(namedAccesses))
	for n := range namedAccesses {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
