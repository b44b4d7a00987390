// Package device defines the GPU capability surface the task graph is
// compiled against.
//
// The task graph never talks to a graphics API directly. It creates and
// destroys resources, records barriers and submits command lists through
// the [Device] and [CommandRecorder] interfaces declared here. Concrete
// implementations live elsewhere:
//
//   - backend/native adapts a gogpu/wgpu HAL device.
//   - internal/fakedevice records every call as a textual trace for tests.
//
// # Resource identity
//
// Resources are referred to by opaque, non-zero IDs ([BufferID], [ImageID],
// [ImageViewID], [BLASID], [TLASID]). The zero value of every ID is invalid.
// An ID that was destroyed must never be reused by an implementation, so a
// stale ID is always detected by the validity queries.
//
// # Synchronization model
//
// Barriers are expressed with pipeline [Stage] bits, [AccessFlags] and image
// [Layout] values. Queue-to-queue ordering uses [TimelineSemaphore] values,
// swapchain acquire/present uses [BinarySemaphore], and split barriers use
// [Event].
package device
