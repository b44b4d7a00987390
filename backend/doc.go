// Package backend is the registry of devices task graphs can run on.
//
// Backend packages register a factory from an init function, so a command
// selects the devices it supports by importing them:
//
//	import (
//		_ "github.com/gogpu/taskgraph/backend/native"
//	)
//
// # Backend Selection
//
// Use Default to open the best available backend, or Open to request one
// by name:
//
//	opened, err := backend.Open(backend.BackendNoop)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer opened.Close()
//
//	ctx := taskgraph.NewContext(opened.Device)
//
// # Available Backends
//
//   - "noop": the wgpu HAL noop adapter through backend/native
//   - "trace": an in-memory device that records every call, for tests and
//     dumps
package backend
