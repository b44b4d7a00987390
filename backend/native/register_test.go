//go:build !nogpu

package native

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/backend"
	"github.com/gogpu/taskgraph/device"
)

func TestOpenRegisteredNoop(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNoop) {
		t.Fatal("noop backend not registered")
	}
	o, err := backend.Open(backend.BackendNoop)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if o.Device.Name() != backend.BackendNoop {
		t.Errorf("Name() = %q", o.Device.Name())
	}
	sc, err := o.NewSwapchain("window", device.ImageInfo{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  4,
		Height: 4,
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.Device.LookupImage(sc.Acquire()); !ok {
		t.Error("acquired image is not alive")
	}
	if err := o.WaitIdle(); err != nil {
		t.Fatal(err)
	}
}
