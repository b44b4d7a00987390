package taskgraph

import (
	"errors"
	"testing"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/fakedevice"
)

func TestTransferMemoryPoolRing(t *testing.T) {
	dev := fakedevice.New("transfer")
	ctx := NewContext(dev)
	defer ctx.Close()

	p, err := NewTransferMemoryPool(ctx, TransferMemoryPoolInfo{Name: "staging", Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()
	if p.Size() != 1024 || p.Buffer() == device.InvalidID {
		t.Fatalf("pool = %d bytes in buffer %d", p.Size(), p.Buffer())
	}

	a, ok := p.Allocate(300, 1)
	if !ok || a.Offset != 0 || len(a.Host) != 300 {
		t.Fatalf("Allocate(300, 1) = %+v, %v", a, ok)
	}
	b, ok := p.Allocate(256, 256)
	if !ok || b.Offset != 512 {
		t.Fatalf("Allocate(256, 256) = offset %d, %v, want 512", b.Offset, ok)
	}
	if b.DeviceAddress != dev.BufferDeviceAddress(p.Buffer())+512 {
		t.Errorf("DeviceAddress = %#x", b.DeviceAddress)
	}
	if p.Used() != 768 {
		t.Errorf("Used() = %d, want 768", p.Used())
	}
	if _, err := p.MustAllocate(512, 1); !errors.Is(err, ErrTransferPoolFull) {
		t.Fatalf("MustAllocate(512, 1) = %v, want ErrTransferPoolFull", err)
	}
	if _, ok := p.Allocate(2048, 1); ok {
		t.Error("Allocate() larger than the pool succeeded")
	}

	sem, _ := dev.CreateTimelineSemaphore("gpu", 0)
	p.Commit([]device.TimelinePair{{Semaphore: sem, Value: 1}})
	p.Reclaim()
	if p.Used() != 768 {
		t.Errorf("Used() before the work finished = %d, want 768", p.Used())
	}
	if err := dev.Submit(device.SubmitInfo{
		Queue:          device.QueueMain,
		SignalTimeline: []device.TimelinePair{{Semaphore: sem, Value: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	p.Reclaim()
	if p.Used() != 0 {
		t.Errorf("Used() after Reclaim = %d, want 0", p.Used())
	}

	c, err := p.MustAllocate(512, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Offset != 0 {
		t.Errorf("wrapped allocation at offset %d, want 0", c.Offset)
	}
	c.Host[0] = 0x7f
	mapped, err := dev.MapBuffer(p.Buffer())
	if err != nil {
		t.Fatal(err)
	}
	if mapped[0] != 0x7f {
		t.Error("Host does not alias the mapped buffer")
	}
}

func TestTransferMemoryPoolErrors(t *testing.T) {
	dev := fakedevice.New("transfer")
	ctx := NewContext(dev)
	defer ctx.Close()

	if _, err := NewTransferMemoryPool(ctx, TransferMemoryPoolInfo{Name: "empty"}); !errors.Is(err, ErrInvalidResource) {
		t.Errorf("NewTransferMemoryPool(size 0) = %v, want ErrInvalidResource", err)
	}

	p, err := NewTransferMemoryPool(ctx, TransferMemoryPoolInfo{Name: "staging", Size: 256})
	if err != nil {
		t.Fatal(err)
	}
	if dev.Live().Buffers != 1 {
		t.Fatalf("live buffers = %d, want 1", dev.Live().Buffers)
	}
	p.Destroy()
	p.Destroy()
	if dev.Live().Buffers != 0 {
		t.Errorf("live buffers after Destroy = %d, want 0", dev.Live().Buffers)
	}
}
