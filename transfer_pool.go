package taskgraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/alloc"
)

// ErrTransferPoolFull is returned by TransferMemoryPool.MustAllocate when
// the ring has no room left.
var ErrTransferPoolFull = errors.New("taskgraph: transfer memory pool exhausted")

// TransferMemoryPoolInfo configures a TransferMemoryPool.
type TransferMemoryPoolInfo struct {
	Name string
	Size uint64
}

// TransferAllocation is a range of the pool's host-visible buffer.
type TransferAllocation struct {
	Buffer        device.BufferID
	DeviceAddress uint64
	Offset        uint64
	Size          uint64

	// Host is the CPU view of the range.
	Host []byte
}

// TransferMemoryPool is a ring buffer of host-visible memory for uploads.
// Ranges handed out since the last Commit are released once every timeline
// pair passed to that Commit has been reached.
type TransferMemoryPool struct {
	dev     device.Device
	name    string
	buffer  device.BufferID
	host    []byte
	address uint64
	size    uint64

	mu     sync.Mutex
	head   uint64 // monotonic offset of the next allocation
	tail   uint64 // monotonic offset of the oldest live allocation
	claims []transferClaim
}

type transferClaim struct {
	end   uint64
	pairs []device.TimelinePair
}

// NewTransferMemoryPool creates a pool on the device of ctx.
func NewTransferMemoryPool(ctx *Context, info TransferMemoryPoolInfo) (*TransferMemoryPool, error) {
	if info.Size == 0 {
		return nil, fmt.Errorf("%w: transfer pool %q has zero size", ErrInvalidResource, info.Name)
	}
	dev := ctx.Device()
	buf, err := dev.CreateBuffer(device.BufferInfo{
		Name:        info.Name,
		Size:        info.Size,
		Usage:       gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, fmt.Errorf("taskgraph: transfer pool %q: %w", info.Name, err)
	}
	host, err := dev.MapBuffer(buf)
	if err != nil {
		dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("taskgraph: map transfer pool %q: %w", info.Name, err)
	}
	return &TransferMemoryPool{
		dev:     dev,
		name:    info.Name,
		buffer:  buf,
		host:    host,
		address: dev.BufferDeviceAddress(buf),
		size:    info.Size,
	}, nil
}

// Buffer returns the pool's buffer.
func (p *TransferMemoryPool) Buffer() device.BufferID { return p.buffer }

// Size returns the capacity in bytes.
func (p *TransferMemoryPool) Size() uint64 { return p.size }

// Used returns the number of bytes not yet reclaimed.
func (p *TransferMemoryPool) Used() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head - p.tail
}

// Allocate returns size bytes aligned to align. ok is false when the ring
// cannot fit the request until earlier work completes.
func (p *TransferMemoryPool) Allocate(size, align uint64) (a TransferAllocation, ok bool) {
	if size == 0 || size > p.size {
		return TransferAllocation{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.head
	off := alloc.AlignUp(head%p.size, align)
	if off+size > p.size {
		// Skip the tail end of the ring.
		head += p.size - head%p.size
		off = 0
	}
	start := head - head%p.size + off
	if start+size-p.tail > p.size {
		return TransferAllocation{}, false
	}
	p.head = start + size
	return TransferAllocation{
		Buffer:        p.buffer,
		DeviceAddress: p.address + off,
		Offset:        off,
		Size:          size,
		Host:          p.host[off : off+size : off+size],
	}, true
}

// MustAllocate is Allocate returning ErrTransferPoolFull instead of false.
func (p *TransferMemoryPool) MustAllocate(size, align uint64) (TransferAllocation, error) {
	a, ok := p.Allocate(size, align)
	if !ok {
		return a, fmt.Errorf("%w: %d bytes in %q (%d of %d used)", ErrTransferPoolFull, size, p.name, p.Used(), p.size)
	}
	return a, nil
}

// Commit ties everything allocated since the previous Commit to pairs.
func (p *TransferMemoryPool) Commit(pairs []device.TimelinePair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.claims); n > 0 && p.claims[n-1].end == p.head {
		return
	}
	if p.head == p.tail && len(p.claims) == 0 {
		return
	}
	p.claims = append(p.claims, transferClaim{end: p.head, pairs: append([]device.TimelinePair(nil), pairs...)})
}

// Reclaim releases the ranges whose work has completed.
func (p *TransferMemoryPool) Reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.claims {
		if !reached(c.pairs) {
			break
		}
		p.tail = c.end
		n++
	}
	p.claims = p.claims[n:]
}

func reached(pairs []device.TimelinePair) bool {
	for _, pr := range pairs {
		if !pr.Reached() {
			return false
		}
	}
	return true
}

// Destroy releases the pool's buffer.
func (p *TransferMemoryPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffer != device.InvalidID {
		p.dev.DestroyBuffer(p.buffer)
		p.buffer = device.InvalidID
		p.host = nil
	}
}
