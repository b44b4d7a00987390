// Package alloc places transient resources inside one memory block.
//
// Two resources may share memory only when their lifetimes are disjoint.
// Lifetimes are tracked at batch granularity for resources that live on one
// queue within one submit, and at submit granularity otherwise.
package alloc

import (
	"fmt"
	"slices"
)

// Lifetime is the span of the graph during which a resource is live.
type Lifetime struct {
	FirstSubmit int
	LastSubmit  int

	// Batch granularity: the resource lives on Queue within one submit
	// and FirstBatch/LastBatch are queue-local batch indices.
	BatchGranularity bool
	Queue            uint8
	FirstBatch       int
	LastBatch        int

	// Global batch indices spanned, used to order placements.
	GlobalFirst int
	GlobalLast  int
}

// Overlaps reports whether two lifetimes may be live at the same time.
func (a Lifetime) Overlaps(b Lifetime) bool {
	if a.LastSubmit < b.FirstSubmit || b.LastSubmit < a.FirstSubmit {
		return false
	}
	if a.BatchGranularity && b.BatchGranularity &&
		a.FirstSubmit == b.FirstSubmit && a.Queue == b.Queue {
		return a.FirstBatch <= b.LastBatch && b.FirstBatch <= a.LastBatch
	}
	return true
}

// Length is the span of the lifetime in global batches.
func (a Lifetime) Length() int { return a.GlobalLast - a.GlobalFirst + 1 }

func (a Lifetime) String() string {
	if a.BatchGranularity {
		return fmt.Sprintf("submit %d queue %d batches [%d,%d]", a.FirstSubmit, a.Queue, a.FirstBatch, a.LastBatch)
	}
	return fmt.Sprintf("submits [%d,%d]", a.FirstSubmit, a.LastSubmit)
}

// Request is one resource to place.
type Request struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
	Lifetime       Lifetime
}

// Placement is where a request ended up.
type Placement struct {
	Offset uint64
	Size   uint64
}

// End returns one past the last byte of the placement.
func (p Placement) End() uint64 { return p.Offset + p.Size }

// Result is the outcome of Place.
type Result struct {
	// Placements is indexed like the requests.
	Placements []Placement

	// Size is the memory block size needed.
	Size uint64

	// Alignment is the largest alignment among the requests.
	Alignment uint64

	// MemoryTypeBits is the intersection of all request bits.
	MemoryTypeBits uint32
}

// Place assigns offsets to requests.
//
// With alias set, requests are placed longest lifetime first, ties broken by
// request order. Each one starts at offset zero and is pushed past every
// already placed request it conflicts with, in ascending offset order. The
// block size is the largest end offset.
//
// Without alias, requests are laid out one after another in request order.
func Place(reqs []Request, alias bool) Result {
	res := Result{
		Placements:     make([]Placement, len(reqs)),
		Alignment:      1,
		MemoryTypeBits: ^uint32(0),
	}
	if len(reqs) == 0 {
		res.MemoryTypeBits = 0
		return res
	}
	for _, r := range reqs {
		res.Alignment = max(res.Alignment, r.Alignment)
		res.MemoryTypeBits &= r.MemoryTypeBits
	}

	if !alias {
		var offset uint64
		for i, r := range reqs {
			offset = AlignUp(offset, r.Alignment)
			res.Placements[i] = Placement{Offset: offset, Size: r.Size}
			offset += r.Size
		}
		res.Size = offset
		return res
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return reqs[b].Lifetime.Length() - reqs[a].Lifetime.Length()
	})

	// placed holds request indices sorted by offset.
	placed := make([]int, 0, len(reqs))
	for _, i := range order {
		r := reqs[i]
		offset := AlignUp(0, r.Alignment)
		for _, j := range placed {
			p := res.Placements[j]
			if !r.Lifetime.Overlaps(reqs[j].Lifetime) {
				continue
			}
			if offset < p.End() && p.Offset < offset+r.Size {
				offset = AlignUp(p.End(), r.Alignment)
			}
		}
		res.Placements[i] = Placement{Offset: offset, Size: r.Size}
		res.Size = max(res.Size, offset+r.Size)

		at, _ := slices.BinarySearchFunc(placed, offset, func(j int, off uint64) int {
			switch {
			case res.Placements[j].Offset < off:
				return -1
			case res.Placements[j].Offset > off:
				return 1
			}
			return 0
		})
		placed = slices.Insert(placed, at, i)
	}
	return res
}

// AlignUp rounds v up to a multiple of align. An alignment of zero or one
// leaves v unchanged.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
