package alloc

import (
	"math/rand/v2"
	"testing"
)

func batchLife(queue uint8, first, last int) Lifetime {
	return Lifetime{
		BatchGranularity: true,
		Queue:            queue,
		FirstBatch:       first,
		LastBatch:        last,
		GlobalFirst:      first,
		GlobalLast:       last,
	}
}

func submitLife(first, last, gFirst, gLast int) Lifetime {
	return Lifetime{FirstSubmit: first, LastSubmit: last, GlobalFirst: gFirst, GlobalLast: gLast}
}

func TestLifetimeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Lifetime
		want bool
	}{
		{"disjoint batches", batchLife(0, 0, 1), batchLife(0, 2, 3), false},
		{"touching batches", batchLife(0, 0, 2), batchLife(0, 2, 3), true},
		{"other queue", batchLife(0, 0, 1), batchLife(1, 2, 3), true},
		{"disjoint submits", submitLife(0, 0, 0, 1), submitLife(1, 2, 2, 5), false},
		{"shared submit", submitLife(0, 1, 0, 3), submitLife(1, 2, 2, 5), true},
		{"batch vs submit", batchLife(0, 0, 0), submitLife(0, 1, 0, 3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps() is not symmetric")
			}
		})
	}
}

// Scenario: B1 lives in batches 0..1, B2 in 2..3 on the same queue, both
// 1 KiB. They must share offset zero and the block is 1 KiB.
func TestPlaceAliasesDisjointLifetimes(t *testing.T) {
	reqs := []Request{
		{Size: 1024, Alignment: 256, MemoryTypeBits: 0b11, Lifetime: batchLife(0, 0, 1)},
		{Size: 1024, Alignment: 256, MemoryTypeBits: 0b10, Lifetime: batchLife(0, 2, 3)},
	}
	res := Place(reqs, true)
	if res.Size != 1024 {
		t.Errorf("Size = %d, want 1024", res.Size)
	}
	if res.Placements[0].Offset != 0 || res.Placements[1].Offset != 0 {
		t.Errorf("Placements = %v, want both at offset 0", res.Placements)
	}
	if res.MemoryTypeBits != 0b10 {
		t.Errorf("MemoryTypeBits = %b, want 10", res.MemoryTypeBits)
	}
}

func TestPlaceWithoutAlias(t *testing.T) {
	reqs := []Request{
		{Size: 100, Alignment: 64, Lifetime: batchLife(0, 0, 0)},
		{Size: 100, Alignment: 64, Lifetime: batchLife(0, 1, 1)},
		{Size: 10, Alignment: 256, Lifetime: batchLife(0, 2, 2)},
	}
	res := Place(reqs, false)
	want := []uint64{0, 128, 256}
	for i, p := range res.Placements {
		if p.Offset != want[i] {
			t.Errorf("placement %d offset = %d, want %d", i, p.Offset, want[i])
		}
	}
	if res.Size != 266 {
		t.Errorf("Size = %d, want 266", res.Size)
	}
	if res.Alignment != 256 {
		t.Errorf("Alignment = %d, want 256", res.Alignment)
	}
}

func TestPlaceLongestFirst(t *testing.T) {
	reqs := []Request{
		{Size: 64, Alignment: 1, Lifetime: batchLife(0, 0, 0)},
		{Size: 64, Alignment: 1, Lifetime: batchLife(0, 0, 5)},
	}
	res := Place(reqs, true)
	// The longer lifetime is placed first and takes offset zero.
	if res.Placements[1].Offset != 0 || res.Placements[0].Offset != 64 {
		t.Errorf("Placements = %v", res.Placements)
	}
}

func TestPlaceNeverOverlapsLiveResources(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iter := range 200 {
		n := 1 + rng.IntN(12)
		reqs := make([]Request, n)
		for i := range reqs {
			var life Lifetime
			if rng.IntN(2) == 0 {
				first := rng.IntN(6)
				life = batchLife(uint8(rng.IntN(2)), first, first+rng.IntN(4))
			} else {
				first := rng.IntN(3)
				last := first + rng.IntN(2)
				life = submitLife(first, last, first*10, last*10+9)
			}
			reqs[i] = Request{
				Size:      uint64(1 + rng.IntN(4096)),
				Alignment: uint64(1) << rng.IntN(9),
				Lifetime:  life,
			}
		}
		res := Place(reqs, true)
		var sum uint64
		for i := range reqs {
			p := res.Placements[i]
			if p.Offset%reqs[i].Alignment != 0 {
				t.Fatalf("iter %d: request %d misaligned at %d", iter, i, p.Offset)
			}
			if p.End() > res.Size {
				t.Fatalf("iter %d: request %d ends past block", iter, i)
			}
			sum += AlignUp(reqs[i].Size, res.Alignment)
			for j := i + 1; j < n; j++ {
				q := res.Placements[j]
				if reqs[i].Lifetime.Overlaps(reqs[j].Lifetime) && p.Offset < q.End() && q.Offset < p.End() {
					t.Fatalf("iter %d: live requests %d and %d share memory", iter, i, j)
				}
			}
		}
		if res.Size > sum+res.Alignment*uint64(n) {
			t.Fatalf("iter %d: size %d exceeds bump size", iter, res.Size)
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ v, align, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{5, 0, 5},
		{5, 1, 5},
		{5, 3, 6},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.v, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.want)
		}
	}
}
