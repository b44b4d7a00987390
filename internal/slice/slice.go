// Package slice implements the interval arithmetic used to track the state
// of image mip/array slices.
//
// Every function is pure: inputs are never modified and results are freshly
// allocated, so callers can keep old state lists around while building new
// ones.
package slice

import "github.com/gogpu/taskgraph/device"

// Intersect returns the overlap of a and b and whether it is non-empty.
func Intersect(a, b device.ImageSlice) (device.ImageSlice, bool) {
	baseMip := max(a.BaseMip, b.BaseMip)
	endMip := min(a.EndMip(), b.EndMip())
	baseLayer := max(a.BaseLayer, b.BaseLayer)
	endLayer := min(a.EndLayer(), b.EndLayer())
	if baseMip >= endMip || baseLayer >= endLayer {
		return device.ImageSlice{}, false
	}
	return device.ImageSlice{
		BaseMip:    baseMip,
		MipCount:   endMip - baseMip,
		BaseLayer:  baseLayer,
		LayerCount: endLayer - baseLayer,
	}, true
}

// Overlaps reports whether a and b share a subresource.
func Overlaps(a, b device.ImageSlice) bool {
	_, ok := Intersect(a, b)
	return ok
}

// Subtract returns a minus b as at most four disjoint slices.
//
// The pieces are ordered: mips below b, mips above b, then within b's mip
// range the layers below and above b.
func Subtract(a, b device.ImageSlice) []device.ImageSlice {
	in, ok := Intersect(a, b)
	if !ok {
		if a.Empty() {
			return nil
		}
		return []device.ImageSlice{a}
	}
	var out []device.ImageSlice
	if a.BaseMip < in.BaseMip {
		out = append(out, device.ImageSlice{
			BaseMip: a.BaseMip, MipCount: in.BaseMip - a.BaseMip,
			BaseLayer: a.BaseLayer, LayerCount: a.LayerCount,
		})
	}
	if in.EndMip() < a.EndMip() {
		out = append(out, device.ImageSlice{
			BaseMip: in.EndMip(), MipCount: a.EndMip() - in.EndMip(),
			BaseLayer: a.BaseLayer, LayerCount: a.LayerCount,
		})
	}
	if a.BaseLayer < in.BaseLayer {
		out = append(out, device.ImageSlice{
			BaseMip: in.BaseMip, MipCount: in.MipCount,
			BaseLayer: a.BaseLayer, LayerCount: in.BaseLayer - a.BaseLayer,
		})
	}
	if in.EndLayer() < a.EndLayer() {
		out = append(out, device.ImageSlice{
			BaseMip: in.BaseMip, MipCount: in.MipCount,
			BaseLayer: in.EndLayer(), LayerCount: a.EndLayer() - in.EndLayer(),
		})
	}
	return out
}

// SubtractAll returns the parts of a not covered by any slice in bs.
func SubtractAll(a device.ImageSlice, bs []device.ImageSlice) []device.ImageSlice {
	rest := []device.ImageSlice{a}
	for _, b := range bs {
		var next []device.ImageSlice
		for _, r := range rest {
			next = append(next, Subtract(r, b)...)
		}
		rest = next
		if len(rest) == 0 {
			break
		}
	}
	return rest
}

// Entry associates a value with a slice.
type Entry[T any] struct {
	Slice device.ImageSlice
	Value T
}

// Match is the overlap between a query slice and one entry.
type Match[T any] struct {
	Slice device.ImageSlice // overlap, clipped to the query
	Value T
	Index int // index of the entry in the list
}

// Query returns the entries of list that overlap s, clipped to s, and the
// parts of s no entry covers. The entries of list must be disjoint.
func Query[T any](list []Entry[T], s device.ImageSlice) (matches []Match[T], uncovered []device.ImageSlice) {
	covered := make([]device.ImageSlice, 0, len(list))
	for i, e := range list {
		in, ok := Intersect(e.Slice, s)
		if !ok {
			continue
		}
		matches = append(matches, Match[T]{Slice: in, Value: e.Value, Index: i})
		covered = append(covered, in)
	}
	return matches, SubtractAll(s, covered)
}

// Assign returns a new list in which s holds v and every other subresource
// keeps its previous value. Entries partially covered by s are split.
func Assign[T any](list []Entry[T], s device.ImageSlice, v T) []Entry[T] {
	out := make([]Entry[T], 0, len(list)+1)
	for _, e := range list {
		for _, rest := range Subtract(e.Slice, s) {
			out = append(out, Entry[T]{Slice: rest, Value: e.Value})
		}
	}
	return append(out, Entry[T]{Slice: s, Value: v})
}
