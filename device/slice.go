package device

import "fmt"

// ImageSlice is a rectangular range of mip levels and array layers.
type ImageSlice struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// FullSlice returns the slice covering mips mip levels and layers layers.
func FullSlice(mips, layers uint32) ImageSlice {
	return ImageSlice{MipCount: max(mips, 1), LayerCount: max(layers, 1)}
}

// EndMip returns one past the last mip level.
func (s ImageSlice) EndMip() uint32 { return s.BaseMip + s.MipCount }

// EndLayer returns one past the last array layer.
func (s ImageSlice) EndLayer() uint32 { return s.BaseLayer + s.LayerCount }

// Empty reports whether the slice contains no subresource.
func (s ImageSlice) Empty() bool { return s.MipCount == 0 || s.LayerCount == 0 }

// Contains reports whether o lies entirely inside s.
func (s ImageSlice) Contains(o ImageSlice) bool {
	return o.BaseMip >= s.BaseMip && o.EndMip() <= s.EndMip() &&
		o.BaseLayer >= s.BaseLayer && o.EndLayer() <= s.EndLayer()
}

// Within reports whether s fits an image with the given mip and layer counts.
func (s ImageSlice) Within(mips, layers uint32) bool {
	return !s.Empty() && s.EndMip() <= mips && s.EndLayer() <= layers
}

func (s ImageSlice) String() string {
	return fmt.Sprintf("mips[%d,%d) layers[%d,%d)", s.BaseMip, s.EndMip(), s.BaseLayer, s.EndLayer())
}
