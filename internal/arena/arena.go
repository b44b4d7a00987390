// Package arena provides a bump allocator for per-pass scratch bytes.
//
// An Arena hands out sub-slices of large chunks and is reset wholesale at the
// end of a pass. Slices returned before Reset must not be used afterwards.
package arena

// DefaultChunkSize is used when New is given a non-positive size.
const DefaultChunkSize = 64 << 10

// Arena is a chunked bump allocator. It is not safe for concurrent use.
type Arena struct {
	chunkSize int
	chunks    [][]byte
	current   int // index of the chunk being filled
	offset    int // fill level of the current chunk
	used      int
}

// New creates an arena that grows in chunks of chunkSize bytes.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Alloc returns size zeroed bytes aligned to align within the chunk.
// Requests larger than the chunk size get a dedicated chunk.
func (a *Arena) Alloc(size, align int) []byte {
	if size <= 0 {
		return nil
	}
	if align <= 0 {
		align = 1
	}
	for a.current < len(a.chunks) {
		chunk := a.chunks[a.current]
		start := (a.offset + align - 1) / align * align
		if start+size <= len(chunk) {
			a.offset = start + size
			a.used += size
			b := chunk[start : start+size : start+size]
			clear(b)
			return b
		}
		a.current++
		a.offset = 0
	}
	a.chunks = append(a.chunks, make([]byte, max(a.chunkSize, size)))
	a.current = len(a.chunks) - 1
	a.offset = size
	a.used += size
	return a.chunks[a.current][:size:size]
}

// Reset makes all memory available again. Chunks are retained.
func (a *Arena) Reset() {
	a.current = 0
	a.offset = 0
	a.used = 0
}

// Used returns the number of bytes handed out since the last Reset.
func (a *Arena) Used() int { return a.used }

// Capacity returns the total size of all chunks.
func (a *Arena) Capacity() int {
	n := 0
	for _, c := range a.chunks {
		n += len(c)
	}
	return n
}
