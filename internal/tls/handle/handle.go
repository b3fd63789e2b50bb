// Package handle implements packed 64-bit thread identifiers.
//
// A Handle identifies one thread incarnation as a compact value:
// - Top 32 bits: Index into the thread table (recycled after exit)
// - Bottom 32 bits: Generation of that index (bumped on every reuse)
//
// Two handles with the same index but different generations belong to
// different threads. This is what makes a stale handle (held past its
// thread's exit) detectable in O(1).
package handle

import "strconv"

// Handle is a 64-bit thread identifier encoding index and generation.
// Layout: [Index:32][Generation:32]
//
// Example: 0x0000000500000002 represents Index=5, Generation=2.
type Handle uint64

const (
	// IndexBits is the number of bits allocated for the table index.
	IndexBits = 32

	// GenerationBits is the number of bits allocated for the generation.
	GenerationBits = 32

	// GenerationMask is the bitmask for extracting the generation.
	GenerationMask = (1 << GenerationBits) - 1
)

// Invalid is the zero handle. Generations start at 1, so no live thread
// ever carries it.
const Invalid Handle = 0

// New creates a handle from table index and generation.
//
//go:nosplit
func New(index, generation uint32) Handle {
	return Handle(uint64(index)<<GenerationBits | uint64(generation))
}

// Decode extracts the index and generation from a handle.
//
//go:nosplit
func (h Handle) Decode() (index, generation uint32) {
	index = uint32(h >> GenerationBits)
	generation = uint32(h & GenerationMask)
	return
}

// Index returns the table index of the handle.
func (h Handle) Index() uint32 {
	return uint32(h >> GenerationBits)
}

// Generation returns the generation of the handle.
func (h Handle) Generation() uint32 {
	return uint32(h & GenerationMask)
}

// Valid reports whether h can name a live thread.
func (h Handle) Valid() bool {
	return h.Generation() != 0
}

// Same reports whether two handles name the same thread incarnation.
func (h Handle) Same(other Handle) bool {
	return h == other
}

// String returns a human-readable representation of the handle.
//
// Format: "index#generation" (e.g., "5#2"). Only used in logs and reports.
func (h Handle) String() string {
	index, gen := h.Decode()
	return strconv.FormatUint(uint64(index), 10) + "#" + strconv.FormatUint(uint64(gen), 10)
}
