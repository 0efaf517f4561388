// Package tlsf implements a Two-Level Segregated Fit (TLSF) dynamic memory
// allocator over a single caller-supplied byte slab.
//
// TLSF locates a free block of sufficient size in O(1) by indexing free
// lists with a two-level bitmap: a first-level (FL) bitmap picks a
// power-of-two size class, and a second-level (SL) bitmap subdivides that
// class linearly. Allocation, free, and realign (Memalign) all do a
// bounded amount of work regardless of how fragmented the pool is.
//
// Every block header lives inside the slab itself rather than as a
// separate Go object — this package manipulates mem directly through
// offsets so that anything walking the raw bytes (Walk, Check, or an
// external tool) sees the same physical layout the allocator maintains.
// Block "pointers" are therefore uint32 byte offsets into mem, not Go
// pointers; nullOffset plays the role of a nil block pointer.
package tlsf

import "encoding/binary"

const (
	// alignSize is the allocation granularity; every block size is a
	// multiple of it, which is what makes the low two bits of the size
	// word safe to steal for flags.
	alignSize     = 4
	alignSizeLog2 = 2

	slIndexCountLog2 = 5
	slIndexCount     = 1 << slIndexCountLog2 // 32

	// flIndexShift is derived from the second-level split: below
	// smallBlockSize, blocks are binned linearly instead of by FL/SL,
	// since there isn't enough dynamic range for a useful power-of-two
	// split.
	flIndexShift   = slIndexCountLog2 + alignSizeLog2 // 7
	smallBlockSize = 1 << flIndexShift                // 128

	// blockHeaderOverhead is the number of slab bytes a block's header
	// costs beyond its payload: just the size word. The "previous
	// physical block" back-pointer is not counted here because it
	// physically overlaps the tail of the preceding block's payload
	// (and is only meaningful while that predecessor is free).
	blockHeaderOverhead = 4

	// blockStartOffset is the payload offset relative to a block's
	// header address (the address of its size word).
	blockStartOffset = 4

	// blockSizeMin is the smallest payload a free block may hold: room
	// for the next/prev free-list pointers, which double up as payload
	// bytes while the block is free, plus the last word, which holds the
	// next block's back-pointer to this one.
	blockSizeMin = 12
)

// blockFlags occupies the two low bits of the size word.
type blockFlags uint32

const (
	flagFree     blockFlags = 1 << 0
	flagPrevFree blockFlags = 1 << 1
	flagMask                = flagFree | flagPrevFree
)

// nullOffset plays the role of a nil block pointer / nil free-list link.
const nullOffset uint32 = 0xFFFFFFFF

// header is a thin, stateless view over a block's fixed-position fields
// inside mem. It never copies payload; every method reads or writes
// straight through to the slab.
type header struct {
	mem []byte
	// off is the address of the size word (the block's "header
	// address" in the classic TLSF sense); payload starts at off+blockStartOffset.
	off uint32
}

func (h header) prevPhysOffset() uint32 {
	return binary.LittleEndian.Uint32(h.mem[h.off-4 : h.off])
}

func (h header) setPrevPhysOffset(v uint32) {
	binary.LittleEndian.PutUint32(h.mem[h.off-4:h.off], v)
}

func (h header) rawSize() uint32 {
	return binary.LittleEndian.Uint32(h.mem[h.off : h.off+4])
}

func (h header) setRawSize(v uint32) {
	binary.LittleEndian.PutUint32(h.mem[h.off:h.off+4], v)
}

// size returns the payload size in bytes, with the flag bits masked out.
func (h header) size() uint32 {
	return h.rawSize() &^ uint32(flagMask)
}

func (h header) setSize(size uint32) {
	h.setRawSize(size | uint32(h.flags()))
}

func (h header) flags() blockFlags {
	return blockFlags(h.rawSize()) & flagMask
}

func (h header) isFree() bool     { return h.flags()&flagFree != 0 }
func (h header) isPrevFree() bool { return h.flags()&flagPrevFree != 0 }
func (h header) isLast() bool     { return h.size() == 0 }

func (h header) setFlag(f blockFlags) {
	h.setRawSize(h.rawSize() | uint32(f))
}

func (h header) clearFlag(f blockFlags) {
	h.setRawSize(h.rawSize() &^ uint32(f))
}

// nextFreeOffset/prevFreeOffset/payload are only valid while the block is
// free; they overlap the front of the payload region.
func (h header) nextFreeOffset() uint32 {
	return binary.LittleEndian.Uint32(h.mem[h.off+4 : h.off+8])
}

func (h header) setNextFreeOffset(v uint32) {
	binary.LittleEndian.PutUint32(h.mem[h.off+4:h.off+8], v)
}

func (h header) prevFreeOffset() uint32 {
	return binary.LittleEndian.Uint32(h.mem[h.off+8 : h.off+12])
}

func (h header) setPrevFreeOffset(v uint32) {
	binary.LittleEndian.PutUint32(h.mem[h.off+8:h.off+12], v)
}

// payloadOffset is the offset callers receive from Malloc/Memalign.
func (h header) payloadOffset() uint32 {
	return h.off + blockStartOffset
}

// blockFromPayload recovers a block header from a payload offset
// previously handed out by Malloc/Memalign.
func blockFromPayload(mem []byte, payloadOff uint32) header {
	return header{mem: mem, off: payloadOff - blockStartOffset}
}

// next returns the header of the physically next block.
func (h header) next() header {
	return header{mem: h.mem, off: h.payloadOffset() + h.size()}
}

// linkNext writes this block's payload-end back-pointer slot (which
// physically belongs to the next block's header) so the next block knows
// where its physical predecessor is. Only meaningful while h is free, but
// harmless to maintain unconditionally.
func (h header) linkNext() {
	h.next().setPrevPhysOffset(h.off)
}
