package tlsf

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrPoolTooSmall is returned by New when mem is too small to hold even
// one minimal free block plus the trailing sentinel.
var ErrPoolTooSmall = errors.New("tlsf: pool too small")

// ErrUnaligned is returned by New when mem's length is not a multiple of
// alignSize.
var ErrUnaligned = errors.New("tlsf: pool length must be a multiple of alignSize")

// Control is a TLSF instance managing a single fixed byte slab. The zero
// value is not usable; construct one with New.
type Control struct {
	mem []byte

	flIndexMax   int
	flIndexCount int

	flBitmap uint32
	slBitmap []uint32 // len flIndexCount

	// blocks[fl*slIndexCount+sl] holds the offset of the head of that
	// free list, or nullOffset if empty.
	blocks []uint32

	poolEnd uint32 // offset of the trailing zero-size sentinel block
}

// New creates a TLSF control structure managing the whole of mem as a
// single pool. mem must be alignSize-aligned in length and large enough
// to carry at least one minimal block plus the sentinel.
func New(mem []byte) (*Control, error) {
	if len(mem)%alignSize != 0 {
		return nil, ErrUnaligned
	}
	// Need room for: the first block's size word, blockSizeMin payload,
	// and the sentinel's size word.
	minBytes := blockHeaderOverhead + blockSizeMin + blockHeaderOverhead
	if len(mem) < minBytes {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrPoolTooSmall, minBytes, len(mem))
	}

	// FL_INDEX_MAX = ceil(log2(pool_size)): this must be an upper
	// bound strictly above every representable block size, since no
	// block can ever be as large as the whole pool once header and
	// sentinel overhead are accounted for; bits.Len32(n-1) is exactly
	// ceil(log2(n)) for n > 0.
	flIndexMax := bits.Len32(uint32(len(mem)) - 1)
	if flIndexMax < flIndexShift {
		flIndexMax = flIndexShift
	}
	flIndexCount := flIndexMax - flIndexShift + 1

	c := &Control{
		mem:          mem,
		flIndexMax:   flIndexMax,
		flIndexCount: flIndexCount,
		slBitmap:     make([]uint32, flIndexCount),
		blocks:       make([]uint32, flIndexCount*slIndexCount),
	}
	for i := range c.blocks {
		c.blocks[i] = nullOffset
	}

	c.buildInitialPool()
	return c, nil
}

// buildInitialPool lays out one big free block spanning the whole slab,
// terminated by a zero-size used sentinel block.
func (c *Control) buildInitialPool() {
	sentinelOff := uint32(len(c.mem)) - blockHeaderOverhead
	c.poolEnd = sentinelOff

	first := header{mem: c.mem, off: 0}
	// Block 0's "previous physical block" address lies outside the
	// pool and must never be dereferenced; mark it used so nothing
	// ever treats that non-existent predecessor as free.
	first.setRawSize(0)
	first.setSize(sentinelOff - blockStartOffset)

	sentinel := header{mem: c.mem, off: sentinelOff}
	sentinel.setRawSize(0)

	// insertFreeBlock marks first as free and sets the sentinel's
	// PREV_FREE bit since it physically follows first.
	c.insertFreeBlock(first)
}

func blockIndex(fl, sl int) int { return fl*slIndexCount + sl }

func (c *Control) listHead(fl, sl int) uint32 { return c.blocks[blockIndex(fl, sl)] }

func (c *Control) setListHead(fl, sl int, off uint32) { c.blocks[blockIndex(fl, sl)] = off }

// insertFreeBlock files h into the segregated free list for its size,
// marks the relevant FL/SL bitmap bits, and points the physically next
// block's back-pointer and PREV_FREE flag at h.
func (c *Control) insertFreeBlock(h header) {
	fl, sl := mappingInsert(h.size())
	head := c.listHead(fl, sl)

	h.setFlag(flagFree)
	h.setNextFreeOffset(head)
	h.setPrevFreeOffset(nullOffset)
	if head != nullOffset {
		header{mem: c.mem, off: head}.setPrevFreeOffset(h.off)
	}
	c.setListHead(fl, sl, h.off)

	c.slBitmap[fl] |= 1 << uint(sl)
	c.flBitmap |= 1 << uint(fl)

	h.linkNext()
	h.next().setFlag(flagPrevFree)
}

// removeFreeBlock unlinks h from the free list indexed by (fl, sl),
// clearing bitmap bits that become empty.
func (c *Control) removeFreeBlock(h header, fl, sl int) {
	prev := h.prevFreeOffset()
	next := h.nextFreeOffset()
	if next != nullOffset {
		header{mem: c.mem, off: next}.setPrevFreeOffset(prev)
	}
	if prev != nullOffset {
		header{mem: c.mem, off: prev}.setNextFreeOffset(next)
	} else {
		c.setListHead(fl, sl, next)
	}

	if c.listHead(fl, sl) == nullOffset {
		c.slBitmap[fl] &^= 1 << uint(sl)
		if c.slBitmap[fl] == 0 {
			c.flBitmap &^= 1 << uint(fl)
		}
	}
}

// removeFreeBlockAuto is removeFreeBlock with (fl, sl) recomputed from
// the block's current size — the common case, where the caller hasn't
// already looked the indices up.
func (c *Control) removeFreeBlockAuto(h header) {
	fl, sl := mappingInsert(h.size())
	c.removeFreeBlock(h, fl, sl)
}

// searchSuitableBlock locates the smallest non-empty free list at or
// above (fl, sl), or reports none found.
func (c *Control) searchSuitableBlock(fl, sl int) (found bool, rfl, rsl int) {
	if fl >= c.flIndexCount {
		return false, 0, 0
	}
	slMap := c.slBitmap[fl] & (^uint32(0) << uint(sl))
	if slMap == 0 {
		flMap := c.flBitmap & (^uint32(0) << uint(fl+1))
		if flMap == 0 {
			return false, 0, 0
		}
		fl = ffs(flMap)
		slMap = c.slBitmap[fl]
	}
	sl = ffs(slMap)
	return true, fl, sl
}

// popHead removes and returns the head block of free list (fl, sl). The
// list must be non-empty.
func (c *Control) popHead(fl, sl int) header {
	off := c.listHead(fl, sl)
	h := header{mem: c.mem, off: off}
	c.removeFreeBlock(h, fl, sl)
	return h
}

// adjustRequestSize aligns size up to alignSize and raises it to at least
// blockSizeMin. It applies no upper bound; callers compare the result
// against maxPayload themselves. A size of 0 is rejected by the caller
// before this is reached in the alloc path, but memalign reuses this
// helper directly too.
func (c *Control) adjustRequestSize(size uint32) uint32 {
	aligned := (size + alignSize - 1) &^ uint32(alignSize-1)
	if aligned < blockSizeMin {
		aligned = blockSizeMin
	}
	return aligned
}

