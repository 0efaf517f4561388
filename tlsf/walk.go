package tlsf

import "fmt"

// Visitor is called once per physical block during Walk, in address
// order. payloadOff is the block's payload offset (what Malloc would have
// returned), size is its payload size, and used reports whether the block
// is currently allocated.
type Visitor func(payloadOff, size uint32, used bool)

// Walk iterates every physical block in the pool, in ascending address
// order, up to (but not including) the trailing sentinel.
func (c *Control) Walk(visit Visitor) {
	h := header{mem: c.mem, off: 0}
	for !h.isLast() {
		visit(h.payloadOffset(), h.size(), !h.isFree())
		h = h.next()
	}
}

// PoolBytes returns the total length of the managed slab, including all
// header and sentinel overhead.
func (c *Control) PoolBytes() int {
	return len(c.mem)
}

// BlockSize returns the current internal payload size of the block at
// payloadOff, i.e. what Malloc actually reserved for the request (after
// alignment and splitting), not the size originally requested.
func (c *Control) BlockSize(payloadOff uint32) uint32 {
	return blockFromPayload(c.mem, payloadOff).size()
}

// SizeOf masks the payload size out of a raw, flag-packed size word as
// returned by Control.Free.
func SizeOf(raw uint32) uint32 {
	return raw &^ uint32(flagMask)
}

// Integrity reports every consistency violation Check found. A zero value
// (all slices nil/empty) means the pool passed every check.
//
// Integrity carries the concrete list of what's wrong instead of a
// silent pass-or-fail bool.
type Integrity struct {
	BitmapMismatches   []string
	ListMismatches     []string
	PhysicalMismatches []string
	AdjacentFreeBlocks []string
}

// OK reports whether no violation was found.
func (i Integrity) OK() bool {
	return len(i.BitmapMismatches) == 0 && len(i.ListMismatches) == 0 &&
		len(i.PhysicalMismatches) == 0 && len(i.AdjacentFreeBlocks) == 0
}

// Error satisfies the error interface so an Integrity can be handed
// straight to callers that want err != nil on any violation; OK()
// decides membership.
func (i Integrity) Error() string {
	return fmt.Sprintf("tlsf: integrity check found %d bitmap, %d list, %d physical, %d adjacency violations",
		len(i.BitmapMismatches), len(i.ListMismatches), len(i.PhysicalMismatches), len(i.AdjacentFreeBlocks))
}

// Check verifies: free-list membership agrees with mapping_insert,
// bitmap bits agree with list occupancy, PREV_FREE flags agree with
// physical neighbors, and no two
// physically adjacent free blocks exist.
func (c *Control) Check() Integrity {
	var it Integrity

	// Invariants 2 & 3: every listed block maps back to its list, and
	// every non-empty list has its bitmap bits set.
	for fl := 0; fl < c.flIndexCount; fl++ {
		slBit := c.slBitmap[fl] != 0
		flBit := c.flBitmap&(1<<uint(fl)) != 0
		if slBit != flBit {
			it.BitmapMismatches = append(it.BitmapMismatches,
				fmt.Sprintf("fl=%d: flBitmap=%v but slBitmap!=0 is %v", fl, flBit, slBit))
		}
		for sl := 0; sl < slIndexCount; sl++ {
			head := c.listHead(fl, sl)
			bitSet := c.slBitmap[fl]&(1<<uint(sl)) != 0
			if (head != nullOffset) != bitSet {
				it.BitmapMismatches = append(it.BitmapMismatches,
					fmt.Sprintf("fl=%d sl=%d: list non-empty=%v but bit=%v", fl, sl, head != nullOffset, bitSet))
			}
			for off := head; off != nullOffset; {
				h := header{mem: c.mem, off: off}
				if gotFL, gotSL := mappingInsert(h.size()); gotFL != fl || gotSL != sl {
					it.ListMismatches = append(it.ListMismatches,
						fmt.Sprintf("block at %d: size %d maps to (%d,%d), found on (%d,%d)", off, h.size(), gotFL, gotSL, fl, sl))
				}
				if !h.isFree() {
					it.ListMismatches = append(it.ListMismatches,
						fmt.Sprintf("block at %d: on free list but FREE flag unset", off))
				}
				off = h.nextFreeOffset()
			}
		}
	}

	// Invariants 1 (no adjacent free blocks), 4 (PREV_FREE agreement)
	// and 5 (size conservation): single physical walk.
	var total uint32
	h := header{mem: c.mem, off: 0}
	var prevWasFree bool
	for {
		total += blockHeaderOverhead + h.size()
		if h.isPrevFree() != prevWasFree && h.off != 0 {
			it.PhysicalMismatches = append(it.PhysicalMismatches,
				fmt.Sprintf("block at %d: PREV_FREE=%v but physical predecessor free=%v", h.off, h.isPrevFree(), prevWasFree))
		}
		if h.isFree() && prevWasFree {
			it.AdjacentFreeBlocks = append(it.AdjacentFreeBlocks,
				fmt.Sprintf("block at %d is free and immediately follows a free block", h.off))
		}
		if h.isLast() {
			break
		}
		prevWasFree = h.isFree()
		h = h.next()
	}
	if int(total) != len(c.mem) {
		it.PhysicalMismatches = append(it.PhysicalMismatches,
			fmt.Sprintf("pool size conservation violated: blocks sum to %d, pool is %d", total, len(c.mem)))
	}

	return it
}
