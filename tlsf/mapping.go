package tlsf

import "math/bits"

// fls returns the index (0-based, from the LSB) of the most significant
// set bit of x, or -1 if x is zero. "Find last set."
func fls(x uint32) int {
	if x == 0 {
		return -1
	}
	return 31 - bits.LeadingZeros32(x)
}

// ffs returns the index of the least significant set bit of x, or -1 if
// x is zero. "Find first set."
func ffs(x uint32) int {
	if x == 0 {
		return -1
	}
	return bits.TrailingZeros32(x)
}

// mappingInsert computes the (fl, sl) indices a block of exactly size
// bytes is filed under. Unlike mappingSearch, it does not round up: the
// caller already knows the exact size of the block being inserted or
// looked up for removal.
func mappingInsert(size uint32) (fl, sl int) {
	if size < smallBlockSize {
		fl = 0
		sl = int(size) / (smallBlockSize / slIndexCount)
		return
	}
	fl = fls(size)
	sl = int(size>>uint(fl-slIndexCountLog2)) ^ slIndexCount
	fl -= flIndexShift - 1
	return
}

// mappingSearch computes the (fl, sl) indices of the smallest size class
// guaranteed to satisfy a request of size bytes: it rounds size up to the
// next class boundary first (unless size is already small-block range),
// so the block search_suitable_block locates is always big enough.
func mappingSearch(size uint32) (fl, sl int) {
	if size >= smallBlockSize {
		round := uint32(1)<<uint(fls(size)-slIndexCountLog2) - 1
		size += round
	}
	return mappingInsert(size)
}
