// Package heap is a process-wide memory facade: a singleton-shaped
// wrapper around a tlsf.Control that adds used-byte accounting, a stable
// zero-byte allocation, and a scoped temp-buffer pool. Nothing here is
// safe for concurrent use from more than one goroutine at a time.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/ethereum/go-ethereum/log"

	"tlsfrt/tlsf"
)

// Defaults for the facade's tunable constants.
const (
	DefaultSize           = 1024
	DefaultMaxTempBuffers = 16
	zeroSentinelMagic     = 0xa1b2c3d4
)

type config struct {
	size           int
	maxTempBuffers int
}

// Option configures a Facade at construction time. This replaces the
// compile-time #define constants of a C original with the functional
// options idiom the CortexTheseus pack uses for its long-lived service
// types.
type Option func(*config)

// WithSize sets the byte size of the managed slab (OS_MEM_SIZE).
func WithSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithMaxTempBuffers sets the number of scoped temp-buffer slots
// (OS_MEM_BUF_MAX_NUM).
func WithMaxTempBuffers(n int) Option {
	return func(c *config) { c.maxTempBuffers = n }
}

type tempSlot struct {
	buf  []byte
	used bool
}

// Facade is a heap instance: a TLSF pool plus usage accounting and a
// temp-buffer pool. The zero value is not ready to use; construct one
// with New.
type Facade struct {
	ctl *tlsf.Control
	mem []byte

	curUsed uint64
	maxUsed uint64

	zeroSentinel [4]byte
	tempSlots    []tempSlot
}

// New allocates a fresh slab and TLSF control structure. Options let
// callers override the defaults above.
func New(opts ...Option) (*Facade, error) {
	cfg := config{size: DefaultSize, maxTempBuffers: DefaultMaxTempBuffers}
	for _, o := range opts {
		o(&cfg)
	}

	mem := make([]byte, cfg.size)
	ctl, err := tlsf.New(mem)
	if err != nil {
		return nil, fmt.Errorf("heap: init: %w", err)
	}

	f := &Facade{
		ctl:       ctl,
		mem:       mem,
		tempSlots: make([]tempSlot, cfg.maxTempBuffers),
	}
	binary.LittleEndian.PutUint32(f.zeroSentinel[:], zeroSentinelMagic)
	return f, nil
}

func (f *Facade) isSentinel(p []byte) bool {
	return len(p) > 0 && &p[0] == &f.zeroSentinel[0]
}

func (f *Facade) offsetOf(p []byte) uint32 {
	base := uintptr(unsafe.Pointer(&f.mem[0]))
	ptr := uintptr(unsafe.Pointer(&p[0]))
	return uint32(ptr - base)
}

// Alloc reserves size bytes and returns a slice viewing them. A 0-byte
// request returns the address-stable zero sentinel rather than nil, so
// repeated zero-byte allocations compare equal and Free on the result is
// always safe. A nil return means out-of-memory.
func (f *Facade) Alloc(size int) []byte {
	if size == 0 {
		return f.zeroSentinel[:]
	}
	off, ok := f.ctl.Malloc(uint32(size))
	if !ok {
		log.Debug("heap: alloc failed", "size", size, "curUsed", f.curUsed)
		return nil
	}
	actual := f.ctl.BlockSize(off)
	f.curUsed += uint64(actual)
	if f.curUsed > f.maxUsed {
		f.maxUsed = f.curUsed
	}
	return f.mem[off : off+uint32(size)]
}

// Free releases a slice previously returned by Alloc/Realloc. Freeing the
// zero sentinel or a nil slice is a no-op.
func (f *Facade) Free(p []byte) {
	if p == nil || f.isSentinel(p) {
		return
	}
	off := f.offsetOf(p)
	// Read the block's own size before freeing: tlsf.Free reports the
	// size of the block after coalescing with free neighbors.
	actual := f.ctl.BlockSize(off)
	f.ctl.Free(off)
	if uint64(actual) > f.curUsed {
		f.curUsed = 0
	} else {
		f.curUsed -= uint64(actual)
	}
}

// Realloc resizes a previous allocation, preserving its content up to the
// smaller of the old and new sizes. n == 0 frees p and returns the zero
// sentinel; p being the zero sentinel behaves like Alloc(n).
func (f *Facade) Realloc(p []byte, n int) []byte {
	if n == 0 {
		f.Free(p)
		return f.zeroSentinel[:]
	}
	if p == nil || f.isSentinel(p) {
		return f.Alloc(n)
	}

	off := f.offsetOf(p)
	oldActual := f.ctl.BlockSize(off)
	newOff, ok := f.ctl.Realloc(off, uint32(n))
	if !ok {
		return nil
	}
	newActual := f.ctl.BlockSize(newOff)

	// Realloc updates accounting by the delta between the old and new
	// internal block sizes.
	if newActual >= oldActual {
		f.curUsed += uint64(newActual - oldActual)
	} else {
		d := uint64(oldActual - newActual)
		if d > f.curUsed {
			f.curUsed = 0
		} else {
			f.curUsed -= d
		}
	}
	if f.curUsed > f.maxUsed {
		f.maxUsed = f.curUsed
	}
	return f.mem[newOff : newOff+uint32(n)]
}

// CurUsed returns the number of slab bytes currently reserved by live
// allocations, in internal-block-size terms — the same size on both
// alloc and free, so the counter never drifts relative to what tlsf
// itself reports.
func (f *Facade) CurUsed() uint64 { return f.curUsed }

// MaxUsed returns the high-water mark of CurUsed since the facade was
// created.
func (f *Facade) MaxUsed() uint64 { return f.maxUsed }

// ErrSentinelCorrupted means something wrote through the zero-byte
// allocation's address, corrupting the magic value Test checks for.
var ErrSentinelCorrupted = errors.New("heap: zero sentinel corrupted")

// Test verifies heap integrity: the zero sentinel's value is unchanged,
// and the TLSF pool passes Control.Check. A non-nil error indicates a
// consistency failure — not automatically recoverable, and fatal to
// further reliable use of the heap.
func (f *Facade) Test() error {
	if binary.LittleEndian.Uint32(f.zeroSentinel[:]) != zeroSentinelMagic {
		return ErrSentinelCorrupted
	}
	if integ := f.ctl.Check(); !integ.OK() {
		log.Error("heap: integrity check failed", "err", integ.Error())
		return fmt.Errorf("heap: %w", integ)
	}
	return nil
}

// Stats is the result of Monitor.
type Stats struct {
	TotalSize       int
	UsedCount       int
	FreeCount       int
	FreeBiggestSize uint32
	UsedPct         int
	FragPct         int
}

// Monitor walks the pool and reports usage and fragmentation statistics.
func (f *Facade) Monitor() Stats {
	st := Stats{TotalSize: f.ctl.PoolBytes()}
	var freeSize uint32
	f.ctl.Walk(func(_, size uint32, used bool) {
		if used {
			st.UsedCount++
			return
		}
		st.FreeCount++
		freeSize += size
		if size > st.FreeBiggestSize {
			st.FreeBiggestSize = size
		}
	})
	if st.TotalSize > 0 {
		st.UsedPct = 100 - int(100*uint64(freeSize)/uint64(st.TotalSize))
	}
	if freeSize > 0 {
		st.FragPct = 100 - int(100*uint64(st.FreeBiggestSize)/uint64(freeSize))
	}
	return st
}

// BufGet borrows a scoped temporary buffer of at least size bytes from
// the fixed pool of temp-buffer slots. Among
// unused slots already big enough, an exact-size match is preferred;
// failing that, the tightest-fitting unused slot is reused, to keep
// slack allocations from accumulating across repeated borrows of
// different sizes. Failing that, the first unused slot is grown (via
// Realloc) to size. Returns nil if every slot is currently borrowed.
func (f *Facade) BufGet(size int) []byte {
	best := -1
	for i := range f.tempSlots {
		s := &f.tempSlots[i]
		if s.used || len(s.buf) < size {
			continue
		}
		if len(s.buf) == size {
			best = i
			break
		}
		if best == -1 || len(s.buf) < len(f.tempSlots[best].buf) {
			best = i
		}
	}
	if best != -1 {
		f.tempSlots[best].used = true
		return f.tempSlots[best].buf[:size]
	}

	for i := range f.tempSlots {
		s := &f.tempSlots[i]
		if s.used {
			continue
		}
		grown := f.Realloc(s.buf, size)
		if grown == nil {
			return nil
		}
		s.buf = grown
		s.used = true
		return s.buf[:size]
	}
	return nil
}

// BufRelease returns a buffer obtained from BufGet to the pool without
// freeing its backing allocation, so a later BufGet of a similar size
// can reuse it at no allocation cost.
func (f *Facade) BufRelease(p []byte) {
	if len(p) == 0 {
		return
	}
	off := f.offsetOf(p)
	for i := range f.tempSlots {
		s := &f.tempSlots[i]
		if s.used && len(s.buf) > 0 && f.offsetOf(s.buf) == off {
			s.used = false
			return
		}
	}
}

// BufFreeAll releases every temp-buffer slot's backing allocation back
// to the heap and clears the pool.
func (f *Facade) BufFreeAll() {
	for i := range f.tempSlots {
		s := &f.tempSlots[i]
		if s.buf != nil {
			f.Free(s.buf)
		}
		s.buf = nil
		s.used = false
	}
}
