// Package timer implements a cooperative single-threaded timer scheduler:
// periodic callbacks multiplexed onto a millisecond tick (package tick),
// dispatched in list order (package llist, node memory from package
// heap).
//
// Nothing here is safe for concurrent use. The one exception mirrors
// tick's own exception: a callback may freely create or delete timers,
// including deleting itself, from within Handler's dispatch loop.
package timer

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/log"

	"tlsfrt/llist"
	"tlsfrt/tick"
)

// Configuration defaults.
const (
	// IdleMeasPeriod is the tick window over which busy/idle accounting
	// is aggregated.
	IdleMeasPeriod uint32 = 500
	// DefPeriod is the period Create substitutes when called with 0.
	DefPeriod uint32 = 500
	// NoTimerReady is Handler's sentinel "nothing scheduled" delay.
	NoTimerReady uint32 = 0xFFFFFFFF
)

// node payload layout: periodMS(4) | lastRunMS(4) | repeatCount(4, int32) | paused(1)
const nodeSize = 13

// Callback is invoked when a timer comes due. t identifies the firing
// timer so the callback can inspect or mutate it (including deleting it
// via the owning Scheduler) without a separate lookup.
type Callback func(t *Timer)

// Timer is one scheduled periodic callback. Its POD fields (period,
// last-run tick, repeat count, paused flag) live in a heap-allocated
// node, the same "view over raw bytes via accessors" pattern tlsf.header
// uses for block headers; the callback and user data are ordinary Go
// fields, since a function value has no portable byte encoding to carry
// through the slab.
type Timer struct {
	node     *llist.Node
	cb       Callback
	userData interface{}
}

func (t *Timer) periodMS() uint32     { return binary.LittleEndian.Uint32(t.node.Data[0:4]) }
func (t *Timer) setPeriodMS(v uint32) { binary.LittleEndian.PutUint32(t.node.Data[0:4], v) }

func (t *Timer) lastRunMS() uint32     { return binary.LittleEndian.Uint32(t.node.Data[4:8]) }
func (t *Timer) setLastRunMS(v uint32) { binary.LittleEndian.PutUint32(t.node.Data[4:8], v) }

func (t *Timer) repeatCount() int32 {
	return int32(binary.LittleEndian.Uint32(t.node.Data[8:12]))
}
func (t *Timer) setRepeatCountRaw(v int32) {
	binary.LittleEndian.PutUint32(t.node.Data[8:12], uint32(v))
}

func (t *Timer) paused() bool    { return t.node.Data[12] != 0 }
func (t *Timer) setPaused(v bool) {
	if v {
		t.node.Data[12] = 1
	} else {
		t.node.Data[12] = 0
	}
}

// Period returns the timer's firing interval in milliseconds.
func (t *Timer) Period() uint32 { return t.periodMS() }

// SetPeriod changes the firing interval without resetting last-run.
func (t *Timer) SetPeriod(ms uint32) { t.setPeriodMS(ms) }

// RepeatCount returns the number of firings remaining, or -1 for
// infinite.
func (t *Timer) RepeatCount() int32 { return t.repeatCount() }

// SetRepeatCount overrides the remaining firing count.
func (t *Timer) SetRepeatCount(n int32) { t.setRepeatCountRaw(n) }

// SetCallback replaces the callback invoked when the timer fires.
func (t *Timer) SetCallback(cb Callback) { t.cb = cb }

// UserData returns the opaque value passed to Create.
func (t *Timer) UserData() interface{} { return t.userData }

// Paused reports whether the timer is currently suspended.
func (t *Timer) Paused() bool { return t.paused() }

// Pause suspends firing without resetting last-run, so a timer that came
// due while paused fires once on the first Handler pass after Resume, not
// once per period missed.
func (t *Timer) Pause() { t.setPaused(true) }

// Resume un-suspends the timer.
func (t *Timer) Resume() { t.setPaused(false) }

// Scheduler holds the timer list and dispatch state. The zero value is
// not ready to use; construct one with New.
type Scheduler struct {
	clock *tick.Clock
	list  *llist.List
	// timers maps each list node back to its Timer. The node is the
	// stable identity llist hands out; Timer wraps it with the fields a
	// byte slab can't hold.
	timers map[*llist.Node]*Timer

	enabled bool

	// timerDeleted/timerCreated: any mutation during dispatch invalidates
	// the prefetched "next" pointer and forces Handler to restart its
	// walk from the head.
	timerDeleted bool
	timerCreated bool
	inHandler    bool

	lastHandlerCallMS uint32
	haveLastCall      bool

	idleMeasPeriod  uint32
	idlePeriodStart uint32
	busyTimeMS      uint32
	idleLast        int
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithIdleMeasPeriod overrides IdleMeasPeriod.
func WithIdleMeasPeriod(ms uint32) Option {
	return func(s *Scheduler) { s.idleMeasPeriod = ms }
}

// New creates an enabled Scheduler backed by clock for time and alloc for
// node memory (typically a *heap.Facade).
func New(clock *tick.Clock, alloc llist.Allocator, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:           clock,
		list:            llist.New(alloc, nodeSize),
		timers:          make(map[*llist.Node]*Timer),
		enabled:         true,
		idleMeasPeriod:  IdleMeasPeriod,
		idlePeriodStart: clock.Get(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enable turns dispatch on (the default).
func (s *Scheduler) Enable() { s.enabled = true }

// Disable turns dispatch off; Handler becomes a no-op returning 1 per
// call until re-enabled.
func (s *Scheduler) Disable() { s.enabled = false }

// Enabled reports the current global enable state.
func (s *Scheduler) Enabled() bool { return s.enabled }

// Create inserts a new timer at the head of the dispatch list: freshly
// created timers precede older ones in the same handler pass, which is
// what lets a callback's newly-created timer fire within the pass that
// created it. A period of 0 substitutes DefPeriod.
func (s *Scheduler) Create(cb Callback, periodMS uint32, userData interface{}) *Timer {
	if periodMS == 0 {
		periodMS = DefPeriod
	}
	node := s.list.InsHead()
	t := &Timer{node: node, cb: cb, userData: userData}
	t.setPeriodMS(periodMS)
	t.setRepeatCountRaw(-1)
	t.setPaused(false)
	t.setLastRunMS(s.clock.Get())

	s.timers[node] = t
	s.timerCreated = true
	return t
}

// Del removes t from the scheduler and releases its node. Safe to call
// from within t's own callback (self-delete) or any other timer's
// callback.
func (s *Scheduler) Del(t *Timer) {
	if _, ok := s.timers[t.node]; !ok {
		return
	}
	delete(s.timers, t.node)
	s.list.Remove(t.node)
	s.timerDeleted = true
}

// Ready forces t to appear due on the very next Handler pass, by
// back-dating last-run past one full period.
func (s *Scheduler) Ready(t *Timer) {
	t.setLastRunMS(s.clock.Get() - t.periodMS() - 1)
}

// Reset re-bases t's period from the current tick, as if it had just
// fired.
func (s *Scheduler) Reset(t *Timer) {
	t.setLastRunMS(s.clock.Get())
}

// timeRemaining returns 0 once the timer is due, otherwise the
// milliseconds left until it is.
func (s *Scheduler) timeRemaining(t *Timer) uint32 {
	elapsed := tick.Elaps(s.clock.Get(), t.lastRunMS())
	period := t.periodMS()
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// timerExec reports whether the timer was actually due (and therefore
// evaluated), not whether its callback fired: a repeat count of exactly
// 0 at the moment it comes due still counts as "executed", just with the
// callback suppressed.
func (s *Scheduler) timerExec(t *Timer) bool {
	if t.paused() {
		return false
	}
	if s.timeRemaining(t) != 0 {
		return false
	}

	originalRepeat := t.repeatCount()
	if originalRepeat > 0 {
		t.setRepeatCountRaw(originalRepeat - 1)
	}
	t.setLastRunMS(s.clock.Get())

	if t.cb != nil && originalRepeat != 0 {
		t.cb(t)
	}

	// If the callback didn't already delete t (self-delete), a
	// now-exhausted repeat count means it's due for removal.
	if _, stillLive := s.timers[t.node]; stillLive && t.repeatCount() == 0 {
		s.Del(t)
	}
	return true
}

// Handler is the cooperative dispatch loop. It walks the timer list
// from the head, executing every due timer; any creation or
// deletion triggered by a callback invalidates the walk's prefetched
// "next" pointer, so the loop restarts from the head and keeps restarting
// until one full pass completes without mutation. It returns the
// suggested delay in milliseconds until Handler should be called again,
// or NoTimerReady if no timer is scheduled.
func (s *Scheduler) Handler() uint32 {
	if s.inHandler {
		log.Debug("timer: reentrant handler call coalesced")
		return 1
	}
	if !s.enabled {
		return 1
	}

	s.inHandler = true
	startMS := s.clock.Get()
	defer func() { s.inHandler = false }()

	for {
		s.timerDeleted = false
		s.timerCreated = false
		mutated := false

		for node := s.list.GetHead(); node != nil; {
			next := s.list.GetNext(node)
			t := s.timers[node]
			s.timerExec(t)
			if s.timerDeleted || s.timerCreated {
				log.Trace("timer: list mutated during dispatch, restarting pass",
					"deleted", s.timerDeleted, "created", s.timerCreated)
				mutated = true
				break
			}
			node = next
		}
		if !mutated {
			break
		}
	}

	timeTillNext := NoTimerReady
	for node := s.list.GetHead(); node != nil; node = s.list.GetNext(node) {
		t := s.timers[node]
		if t.paused() {
			continue
		}
		if r := s.timeRemaining(t); r < timeTillNext {
			timeTillNext = r
		}
	}

	s.accumulateIdle(startMS)
	return timeTillNext
}

// accumulateIdle accrues handler execution time as busy time, and every
// IdleMeasPeriod ticks derives the idle percentage for the window and
// resets it.
func (s *Scheduler) accumulateIdle(startMS uint32) {
	now := s.clock.Get()
	s.busyTimeMS += tick.Elaps(now, startMS)

	elapsed := tick.Elaps(now, s.idlePeriodStart)
	if elapsed < s.idleMeasPeriod {
		return
	}
	pctBusy := 100 * s.busyTimeMS / elapsed
	if pctBusy > 100 {
		pctBusy = 100
	}
	s.idleLast = 100 - int(pctBusy)
	s.busyTimeMS = 0
	s.idlePeriodStart = now
}

// IdleLast returns the idle percentage computed over the most recently
// completed IdleMeasPeriod window.
func (s *Scheduler) IdleLast() int { return s.idleLast }

// RunInPeriod is a rate-limited convenience wrapper: it calls Handler at
// most once per ms milliseconds, returning the delay until the next call
// is due without re-dispatching if called too soon.
func (s *Scheduler) RunInPeriod(ms uint32) uint32 {
	now := s.clock.Get()
	if s.haveLastCall {
		elapsed := tick.Elaps(now, s.lastHandlerCallMS)
		if elapsed < ms {
			return ms - elapsed
		}
	}
	s.lastHandlerCallMS = now
	s.haveLastCall = true
	return s.Handler()
}

// Head returns the first timer in dispatch order, or nil if none exist.
func (s *Scheduler) Head() *Timer {
	n := s.list.GetHead()
	if n == nil {
		return nil
	}
	return s.timers[n]
}

// Next returns the timer following t in dispatch order, or nil at the
// tail. Next(nil) returns Head().
func (s *Scheduler) Next(t *Timer) *Timer {
	if t == nil {
		return s.Head()
	}
	n := s.list.GetNext(t.node)
	if n == nil {
		return nil
	}
	return s.timers[n]
}

// Len returns the number of live timers.
func (s *Scheduler) Len() int { return s.list.GetLen() }
