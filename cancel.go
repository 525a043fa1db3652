package cogo

import (
	"sync"
	"sync/atomic"
)

// Cancel is the per-coroutine cancellation record: an edge-triggered flag
// plus a reference to whatever wait-slot currently holds the coroutine, so
// a cancel request can take it out of a park without the coroutine's
// cooperation. One Cancel is created per coroutine and reused across every
// park/unpark cycle that coroutine goes through.
type Cancel struct {
	canceled atomic.Bool

	mu   sync.Mutex
	slot *waitSlot
}

// IsCanceled reports whether Cancel has fired.
func (c *Cancel) IsCanceled() bool { return c.canceled.Load() }

// associate records the wait-slot a subscribe call just published the
// coroutine into, so a concurrent Cancel can find and take it.
func (c *Cancel) associate(s *waitSlot) {
	c.mu.Lock()
	c.slot = s
	c.mu.Unlock()
}

// fire performs the take-and-schedule against the given slot unconditionally,
// independent of the canceled flag's edge-trigger. subscribe calls this
// directly when it discovers the flag already set post-association, closing
// the race where Cancel ran before the coroutine was published.
func (c *Cancel) fire(s *waitSlot) {
	co := s.take()
	if co == nil {
		return
	}
	co.setPara(ParaCanceled)
	scheduleCoroutine(co)
}

// Cancel requests cancellation of the coroutine this record belongs to.
// Edge-triggered: a second call after the first is a no-op. If the
// coroutine is currently parked, it is taken out of its wait-slot and
// rescheduled with a Canceled outcome, racing whichever of {unpark, timer}
// also tries to take it — the wait-slot swap guarantees only one of them
// ever succeeds, so the loser's tag is simply discarded.
func (c *Cancel) Cancel() {
	if !c.canceled.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	s := c.slot
	c.mu.Unlock()
	if s != nil {
		c.fire(s)
	}
}
