package cogo

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// waitSlot is a one-shot atomic container: holds at most one suspended
// coroutine handle, swapped in by subscribe and taken by whichever of
// {unpark, timer, cancel} gets there first. Its lifetime is shared, for
// free, by however many of those three hold a pointer to it at once — Go's
// tracing GC collects the coroutine/wait-slot/timer-entry reference cycle
// natively, so this needs no reference-counting split to avoid a leak.
type waitSlot struct {
	v atomic.Pointer[Coroutine]
}

func (s *waitSlot) swap(co *Coroutine) *Coroutine { return s.v.Swap(co) }

// take removes and returns whatever coroutine is currently registered, or
// nil if the slot is empty or was already taken by a racing caller.
func (s *waitSlot) take() *Coroutine { return s.v.Swap(nil) }

// ParkImpl is the one-shot rendezvous every blocking primitive in the
// runtime is built from. One instance guards one suspension site; Park and
// Unpark may be called concurrently from any coroutine or external
// goroutine.
type ParkImpl struct {
	waitSlot waitSlot

	// permit is set when an unpark arrives with nobody waiting, consumed
	// by the next park instead of blocking.
	permit atomic.Bool

	// kernelBusy is set for the duration of subscribe, so a concurrent
	// Park call (reusing this ParkImpl for a new cycle) waits for the
	// previous subscribe to finish before publishing a new coroutine. Kept
	// as its own field, separate from permit, since Go's GC removes any
	// need to fold the two into a single word for destructor coordination.
	kernelBusy atomic.Bool

	// checkCancel: true by default, lets a concurrent Cancel evict the
	// parked coroutine; a composite primitive that manages its own
	// cancellation can disable it via IgnoreCancel.
	checkCancel atomic.Bool

	timeoutMu  sync.Mutex
	timeout    time.Duration
	hasTimeout bool

	timeoutHandle atomic.Pointer[TimerHandle]
}

// NewParkImpl returns a ready-to-use ParkImpl with cancellation checking
// enabled.
func NewParkImpl() *ParkImpl {
	p := &ParkImpl{}
	p.checkCancel.Store(true)
	return p
}

// IgnoreCancel controls whether Park honors this coroutine's Cancel record
// on the next and subsequent cycles.
func (p *ParkImpl) IgnoreCancel(ignore bool) {
	p.checkCancel.Store(!ignore)
}

func (p *ParkImpl) setTimeoutHandle(h *TimerHandle) *TimerHandle {
	return p.timeoutHandle.Swap(h)
}

// removeTimeoutHandle uninstalls any still-live timer after a park call
// returns control to user code: the timer handle must be gone by the time
// Park returns, or a stale timer could fire into a slot already reused by a
// later cycle.
func (p *ParkImpl) removeTimeoutHandle() {
	h := p.setTimeoutHandle(nil)
	if h != nil && h.Linked() {
		defaultScheduler().timeouts.DelTimer(h)
	}
}

// checkPark consumes a pending permit if present. Returns true if the
// caller must yield (no permit was set), false if a permit was consumed and
// no blocking is needed.
func (p *ParkImpl) checkPark() bool {
	return !p.permit.CompareAndSwap(true, false)
}

// wakeUp takes whatever coroutine is currently registered and resumes it,
// either directly on the current call stack (only ever from inside
// subscribe) or via the ready queue.
func (p *ParkImpl) wakeUp(direct bool) {
	co := p.waitSlot.take()
	if co == nil {
		return
	}
	if direct {
		runCoroutineSync(co)
	} else {
		scheduleCoroutine(co)
	}
}

func (p *ParkImpl) unparkImpl(direct bool) {
	if !p.permit.CompareAndSwap(false, true) {
		return // already set: repeated unparks before a park are idempotent
	}
	p.wakeUp(direct)
}

// Unpark resumes the coroutine waiting on this ParkImpl, or leaves a
// one-shot permit for the next Park call if nobody is waiting yet.
// Safe to call from any goroutine, including from inside a timer or
// another coroutine's code.
func (p *ParkImpl) Unpark() {
	p.unparkImpl(false)
}

// Park suspends the calling coroutine until Unpark is called, until d
// elapses (d <= 0 means no timeout), or until the calling coroutine's
// Cancel record fires. Returns nil, ErrTimeout, or ErrCanceled — never
// more than one. Must be called from inside a coroutine.
//
// A single entry point covers both the untimed and timed cases, rather than
// separate Park/ParkTimeout methods.
func (p *ParkImpl) Park(ctx context.Context, d time.Duration) error {
	co := CurrentCoroutine()
	if co == nil {
		panic(ErrNotOnWorker)
	}

	p.timeoutMu.Lock()
	p.timeout, p.hasTimeout = d, d > 0
	p.timeoutMu.Unlock()

	// Fast-path permit check: an unpark that already arrived means we
	// never block at all.
	if !p.checkPark() {
		return nil
	}

	// Kernel barrier: wait for a previous subscribe cycle on this same
	// ParkImpl to finish before this one publishes a new coroutine.
	for p.kernelBusy.Load() {
		YieldNow()
	}

	// A real (non-Background/TODO) ctx composes with the coroutine's own
	// Cancel record: its cancellation is edge-triggered and terminal, same
	// as Cancel itself, so firing it once here is consistent with ctx's own
	// "canceled means canceled forever" contract.
	if ctx != nil && ctx.Done() != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				co.Cancel()
			case <-stop:
			}
		}()
	}

	yieldWith(p)

	// On resume: consume any straggling permit and uninstall the timer.
	p.checkPark()
	p.removeTimeoutHandle()

	switch CurrentCoroutine().takePara() {
	case ParaTimedOut:
		return ErrTimeout
	case ParaCanceled:
		return ErrCanceled
	default:
		return nil
	}
}

// subscribe implements EventSource: registers co into the wait-slot,
// installing a timer first if one was requested, then re-checks the
// permit and cancellation state to close the races between subscribing and
// a concurrent unpark, timer fire, or cancel.
func (p *ParkImpl) subscribe(co *Coroutine) {
	p.timeoutMu.Lock()
	dur, has := p.timeout, p.hasTimeout
	p.hasTimeout = false
	p.timeoutMu.Unlock()

	// Install the timer before publishing the coroutine: a racing timer
	// fire must never observe an empty wait-slot for a pending timeout.
	var handle *TimerHandle
	if has {
		handle = defaultScheduler().timeouts.AddTimer(dur, &p.waitSlot)
	}
	p.setTimeoutHandle(handle)

	p.kernelBusy.Store(true)
	defer p.kernelBusy.Store(false)

	p.waitSlot.swap(co)

	// Re-check the permit bit: an unpark that raced the publish above
	// must not be missed. This both avoids a queue hop and is a
	// correctness requirement, not just an optimization — it is the only
	// place that closes the "unpark during subscribe" ordering.
	if p.permit.Load() {
		p.wakeUp(true)
		return
	}

	// Only associate the cancel record with this wait-slot when this park
	// cycle actually honors cancellation: IgnoreCancel(true) must make a
	// concurrent Cancel unable to evict this coroutine, not merely suppress
	// a cooperative check after the fact, since by the time yieldBack runs
	// the race would already be lost.
	if p.checkCancel.Load() {
		cancel := co.cancel
		cancel.associate(&p.waitSlot)
		if cancel.IsCanceled() {
			cancel.fire(&p.waitSlot)
		}
	}
}

// yieldBack implements EventSource. The cancellation race is resolved in
// subscribe instead (association only happens while checkCancel is set, and
// an already-set flag fires there), so no cooperative check remains to run
// at this point.
func (p *ParkImpl) yieldBack(cancel *Cancel) {}

// Close blocks until any subscribe cycle currently in flight on this
// ParkImpl has finished, then returns. Go's GC never frees a ParkImpl out
// from under a racing subscribe, but a caller that reuses this ParkImpl's
// storage for an unrelated cycle (rather than letting the GC reclaim it)
// must call Close first, so a stale subscribe cannot observe the new
// cycle's state mid-flight.
func (p *ParkImpl) Close() {
	for p.kernelBusy.Load() {
		runtime.Gosched()
	}
}

func (p *ParkImpl) String() string {
	return fmt.Sprintf("ParkImpl{permit: %v, kernelBusy: %v}", p.permit.Load(), p.kernelBusy.Load())
}
