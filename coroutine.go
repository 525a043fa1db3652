package cogo

import (
	"sync"
	"sync/atomic"
)

// ParaKind tags why a parked coroutine was resumed, handed back to it via
// its per-yield parameter slot.
type ParaKind int32

const (
	// ParaNone means the coroutine was resumed by a plain unpark.
	ParaNone ParaKind = iota
	// ParaTimedOut means a timer, not an unpark or cancel, took the
	// coroutine out of its wait-slot.
	ParaTimedOut
	// ParaCanceled means a Cancel record took the coroutine out of its
	// wait-slot.
	ParaCanceled
)

// resumeMsg is the baton a worker hands a parked coroutine's goroutine to
// let it continue past its last yield point.
type resumeMsg struct{}

// yieldMsg is the baton a coroutine's goroutine hands back to the worker
// driving it: either an EventSource to subscribe to, or completion.
type yieldMsg struct {
	source EventSource
	done   bool
	panicV any
}

// EventSource is the polymorphic suspension-site contract every blocking
// primitive presents to the scheduler: subscribe is called exactly once per
// yield, with the paused handle, on the worker that is giving it up;
// yieldBack runs synchronously just before control returns to the
// scheduler, as a cancellation checkpoint.
type EventSource interface {
	subscribe(co *Coroutine)
	yieldBack(cancel *Cancel)
}

// Coroutine is the scheduler's opaque handle on one cooperatively scheduled
// task. Its resumable continuation is the pending receive on resumeCh; its
// "stack" is simply the goroutine running entry, which is the idiomatic Go
// rendering of a stackful coroutine.
type Coroutine struct {
	id     uint64
	cancel *Cancel

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg

	para atomic.Value

	// worker is set by whichever worker most recently resumed this
	// coroutine; only ever read/written from that worker's own goroutine
	// (either the worker loop itself, or this coroutine's goroutine after
	// the happens-before edge of a channel receive), so it needs no
	// synchronization of its own.
	worker *worker

	doneCh chan struct{}
	err    error
}

func newCoroutine(id uint64) *Coroutine {
	co := &Coroutine{
		id:       id,
		cancel:   &Cancel{},
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
		doneCh:   make(chan struct{}),
	}
	co.para.Store(ParaNone)
	return co
}

// Done returns a channel that is closed once this coroutine's entry
// function has returned or panicked, making [Coroutine] usable as the
// "opaque join handle" [Spawn] returns per the external interface.
func (co *Coroutine) Done() <-chan struct{} { return co.doneCh }

// Err returns the error recovered from this coroutine's entry function, as
// a [*PanicError], or nil if it has not finished or finished without
// panicking. Only meaningful after Done is closed.
func (co *Coroutine) Err() error { return co.err }

// ID returns a scheduler-unique identifier, stable for the coroutine's
// lifetime.
func (co *Coroutine) ID() uint64 { return co.id }

func (co *Coroutine) setPara(p ParaKind) { co.para.Store(p) }

// takePara reads and clears the per-yield parameter: a coroutine observes
// why it was resumed exactly once per yield.
func (co *Coroutine) takePara() ParaKind {
	p, _ := co.para.Swap(ParaNone).(ParaKind)
	return p
}

// Cancel requests cancellation of this coroutine; see [Cancel.Cancel].
func (co *Coroutine) Cancel() { co.cancel.Cancel() }

// Canceled reports whether this coroutine has a pending or delivered
// cancellation request.
func (co *Coroutine) Canceled() bool { return co.cancel.IsCanceled() }

// coroutineRegistry maps a running coroutine's goroutine ID to its handle,
// giving CurrentCoroutine goroutine-local lookup without true TLS (Go has
// none). Keyed by the numeric goroutine ID parsed out of runtime.Stack,
// since cogo drives many coroutine goroutines concurrently and needs a
// registry rather than a single owner slot.
var coroutineRegistry sync.Map // map[uint64]*Coroutine

// workerRegistry is the equivalent lookup for "which worker's call stack is
// this", used from inside EventSource.subscribe implementations that need
// to run a coroutine synchronously without a queue hop.
var workerRegistry sync.Map // map[uint64]*worker

// CurrentCoroutine returns the coroutine currently running on the calling
// goroutine, or nil if the caller is not a coroutine's own goroutine.
func CurrentCoroutine() *Coroutine {
	v, ok := coroutineRegistry.Load(currentGoroutineID())
	if !ok {
		return nil
	}
	return v.(*Coroutine)
}

// currentWorker returns the worker driving the calling context. From inside
// a coroutine's own goroutine (i.e. user code running as part of fn), that
// goroutine is never the one running a worker's loop, so the lookup goes
// through the coroutine's own co.worker back-pointer instead — set by drive
// just before resuming it, and safe to read here thanks to the happens-before
// edge of the resumeCh send/receive. From inside an EventSource callback
// (subscribe/yieldBack), which runs synchronously on the worker's own loop
// goroutine, workerRegistry resolves it directly.
func currentWorker() *worker {
	if co := CurrentCoroutine(); co != nil {
		return co.worker
	}
	v, ok := workerRegistry.Load(currentGoroutineID())
	if !ok {
		return nil
	}
	return v.(*worker)
}

// yieldWith is the low-level suspend primitive: a blocking primitive
// constructs an EventSource on its own stack and calls this to hand control
// back to the worker currently driving the calling coroutine. Must only be
// called from inside a coroutine.
func yieldWith(src EventSource) {
	co := CurrentCoroutine()
	if co == nil {
		panic(ErrNotOnWorker)
	}
	co.yieldCh <- yieldMsg{source: src}
	<-co.resumeCh
}

// yieldNowSource is the trivial EventSource behind YieldNow: it simply
// reschedules the coroutine instead of waiting for any external event.
type yieldNowSource struct{}

func (yieldNowSource) subscribe(co *Coroutine)  { scheduleCoroutine(co) }
func (yieldNowSource) yieldBack(cancel *Cancel) {}

// YieldNow gives up the remainder of the calling coroutine's turn, letting
// other ready work run before it resumes. It is a suspension point per the
// concurrency model, but never blocks indefinitely: the coroutine is
// immediately rescheduled.
func YieldNow() {
	yieldWith(yieldNowSource{})
}
