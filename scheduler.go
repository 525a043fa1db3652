package cogo

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler owns a fixed pool of workers, each running a loop that pops a
// coroutine, resumes it to its next suspension point, then repeats. It
// hosts the shared timer service; an I/O reactor bridge is deliberately out
// of scope, left to an external adapter built on EventSource.
type Scheduler struct {
	workers       []*worker
	global        globalQueue
	timeouts      *TimeOutList
	stackSizeHint int

	// wakeCh stands in for a condition variable a worker loop parks on
	// between queue pops: a push signals it non-blockingly, an idle worker
	// selects on it with a small backstop poll interval so a missed signal
	// (at most one pending wake is ever buffered) still can't stall
	// scheduling forever.
	wakeCh chan struct{}

	nextID atomic.Uint64

	startOnce sync.Once
	started   atomic.Bool
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

var (
	schedulerOnce sync.Once
	scheduler     *Scheduler
)

// defaultScheduler returns the process-wide Scheduler, starting its worker
// pool on first use with the default configuration if Configure was never
// called.
func defaultScheduler() *Scheduler {
	schedulerOnce.Do(func() {
		scheduler = newScheduler(resolveOptions(nil))
		scheduler.start()
	})
	return scheduler
}

func newScheduler(cfg *schedulerOptions) *Scheduler {
	s := &Scheduler{wakeCh: make(chan struct{}, 1), stackSizeHint: cfg.stackSizeHint}
	s.timeouts = NewTimeOutList(timerFire)
	s.workers = make([]*worker, cfg.workers)
	for i := range s.workers {
		s.workers[i] = &worker{idx: i, sched: s, local: &localQueue{}}
	}
	return s
}

func (s *Scheduler) start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		for _, w := range s.workers {
			go w.run()
		}
	})
}

// Configure sets options for the default Scheduler. It must be called
// before the first Spawn/Go call; once the worker pool has started it
// returns ErrSchedulerRunning and has no effect, since the external
// interface only documents configuration "before first spawn".
func Configure(opts ...Option) error {
	applied := false
	schedulerOnce.Do(func() {
		scheduler = newScheduler(resolveOptions(opts))
		scheduler.start()
		applied = true
	})
	if !applied {
		return ErrSchedulerRunning
	}
	return nil
}

// timerFire is the callback the timer thread invokes for every expired
// entry: the same take-and-schedule as Unpark, tagged TimedOut.
func timerFire(slot *waitSlot) {
	co := slot.take()
	if co == nil {
		return
	}
	co.setPara(ParaTimedOut)
	scheduleCoroutine(co)
}

// scheduleCoroutine pushes a ready coroutine onto a queue: the calling
// worker's local queue if called from a worker, the global queue
// otherwise.
func scheduleCoroutine(co *Coroutine) {
	s := defaultScheduler()
	if w := currentWorker(); w != nil {
		if w.local.push(co) {
			return
		}
	}
	s.global.push(co)
	s.wake()
}

// runCoroutineSync resumes co synchronously on the calling worker's own
// call stack, bypassing the ready queue entirely. Valid only when called
// from inside an EventSource.subscribe
// implementation, i.e. from the worker goroutine that is already mid-drive
// for some coroutine.
func runCoroutineSync(co *Coroutine) {
	w := currentWorker()
	if w == nil {
		// No worker context (e.g. a cancel fired from a plain goroutine):
		// fall back to scheduling, which is always safe.
		defaultScheduler().global.push(co)
		return
	}
	w.drive(co)
}

// Spawn allocates a coroutine running fn and makes it ready to run,
// returning its handle. If called from inside a worker, the new coroutine
// lands on that worker's local queue; otherwise it lands on the global
// queue.
func Spawn(fn func()) *Coroutine {
	s := defaultScheduler()
	id := s.nextID.Add(1)
	co := newCoroutine(id)
	go runCoroutineEntry(s, co, fn)
	scheduleCoroutine(co)
	return co
}

// Go is an alias of Spawn, for callers used to the go keyword's spelling.
func Go(fn func()) *Coroutine { return Spawn(fn) }

// runCoroutineEntry is the body of every coroutine's dedicated goroutine:
// register for CurrentCoroutine lookup, wait for the first resume, run fn
// with panic recovery, then report completion.
func runCoroutineEntry(s *Scheduler, co *Coroutine, fn func()) {
	gid := currentGoroutineID()
	coroutineRegistry.Store(gid, co)
	defer coroutineRegistry.Delete(gid)

	<-co.resumeCh

	var panicV any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicV = r
			}
		}()
		if s.stackSizeHint > 0 {
			growStack(s.stackSizeHint)
		}
		fn()
	}()

	co.yieldCh <- yieldMsg{done: true, panicV: panicV}
}

// finish records a coroutine's terminal error, if any, and releases anyone
// waiting on its Done channel — called once, from the worker that observed
// its completion.
func (co *Coroutine) finish(panicV any) {
	if panicV != nil {
		co.err = &PanicError{CoroutineID: co.id, Value: panicV}
	}
	close(co.doneCh)
}

// growStack pre-touches roughly n bytes of stack depth via recursion before
// fn runs, so the goroutine's first stack segment grows to size once up
// front instead of through a sequence of smaller copying grows triggered
// mid-fn.
func growStack(n int) {
	if n <= 0 {
		return
	}
	var buf [256]byte
	_ = buf
	growStack(n - len(buf))
}

// worker is one of the scheduler's N coroutine drivers. In cogo a worker is
// itself a goroutine, not an OS thread; GOMAXPROCS and the Go runtime's own
// scheduler provide the actual parallelism, while worker decides *which*
// coroutine gets the baton next.
type worker struct {
	idx   int
	sched *Scheduler
	local *localQueue

	resumed atomic.Uint64 // exposed via ResumedCount
}

// ResumedCount returns how many times this worker has resumed a coroutine,
// useful for observing work-stealing liveness under test.
func (w *worker) ResumedCount() uint64 { return w.resumed.Load() }

func (w *worker) run() {
	gid := currentGoroutineID()
	workerRegistry.Store(gid, w)
	defer workerRegistry.Delete(gid)

	for {
		co := w.nextReady()
		if co == nil {
			return
		}
		w.drive(co)
	}
}

// nextReady implements the worker loop's pop step: local queue, then the
// global queue, then stealing half of a peer's backlog, then waiting on
// Scheduler.wakeCh with a 5ms backstop timer (standing in for parking on a
// condition variable, since a worker here is a goroutine rather than an OS
// thread with its own park primitive).
func (w *worker) nextReady() *Coroutine {
	for {
		if co := w.local.pop(); co != nil {
			return co
		}
		if co := w.sched.global.pop(); co != nil {
			return co
		}
		if co := w.steal(); co != nil {
			return co
		}
		select {
		case <-w.sched.wakeCh:
		case <-time.After(5 * time.Millisecond):
		case <-w.sched.stopSignal():
			return nil
		}
	}
}

// steal scans peers in round-robin order starting just after this worker,
// moving up to half of the first nonempty backlog it finds.
func (w *worker) steal() *Coroutine {
	n := len(w.sched.workers)
	for i := 1; i < n; i++ {
		victim := w.sched.workers[(w.idx+i)%n]
		if victim == w {
			continue
		}
		stolen := victim.local.stealHalf(nil)
		if len(stolen) == 0 {
			continue
		}
		for _, co := range stolen[1:] {
			if !w.local.push(co) {
				// Our own local queue is full too: fall back to the
				// global queue rather than dropping a stolen coroutine.
				w.sched.global.push(co)
			}
		}
		return stolen[0]
	}
	return nil
}

// drive resumes co and, if it yields rather than finishes, hands the
// EventSource it yielded to subscribe on this same call stack — which may
// itself recursively call back into drive via runCoroutineSync.
func (w *worker) drive(co *Coroutine) {
	co.worker = w
	co.resumeCh <- resumeMsg{}
	msg := <-co.yieldCh
	w.resumed.Add(1)

	if msg.done {
		co.finish(msg.panicV)
		if msg.panicV != nil {
			logPanic(co, w.idx, msg.panicV)
		}
		return
	}

	msg.source.yieldBack(co.cancel)
	msg.source.subscribe(co)
}

// stopSignal is a placeholder hook for graceful shutdown; the default
// scheduler runs for the lifetime of the process, so it never fires, but
// a future Shutdown(ctx) can close this to drain workers.
func (s *Scheduler) stopSignal() <-chan struct{} {
	return nil
}

// CurrentWorkerID returns the index of the worker currently driving the
// calling coroutine, or -1 outside a worker context.
func CurrentWorkerID() int {
	if w := currentWorker(); w != nil {
		return w.idx
	}
	return -1
}

// Sleep suspends the calling coroutine for at least d, without requiring a
// caller-managed ParkImpl. Unlike Park, it never returns an error: a sleep
// that nothing unparks is expected to time out, not fail.
func Sleep(d time.Duration) {
	if d <= 0 {
		YieldNow()
		return
	}
	p := NewParkImpl()
	p.IgnoreCancel(true)
	_ = p.Park(context.Background(), d)
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
