package cogo

// IOEvents is a bitmask of readiness conditions a [Reactor] reports back
// through the callback passed to [Reactor.RegisterFD], in the shape an
// epoll/kqueue/IOCP adapter naturally produces.
type IOEvents uint32

const (
	// EventRead indicates a registered descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates a registered descriptor is ready for writing.
	EventWrite
)

// Reactor is the contract by which an external I/O adapter (an
// epoll/kqueue/IOCP poller) schedules a coroutine once the descriptor it is
// waiting on becomes ready. The reactor itself — concrete polling of file
// descriptors — is explicitly out of scope for this runtime; cogo defines
// only this interface so an external reactor can drive coroutines the same
// way a timer fire or an Unpark does.
type Reactor interface {
	// RegisterFD asks the reactor to report interest readiness on fd via a
	// single call to ready. The reactor must call ready exactly once, even
	// if multiple interests become ready simultaneously or RegisterFD is
	// never paired with an UnregisterFD.
	RegisterFD(fd int, interest IOEvents, ready func(IOEvents)) error
	// UnregisterFD cancels a pending RegisterFD, best-effort: a readiness
	// callback already in flight may still fire.
	UnregisterFD(fd int) error
}

// IOWait is the EventSource a coroutine constructs immediately before
// yielding to wait on an external [Reactor] — the "I/O wait object" the
// runtime's EventSource contract names alongside ParkImpl and the
// timer-only wait object. Exactly one IOWait is used per suspension, as
// with ParkImpl.
type IOWait struct {
	reactor  Reactor
	fd       int
	interest IOEvents

	events IOEvents
	err    error
}

// NewIOWait constructs an EventSource that suspends the calling coroutine
// until reactor reports fd ready for interest, or registration itself
// fails.
func NewIOWait(reactor Reactor, fd int, interest IOEvents) *IOWait {
	return &IOWait{reactor: reactor, fd: fd, interest: interest}
}

// Events returns the readiness bitmask the reactor reported, valid only
// after the coroutine that yielded on this IOWait has resumed.
func (w *IOWait) Events() IOEvents { return w.events }

// Err returns any error RegisterFD reported, in which case Events is zero
// and the coroutine was resumed immediately rather than waiting on the
// reactor.
func (w *IOWait) Err() error { return w.err }

// Wait suspends the calling coroutine until the reactor reports fd ready
// for the requested interest, or registration itself fails, then returns
// the same outcome as a subsequent Events/Err pair. Must be called from
// inside a coroutine.
func (w *IOWait) Wait() (IOEvents, error) {
	yieldWith(w)
	return w.events, w.err
}

// subscribe implements EventSource: hands fd/interest to the reactor,
// arranging for the coroutine to be rescheduled once it reports readiness.
// If registration itself fails, the coroutine is rescheduled immediately
// with Err set, rather than left waiting on an event that will never
// arrive.
func (w *IOWait) subscribe(co *Coroutine) {
	err := w.reactor.RegisterFD(w.fd, w.interest, func(events IOEvents) {
		w.events = events
		scheduleCoroutine(co)
	})
	if err != nil {
		w.err = err
		scheduleCoroutine(co)
	}
}

// yieldBack implements EventSource: I/O waits do not honor coroutine-level
// cancellation directly; a caller that needs cancellable I/O composes
// IOWait with its own ParkImpl-based timeout/cancel handling instead.
func (w *IOWait) yieldBack(cancel *Cancel) {}
