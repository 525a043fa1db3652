package cogo

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned by [ParkImpl.Park] when its timeout elapses before
// an unpark arrives.
var ErrTimeout = errors.New("cogo: park timed out")

// ErrCanceled is returned by [ParkImpl.Park] when the parked coroutine's
// [Cancel] record fires before an unpark or timeout wins the race.
var ErrCanceled = errors.New("cogo: park canceled")

// ErrSchedulerRunning is returned by [Configure] once the scheduler has
// already spawned its worker pool; configuration only applies up front,
// mirroring the "before first spawn" constraint on the external interface.
var ErrSchedulerRunning = errors.New("cogo: scheduler already running")

// ErrNotOnWorker is the value operations that require the calling
// goroutine to be a coroutine currently being driven by a worker (such as
// [ParkImpl.Park]) panic with when called from outside that context.
var ErrNotOnWorker = errors.New("cogo: operation requires a worker context")

// PanicError wraps a value recovered from a coroutine's entry function. It
// is logged and drops only the panicking coroutine; the worker that was
// driving it keeps running.
type PanicError struct {
	CoroutineID uint64
	Value       any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cogo: coroutine %d panicked: %v", e.CoroutineID, e.Value)
}

// Unwrap returns the recovered value if it is itself an error, enabling
// [errors.Is] / [errors.As] to see through the wrapper.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
