package cogo

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// globalLogger is the package-level, swappable structured logger: the
// worker loop's panic recovery logs through this; the timer thread does not
// log. Disabled until SetLogger wires in a real one.
var globalLogger = struct {
	sync.RWMutex
	logger *logiface.Logger[logiface.Event]
}{
	logger: newDisabledLogger(),
}

// panicLimiter rate-limits panic-recovery logging so a tight loop of
// panicking coroutines can't flood the configured writer; the category is
// the index of the worker that observed the panic, a cheap proxy for "is
// this one driver thrashing" without needing to thread the entry function
// value through yieldMsg.
var panicLimiter = catrate.NewLimiter(map[time.Duration]int{
	time.Second:      20,
	time.Minute:      200,
	10 * time.Minute: 1000,
})

func newDisabledLogger() *logiface.Logger[logiface.Event] {
	return logiface.New[logiface.Event](logiface.WithLevel[logiface.Event](logiface.LevelDisabled))
}

// NewStumpyLogger builds a logiface.Logger backed by stumpy, the
// zero-dependency JSON writer logiface's own test suite defaults to.
// Equivalent to logiface.New[*stumpy.Event](stumpy.WithStumpy()).Logger().
func NewStumpyLogger(options ...stumpy.Option) *logiface.Logger[logiface.Event] {
	return logiface.New[*stumpy.Event](stumpy.WithStumpy(options...)).Logger()
}

// SetLogger swaps the package-level structured logger used by the
// scheduler's panic recovery. Passing nil restores the disabled default.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	if logger == nil {
		logger = newDisabledLogger()
	}
	globalLogger.Lock()
	globalLogger.logger = logger
	globalLogger.Unlock()
}

// Logger returns the currently configured structured logger.
func Logger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// logPanic reports a recovered coroutine panic, rate-limited per category
// so a storm of panicking coroutines logs a bounded number of times.
func logPanic(co *Coroutine, entryPointCategory any, v any) {
	if _, allowed := panicLimiter.Allow(entryPointCategory); !allowed {
		return
	}
	Logger().Err().
		Uint64("coroutine_id", co.ID()).
		Any("panic", v).
		Log("cogo: coroutine panicked")
}
