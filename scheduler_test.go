package cogo

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMain pins the default scheduler to a deterministic worker count
// before any test spawns a coroutine, since Configure only has an effect
// up until the first Spawn/Go anywhere in the process.
func TestMain(m *testing.M) {
	if err := Configure(WithWorkers(4)); err != nil {
		panic(err)
	}
	m.Run()
}

func spawnAndWait(t *testing.T, fn func()) *Coroutine {
	t.Helper()
	co := Spawn(fn)
	select {
	case <-co.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coroutine did not finish in time")
	}
	return co
}

func TestSpawnRunsEntryFunction(t *testing.T) {
	var ran atomic.Bool
	spawnAndWait(t, func() { ran.Store(true) })
	require.True(t, ran.Load())
}

func TestSpawnReturnsUniqueIDs(t *testing.T) {
	a := Spawn(func() {})
	b := Spawn(func() {})
	<-a.Done()
	<-b.Done()
	require.NotEqual(t, a.ID(), b.ID())
}

func TestCurrentCoroutineInsideSpawn(t *testing.T) {
	var got *Coroutine
	co := spawnAndWait(t, func() {
		got = CurrentCoroutine()
	})
	require.Same(t, co, got)
}

func TestCurrentCoroutineOutsideWorker(t *testing.T) {
	require.Nil(t, CurrentCoroutine())
}

func TestYieldNowReschedules(t *testing.T) {
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	Spawn(func() {
		defer wg.Done()
		YieldNow()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	Spawn(func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	wg.Wait()
	require.Len(t, order, 2)
}

func TestCurrentWorkerIDInsideCoroutine(t *testing.T) {
	var id int
	spawnAndWait(t, func() {
		id = CurrentWorkerID()
	})
	require.GreaterOrEqual(t, id, 0, "a coroutine's own goroutine must resolve its driving worker via Coroutine.worker, not just workerRegistry")
}

func TestCurrentWorkerIDOutsideWorker(t *testing.T) {
	require.Equal(t, -1, CurrentWorkerID())
}

func TestSleepBlocksAtLeastDuration(t *testing.T) {
	const d = 30 * time.Millisecond
	start := make(chan time.Time, 1)
	end := make(chan time.Time, 1)
	spawnAndWait(t, func() {
		start <- time.Now()
		Sleep(d)
		end <- time.Now()
	})
	elapsed := (<-end).Sub(<-start)
	require.GreaterOrEqual(t, elapsed, d)
}

func TestSleepNonPositiveYieldsOnly(t *testing.T) {
	done := make(chan struct{})
	spawnAndWait(t, func() {
		Sleep(0)
		close(done)
	})
	select {
	case <-done:
	default:
		t.Fatal("Sleep(0) should have completed synchronously with the coroutine")
	}
}

func TestPanicRecoveredAndReportedViaErr(t *testing.T) {
	co := spawnAndWait(t, func() {
		panic("boom")
	})
	require.Error(t, co.Err())
	var pe *PanicError
	require.ErrorAs(t, co.Err(), &pe)
	require.Equal(t, co.ID(), pe.CoroutineID)
	require.Equal(t, "boom", pe.Value)
}

func TestPanicDoesNotStopWorker(t *testing.T) {
	spawnAndWait(t, func() { panic("first") })
	var ran atomic.Bool
	spawnAndWait(t, func() { ran.Store(true) })
	require.True(t, ran.Load())
}

func TestDoneNotClosedForRunningCoroutine(t *testing.T) {
	gate := make(chan struct{})
	release := make(chan struct{})
	co := Spawn(func() {
		close(gate)
		<-release
	})
	<-gate
	select {
	case <-co.Done():
		t.Fatal("Done closed before the coroutine finished")
	default:
	}
	close(release)
	<-co.Done()
}

// TestStealingLiveness: with 4 workers, spawning many short
// coroutines from a single worker-external call site (so they land on the
// global queue) must end up resuming work on at least 3 of the 4 workers.
func TestStealingLiveness(t *testing.T) {
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		Spawn(func() { wg.Done() })
	}
	wg.Wait()

	nonZero := 0
	for _, w := range scheduler.workers {
		if w.ResumedCount() > 0 {
			nonZero++
		}
	}
	require.GreaterOrEqual(t, nonZero, 3, "expected at least 3 of 4 workers to have resumed a coroutine")
}

func TestConfigureAfterStartReturnsError(t *testing.T) {
	// The scheduler singleton is already started by TestMain.
	err := Configure(WithWorkers(1))
	require.ErrorIs(t, err, ErrSchedulerRunning)
}

func TestResolveOptionsDefaults(t *testing.T) {
	cfg := resolveOptions(nil)
	require.Greater(t, cfg.workers, 0)
	require.Equal(t, 0, cfg.stackSizeHint)
}

func TestResolveOptionsIgnoresNonPositive(t *testing.T) {
	cfg := resolveOptions([]Option{WithWorkers(0), WithWorkers(-5), WithStackSizeHint(-1)})
	require.Greater(t, cfg.workers, 0)
	require.Equal(t, 0, cfg.stackSizeHint)
}

func TestParkPanicsOutsideWorker(t *testing.T) {
	p := NewParkImpl()
	require.PanicsWithValue(t, ErrNotOnWorker, func() {
		_ = p.Park(nil, 0) //nolint:staticcheck // exercising the outside-worker panic path
	})
}

func TestYieldWithPanicsOutsideWorker(t *testing.T) {
	require.PanicsWithValue(t, ErrNotOnWorker, func() {
		yieldWith(yieldNowSource{})
	})
}
