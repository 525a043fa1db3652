package cogo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTimeOutList(t *testing.T) (*TimeOutList, chan *waitSlot) {
	t.Helper()
	fired := make(chan *waitSlot, 4096)
	tl := NewTimeOutList(func(s *waitSlot) { fired <- s })
	t.Cleanup(tl.Close)
	return tl, fired
}

func TestAddTimerFiresAfterDuration(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	slot := &waitSlot{}

	const d = 30 * time.Millisecond
	start := time.Now()
	tl.AddTimer(d, slot)

	select {
	case got := <-fired:
		require.Same(t, slot, got)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.GreaterOrEqual(t, time.Since(start), d)
}

func TestDelTimerPreventsFire(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	slot := &waitSlot{}
	h := tl.AddTimer(time.Hour, slot)
	require.True(t, h.Linked())

	tl.DelTimer(h)
	// Give the timer thread a moment to process the cancellation.
	time.Sleep(20 * time.Millisecond)
	require.False(t, h.Linked())

	select {
	case <-fired:
		t.Fatal("deleted timer must not fire")
	default:
	}
}

// TestIntervalListFIFOOrder exercises the claim behind intervalList: since
// every entry in one list shares a duration, insertion order is expiry
// order, so a plain FIFO needs no per-list priority queue.
func TestIntervalListFIFOOrder(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	const d = 40 * time.Millisecond
	const n = 5

	slots := make([]*waitSlot, n)
	for i := 0; i < n; i++ {
		slots[i] = &waitSlot{}
		tl.AddTimer(d, slots[i])
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-fired:
			require.Same(t, slots[i], got, "timer %d fired out of insertion order", i)
		case <-time.After(time.Second):
			t.Fatalf("timer %d never fired", i)
		}
	}
}

// TestTimerMonotonicity: across distinct durations, fire
// order must never invert relative to expiry order.
func TestTimerMonotonicity(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	durations := []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		80 * time.Millisecond,
		20 * time.Millisecond,
	}
	slotDur := make(map[*waitSlot]time.Duration, len(durations))
	for _, d := range durations {
		s := &waitSlot{}
		slotDur[s] = d
		tl.AddTimer(d, s)
	}

	var order []time.Duration
	for range durations {
		select {
		case s := <-fired:
			order = append(order, slotDur[s])
		case <-time.After(2 * time.Second):
			t.Fatal("not all timers fired")
		}
	}

	for i := 1; i < len(order); i++ {
		require.LessOrEqual(t, order[i-1], order[i], "timers must fire in nondecreasing duration order")
	}
}

// TestHeapMinimalityOnePerInterval: however many timers share
// a duration, the min-heap carries exactly one entry for that bucket.
func TestHeapMinimalityOnePerInterval(t *testing.T) {
	tl, _ := newTestTimeOutList(t)

	const perDur = 20
	durations := []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour}
	for _, d := range durations {
		for i := 0; i < perDur; i++ {
			tl.AddTimer(d, &waitSlot{})
		}
	}

	// Let the timer thread observe every AddTimer's signal and settle.
	time.Sleep(20 * time.Millisecond)

	tl.bhMu.Lock()
	defer tl.bhMu.Unlock()
	require.Len(t, tl.bh, len(durations), "exactly one heap entry per active interval list regardless of how many timers share it")
}

// TestManyTimersPrecision is a scaled-down rendition of timer precision
// across a large population: every timer must fire no earlier than its
// requested duration and within a generous slack of it.
func TestManyTimersPrecision(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	const n = 500

	slots := make([]*waitSlot, n)
	want := make([]time.Duration, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		d := time.Duration(i%50+1) * time.Millisecond
		slots[i] = &waitSlot{}
		want[i] = d
		tl.AddTimer(d, slots[i])
	}

	got := make(map[*waitSlot]time.Duration, n)
	for i := 0; i < n; i++ {
		select {
		case s := <-fired:
			got[s] = time.Since(start)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d/%d timers fired", i, n)
		}
	}

	for i, s := range slots {
		elapsed, ok := got[s]
		require.True(t, ok)
		require.GreaterOrEqual(t, elapsed, want[i], "timer %d fired early", i)
		require.Less(t, elapsed, want[i]+150*time.Millisecond, "timer %d fired too late", i)
	}
}

func TestTimerHandleUnlinkedAfterFire(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	slot := &waitSlot{}
	h := tl.AddTimer(10*time.Millisecond, slot)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.False(t, h.Linked())
}

func TestDelTimerOnAlreadyFiredHandleIsNoop(t *testing.T) {
	tl, fired := newTestTimeOutList(t)
	slot := &waitSlot{}
	h := tl.AddTimer(5*time.Millisecond, slot)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.NotPanics(t, func() { tl.DelTimer(h) })
}
