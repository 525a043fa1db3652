package cogo

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// hashCap is the interval-map size beyond which an emptied interval list is
// evicted rather than kept around for reuse.
const hashCap = 1024

var startTime = time.Now()

// monotonicNow returns elapsed time since a fixed epoch anchored at process
// start — timer math is done entirely in relative terms, immune to
// wall-clock adjustment.
func monotonicNow() time.Duration { return time.Since(startTime) }

// TimerHandle is the cancellable handle returned by TimeOutList.AddTimer: an
// intrusive node inside exactly one interval list at a time. expiry, slot,
// and list are set once before the handle is handed out; prev/next are
// guarded by the owning list's lock, and linked is atomic so a fire racing
// a Linked check on another goroutine stays well defined.
type TimerHandle struct {
	expiry time.Duration
	slot   *waitSlot
	list   *intervalList

	linked     atomic.Bool
	prev, next *TimerHandle
}

// Linked reports whether the handle is still inside its interval list
// (false once it has fired or been removed).
func (h *TimerHandle) Linked() bool { return h.linked.Load() }

// intervalList is the FIFO of live timer entries sharing one duration.
// Because duration is fixed per list, append order is expiry order, so no
// per-list priority queue is needed.
type intervalList struct {
	dur time.Duration

	mu         sync.Mutex
	head, tail *TimerHandle
	size       int

	// inUse is 0 or 1: whether this list currently has a live timerBH
	// entry. Must never exceed 1, or the heap would carry duplicate roots
	// for the same bucket.
	inUse atomic.Uint32
}

// pushBack appends h, returning true if the list was empty beforehand,
// signalling the caller must (re)install a heap entry.
func (l *intervalList) pushBack(h *TimerHandle) (wasEmpty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wasEmpty = l.size == 0
	h.linked.Store(true)
	if l.tail == nil {
		l.head, l.tail = h, h
	} else {
		h.prev = l.tail
		l.tail.next = h
		l.tail = h
	}
	l.size++
	return wasEmpty
}

// remove unlinks h in O(1) if it is still linked into this list; a no-op if
// it already fired or was already removed.
func (l *intervalList) remove(h *TimerHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !h.linked.Load() || h.list != l {
		return
	}
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		l.head = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	} else {
		l.tail = h.prev
	}
	h.prev, h.next = nil, nil
	h.linked.Store(false)
	l.size--
}

// drain fires f, in insertion (hence expiry) order, for every entry whose
// expiry is <= now, and reports the next pending expiry if any remain.
func (l *intervalList) drain(now time.Duration, f func(*waitSlot)) (next time.Duration, more bool) {
	l.mu.Lock()
	var fired []*TimerHandle
	for l.head != nil && l.head.expiry <= now {
		h := l.head
		l.head = h.next
		if l.head != nil {
			l.head.prev = nil
		} else {
			l.tail = nil
		}
		h.next = nil
		h.linked.Store(false)
		l.size--
		fired = append(fired, h)
	}
	if l.head != nil {
		next, more = l.head.expiry, true
	}
	l.mu.Unlock()

	for _, h := range fired {
		f(h.slot)
	}
	return next, more
}

func (l *intervalList) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size == 0
}

// heapEntry is a (next-expiry, interval list) pair, ordered by expiry so the
// heap root is always the soonest-firing bucket.
type heapEntry struct {
	expiry time.Duration
	list   *intervalList
}

// timerBH is the min-heap of interval-list heads, implemented directly on
// container/heap.
type timerBH []*heapEntry

func (h timerBH) Len() int            { return len(h) }
func (h timerBH) Less(i, j int) bool  { return h[i].expiry < h[j].expiry }
func (h timerBH) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerBH) Push(x any)         { *h = append(*h, x.(*heapEntry)) }
func (h *timerBH) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimeOutList is the shared timer service: a map from duration to interval
// list (fast read path for the common case of an existing bucket), a min-heap
// of interval-list heads, and a buffered remove queue for cancellations
// arriving from any goroutine.
type TimeOutList struct {
	mapMu sync.RWMutex
	byDur map[time.Duration]*intervalList

	bhMu sync.Mutex
	bh   timerBH

	removeCh chan *TimerHandle
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTimeOutList constructs an empty timer service and starts its timer
// thread driving fire on every expired entry.
func NewTimeOutList(fire func(*waitSlot)) *TimeOutList {
	t := &TimeOutList{
		byDur:    make(map[time.Duration]*intervalList),
		removeCh: make(chan *TimerHandle, 4096),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	go t.run(fire)
	return t
}

// AddTimer installs a one-shot timer expiring after d, with payload slot —
// for ParkImpl this is always its own wait-slot, so the timer can directly
// try to take the waiting coroutine out of it.
func (t *TimeOutList) AddTimer(d time.Duration, slot *waitSlot) *TimerHandle {
	expiry := monotonicNow() + d
	list := t.lookupOrCreate(d)
	h := &TimerHandle{expiry: expiry, slot: slot, list: list}

	if list.pushBack(h) {
		t.installHeapEntry(list, expiry)
	}
	t.signal()
	return h
}

func (t *TimeOutList) lookupOrCreate(d time.Duration) *intervalList {
	t.mapMu.RLock()
	l, ok := t.byDur[d]
	t.mapMu.RUnlock()
	if ok {
		return l
	}

	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if l, ok := t.byDur[d]; ok {
		return l
	}
	l = &intervalList{dur: d}
	t.byDur[d] = l
	return l
}

// installHeapEntry pushes a heap entry for list iff none is currently live,
// keeping exactly one heap entry per active interval list.
func (t *TimeOutList) installHeapEntry(list *intervalList, expiry time.Duration) {
	if !list.inUse.CompareAndSwap(0, 1) {
		return
	}
	t.bhMu.Lock()
	heap.Push(&t.bh, &heapEntry{expiry: expiry, list: list})
	t.bhMu.Unlock()
}

// DelTimer cancels a pending timer. Handles for entries already fired are
// unlinked, so this degrades to a harmless no-op.
func (t *TimeOutList) DelTimer(h *TimerHandle) {
	select {
	case t.removeCh <- h:
	default:
		// Remove queue saturated: unlink synchronously instead of
		// dropping the request. Correctness never depends on the queue,
		// only batching throughput does.
		h.list.remove(h)
	}
	t.signal()
}

func (t *TimeOutList) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *TimeOutList) drainRemoves() {
	for {
		select {
		case h := <-t.removeCh:
			h.list.remove(h)
		default:
			return
		}
	}
}

// scheduleTimer is the timer thread body's inner loop: pop every bucket
// whose head has expired, drain it, and re-push it if entries remain.
// Returns the duration until the next expiry, or false if the heap is
// empty.
func (t *TimeOutList) scheduleTimer(now time.Duration, fire func(*waitSlot)) (time.Duration, bool) {
	for {
		t.bhMu.Lock()
		if len(t.bh) == 0 {
			t.bhMu.Unlock()
			return 0, false
		}
		top := t.bh[0]
		if top.expiry > now {
			remaining := top.expiry - now
			t.bhMu.Unlock()
			return remaining, true
		}
		heap.Pop(&t.bh)
		t.bhMu.Unlock()

		list := top.list
		list.inUse.Store(0)

		next, more := list.drain(now, fire)
		if !more {
			t.maybeEvict(list)
			continue
		}
		if list.inUse.CompareAndSwap(0, 1) {
			t.bhMu.Lock()
			heap.Push(&t.bh, &heapEntry{expiry: next, list: list})
			t.bhMu.Unlock()
		}
	}
}

func (t *TimeOutList) maybeEvict(list *intervalList) {
	if !list.empty() {
		return
	}
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if list.empty() && len(t.byDur) > hashCap {
		delete(t.byDur, list.dur)
	}
}

// run is the timer thread: drains cancellations, fires expired entries,
// and sleeps until the next deadline or a wakeup signal. The sleep/reset
// dance around timer.C tracks whether the channel still holds an
// undrained fire before calling Reset, which a raw Reset without a drained
// check can't do safely.
func (t *TimeOutList) run(fire func(*waitSlot)) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	drained := true

	for {
		t.drainRemoves()
		next, hasNext := t.scheduleTimer(monotonicNow(), fire)

		if !drained {
			if !timer.Stop() {
				<-timer.C
			}
		}
		if hasNext {
			timer.Reset(next)
		} else {
			timer.Reset(time.Hour)
		}
		drained = false

		select {
		case <-timer.C:
			drained = true
		case <-t.wake:
		case <-t.stopCh:
			return
		}
	}
}

// Close stops the timer thread. Pending timers are abandoned; their
// wait-slots are simply never taken by this service again.
func (t *TimeOutList) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
