package cogo

import "sync"

// localQueueCapacity bounds a single worker's local ready queue. Once full,
// new pushes spill to the shared global queue.
const localQueueCapacity = 256

// localQueue is the bounded ring used by one worker's own coroutines.
// Push/pop/steal all take the same mutex rather than using a lock-free
// design: at this size, and under the contention a handful of workers
// produce, a mutex outperforms the bookkeeping a lock-free ring needs.
type localQueue struct {
	mu   sync.Mutex
	buf  [localQueueCapacity]*Coroutine
	head int
	tail int
	size int
}

// push appends co to the tail. Reports false if the queue is full, in
// which case the caller spills to the global queue.
func (q *localQueue) push(co *Coroutine) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == localQueueCapacity {
		return false
	}
	q.buf[q.tail] = co
	q.tail = (q.tail + 1) % localQueueCapacity
	q.size++
	return true
}

// pop removes and returns the oldest entry, or nil if empty.
func (q *localQueue) pop() *Coroutine {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	co := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % localQueueCapacity
	q.size--
	return co
}

// stealHalf removes up to half of this queue's backlog (oldest first) and
// appends it to dst, amortizing synchronization over many coroutines in
// one locked section.
func (q *localQueue) stealHalf(dst []*Coroutine) []*Coroutine {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size / 2
	for i := 0; i < n; i++ {
		co := q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % localQueueCapacity
		q.size--
		dst = append(dst, co)
	}
	return dst
}

func (q *localQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// globalQueueChunkSize is the granularity at which the overflow queue pools
// storage.
const globalQueueChunkSize = 256

type globalQueueChunk struct {
	tasks   [globalQueueChunkSize]*Coroutine
	readPos int
	pos     int
	next    *globalQueueChunk
}

var globalQueueChunkPool = sync.Pool{
	New: func() any { return new(globalQueueChunk) },
}

func newGlobalQueueChunk() *globalQueueChunk {
	c := globalQueueChunkPool.Get().(*globalQueueChunk)
	c.readPos, c.pos, c.next = 0, 0, nil
	return c
}

func returnGlobalQueueChunk(c *globalQueueChunk) {
	for i := range c.tasks {
		c.tasks[i] = nil // avoid pinning coroutines in the pooled chunk
	}
	globalQueueChunkPool.Put(c)
}

// globalQueue is the scheduler-wide overflow every worker's local queue
// spills into once full, and the landing spot for coroutines scheduled
// from outside any worker (spawn/schedule called off the run loop).
type globalQueue struct {
	mu         sync.Mutex
	head, tail *globalQueueChunk
	size       int
}

func (q *globalQueue) push(co *Coroutine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == nil || q.tail.pos == globalQueueChunkSize {
		c := newGlobalQueueChunk()
		if q.tail == nil {
			q.head = c
		} else {
			q.tail.next = c
		}
		q.tail = c
	}
	q.tail.tasks[q.tail.pos] = co
	q.tail.pos++
	q.size++
}

func (q *globalQueue) pop() *Coroutine {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return nil
	}
	co := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.size--
	if q.head.readPos == q.head.pos {
		drained := q.head
		q.head = q.head.next
		if q.head == nil {
			q.tail = nil
		}
		returnGlobalQueueChunk(drained)
	}
	return co
}

func (q *globalQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
