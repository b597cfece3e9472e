// Package queue provides a fixed-capacity FIFO with a drop-oldest overflow
// policy. It is the single backpressure mechanism of the daemon: the log
// writer's input buffer and every subscriber session's outbound buffer are
// instances of Bounded.
package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bounded is a bounded FIFO safe for concurrent producers and consumers.
//
// Contract:
//   - Push never blocks. If the queue is full, the oldest element is evicted
//     before the new one is appended; Push reports whether that happened.
//   - Pop blocks until an item is available, the timeout elapses, or the
//     queue is closed and drained.
type Bounded[T any] struct {
	mu     sync.Mutex
	items  []T // ring buffer
	head   int
	count  int
	closed bool

	// signal carries "an item may be available" wake-ups to blocked Pops.
	signal chan struct{}

	drops atomic.Uint64
}

func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{
		items:  make([]T, capacity),
		signal: make(chan struct{}, 1),
	}
}

func (q *Bounded[T]) Cap() int { return len(q.items) }

func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Drops returns the total number of drop-oldest evictions so far.
func (q *Bounded[T]) Drops() uint64 { return q.drops.Load() }

// Closed reports whether Close has been called. Remaining items may still be
// drainable.
func (q *Bounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Push appends v, evicting the oldest element first when at capacity.
// It reports whether an eviction happened. Pushing to a closed queue is a
// no-op that reports false.
func (q *Bounded[T]) Push(v T) (droppedOldest bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.count == len(q.items) {
		// Evict oldest.
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.count--
		q.drops.Add(1)
		droppedOldest = true
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return droppedOldest
}

// TryPop removes and returns the oldest element without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Bounded[T]) popLocked() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return v, true
}

// Pop removes and returns the oldest element, blocking up to timeout.
// The second result is false on timeout or when the queue is closed and empty.
func (q *Bounded[T]) Pop(timeout time.Duration) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		if timeout <= 0 {
			return zero, false
		}
		start := time.Now()
		timer := time.NewTimer(timeout)
		select {
		case <-q.signal:
			timer.Stop()
			// Another consumer may have won the race; retry with what's left.
			timeout -= time.Since(start)
		case <-timer.C:
			return zero, false
		}
	}
}

// Close marks the queue closed and wakes blocked consumers. Remaining items
// can still be drained with TryPop/Pop.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
