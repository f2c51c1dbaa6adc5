package scheduler

import "sync"

// Queue is a thread-safe FIFO ring that doubles its capacity when it passes
// 70% occupancy, so enqueues never block the tier loops.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	tail     int
	count    int
	capacity int
	closed   bool
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available or the queue
// is closed. Returns false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, false
	}

	return q.popLocked(), true
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.count--
	return item
}

// Close closes the queue. Pending items remain poppable; Push returns false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// grow doubles the ring. Caller holds the lock.
func (q *Queue[T]) grow() {
	newBuf := make([]T, q.capacity*2)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = len(newBuf)
}
