package queue

import (
	"context"
	"sync"
)

// DefaultCapacity is the bound used when callers do not configure one.
const DefaultCapacity = 16384

// Bounded is a blocking FIFO queue with an optional capacity bound.
// A capacity of 0 makes the queue unbounded: Push never waits for space.
type Bounded[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	head     int
	capacity int
}

// New creates a queue holding at most capacity items (0 = unbounded).
func New[T any](capacity int) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Bounded[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends v, blocking while the queue is full.
func (q *Bounded[T]) Push(v T) {
	q.mu.Lock()
	for q.full() {
		q.notFull.Wait()
	}
	q.append(v)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Pop removes the oldest item, blocking while the queue is empty.
func (q *Bounded[T]) Pop() T {
	q.mu.Lock()
	for q.size() == 0 {
		q.notEmpty.Wait()
	}
	v := q.take()
	q.mu.Unlock()
	q.notFull.Signal()
	return v
}

// PushContext is Push that gives up when ctx is done.
func (q *Bounded[T]) PushContext(ctx context.Context, v T) error {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	for q.full() {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			// Pass on a wakeup this waiter may have consumed.
			q.notFull.Signal()
			return err
		}
		q.notFull.Wait()
	}
	q.append(v)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return nil
}

// PopContext is Pop that gives up when ctx is done.
func (q *Bounded[T]) PopContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	for q.size() == 0 {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			q.notEmpty.Signal()
			var zero T
			return zero, err
		}
		q.notEmpty.Wait()
	}
	v := q.take()
	q.mu.Unlock()
	q.notFull.Signal()
	return v, nil
}

// TryPop removes the oldest item without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	if q.size() == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	v := q.take()
	q.mu.Unlock()
	q.notFull.Signal()
	return v, true
}

// Len returns a snapshot of the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Empty reports whether the queue held no items at the time of the call.
func (q *Bounded[T]) Empty() bool {
	return q.Len() == 0
}

// Cap returns the configured bound (0 = unbounded).
func (q *Bounded[T]) Cap() int {
	return q.capacity
}

// wake is run by context.AfterFunc so waiters re-check ctx.Err.
func (q *Bounded[T]) wake() {
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

func (q *Bounded[T]) size() int {
	return len(q.items) - q.head
}

func (q *Bounded[T]) full() bool {
	return q.capacity > 0 && q.size() >= q.capacity
}

func (q *Bounded[T]) append(v T) {
	q.items = append(q.items, v)
}

func (q *Bounded[T]) take() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head > 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	} else if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v
}
