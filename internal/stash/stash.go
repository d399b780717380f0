package stash

import "sync"

// DefaultBatchSize is the number of items a Batch holds before it is handed off.
const DefaultBatchSize = 1024

// Batch is an append-only buffer of items moved between goroutines as a unit.
type Batch[T any] struct {
	Items []T
	limit int
}

// Add appends v and reports whether the batch is now full.
func (b *Batch[T]) Add(v T) bool {
	b.Items = append(b.Items, v)
	return len(b.Items) >= b.limit
}

// Len returns the number of items in the batch.
func (b *Batch[T]) Len() int { return len(b.Items) }

// Full reports whether the batch reached its size limit.
func (b *Batch[T]) Full() bool { return len(b.Items) >= b.limit }

// reset drops the items but keeps the backing array.
func (b *Batch[T]) reset() {
	clear(b.Items)
	b.Items = b.Items[:0]
}

// PoolStats describes how well a Pool recycles its batches.
type PoolStats struct {
	Allocated int64
	Reused    int64
	Free      int
}

// Pool recycles batches of a single element type.
type Pool[T any] struct {
	size int

	mu        sync.Mutex
	free      []*Batch[T]
	allocated int64
	reused    int64
}

// NewPool creates a pool handing out batches of the given size.
func NewPool[T any](size int) *Pool[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Pool[T]{size: size}
}

// Get returns an empty batch, recycled when one is available.
func (p *Pool[T]) Get() *Batch[T] {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused++
		p.mu.Unlock()
		return b
	}
	p.allocated++
	p.mu.Unlock()

	return &Batch[T]{
		Items: make([]T, 0, p.size),
		limit: p.size,
	}
}

// Put clears b and keeps it for a later Get.
func (p *Pool[T]) Put(b *Batch[T]) {
	if b == nil {
		return
	}
	b.reset()
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
}

// Size returns the batch size handed out by the pool.
func (p *Pool[T]) Size() int { return p.size }

// Stats returns allocation counters.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Allocated: p.allocated,
		Reused:    p.reused,
		Free:      len(p.free),
	}
}
