package ingest

import (
	"runtime"
	"sync"

	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/queue"
	"github.com/wegman-software/osm2world-go/internal/stash"
)

// Options size the worker pools of a Handler.
type Options struct {
	NodeWorkers   int
	WayWorkers    int
	AreaWorkers   int
	QueueCapacity int // Batches per queue (0 = unbounded)
	BatchSize     int
}

// DefaultOptions scales the pools with the number of CPUs.
func DefaultOptions() Options {
	n := runtime.NumCPU()
	return Options{
		NodeWorkers:   n,
		WayWorkers:    2 * n,
		AreaWorkers:   4 * n,
		QueueCapacity: queue.DefaultCapacity,
		BatchSize:     stash.DefaultBatchSize,
	}
}

// pool batches records of one kind and hands them to its workers. A nil
// batch tells a worker to exit.
type pool[T any] struct {
	queue   *queue.Bounded[*stash.Batch[T]]
	batches *stash.Pool[T]
	current *stash.Batch[T]
	workers int
	process func(T)
}

func newPool[T any](workers, capacity, batchSize int, process func(T)) *pool[T] {
	if workers < 1 {
		workers = 1
	}
	return &pool[T]{
		queue:   queue.New[*stash.Batch[T]](capacity),
		batches: stash.NewPool[T](batchSize),
		workers: workers,
		process: process,
	}
}

func (p *pool[T]) start(wg *sync.WaitGroup) {
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b := p.queue.Pop()
				if b == nil {
					return
				}
				for _, v := range b.Items {
					p.process(v)
				}
				p.batches.Put(b)
			}
		}()
	}
}

func (p *pool[T]) add(v T) {
	if p.current == nil {
		p.current = p.batches.Get()
	}
	if p.current.Add(v) {
		p.queue.Push(p.current)
		p.current = nil
	}
}

func (p *pool[T]) stop() {
	if p.current != nil && p.current.Len() > 0 {
		p.queue.Push(p.current)
	}
	p.current = nil
	for i := 0; i < p.workers; i++ {
		p.queue.Push(nil)
	}
}

// Handler receives feed records on one goroutine and spreads them over
// per-kind worker pools that run the Generator.
//
// Usage: Start, feed records, Stop, Join. The world may be read once Join
// returns.
type Handler struct {
	gen   *Generator
	nodes *pool[*feed.Node]
	ways  *pool[*feed.Way]
	areas *pool[*feed.Area]

	wg sync.WaitGroup
}

var _ feed.Handler = (*Handler)(nil)

// NewHandler creates a handler feeding gen.
func NewHandler(gen *Generator, opts Options) *Handler {
	h := &Handler{gen: gen}
	// Rejections are logged and counted by the generator
	h.nodes = newPool(opts.NodeWorkers, opts.QueueCapacity, opts.BatchSize,
		func(n *feed.Node) { _ = gen.HandleNode(n) })
	h.ways = newPool(opts.WayWorkers, opts.QueueCapacity, opts.BatchSize,
		func(w *feed.Way) { _ = gen.HandleWay(w) })
	h.areas = newPool(opts.AreaWorkers, opts.QueueCapacity, opts.BatchSize,
		func(a *feed.Area) { _ = gen.HandleArea(a) })
	return h
}

// Start launches the workers.
func (h *Handler) Start() {
	h.nodes.start(&h.wg)
	h.ways.start(&h.wg)
	h.areas.start(&h.wg)
}

func (h *Handler) Node(n *feed.Node) { h.nodes.add(n) }
func (h *Handler) Way(w *feed.Way)   { h.ways.add(w) }
func (h *Handler) Area(a *feed.Area) { h.areas.add(a) }

// Stop hands over partial batches and tells every worker to exit once its
// queue is drained. No records may be fed after Stop.
func (h *Handler) Stop() {
	h.nodes.stop()
	h.ways.stop()
	h.areas.stop()
}

// Join waits for all workers to exit.
func (h *Handler) Join() {
	h.wg.Wait()
}

// QueueDepths returns the number of batches waiting per kind.
func (h *Handler) QueueDepths() (nodes, ways, areas int) {
	return h.nodes.queue.Len(), h.ways.queue.Len(), h.areas.queue.Len()
}

// Workers returns the pool sizes.
func (h *Handler) Workers() (nodes, ways, areas int) {
	return h.nodes.workers, h.ways.workers, h.areas.workers
}

// BatchStats returns batch recycling counters summed over all kinds.
func (h *Handler) BatchStats() stash.PoolStats {
	var s stash.PoolStats
	for _, p := range []stash.PoolStats{h.nodes.batches.Stats(), h.ways.batches.Stats(), h.areas.batches.Stats()} {
		s.Allocated += p.Allocated
		s.Reused += p.Reused
		s.Free += p.Free
	}
	return s
}
