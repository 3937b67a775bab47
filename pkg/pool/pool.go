// Package pool provides typed object pooling.
//
//	writers := pool.New(
//	    func() *gzip.Writer { return gzip.NewWriter(io.Discard) },
//	    func(w *gzip.Writer) { w.Reset(io.Discard) },
//	)
//	zw := writers.Get()
//	defer writers.Put(zw)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool that resets objects on Put
// and keeps usage statistics. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated atomic.Int64
		inUse     atomic.Int64
		gets      atomic.Int64
	}
}

// Stats is a snapshot of pool usage.
type Stats struct {
	// Allocated is the number of objects created by the factory.
	Allocated int64
	// InUse is the number of objects checked out and not yet returned.
	InUse int64
	// Hits is the number of Get calls served by a recycled object.
	Hits int64
	// Misses is the number of Get calls that needed a new object.
	Misses int64
}

// New creates a pool. reset may be nil.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.stats.allocated.Add(1)
		return new()
	}
	return p
}

// Get returns a recycled object or a new one.
func (p *Pool[T]) Get() T {
	p.stats.gets.Add(1)
	p.stats.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and makes it available to Get.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.stats.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	allocated := p.stats.allocated.Load()
	gets := p.stats.gets.Load()
	hits := gets - allocated
	if hits < 0 {
		hits = 0
	}
	return Stats{
		Allocated: allocated,
		InUse:     p.stats.inUse.Load(),
		Hits:      hits,
		Misses:    allocated,
	}
}
