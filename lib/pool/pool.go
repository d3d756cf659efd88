package pool

import (
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Resettable is implemented by pooled items. Reset clears all per-use state
// before the item is made available again.
type Resettable interface {
	Reset()
}

// Pool is a mutex-protected free list of reusable items.
type Pool[T Resettable] struct {
	name      string
	increment int
	newFn     func() (T, error)

	mu      sync.Mutex
	free    []T
	created int
}

// New creates an empty pool. newFn allocates one item; increment is the
// number of items allocated by each grow attempt.
func New[T Resettable](name string, increment int, newFn func() (T, error)) *Pool[T] {
	if increment < 1 {
		increment = 1
	}
	return &Pool[T]{
		name:      name,
		increment: increment,
		newFn:     newFn,
	}
}

// Name returns the diagnostic name of the pool.
func (p *Pool[T]) Name() string {
	return p.name
}

// Initialize pre-allocates size items. On any allocation failure the pool is
// left exactly as it was and the error is returned.
func (p *Pool[T]) Initialize(size int) error {
	items, err := p.allocate(size)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "pool.Pool.Initialize",
			"pool": p.name,
			"size": size,
		}).WithError(err).Error("pool_initialize_failed")
		return oops.In("pool").With("pool", p.name).Wrapf(err, "initialize %d items", size)
	}

	p.mu.Lock()
	p.free = append(p.free, items...)
	p.created += len(items)
	p.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":   "pool.Pool.Initialize",
		"pool": p.name,
		"size": size,
	}).Debug("pool_initialized")
	return nil
}

func (p *Pool[T]) allocate(n int) ([]T, error) {
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := p.newFn()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Get removes and returns one item, or false if the pool is empty.
func (p *Pool[T]) Get() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popLocked()
}

func (p *Pool[T]) popLocked() (T, bool) {
	var zero T
	n := len(p.free)
	if n == 0 {
		return zero, false
	}
	item := p.free[n-1]
	p.free[n-1] = zero
	p.free = p.free[:n-1]
	return item, true
}

// GetOrGrow behaves like Get but, when the pool is empty, first tries to
// allocate another increment of items. It returns false only when the
// growth allocation fails as well.
func (p *Pool[T]) GetOrGrow() (T, bool) {
	if item, ok := p.Get(); ok {
		return item, true
	}

	items, err := p.allocate(p.increment)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":        "pool.Pool.GetOrGrow",
			"pool":      p.name,
			"increment": p.increment,
		}).WithError(err).Warn("pool_grow_failed")
		var zero T
		return zero, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, items...)
	p.created += len(items)
	log.WithFields(logger.Fields{
		"at":      "pool.Pool.GetOrGrow",
		"pool":    p.name,
		"created": p.created,
	}).Debug("pool_grown")
	return p.popLocked()
}

// Return resets item and makes it available again.
func (p *Pool[T]) Return(item T) {
	item.Reset()
	p.mu.Lock()
	p.free = append(p.free, item)
	p.mu.Unlock()
}

// Available reports how many items are currently free.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Created reports how many items the pool has allocated over its lifetime.
func (p *Pool[T]) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
