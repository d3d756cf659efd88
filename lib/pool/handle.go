package pool

import "sync/atomic"

// Handle owns one pooled item and the quota slot it consumed. Release
// returns both; calling it more than once has no further effect.
type Handle[T Resettable] struct {
	value    T
	pool     *Pool[T]
	quota    *Quota
	released atomic.Bool
}

// Take acquires a quota slot and an item, growing the pool if needed. It
// returns false when either the quota or the pool is exhausted, in which
// case nothing is held.
func Take[T Resettable](p *Pool[T], q *Quota) (*Handle[T], bool) {
	if q != nil && !q.TryAcquire() {
		return nil, false
	}
	item, ok := p.GetOrGrow()
	if !ok {
		if q != nil {
			q.Release()
		}
		return nil, false
	}
	return &Handle[T]{value: item, pool: p, quota: q}, true
}

// Value returns the pooled item. It must not be used after Release.
func (h *Handle[T]) Value() T {
	return h.value
}

// Release returns the item to its pool and frees the quota slot. It reports
// whether this call performed the release.
func (h *Handle[T]) Release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.pool.Return(h.value)
	if h.quota != nil {
		h.quota.Release()
	}
	var zero T
	h.value = zero
	return true
}
