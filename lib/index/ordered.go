package index

import (
	"sync"

	"github.com/google/btree"
)

const degree = 16

type entry[K, V any] struct {
	key   K
	value V
}

// Ordered is a sorted map guarded by its own mutex.
type Ordered[K, V any] struct {
	mu   sync.Mutex
	tree *btree.BTreeG[entry[K, V]]
}

// NewOrdered creates an empty map ordered by compare.
func NewOrdered[K, V any](compare func(a, b K) int) *Ordered[K, V] {
	return &Ordered[K, V]{tree: newTree[K, V](compare)}
}

func newTree[K, V any](compare func(a, b K) int) *btree.BTreeG[entry[K, V]] {
	return btree.NewG(degree, func(a, b entry[K, V]) bool {
		return compare(a.key, b.key) < 0
	})
}

// Insert adds key if absent and reports whether it did.
func (o *Ordered[K, V]) Insert(key K, value V) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.tree.Get(entry[K, V]{key: key}); exists {
		return false
	}
	o.tree.ReplaceOrInsert(entry[K, V]{key: key, value: value})
	return true
}

// Find returns the value stored under key.
func (o *Ordered[K, V]) Find(key K) (V, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tree.Get(entry[K, V]{key: key})
	return e.value, ok
}

// Remove deletes key and returns the removed value.
func (o *Ordered[K, V]) Remove(key K) (V, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tree.Delete(entry[K, V]{key: key})
	return e.value, ok
}

// RemoveIf deletes key only when match accepts the stored value. It reports
// whether an entry was removed.
func (o *Ordered[K, V]) RemoveIf(key K, match func(V) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tree.Get(entry[K, V]{key: key})
	if !ok || !match(e.value) {
		return false
	}
	o.tree.Delete(e)
	return true
}

// Floor returns the greatest entry whose key is less than or equal to pivot.
func (o *Ordered[K, V]) Floor(pivot K) (K, V, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var (
		found entry[K, V]
		ok    bool
	)
	o.tree.DescendLessOrEqual(entry[K, V]{key: pivot}, func(e entry[K, V]) bool {
		found, ok = e, true
		return false
	})
	return found.key, found.value, ok
}

func (o *Ordered[K, V]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tree.Len()
}

// Snapshot returns all values in key order.
func (o *Ordered[K, V]) Snapshot() []V {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]V, 0, o.tree.Len())
	o.tree.Ascend(func(e entry[K, V]) bool {
		out = append(out, e.value)
		return true
	})
	return out
}
