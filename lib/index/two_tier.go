package index

import (
	"sync"

	"github.com/google/btree"
)

type tier[P, S, V any] struct {
	key      P
	children *btree.BTreeG[entry[S, V]]
}

// TwoTier maps (primary, secondary) pairs to values. It is used where one
// target partition range hosts sessions from many distinct sources.
type TwoTier[P, S, V any] struct {
	compareSecondary func(a, b S) int

	mu      sync.Mutex
	primary *btree.BTreeG[*tier[P, S, V]]
	count   int
}

// NewTwoTier creates an empty index.
func NewTwoTier[P, S, V any](comparePrimary func(a, b P) int, compareSecondary func(a, b S) int) *TwoTier[P, S, V] {
	return &TwoTier[P, S, V]{
		compareSecondary: compareSecondary,
		primary: btree.NewG(degree, func(a, b *tier[P, S, V]) bool {
			return comparePrimary(a.key, b.key) < 0
		}),
	}
}

func (t *TwoTier[P, S, V]) lookupLocked(p P) (*tier[P, S, V], bool) {
	return t.primary.Get(&tier[P, S, V]{key: p})
}

// Insert adds (p, s) -> v, creating the secondary map on first use. It
// returns false if the pair already exists.
func (t *TwoTier[P, S, V]) Insert(p P, s S, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.lookupLocked(p)
	if !ok {
		tr = &tier[P, S, V]{key: p, children: newTree[S, V](t.compareSecondary)}
		t.primary.ReplaceOrInsert(tr)
	}
	if _, exists := tr.children.Get(entry[S, V]{key: s}); exists {
		return false
	}
	tr.children.ReplaceOrInsert(entry[S, V]{key: s, value: v})
	t.count++
	return true
}

// Find returns the value stored under (p, s).
func (t *TwoTier[P, S, V]) Find(p P, s S) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero V
	tr, ok := t.lookupLocked(p)
	if !ok {
		return zero, false
	}
	e, ok := tr.children.Get(entry[S, V]{key: s})
	return e.value, ok
}

// Remove deletes (p, s). When the secondary map becomes empty the primary
// entry is removed as well.
func (t *TwoTier[P, S, V]) Remove(p P, s S) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(p, s, nil)
}

// RemoveIf deletes (p, s) only when match accepts the stored value.
func (t *TwoTier[P, S, V]) RemoveIf(p P, s S, match func(V) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.removeLocked(p, s, match)
	return ok
}

func (t *TwoTier[P, S, V]) removeLocked(p P, s S, match func(V) bool) (V, bool) {
	var zero V
	tr, ok := t.lookupLocked(p)
	if !ok {
		return zero, false
	}
	e, ok := tr.children.Get(entry[S, V]{key: s})
	if !ok || (match != nil && !match(e.value)) {
		return zero, false
	}
	tr.children.Delete(e)
	t.count--
	if tr.children.Len() == 0 {
		t.primary.Delete(tr)
	}
	return e.value, true
}

// Len returns the number of (primary, secondary) pairs.
func (t *TwoTier[P, S, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// PrimaryLen returns the number of primary keys.
func (t *TwoTier[P, S, V]) PrimaryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary.Len()
}

// Snapshot returns every value in (primary, secondary) order.
func (t *TwoTier[P, S, V]) Snapshot() []V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]V, 0, t.count)
	t.primary.Ascend(func(tr *tier[P, S, V]) bool {
		tr.children.Ascend(func(e entry[S, V]) bool {
			out = append(out, e.value)
			return true
		})
		return true
	})
	return out
}
