package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	id    int
	dirty bool
}

func (i *testItem) Reset() {
	i.dirty = false
}

func newCountingFactory() (func() (*testItem, error), *int) {
	n := 0
	return func() (*testItem, error) {
		n++
		return &testItem{id: n}, nil
	}, &n
}

// TestPoolInitialize verifies items are pre-allocated and handed out.
func TestPoolInitialize(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New("items", 2, factory)
	require.NoError(t, p.Initialize(3))

	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 3, p.Created())

	for i := 0; i < 3; i++ {
		_, ok := p.Get()
		require.True(t, ok)
	}
	_, ok := p.Get()
	assert.False(t, ok, "Get on an empty pool must fail")
}

// TestPoolInitializeRollback verifies a failing allocation leaves the pool empty.
func TestPoolInitializeRollback(t *testing.T) {
	calls := 0
	p := New("failing", 1, func() (*testItem, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("out of memory")
		}
		return &testItem{}, nil
	})

	err := p.Initialize(5)
	require.Error(t, err)
	assert.Equal(t, 0, p.Available())
	assert.Equal(t, 0, p.Created())
}

func TestPoolGetOrGrow(t *testing.T) {
	factory, n := newCountingFactory()
	p := New("grow", 4, factory)

	item, ok := p.GetOrGrow()
	require.True(t, ok)
	require.NotNil(t, item)
	assert.Equal(t, 4, *n)
	assert.Equal(t, 3, p.Available())
}

func TestPoolGetOrGrowFailure(t *testing.T) {
	p := New("nogrow", 4, func() (*testItem, error) {
		return nil, errors.New("allocation refused")
	})
	_, ok := p.GetOrGrow()
	assert.False(t, ok)
}

// TestPoolReturnResets verifies returned items are reset before reuse.
func TestPoolReturnResets(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New("reset", 1, factory)
	require.NoError(t, p.Initialize(1))

	item, ok := p.Get()
	require.True(t, ok)
	item.dirty = true
	p.Return(item)

	again, ok := p.Get()
	require.True(t, ok)
	assert.Same(t, item, again)
	assert.False(t, again.dirty)
}

// TestTakeQuotaExhausted verifies the N+1th concurrent take fails when the
// quota is N, even though the shared pool could still grow.
func TestTakeQuotaExhausted(t *testing.T) {
	const quota = 5
	factory, _ := newCountingFactory()
	p := New("send", 8, factory)
	q := NewQuota("session.send", quota)

	handles := make([]*Handle[*testItem], 0, quota)
	for i := 0; i < quota; i++ {
		h, ok := Take(p, q)
		require.True(t, ok, "take %d should succeed", i)
		handles = append(handles, h)
	}

	_, ok := Take(p, q)
	assert.False(t, ok, "take beyond quota must fail")
	assert.Equal(t, quota, q.Count())

	handles[0].Release()
	h, ok := Take(p, q)
	require.True(t, ok, "a released slot must be reusable")
	h.Release()
}

// TestHandleReleaseIdempotent verifies a double release returns the item and
// quota slot only once.
func TestHandleReleaseIdempotent(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New("idem", 1, factory)
	require.NoError(t, p.Initialize(1))
	q := NewQuota("idem", 1)

	h, ok := Take(p, q)
	require.True(t, ok)
	assert.Equal(t, 0, p.Available())

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.Release()
		}()
	}
	wg.Wait()
	close(results)

	released := 0
	for r := range results {
		if r {
			released++
		}
	}
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 0, q.Count())
}

func TestTakePoolExhaustedReleasesQuota(t *testing.T) {
	p := New("empty", 1, func() (*testItem, error) {
		return nil, errors.New("no memory")
	})
	q := NewQuota("q", 2)
	_, ok := Take(p, q)
	assert.False(t, ok)
	assert.Equal(t, 0, q.Count())
}

func TestQuotaReleaseUnderflow(t *testing.T) {
	q := NewQuota("under", 1)
	q.Release()
	assert.Equal(t, 0, q.Count())
	assert.True(t, q.TryAcquire())
	assert.False(t, q.TryAcquire())
}
