package pool

import (
	"sync"

	"github.com/go-i2p/logger"
)

// Quota bounds the number of pooled items one consumer holds at a time.
type Quota struct {
	name  string
	limit int

	mu    sync.Mutex
	count int
}

// NewQuota creates a quota allowing up to limit concurrent acquisitions.
func NewQuota(name string, limit int) *Quota {
	return &Quota{name: name, limit: limit}
}

// TryAcquire takes one slot, returning false when the quota is exhausted.
func (q *Quota) TryAcquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count >= q.limit {
		log.WithFields(logger.Fields{
			"at":    "pool.Quota.TryAcquire",
			"quota": q.name,
			"limit": q.limit,
		}).Debug("quota_exhausted")
		return false
	}
	q.count++
	return true
}

// Release gives back one slot.
func (q *Quota) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		log.WithFields(logger.Fields{
			"at":    "pool.Quota.Release",
			"quota": q.name,
		}).Warn("quota_release_underflow")
		return
	}
	q.count--
}

func (q *Quota) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Quota) Limit() int {
	return q.limit
}
