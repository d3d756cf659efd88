package session

import (
	"sync"
	"time"
)

// sessionTimer is a one-shot timer whose stale expirations are ignored.
// Every Arm, Reset or Disarm starts a new generation; a firing only runs fn
// if its generation is still current. Once stopped it never fires again.
type sessionTimer struct {
	mu      sync.Mutex
	fn      func()
	timer   *time.Timer
	gen     uint64
	armed   bool
	stopped bool
}

func newSessionTimer(fn func()) *sessionTimer {
	return &sessionTimer{fn: fn}
}

// Arm schedules fn after d unless the timer is already armed or stopped.
func (t *sessionTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.armed {
		return
	}
	t.scheduleLocked(d)
}

// Reset schedules fn after d, replacing any pending expiration.
func (t *sessionTimer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.cancelLocked()
	t.scheduleLocked(d)
}

// Disarm cancels a pending expiration. The timer can be armed again.
func (t *sessionTimer) Disarm() {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
}

// Stop cancels the timer permanently.
func (t *sessionTimer) Stop() {
	t.mu.Lock()
	t.cancelLocked()
	t.stopped = true
	t.mu.Unlock()
}

// Armed reports whether an expiration is pending.
func (t *sessionTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *sessionTimer) scheduleLocked(d time.Duration) {
	t.gen++
	gen := t.gen
	t.armed = true
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *sessionTimer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.armed = false
}

func (t *sessionTimer) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}
