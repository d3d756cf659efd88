package signals

import (
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

// defaultGracefulTimeout bounds the pre-shutdown phase.
const defaultGracefulTimeout = 30 * time.Second

var (
	timeoutMu       sync.RWMutex
	gracefulTimeout = defaultGracefulTimeout
)

// SetGracefulTimeout configures the maximum time to wait for pre-shutdown
// handlers. Zero or negative restores the default.
func SetGracefulTimeout(timeout time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()
	if timeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
	} else {
		gracefulTimeout = timeout
	}
}

// handlePreShutdown runs the pre-shutdown handlers and reports whether they
// finished before the graceful timeout.
func handlePreShutdown() bool {
	fns := snapshot(phasePreShutdown)
	if len(fns) == 0 {
		return true
	}
	timeoutMu.RLock()
	timeout := gracefulTimeout
	timeoutMu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runAll(phasePreShutdown, fns)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithFields(logger.Fields{
			"at":      "signals.handlePreShutdown",
			"timeout": timeout.String(),
		}).Warn("pre-shutdown handlers timed out")
		return false
	}
}
