package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func reset() {
	mu.Lock()
	handlers = nil
	mu.Unlock()
	SetGracefulTimeout(0)
}

// TestShutdownOrdering verifies pre-shutdown handlers run before interrupt
// handlers and reload handlers are not involved.
func TestShutdownOrdering(t *testing.T) {
	reset()
	defer reset()

	var orderMu sync.Mutex
	var order []string
	record := func(s string) Handler {
		return func() {
			orderMu.Lock()
			order = append(order, s)
			orderMu.Unlock()
		}
	}
	RegisterInterruptHandler(record("interrupt"))
	RegisterPreShutdownHandler(record("pre1"))
	RegisterReloadHandler(record("reload"))
	RegisterPreShutdownHandler(record("pre2"))

	dispatch(phaseInterrupt)
	assert.Equal(t, []string{"pre1", "pre2", "interrupt"}, order)

	order = nil
	dispatch(phaseReload)
	assert.Equal(t, []string{"reload"}, order)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	reset()
	defer reset()

	ran := false
	RegisterReloadHandler(func() { panic("bad handler") })
	RegisterReloadHandler(func() { ran = true })
	assert.NotPanics(t, func() { dispatch(phaseReload) })
	assert.True(t, ran)
}

func TestDeregister(t *testing.T) {
	reset()
	defer reset()

	calls := 0
	id := RegisterReloadHandler(func() { calls++ })
	Deregister(id)
	dispatch(phaseReload)
	assert.Zero(t, calls)
	assert.Equal(t, HandlerID(-1), RegisterReloadHandler(nil))
}

func TestPreShutdownTimeout(t *testing.T) {
	reset()
	defer reset()

	release := make(chan struct{})
	defer close(release)
	SetGracefulTimeout(20 * time.Millisecond)
	RegisterPreShutdownHandler(func() { <-release })
	assert.False(t, handlePreShutdown())
}
