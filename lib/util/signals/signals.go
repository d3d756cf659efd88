// Package signals runs registered handlers when the process receives
// reload or shutdown signals.
//
// SIGHUP runs reload handlers. SIGINT and SIGTERM first run pre-shutdown
// handlers, bounded by the graceful timeout, and then interrupt handlers.
// Handlers run sequentially in registration order and a panicking handler
// does not prevent the others from running.
package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration for Deregister.
type HandlerID int

type phase int

const (
	phaseNone phase = iota
	phaseReload
	phasePreShutdown
	phaseInterrupt
)

func (p phase) String() string {
	switch p {
	case phaseReload:
		return "reload"
	case phasePreShutdown:
		return "pre_shutdown"
	case phaseInterrupt:
		return "interrupt"
	default:
		return "none"
	}
}

type registeredHandler struct {
	id    HandlerID
	phase phase
	fn    Handler
}

var (
	mu       sync.RWMutex
	handlers []registeredHandler
	nextID   HandlerID
	stopOnce sync.Once
)

func register(p phase, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	handlers = append(handlers, registeredHandler{id: id, phase: p, fn: f})
	return id
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return register(phaseReload, f)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM
// after all pre-shutdown handlers.
func RegisterInterruptHandler(f Handler) HandlerID {
	return register(phaseInterrupt, f)
}

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers. Session hosts use it to close managers so partners are
// told about aborted sessions while the transport is still up.
func RegisterPreShutdownHandler(f Handler) HandlerID {
	return register(phasePreShutdown, f)
}

// Deregister removes a handler registered with any Register function.
func Deregister(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range handlers {
		if h.id == id {
			handlers = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

func snapshot(p phase) []Handler {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h.phase == p {
			out = append(out, h.fn)
		}
	}
	return out
}

func runAll(p phase, fns []Handler) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":    "signals.runAll",
						"phase": p.String(),
						"panic": r,
					}).Error("signal handler panicked")
				}
			}()
			fn()
		}()
	}
}

// dispatch runs the handlers for a classified signal.
func dispatch(p phase) {
	switch p {
	case phaseReload:
		runAll(phaseReload, snapshot(phaseReload))
	case phasePreShutdown, phaseInterrupt:
		handlePreShutdown()
		runAll(phaseInterrupt, snapshot(phaseInterrupt))
	}
}

// Handle blocks dispatching signals until StopHandle is called.
func Handle() {
	for sig := range sigChan {
		p := classify(sig)
		log.WithFields(logger.Fields{
			"at":     "signals.Handle",
			"signal": sig.String(),
			"phase":  p.String(),
		}).Info("signal received")
		dispatch(p)
	}
}

// StopHandle closes the signal channel, causing Handle() to return.
// Safe to call multiple times; only the first call takes effect.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
