package session

import (
	"sync"
	"time"

	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ackKey correlates an ack with the protocol operation waiting for it.
type ackKey struct {
	id  protocol.SessionID
	ack protocol.ActionCode
}

// ackWaiter pins a pooled operation to one use. A waiter read before the
// operation was recycled cannot complete the operation's next use.
type ackWaiter struct {
	op    *ProtocolOperation
	token uint64
}

func (w ackWaiter) complete(err error) bool {
	return w.op.complete(w.token, err)
}

// ProtocolOperation sends one control message and resends it at a fixed
// interval until the matching ack arrives, the retry budget runs out, or it
// is canceled. It completes exactly once.
type ProtocolOperation struct {
	mu         sync.Mutex
	env        *Environment
	key        ackKey
	wire       []byte
	target     transport.SendTarget
	attempts   int
	maxRetries int
	interval   time.Duration
	done       bool
	token      uint64
	timer      *sessionTimer
	callback   func(error)
	handle     *pool.Handle[*ProtocolOperation]
}

func newProtocolOperation() (*ProtocolOperation, error) {
	return &ProtocolOperation{}, nil
}

func (o *ProtocolOperation) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.env = nil
	o.key = ackKey{}
	o.wire = nil
	o.target = nil
	o.attempts = 0
	o.maxRetries = 0
	o.interval = 0
	o.done = false
	o.token++
	o.timer = nil
	o.callback = nil
	o.handle = nil
}

// Key returns the session id and ack action this operation waits for.
func (o *ProtocolOperation) Key() (protocol.SessionID, protocol.ActionCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key.id, o.key.ack
}

// start sends the first copy. It does nothing if the operation completed,
// or was recycled, since token was read.
func (o *ProtocolOperation) start(token uint64) {
	o.mu.Lock()
	if o.done || o.token != token {
		o.mu.Unlock()
		return
	}
	timer := newSessionTimer(func() { o.onTimer(token) })
	o.timer = timer
	env, target, wire, interval := o.env, o.target, o.wire, o.interval
	o.mu.Unlock()

	transmit(env.transport, target, wire)
	timer.Arm(interval)
}

func (o *ProtocolOperation) onTimer(token uint64) {
	o.mu.Lock()
	if o.done || o.token != token {
		o.mu.Unlock()
		return
	}
	o.attempts++
	if o.attempts > o.maxRetries {
		key := o.key
		o.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":         "(ProtocolOperation) onTimer",
			"session_id": key.id.String(),
			"awaiting":   key.ack.String(),
		}).Warn("protocol_operation_timeout")
		o.complete(token, oops.In("session").Code(protocol.ErrTimeout).
			With("session_id", key.id.String()).With("awaiting", key.ack.String()).
			Wrapf(protocol.ErrTimeout, "no ack after retries"))
		return
	}
	env, target, wire, interval, timer := o.env, o.target, o.wire, o.interval, o.timer
	o.mu.Unlock()

	transmit(env.transport, target, wire)
	timer.Arm(interval)
}

// complete finishes the use of the operation identified by token with err
// and reports whether this call did so. Later calls, and calls carrying the
// token of an earlier use, are no-ops.
func (o *ProtocolOperation) complete(token uint64, err error) bool {
	o.mu.Lock()
	if o.done || o.token != token {
		o.mu.Unlock()
		return false
	}
	o.done = true
	if o.timer != nil {
		o.timer.Stop()
	}
	env, key, cb, h := o.env, o.key, o.callback, o.handle
	o.mu.Unlock()

	env.removeAckWaiter(key, ackWaiter{op: o, token: token})
	if cb != nil {
		cb(err)
	}
	h.Release()
	return true
}

// startProtocolOperation registers and sends msg, retrying up to maxRetries
// times. cb, if not nil, receives nil on ack, ErrTimeout after the last
// retry, or ErrOperationCanceled.
func (e *Environment) startProtocolOperation(msg *protocol.Message, target transport.SendTarget, maxRetries int, cb func(error)) error {
	ack, ok := protocol.AckCodeFor(msg.Session.Action)
	if !ok {
		return oops.In("session").Code(protocol.ErrInvalidArgument).
			Wrapf(protocol.ErrInvalidArgument, "action %s has no ack", msg.Session.Action)
	}
	wire, err := msg.Marshal()
	if err != nil {
		return err
	}
	h, ok := pool.Take(e.protocolOps, nil)
	if !ok {
		log.WithFields(logger.Fields{
			"at":     "(Environment) startProtocolOperation",
			"action": msg.Session.Action.String(),
		}).Warn("protocol_operation_pool_exhausted")
		return oops.In("session").Code(protocol.ErrResourceExhausted).
			Wrapf(protocol.ErrResourceExhausted, "protocol operation pool")
	}
	op := h.Value()
	op.mu.Lock()
	op.env = e
	key := ackKey{id: msg.Session.SessionID, ack: ack}
	op.key = key
	op.wire = wire
	op.target = target
	op.maxRetries = maxRetries
	op.interval = e.cfg.ProtocolRetryInterval
	op.callback = cb
	op.handle = h
	token := op.token
	op.mu.Unlock()

	if prev, ok := e.addAckWaiter(key, ackWaiter{op: op, token: token}); ok {
		prev.complete(oops.In("session").Code(protocol.ErrOperationCanceled).
			Wrapf(protocol.ErrOperationCanceled, "superseded by a new %s", msg.Session.Action))
	}
	op.start(token)
	return nil
}
