package session

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Session is one reliable channel between a source and a target partition.
// An outbound session sends; an inbound session receives. The state,
// buffers and queues are guarded by mu.
type Session struct {
	env     *Environment
	manager *Manager
	kind    Kind
	id      protocol.SessionID
	source  *partition.ServicePartition
	target  *partition.ServicePartition
	peer    transport.SendTarget

	sendQuota    *pool.Quota
	receiveQuota *pool.Quota
	inboundQuota *pool.Quota

	mu        sync.Mutex
	state     State
	window    int
	send      *sendBuffer
	recv      *receiveBuffer
	delivery  *queue.Queue // inboundHandle, in sequence order
	receivers *queue.Queue // receiveHandle, oldest first
	finalSeq  int64
	closing   bool
	err       error

	openDone  chan error
	closeDone chan error
	done      chan struct{}
}

func newSession(env *Environment, m *Manager, kind Kind, id protocol.SessionID,
	source, target *partition.ServicePartition, peer transport.SendTarget,
) *Session {
	cfg := env.cfg
	return &Session{
		env:          env,
		manager:      m,
		kind:         kind,
		id:           id,
		source:       source,
		target:       target,
		peer:         peer,
		sendQuota:    pool.NewQuota("send", cfg.SendOperationQuota),
		receiveQuota: pool.NewQuota("receive", cfg.ReceiveOperationQuota),
		inboundQuota: pool.NewQuota("inbound", cfg.QueuedInboundMessageQuota),
		delivery:     queue.New(),
		receivers:    queue.New(),
		finalSeq:     -1,
		openDone:     make(chan error, 1),
		closeDone:    make(chan error, 1),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() protocol.SessionID              { return s.id }
func (s *Session) Kind() Kind                          { return s.kind }
func (s *Session) Source() *partition.ServicePartition { return s.source }
func (s *Session) Target() *partition.ServicePartition { return s.target }

// Partner returns the partition at the other end of the session.
func (s *Session) Partner() *partition.ServicePartition {
	if s.kind == KindOutbound {
		return s.target
	}
	return s.source
}

// PeerAddress returns the transport address replies are sent to.
func (s *Session) PeerAddress() string {
	return s.peer.Address()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed: nil for a completed close handshake,
// otherwise the abort or failure cause. It returns nil while open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Abort closes the session immediately. Pending sends complete with
// ErrOperationCanceled and the partner is notified on a best-effort basis.
// Calling Abort on a closed session does nothing.
func (s *Session) Abort() {
	s.terminate(SignalAbortApiCalled, oops.In("session").Code(protocol.ErrOperationCanceled).
		With("session_id", s.id.String()).Wrapf(protocol.ErrOperationCanceled, "session aborted"))
}

// applyLocked performs the transition for sig if it is valid from the
// current state. The caller holds s.mu.
func (s *Session) applyLocked(sig Signal) bool {
	next, ok := transition(s.kind, s.state, sig)
	if !ok {
		log.WithFields(logger.Fields{
			"at":         "(Session) applyLocked",
			"session_id": s.id.String(),
			"kind":       s.kind.String(),
			"state":      s.state.String(),
			"signal":     sig.String(),
		}).Debug("session_signal_rejected")
		return false
	}
	log.WithFields(logger.Fields{
		"at":         "(Session) applyLocked",
		"session_id": s.id.String(),
		"kind":       s.kind.String(),
		"from":       s.state.String(),
		"to":         next.String(),
		"signal":     sig.String(),
	}).Debug("session_state_changed")
	s.state = next
	return true
}

// terminate moves the session to Closed with sig and releases everything it
// holds. Every path that ends a session goes through here; only the first
// call for a session has any effect, and it reports true.
func (s *Session) terminate(sig Signal, cause error) bool {
	s.mu.Lock()
	prev := s.state
	if next, ok := transition(s.kind, prev, sig); !ok || next != StateClosed {
		s.mu.Unlock()
		return false
	}
	s.applyLocked(sig)
	normal := sig == SignalCloseRequestDequeued || sig == SignalCloseResponseSuccess
	if normal {
		cause = nil
	} else if cause == nil {
		cause = oops.In("session").Code(protocol.ErrOperationCanceled).
			With("signal", sig.String()).Wrapf(protocol.ErrOperationCanceled, "session closed")
	}
	s.err = cause

	var pendingSends []sendHandle
	if s.send != nil {
		pendingSends = s.send.clear()
	}
	if s.recv != nil {
		s.recv.clear()
	}
	queued := drainQueue[inboundHandle](s.delivery)
	receivers := drainQueue[receiveHandle](s.receivers)
	closing := s.closing
	s.mu.Unlock()

	fields := logger.Fields{
		"at":         "(Session) terminate",
		"session_id": s.id.String(),
		"kind":       s.kind.String(),
		"from":       prev.String(),
		"signal":     sig.String(),
		"source":     s.source.String(),
		"target":     s.target.String(),
	}
	if normal {
		log.WithFields(fields).Info("session_closed")
	} else {
		log.WithFields(fields).WithError(cause).Info("session_aborted")
	}

	if s.kind == KindInbound {
		s.env.retire(s.id, normal)
	}
	s.env.forgetSession(s)
	s.manager.release(s)

	canceled := oops.In("session").Code(protocol.ErrOperationCanceled).
		With("session_id", s.id.String()).Wrapf(protocol.ErrOperationCanceled, "session closed")
	for _, h := range pendingSends {
		completeSend(h, canceled)
	}
	for _, h := range queued {
		h.Release()
	}
	receiveErr := error(protocol.ErrObjectClosed)
	if !normal {
		receiveErr = oops.In("session").Code(protocol.ErrInvalidState).
			With("session_id", s.id.String()).Wrapf(protocol.ErrInvalidState, "session aborted")
	}
	for _, h := range receivers {
		completeReceive(h, nil, receiveErr)
	}

	if prev == StateOpening {
		s.openDone <- cause
	}
	if closing {
		s.closeDone <- cause
	}

	if sig == SignalCloseRequestDequeued {
		s.respond(protocol.ActionCloseResponse, protocol.CodeSuccess)
	}
	if sig.notifiesPartner() && prev != StateInitialized {
		s.sendAbortRequest()
	}
	if sig.unexpected() {
		s.manager.notifyAborted(s)
	}
	close(s.done)
	return true
}

// sendAbortRequest tells the partner the session is gone. The outcome is
// ignored.
func (s *Session) sendAbortRequest() {
	action := protocol.ActionAbortInboundRequest
	if s.kind == KindInbound {
		action = protocol.ActionAbortOutboundRequest
	}
	msg := &protocol.Message{Session: protocol.SessionHeader{SessionID: s.id, Action: action}}
	if err := s.env.startProtocolOperation(msg, s.peer, s.env.cfg.AbortMaxRetries, nil); err != nil {
		log.WithFields(logger.Fields{
			"at":         "(Session) sendAbortRequest",
			"session_id": s.id.String(),
		}).WithError(err).Warn("abort_request_not_sent")
	}
}

// respond sends an OpenResponse or CloseResponse carrying code to the
// partner.
func (s *Session) respond(action protocol.ActionCode, code protocol.ErrorCode) {
	s.env.sendResponse(s.id, action, code, 0, s.peer, nil)
}

func drainQueue[T any](q *queue.Queue) []T {
	out := make([]T, 0, q.Length())
	for q.Length() > 0 {
		out = append(out, q.Remove().(T))
	}
	return out
}

func completeReceive(h receiveHandle, payload []byte, err error) {
	cb := h.Value().callback
	h.Release()
	if cb != nil {
		cb(payload, err)
	}
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID              protocol.SessionID
	Kind            Kind
	State           State
	WindowSize      int
	InFlight        int
	Held            int
	Acked           uint64
	Retransmissions uint64
	Buffered        int
	Queued          int
	ParkedReceives  int
	Delivered       uint64
	Duplicates      uint64
	Dropped         uint64
	AcksSent        uint64
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:             s.id,
		Kind:           s.kind,
		State:          s.state,
		WindowSize:     s.window,
		Queued:         s.delivery.Length(),
		ParkedReceives: s.receivers.Length(),
	}
	send, recv := s.send, s.recv
	s.mu.Unlock()
	if send != nil {
		bs := send.stats()
		st.InFlight, st.Held, st.Acked, st.Retransmissions = bs.InFlight, bs.Held, bs.Acked, bs.Retransmissions
	}
	if recv != nil {
		rs := recv.stats()
		st.Buffered, st.Delivered, st.Duplicates, st.Dropped, st.AcksSent = rs.Buffered, rs.Delivered, rs.Duplicates, rs.Dropped, rs.AcksSent
	}
	return st
}
