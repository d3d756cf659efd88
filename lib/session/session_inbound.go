package session

import (
	"context"
	"errors"

	"github.com/eapache/queue"
	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

type receiveCompletion struct {
	h       receiveHandle
	payload []byte
	err     error
}

func (c receiveCompletion) run() {
	completeReceive(c.h, c.payload, c.err)
}

type receiveResult struct {
	payload []byte
	err     error
}

// offer asks the application whether to accept the session and answers the
// partner. It runs on its own goroutine.
func (s *Session) offer(accept InboundSessionCallback, requestedWindow int) {
	if !s.runAcceptCallback(accept) {
		s.terminate(SignalSessionOfferNotAccepted, oops.In("session").Code(protocol.ErrSessionRejected).
			With("session_id", s.id.String()).With("source", s.source.String()).
			Wrapf(protocol.ErrSessionRejected, "offer not accepted"))
		s.respond(protocol.ActionOpenResponse, protocol.ErrSessionRejected)
		return
	}

	cfg := s.env.cfg
	window := cfg.WindowSize
	if requestedWindow > 0 && requestedWindow < window {
		window = requestedWindow
	}
	s.mu.Lock()
	if !s.applyLocked(SignalSessionOfferAccepted) {
		s.mu.Unlock()
		return
	}
	s.window = window
	s.recv = newReceiveBuffer(s.id, window, min(cfg.AckBatchSize, window), cfg.AckBatchInterval, s.sendAck)
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":         "(Session) offer",
		"session_id": s.id.String(),
		"source":     s.source.String(),
		"target":     s.target.String(),
		"window":     window,
	}).Info("session_accepted")
	s.env.sendResponse(s.id, protocol.ActionOpenResponse, protocol.CodeSuccess, window, s.peer, s.onOpenResponseDone)
}

func (s *Session) runAcceptCallback(accept InboundSessionCallback) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":         "(Session) runAcceptCallback",
				"session_id": s.id.String(),
				"panic":      r,
			}).Error("inbound_callback_panicked")
			accepted = false
		}
	}()
	return accept(s.source, s)
}

func (s *Session) onOpenResponseDone(err error) {
	if err == nil || errors.Is(err, protocol.ErrOperationCanceled) {
		return
	}
	s.terminate(SignalAbortOnRetryExhausted, err)
}

func (s *Session) sendAck(seq int64) {
	wire, err := (&protocol.Message{Session: protocol.SessionHeader{
		SessionID:      s.id,
		Action:         protocol.ActionSendMessageAck,
		SequenceNumber: seq,
	}}).Marshal()
	if err != nil {
		log.WithError(err).Error("ack_encode_failed")
		return
	}
	transmit(s.env.transport, s.peer, wire)
}

func (s *Session) onData(msg *protocol.Message) {
	h, ok := pool.Take(s.env.inboundMessages, s.inboundQuota)
	if !ok {
		// the sender retransmits once the application catches up
		log.WithFields(logger.Fields{
			"at":         "(Session) onData",
			"session_id": s.id.String(),
			"seq":        msg.Session.SequenceNumber,
		}).Debug("inbound_quota_exhausted")
		return
	}
	m := h.Value()
	m.id = msg.Session.MessageID()
	m.payload = msg.Payload

	s.mu.Lock()
	if s.recv == nil || (s.state != StateOpened && s.state != StateClosing) {
		s.mu.Unlock()
		h.Release()
		return
	}
	flushed, ack := s.recv.insert(h)
	completions := s.deliverLocked(flushed)
	s.mu.Unlock()

	if ack != noAck {
		s.sendAck(ack)
	}
	for _, c := range completions {
		c.run()
	}
}

// deliverLocked hands in-order messages to parked receives first and
// queues the rest. The caller holds s.mu.
func (s *Session) deliverLocked(flushed []inboundHandle) []receiveCompletion {
	var completions []receiveCompletion
	for _, h := range flushed {
		if s.receivers.Length() == 0 {
			s.delivery.Add(h)
			continue
		}
		r := s.receivers.Remove().(receiveHandle)
		payload := h.Value().payload
		h.Release()
		completions = append(completions, receiveCompletion{h: r, payload: payload})
	}
	return completions
}

// onCloseRequest queues the close marker behind the last payload. The
// session closes when the marker is dequeued.
func (s *Session) onCloseRequest(closeSeq int64) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.recv == nil || !s.applyLocked(SignalCloseRequestReceived) {
		state := s.state
		s.mu.Unlock()
		s.terminate(SignalAbortOnProtocolFailure, oops.In("session").Code(protocol.ErrProtocolViolation).
			With("state", state.String()).Wrapf(protocol.ErrProtocolViolation, "close request before open completed"))
		return
	}
	ack, err := s.recv.close(closeSeq)
	if err != nil {
		s.mu.Unlock()
		s.terminate(SignalAbortOnProtocolFailure, err)
		return
	}
	marker, ok := pool.Take(s.env.inboundMessages, nil)
	if !ok {
		s.mu.Unlock()
		s.terminate(SignalAbortOnProtocolFailure, oops.In("session").Code(protocol.ErrResourceExhausted).
			Wrapf(protocol.ErrResourceExhausted, "close marker"))
		return
	}
	marker.Value().id = protocol.ReliableMessageID{SessionID: s.id, SequenceNumber: closeSeq}
	marker.Value().closeMarker = true

	var parked *receiveCompletion
	if s.delivery.Length() == 0 && s.receivers.Length() > 0 {
		marker.Release()
		parked = &receiveCompletion{h: s.receivers.Remove().(receiveHandle), err: protocol.ErrObjectClosed}
	} else {
		s.delivery.Add(marker)
	}
	s.mu.Unlock()

	if ack != noAck {
		s.sendAck(ack)
	}
	if parked != nil {
		s.terminate(SignalCloseRequestDequeued, nil)
		parked.run()
	}
}

// Receive returns the next payload in sequence order. With wait false it
// returns ErrQueueEmpty when nothing is queued; with wait true it blocks
// until a payload arrives or ctx ends, including while the session is still
// being offered to the accept callback. After the partner closed and every
// payload was received it returns ErrObjectClosed; on an aborted session it
// returns ErrInvalidState.
func (s *Session) Receive(ctx context.Context, wait bool) ([]byte, error) {
	if s.kind != KindInbound {
		return nil, oops.In("session").Code(protocol.ErrInvalidState).
			Wrapf(protocol.ErrInvalidState, "receive on outbound session")
	}
	s.mu.Lock()
	if payload, ok, err := s.dequeueLocked(wait); ok {
		return payload, err
	}
	if !wait {
		s.mu.Unlock()
		return nil, protocol.ErrQueueEmpty
	}
	result := make(chan receiveResult, 1)
	rh, err := s.parkLocked(func(p []byte, err error) { result <- receiveResult{payload: p, err: err} })
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case r := <-result:
		return r.payload, r.err
	case <-ctx.Done():
		s.mu.Lock()
		removed := removeFromQueue(s.receivers, rh)
		s.mu.Unlock()
		if removed {
			rh.Release()
			return nil, ctx.Err()
		}
		// completion already claimed this receive
		r := <-result
		return r.payload, r.err
	}
}

// ReceiveAsync calls done with the next payload, immediately if one is
// queued.
func (s *Session) ReceiveAsync(done func([]byte, error)) error {
	if s.kind != KindInbound {
		return oops.In("session").Code(protocol.ErrInvalidState).
			Wrapf(protocol.ErrInvalidState, "receive on outbound session")
	}
	s.mu.Lock()
	if payload, ok, err := s.dequeueLocked(true); ok {
		if err != nil && !errors.Is(err, protocol.ErrObjectClosed) {
			return err
		}
		done(payload, err)
		return nil
	}
	_, err := s.parkLocked(done)
	s.mu.Unlock()
	return err
}

// dequeueLocked is called with s.mu held. When it reports ok it has
// released s.mu and produced the receive's result. A session still being
// offered to the accept callback is parkable when wait is set.
func (s *Session) dequeueLocked(wait bool) ([]byte, bool, error) {
	switch s.state {
	case StateOpened, StateClosing:
	case StateInitialized, StateOpening:
		if wait {
			return nil, false, nil
		}
		s.mu.Unlock()
		return nil, true, protocol.ErrNotReady
	case StateClosed:
		err := s.err
		s.mu.Unlock()
		if err == nil {
			return nil, true, protocol.ErrObjectClosed
		}
		return nil, true, oops.In("session").Code(protocol.ErrInvalidState).
			With("session_id", s.id.String()).Wrapf(protocol.ErrInvalidState, "session aborted")
	default:
		s.mu.Unlock()
		return nil, true, protocol.ErrNotReady
	}
	if s.delivery.Length() == 0 {
		return nil, false, nil
	}
	h := s.delivery.Remove().(inboundHandle)
	m := h.Value()
	marker, payload := m.closeMarker, m.payload
	h.Release()
	s.mu.Unlock()
	if marker {
		s.terminate(SignalCloseRequestDequeued, nil)
		return nil, true, protocol.ErrObjectClosed
	}
	return payload, true, nil
}

func (s *Session) parkLocked(done func([]byte, error)) (receiveHandle, error) {
	rh, ok := pool.Take(s.env.receiveOps, s.receiveQuota)
	if !ok {
		return nil, oops.In("session").Code(protocol.ErrResourceExhausted).
			With("session_id", s.id.String()).Wrapf(protocol.ErrResourceExhausted, "receive operations")
	}
	rh.Value().callback = done
	s.receivers.Add(rh)
	return rh, nil
}

func removeFromQueue(q *queue.Queue, target any) bool {
	found := false
	for n := q.Length(); n > 0; n-- {
		v := q.Remove()
		if !found && v == target {
			found = true
			continue
		}
		q.Add(v)
	}
	return found
}
