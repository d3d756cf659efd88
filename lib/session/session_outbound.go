package session

import (
	"context"
	"errors"

	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// open starts the open handshake: OpenRequest until acked, then wait for
// the partner's OpenResponse. The outcome is delivered on s.openDone.
func (s *Session) open() error {
	s.mu.Lock()
	if !s.applyLocked(SignalOpenApiCalled) {
		state := s.state
		s.mu.Unlock()
		return oops.In("session").Code(protocol.ErrInvalidState).
			With("state", state.String()).Wrapf(protocol.ErrInvalidState, "open")
	}
	s.env.addResponseWaiter(s.id, protocol.ActionOpenResponse, s)
	s.mu.Unlock()

	msg := &protocol.Message{
		Session: protocol.SessionHeader{
			SessionID: s.id,
			Action:    protocol.ActionOpenRequest,
		},
		Parameters: &protocol.SessionParametersHeader{WindowSize: uint32(s.env.cfg.WindowSize)},
		Source:     s.source.SourceHeader(),
		Target:     s.target.TargetHeader(),
	}
	if err := s.env.startProtocolOperation(msg, s.peer, s.env.cfg.ProtocolMaxRetries, s.onOpenRequestDone); err != nil {
		s.terminate(SignalOpenApiInternalFailure, err)
	}
	return nil
}

func (s *Session) onOpenRequestDone(err error) {
	if err == nil || errors.Is(err, protocol.ErrOperationCanceled) {
		return
	}
	s.terminate(SignalOpenApiInternalFailure, err)
}

func (s *Session) onOpenResponse(msg *protocol.Message) {
	// a response proves the request arrived even if its ack was lost
	s.env.completeAck(s.id, protocol.ActionOpenRequestAck)

	if code := msg.ResponseCode(); code != protocol.CodeSuccess {
		s.terminate(SignalOpenResponseFailure, oops.In("session").Code(code).
			With("session_id", s.id.String()).With("target", s.target.String()).
			Wrapf(code, "open refused by partner"))
		return
	}
	cfg := s.env.cfg
	window := cfg.WindowSize
	if msg.Parameters != nil && msg.Parameters.WindowSize > 0 && int(msg.Parameters.WindowSize) < window {
		window = int(msg.Parameters.WindowSize)
	}

	s.mu.Lock()
	if !s.applyLocked(SignalOpenResponseSuccess) {
		s.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":         "(Session) onOpenResponse",
			"session_id": s.id.String(),
		}).Debug("duplicate_open_response")
		return
	}
	s.window = window
	s.send = newSendBuffer(s.id, cfg.SendOperationQuota, window, cfg.RetryInterval, cfg.MaxDataRetries,
		s.resend, s.onRetryExhausted)
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":         "(Session) onOpenResponse",
		"session_id": s.id.String(),
		"target":     s.target.String(),
		"window":     window,
	}).Info("session_opened")
	s.openDone <- nil
}

func (s *Session) resend(wires [][]byte) {
	transmit(s.env.transport, s.peer, wires...)
}

func (s *Session) onRetryExhausted() {
	s.terminate(SignalAbortOnRetryExhausted, oops.In("session").Code(protocol.ErrTimeout).
		With("session_id", s.id.String()).Wrapf(protocol.ErrTimeout, "data retries exhausted"))
}

// SendAsync queues payload for in-order delivery and returns without
// waiting. done, if not nil, is called once: with nil when the partner
// acknowledged the payload, or with an error if the session closed first.
// It returns ErrResourceExhausted when the session's send quota is used up.
// payload must not be modified until done runs.
func (s *Session) SendAsync(payload []byte, done func(error)) error {
	if s.kind != KindOutbound {
		return oops.In("session").Code(protocol.ErrInvalidState).
			Wrapf(protocol.ErrInvalidState, "send on inbound session")
	}
	if limit := s.env.maxPayload(s.peer); len(payload) > limit {
		return oops.In("session").Code(protocol.ErrInvalidArgument).
			With("session_id", s.id.String()).With("size", len(payload)).With("limit", limit).
			Wrapf(protocol.ErrInvalidArgument, "payload too large")
	}
	h, ok := pool.Take(s.env.sendOps, s.sendQuota)
	if !ok {
		log.WithFields(logger.Fields{
			"at":         "(Session) SendAsync",
			"session_id": s.id.String(),
			"quota":      s.sendQuota.Limit(),
		}).Debug("send_quota_exhausted")
		return oops.In("session").Code(protocol.ErrResourceExhausted).
			With("session_id", s.id.String()).Wrapf(protocol.ErrResourceExhausted, "send operations")
	}
	op := h.Value()
	op.payload = payload
	op.callback = done

	s.mu.Lock()
	if s.state != StateOpened {
		state := s.state
		s.mu.Unlock()
		h.Release()
		return oops.In("session").Code(protocol.ErrInvalidState).
			With("state", state.String()).Wrapf(protocol.ErrInvalidState, "send")
	}
	wire, err := s.send.enqueue(h)
	s.mu.Unlock()
	if err != nil {
		h.Release()
		return err
	}
	if wire != nil {
		transmit(s.env.transport, s.peer, wire)
	}
	return nil
}

// Send queues payload and waits for its ack. If ctx ends first the payload
// stays queued and ctx's error is returned.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	result := make(chan error, 1)
	if err := s.SendAsync(payload, func(err error) { result <- err }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onSendAck(seq int64) {
	s.mu.Lock()
	send := s.send
	if send == nil || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	completed, wires, drained, err := send.ack(seq)
	s.mu.Unlock()
	if err != nil {
		s.terminate(SignalAbortOnProtocolFailure, err)
		return
	}
	transmit(s.env.transport, s.peer, wires...)
	for _, h := range completed {
		completeSend(h, nil)
	}
	if drained {
		s.onDrained()
	}
}

// Close drains every queued payload, then runs the close handshake. It
// returns nil once the partner has delivered everything to its
// application. If ctx ends first the session is aborted.
func (s *Session) Close(ctx context.Context) error {
	if s.kind != KindOutbound {
		return oops.In("session").Code(protocol.ErrInvalidState).
			Wrapf(protocol.ErrInvalidState, "inbound sessions are closed by their source")
	}
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		return oops.In("session").Code(protocol.ErrObjectClosed).Wrapf(protocol.ErrObjectClosed, "session already closed")
	}
	if s.closing || !s.applyLocked(SignalCloseApiCalled) {
		state := s.state
		s.mu.Unlock()
		return oops.In("session").Code(protocol.ErrInvalidState).
			With("state", state.String()).Wrapf(protocol.ErrInvalidState, "close")
	}
	s.closing = true
	final, drained := s.send.close()
	s.finalSeq = final
	s.mu.Unlock()

	if drained {
		s.onDrained()
	}
	select {
	case err := <-s.closeDone:
		return err
	case <-ctx.Done():
		s.terminate(SignalAbortApiCalled, oops.In("session").Code(protocol.ErrOperationCanceled).
			With("session_id", s.id.String()).Wrapf(ctx.Err(), "close"))
		return <-s.closeDone
	}
}

// onDrained sends CloseRequest once every payload has been acked. The
// close sequence number directly follows the last payload.
func (s *Session) onDrained() {
	s.mu.Lock()
	if !s.applyLocked(SignalAllMessagesAcknowledged) {
		s.mu.Unlock()
		return
	}
	closeSeq := s.finalSeq + 1
	s.env.addResponseWaiter(s.id, protocol.ActionCloseResponse, s)
	s.mu.Unlock()

	msg := &protocol.Message{Session: protocol.SessionHeader{
		SessionID:      s.id,
		Action:         protocol.ActionCloseRequest,
		SequenceNumber: closeSeq,
	}}
	if err := s.env.startProtocolOperation(msg, s.peer, s.env.cfg.ProtocolMaxRetries, s.onCloseRequestDone); err != nil {
		s.terminate(SignalCloseApiInternalFailure, err)
	}
}

func (s *Session) onCloseRequestDone(err error) {
	if err == nil || errors.Is(err, protocol.ErrOperationCanceled) {
		return
	}
	s.terminate(SignalCloseApiInternalFailure, err)
}

func (s *Session) onCloseResponse(msg *protocol.Message) {
	s.env.completeAck(s.id, protocol.ActionCloseRequestAck)
	if code := msg.ResponseCode(); code != protocol.CodeSuccess {
		s.terminate(SignalCloseResponseFailure, oops.In("session").Code(code).
			With("session_id", s.id.String()).Wrapf(code, "close refused by partner"))
		return
	}
	s.terminate(SignalCloseResponseSuccess, nil)
}
