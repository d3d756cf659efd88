package session

import (
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// dispatch is the transport handler. Control requests are acked at once;
// data is acked in batches by the receiving session.
func (e *Environment) dispatch(datagram []byte, reply transport.SendTarget) {
	e.datagrams.Add(1)
	msg, err := protocol.Unmarshal(datagram)
	if err != nil {
		e.malformed.Add(1)
		log.WithFields(logger.Fields{
			"at":   "(Environment) dispatch",
			"from": reply.Address(),
			"size": len(datagram),
		}).WithError(err).Warn("malformed_datagram_dropped")
		return
	}
	h := msg.Session
	if !h.Action.IsAck() && h.Action != protocol.ActionSendMessage {
		e.ackRequest(h, reply)
	}

	switch h.Action {
	case protocol.ActionOpenRequest:
		e.onOpenRequest(msg, reply)
	case protocol.ActionOpenResponse, protocol.ActionCloseResponse:
		e.onResponse(msg)
	case protocol.ActionCloseRequest:
		if s := e.findSession(KindInbound, h.SessionID); s != nil {
			s.onCloseRequest(h.SequenceNumber)
			return
		}
		// a retransmission after our CloseResponse was sent is answered
		// with the same result
		code := protocol.ErrSessionNotFound
		if _, normal := e.retired(h.SessionID); normal {
			code = protocol.CodeSuccess
		} else {
			e.unknown(h, reply)
		}
		e.sendResponse(h.SessionID, protocol.ActionCloseResponse, code, 0, reply, nil)
	case protocol.ActionAbortOutboundRequest:
		if s := e.findSession(KindOutbound, h.SessionID); s != nil {
			s.terminate(SignalAbortOutboundRequestReceived, abortedByPartner(h))
		}
	case protocol.ActionAbortInboundRequest:
		if s := e.findSession(KindInbound, h.SessionID); s != nil {
			s.terminate(SignalAbortInboundRequestReceived, abortedByPartner(h))
		}
	case protocol.ActionSendMessage:
		if s := e.findSession(KindInbound, h.SessionID); s != nil {
			s.onData(msg)
			return
		}
		e.unknown(h, reply)
	case protocol.ActionSendMessageAck:
		// an ack for a session we no longer know means it was already
		// aborted; there is nothing to release
		if s := e.findSession(KindOutbound, h.SessionID); s != nil {
			s.onSendAck(h.SequenceNumber)
			return
		}
		e.unknown(h, reply)
	default:
		if !e.completeAck(h.SessionID, h.Action) {
			log.WithFields(logger.Fields{
				"at":         "(Environment) dispatch",
				"session_id": h.SessionID.String(),
				"action":     h.Action.String(),
			}).Debug("unmatched_ack_dropped")
		}
	}
}

func abortedByPartner(h protocol.SessionHeader) error {
	return oops.In("session").Code(protocol.ErrOperationCanceled).
		With("session_id", h.SessionID.String()).Wrapf(protocol.ErrOperationCanceled, "aborted by partner")
}

func (e *Environment) unknown(h protocol.SessionHeader, reply transport.SendTarget) {
	e.unknownSession.Add(1)
	log.WithFields(logger.Fields{
		"at":         "(Environment) dispatch",
		"session_id": h.SessionID.String(),
		"action":     h.Action.String(),
		"from":       reply.Address(),
	}).Debug("unknown_session_dropped")
}

func (e *Environment) ackRequest(h protocol.SessionHeader, reply transport.SendTarget) {
	ack, ok := protocol.NewAck(h)
	if !ok {
		return
	}
	wire, err := ack.Marshal()
	if err != nil {
		log.WithError(err).Error("ack_encode_failed")
		return
	}
	transmit(e.transport, reply, wire)
}

func (e *Environment) onResponse(msg *protocol.Message) {
	h := msg.Session
	s := e.takeResponseWaiter(h.SessionID, h.Action)
	if s == nil {
		log.WithFields(logger.Fields{
			"at":         "(Environment) onResponse",
			"session_id": h.SessionID.String(),
			"action":     h.Action.String(),
		}).Debug("duplicate_response_dropped")
		return
	}
	if h.Action == protocol.ActionOpenResponse {
		s.onOpenResponse(msg)
		return
	}
	s.onCloseResponse(msg)
}

func (e *Environment) onOpenRequest(msg *protocol.Message, reply transport.SendTarget) {
	h := msg.Session
	fields := logger.Fields{
		"at":         "(Environment) onOpenRequest",
		"session_id": h.SessionID.String(),
		"from":       reply.Address(),
	}
	if msg.Source == nil || msg.Target == nil {
		log.WithFields(fields).Warn("open_request_without_partitions")
		e.sendResponse(h.SessionID, protocol.ActionOpenResponse, protocol.ErrInvalidArgument, 0, reply, nil)
		return
	}
	source, err := partition.FromHeader(msg.Source)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("open_request_bad_source")
		e.sendResponse(h.SessionID, protocol.ActionOpenResponse, protocol.ErrInvalidArgument, 0, reply, nil)
		return
	}
	target, err := partition.FromHeader(msg.Target)
	if err != nil || !target.Key().IsValidTarget() {
		log.WithFields(fields).WithError(err).Warn("open_request_bad_target")
		e.sendResponse(h.SessionID, protocol.ActionOpenResponse, protocol.ErrInvalidArgument, 0, reply, nil)
		return
	}
	if e.findSession(KindInbound, h.SessionID) != nil {
		return
	}
	if known, _ := e.retired(h.SessionID); known {
		log.WithFields(fields).Debug("late_open_request_dropped")
		return
	}
	m := e.findManager(target)
	if m == nil {
		fields["target"] = target.String()
		log.WithFields(fields).Debug("open_request_for_unhosted_partition")
		e.sendResponse(h.SessionID, protocol.ActionOpenResponse, protocol.ErrSessionNotFound, 0, reply, nil)
		return
	}
	window := 0
	if msg.Parameters != nil {
		window = int(msg.Parameters.WindowSize)
	}
	m.onInboundSessionRequested(h.SessionID, source, target, window, reply)
}
