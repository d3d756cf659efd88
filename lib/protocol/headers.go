package protocol

import (
	"fmt"

	"github.com/go-i2p/go-reliable/lib/partition"
)

// SessionHeader is present on every datagram.
type SessionHeader struct {
	SessionID      SessionID
	Action         ActionCode
	SequenceNumber int64
}

func (h SessionHeader) MessageID() ReliableMessageID {
	return ReliableMessageID{SessionID: h.SessionID, SequenceNumber: h.SequenceNumber}
}

func (h SessionHeader) String() string {
	return fmt.Sprintf("%s %s seq=%d", h.SessionID, h.Action, h.SequenceNumber)
}

// SessionParametersHeader carries the window negotiated by the open
// exchange.
type SessionParametersHeader struct {
	WindowSize uint32
}

// ProtocolResponseHeader carries the result of a response message.
type ProtocolResponseHeader struct {
	ResponseCode ErrorCode
}

// Message is one decoded datagram.
type Message struct {
	Session    SessionHeader
	Parameters *SessionParametersHeader
	Response   *ProtocolResponseHeader
	Source     *partition.Header
	Target     *partition.Header
	Payload    []byte
}

// ResponseCode returns the carried response code, CodeSuccess when absent.
func (m *Message) ResponseCode() ErrorCode {
	if m.Response == nil {
		return CodeSuccess
	}
	return m.Response.ResponseCode
}

// NewAck builds the ack for request header h, echoing its session and
// sequence number.
func NewAck(h SessionHeader) (*Message, bool) {
	ack, ok := AckCodeFor(h.Action)
	if !ok {
		return nil, false
	}
	return &Message{Session: SessionHeader{
		SessionID:      h.SessionID,
		Action:         ack,
		SequenceNumber: h.SequenceNumber,
	}}, true
}
