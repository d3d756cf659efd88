package session

import (
	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
)

// SendOperation is one outbound payload waiting for its ack.
type SendOperation struct {
	id       protocol.ReliableMessageID
	payload  []byte
	wire     []byte
	callback func(error)
}

func (o *SendOperation) Reset() {
	*o = SendOperation{}
}

// ReceiveOperation is a parked Receive waiting for the next message.
type ReceiveOperation struct {
	callback func([]byte, error)
}

func (o *ReceiveOperation) Reset() {
	o.callback = nil
}

// QueuedInboundMessage is a received payload held by the reorder buffer or
// the delivery queue. A close marker is queued after the last payload when
// the partner closes the session.
type QueuedInboundMessage struct {
	id          protocol.ReliableMessageID
	payload     []byte
	closeMarker bool
}

func (m *QueuedInboundMessage) Reset() {
	*m = QueuedInboundMessage{}
}

type (
	sendHandle    = *pool.Handle[*SendOperation]
	receiveHandle = *pool.Handle[*ReceiveOperation]
	inboundHandle = *pool.Handle[*QueuedInboundMessage]
)

func newSendOperation() (*SendOperation, error) {
	return &SendOperation{}, nil
}

func newReceiveOperation() (*ReceiveOperation, error) {
	return &ReceiveOperation{}, nil
}

func newQueuedInboundMessage() (*QueuedInboundMessage, error) {
	return &QueuedInboundMessage{}, nil
}

// completeSend releases h and then runs its callback with err.
func completeSend(h sendHandle, err error) {
	cb := h.Value().callback
	h.Release()
	if cb != nil {
		cb(err)
	}
}

// transmit sends each wire to dst, logging failures. Loss is recovered by
// retransmission.
func transmit(t transport.Transport, dst transport.SendTarget, wires ...[]byte) {
	for _, w := range wires {
		if err := t.SendOneWay(dst, w); err != nil {
			log.WithError(err).WithField("target", dst.Address()).Debug("datagram_send_failed")
		}
	}
}
