package session

import (
	"sync"
	"time"

	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

type bufferState uint8

const (
	bufferOpen bufferState = iota
	bufferClosing
	bufferClosed
)

// sendBuffer is the outbound sliding window. Sequence numbers start at 0 and
// are assigned on enqueue. Operations from lastAcked+1 to nextSeq-1 are
// buffered in a ring sized by the send quota; only those at or below
// lastAcked+window are ever transmitted.
type sendBuffer struct {
	mu sync.Mutex

	id         protocol.SessionID
	ring       []sendHandle
	window     int64
	nextSeq    int64
	lastAcked  int64
	lastSent   int64
	state      bufferState
	drained    bool
	retries    int
	maxRetries int
	interval   time.Duration
	timer      *sessionTimer

	// resend is called outside the lock with the unacknowledged wires;
	// exhausted is called once the retry limit is exceeded.
	resend    func(wires [][]byte)
	exhausted func()

	retransmissions uint64
	acked           uint64
}

func newSendBuffer(id protocol.SessionID, capacity, window int, interval time.Duration, maxRetries int,
	resend func([][]byte), exhausted func(),
) *sendBuffer {
	b := &sendBuffer{
		id:         id,
		ring:       make([]sendHandle, capacity),
		window:     int64(window),
		lastAcked:  -1,
		lastSent:   -1,
		maxRetries: maxRetries,
		interval:   interval,
		resend:     resend,
		exhausted:  exhausted,
	}
	b.timer = newSessionTimer(b.onRetry)
	return b
}

func (b *sendBuffer) slot(seq int64) int {
	return int(seq % int64(len(b.ring)))
}

// enqueue assigns the next sequence number to h and returns the wire to
// transmit now, or nil when the operation is held outside the window.
func (b *sendBuffer) enqueue(h sendHandle) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != bufferOpen {
		return nil, oops.In("session").Code(protocol.ErrInvalidState).
			With("session_id", b.id).Wrapf(protocol.ErrInvalidState, "send after close")
	}
	if b.nextSeq-b.lastAcked-1 >= int64(len(b.ring)) {
		return nil, oops.In("session").Code(protocol.ErrResourceExhausted).
			With("session_id", b.id).Wrapf(protocol.ErrResourceExhausted, "send buffer full")
	}
	op := h.Value()
	op.id = protocol.ReliableMessageID{SessionID: b.id, SequenceNumber: b.nextSeq}
	wire, err := (&protocol.Message{
		Session: protocol.SessionHeader{
			SessionID:      b.id,
			Action:         protocol.ActionSendMessage,
			SequenceNumber: b.nextSeq,
		},
		Payload: op.payload,
	}).Marshal()
	if err != nil {
		return nil, err
	}
	op.wire = wire
	b.ring[b.slot(b.nextSeq)] = h
	b.nextSeq++
	if op.id.SequenceNumber > b.lastAcked+b.window {
		return nil, nil
	}
	b.lastSent = op.id.SequenceNumber
	b.timer.Arm(b.interval)
	return wire, nil
}

// ack applies a cumulative ack for every sequence number up to seq. It
// returns the completed operations, the wires that became eligible, and
// whether this ack drained a closing buffer.
func (b *sendBuffer) ack(seq int64) (completed []sendHandle, wires [][]byte, drained bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == bufferClosed || seq <= b.lastAcked {
		return nil, nil, false, nil
	}
	if seq > b.lastSent {
		return nil, nil, false, oops.In("session").Code(protocol.ErrProtocolViolation).
			With("session_id", b.id).With("ack", seq).With("last_sent", b.lastSent).
			Wrapf(protocol.ErrProtocolViolation, "ack beyond last sent")
	}
	for s := b.lastAcked + 1; s <= seq; s++ {
		i := b.slot(s)
		completed = append(completed, b.ring[i])
		b.ring[i] = nil
	}
	b.acked += uint64(seq - b.lastAcked)
	b.lastAcked = seq
	b.retries = 0

	limit := min(b.nextSeq-1, b.lastAcked+b.window)
	for s := b.lastSent + 1; s <= limit; s++ {
		wires = append(wires, b.ring[b.slot(s)].Value().wire)
		b.lastSent = s
	}
	if b.lastAcked < b.lastSent {
		b.timer.Reset(b.interval)
	} else {
		b.timer.Disarm()
	}
	drained = b.checkDrainedLocked()
	return completed, wires, drained, nil
}

func (b *sendBuffer) checkDrainedLocked() bool {
	if b.state == bufferClosing && !b.drained && b.lastAcked == b.nextSeq-1 {
		b.drained = true
		return true
	}
	return false
}

// close stops accepting operations. It returns the last assigned sequence
// number, -1 when nothing was sent, and whether the buffer is already
// drained.
func (b *sendBuffer) close() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == bufferOpen {
		b.state = bufferClosing
	}
	return b.nextSeq - 1, b.checkDrainedLocked()
}

// clear stops the retry timer and returns every operation still buffered.
func (b *sendBuffer) clear() []sendHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = bufferClosed
	b.timer.Stop()
	var pending []sendHandle
	for s := b.lastAcked + 1; s < b.nextSeq; s++ {
		i := b.slot(s)
		if b.ring[i] != nil {
			pending = append(pending, b.ring[i])
			b.ring[i] = nil
		}
	}
	b.lastAcked = b.nextSeq - 1
	b.lastSent = b.lastAcked
	return pending
}

func (b *sendBuffer) onRetry() {
	b.mu.Lock()
	if b.state == bufferClosed || b.lastAcked >= b.lastSent {
		b.mu.Unlock()
		return
	}
	b.retries++
	if b.retries > b.maxRetries {
		b.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":         "(sendBuffer) onRetry",
			"session_id": b.id.String(),
			"last_acked": b.lastAcked,
			"last_sent":  b.lastSent,
		}).Warn("send_retries_exhausted")
		b.exhausted()
		return
	}
	wires := make([][]byte, 0, b.lastSent-b.lastAcked)
	for s := b.lastAcked + 1; s <= b.lastSent; s++ {
		wires = append(wires, b.ring[b.slot(s)].Value().wire)
	}
	b.retransmissions += uint64(len(wires))
	b.timer.Reset(b.interval)
	b.mu.Unlock()
	b.resend(wires)
}

// sendBufferStats is a point-in-time view of the window.
type sendBufferStats struct {
	InFlight        int
	Held            int
	Acked           uint64
	Retransmissions uint64
}

func (b *sendBuffer) stats() sendBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sendBufferStats{
		InFlight:        int(b.lastSent - b.lastAcked),
		Held:            int(b.nextSeq - 1 - b.lastSent),
		Acked:           b.acked,
		Retransmissions: b.retransmissions,
	}
}
