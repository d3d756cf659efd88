package session

import (
	"sync"
	"time"

	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// noAck means no ack needs to be sent.
const noAck int64 = -1

// receiveBuffer reorders and deduplicates inbound messages. Messages are
// accepted in [nextToAck, nextToAck+window) and flushed in sequence order as
// soon as the run starting at nextToAck is contiguous. Acks are cumulative
// and batched: one is sent after ackBatchSize flushed messages or when the
// ack timer expires, whichever comes first.
type receiveBuffer struct {
	mu sync.Mutex

	id          protocol.SessionID
	ring        []inboundHandle
	window      int64
	nextToAck   int64
	lastAckSent int64
	unacked     int
	batchSize   int
	interval    time.Duration
	state       bufferState
	closeSeq    int64
	timer       *sessionTimer

	sendAck func(seq int64)

	delivered  uint64
	duplicates uint64
	dropped    uint64
	acksSent   uint64
}

func newReceiveBuffer(id protocol.SessionID, window, batchSize int, interval time.Duration, sendAck func(int64)) *receiveBuffer {
	b := &receiveBuffer{
		id:          id,
		ring:        make([]inboundHandle, window),
		window:      int64(window),
		lastAckSent: -1,
		batchSize:   batchSize,
		interval:    interval,
		closeSeq:    -1,
		sendAck:     sendAck,
	}
	b.timer = newSessionTimer(b.onAckTimer)
	return b
}

func (b *receiveBuffer) slot(seq int64) int {
	return int(seq % b.window)
}

// insert places h by its sequence number. It returns the messages that are
// now deliverable in order and the cumulative ack to send immediately, or
// noAck. Handles that are not kept are released here.
func (b *receiveBuffer) insert(h inboundHandle) (flushed []inboundHandle, ack int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := h.Value().id.SequenceNumber
	switch {
	case b.state == bufferClosed:
		b.dropped++
		h.Release()
		return nil, noAck
	case seq < b.nextToAck:
		// already delivered; the sender missed our ack
		b.duplicates++
		h.Release()
		return nil, b.takeAckLocked()
	case b.state != bufferOpen, seq >= b.nextToAck+b.window:
		b.dropped++
		h.Release()
		return nil, noAck
	}
	i := b.slot(seq)
	if b.ring[i] != nil {
		b.duplicates++
		h.Release()
		return nil, noAck
	}
	b.ring[i] = h

	for b.ring[b.slot(b.nextToAck)] != nil {
		j := b.slot(b.nextToAck)
		next := b.ring[j]
		util.Assertf(next.Value().id.SequenceNumber == b.nextToAck,
			"reorder slot %d holds seq %d, expected %d", j, next.Value().id.SequenceNumber, b.nextToAck)
		b.ring[j] = nil
		flushed = append(flushed, next)
		b.nextToAck++
		b.unacked++
	}
	b.delivered += uint64(len(flushed))
	if b.unacked >= b.batchSize {
		return flushed, b.takeAckLocked()
	}
	if b.unacked > 0 {
		b.timer.Arm(b.interval)
	}
	return flushed, noAck
}

func (b *receiveBuffer) takeAckLocked() int64 {
	b.timer.Disarm()
	b.unacked = 0
	b.lastAckSent = b.nextToAck - 1
	b.acksSent++
	return b.lastAckSent
}

func (b *receiveBuffer) onAckTimer() {
	b.mu.Lock()
	if b.state == bufferClosed || b.nextToAck-1 <= b.lastAckSent {
		b.mu.Unlock()
		return
	}
	ack := b.takeAckLocked()
	b.mu.Unlock()
	b.sendAck(ack)
}

// close accepts the partner's close at closeSeq, which must directly follow
// the last delivered message. It returns any ack still owed.
func (b *receiveBuffer) close(closeSeq int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nextToAck != closeSeq {
		log.WithFields(logger.Fields{
			"at":          "(receiveBuffer) close",
			"session_id":  b.id.String(),
			"close_seq":   closeSeq,
			"next_to_ack": b.nextToAck,
		}).Warn("close_sequence_mismatch")
		return noAck, oops.In("session").Code(protocol.ErrProtocolViolation).
			With("close_seq", closeSeq).With("next_to_ack", b.nextToAck).
			Wrapf(protocol.ErrProtocolViolation, "close request does not follow last message")
	}
	b.state = bufferClosing
	b.closeSeq = closeSeq
	if b.nextToAck-1 > b.lastAckSent {
		return b.takeAckLocked(), nil
	}
	b.timer.Disarm()
	return noAck, nil
}

// clear stops the ack timer and releases every message still held.
func (b *receiveBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = bufferClosed
	b.timer.Stop()
	for i, h := range b.ring {
		if h != nil {
			h.Release()
			b.ring[i] = nil
		}
	}
}

type receiveBufferStats struct {
	Buffered   int
	Delivered  uint64
	Duplicates uint64
	Dropped    uint64
	AcksSent   uint64
}

func (b *receiveBuffer) stats() receiveBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	buffered := 0
	for _, h := range b.ring {
		if h != nil {
			buffered++
		}
	}
	return receiveBufferStats{
		Buffered:   buffered,
		Delivered:  b.delivered,
		Duplicates: b.duplicates,
		Dropped:    b.dropped,
		AcksSent:   b.acksSent,
	}
}
