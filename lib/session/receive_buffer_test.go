package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiveFixture struct {
	id    protocol.SessionID
	pool  *pool.Pool[*QueuedInboundMessage]
	quota *pool.Quota
	buf   *receiveBuffer

	mu   sync.Mutex
	acks []int64
}

func newReceiveFixture(t *testing.T, window, batch int, interval time.Duration) *receiveFixture {
	t.Helper()
	id, err := protocol.NewSessionID()
	require.NoError(t, err)
	f := &receiveFixture{
		id:    id,
		pool:  pool.New("inbound", 8, newQueuedInboundMessage),
		quota: pool.NewQuota("inbound", 1024),
	}
	require.NoError(t, f.pool.Initialize(window))
	f.buf = newReceiveBuffer(id, window, batch, interval, func(seq int64) {
		f.mu.Lock()
		f.acks = append(f.acks, seq)
		f.mu.Unlock()
	})
	t.Cleanup(f.buf.clear)
	return f
}

func (f *receiveFixture) insert(t *testing.T, seq int64) ([]int64, int64) {
	t.Helper()
	h, ok := pool.Take(f.pool, f.quota)
	require.True(t, ok)
	h.Value().id = protocol.ReliableMessageID{SessionID: f.id, SequenceNumber: seq}
	h.Value().payload = []byte{byte(seq)}
	flushed, ack := f.buf.insert(h)
	seqs := make([]int64, 0, len(flushed))
	for _, m := range flushed {
		seqs = append(seqs, m.Value().id.SequenceNumber)
		m.Release()
	}
	return seqs, ack
}

func (f *receiveFixture) timerAcks() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.acks...)
}

func TestReceiveBufferReorderScenario(t *testing.T) {
	f := newReceiveFixture(t, 4, 8, time.Hour)

	var queue []int64
	flushed, _ := f.insert(t, 2)
	assert.Empty(t, flushed)
	queue = append(queue, flushed...)
	flushed, _ = f.insert(t, 0)
	queue = append(queue, flushed...)
	flushed, _ = f.insert(t, 1)
	assert.Equal(t, []int64{1, 2}, flushed, "one pass flushes the contiguous run")
	queue = append(queue, flushed...)
	assert.Equal(t, []int64{0, 1, 2}, queue)
}

func TestReceiveBufferRunFlushesInOnePass(t *testing.T) {
	f := newReceiveFixture(t, 4, 8, time.Hour)
	f.insert(t, 2)
	f.insert(t, 1)
	flushed, _ := f.insert(t, 0)
	assert.Equal(t, []int64{0, 1, 2}, flushed)
}

func TestReceiveBufferDeliversEachOnceInOrder(t *testing.T) {
	const n = 200
	const window = 16
	for trial := 0; trial < 20; trial++ {
		f := newReceiveFixture(t, window, 4, time.Hour)

		// arrivals: every sequence number, some twice, shuffled inside a
		// sliding block no wider than the window
		var arrivals []int64
		for base := int64(0); base < n; base += window {
			block := make([]int64, 0, 2*window)
			for s := base; s < base+window && s < n; s++ {
				block = append(block, s)
				if rand.Intn(4) == 0 {
					block = append(block, s)
				}
			}
			for i := len(block) - 1; i > 0; i-- {
				j := rand.Intn(i + 1)
				block[i], block[j] = block[j], block[i]
			}
			arrivals = append(arrivals, block...)
		}
		// late duplicates of already delivered messages
		for i := 0; i < 20; i++ {
			arrivals = append(arrivals, rand.Int63n(n))
		}

		var delivered []int64
		for _, seq := range arrivals {
			flushed, _ := f.insert(t, seq)
			delivered = append(delivered, flushed...)
		}
		require.Len(t, delivered, n, "trial %d", trial)
		for i, seq := range delivered {
			require.Equal(t, int64(i), seq, "trial %d", trial)
		}
		assert.Positive(t, f.buf.stats().Duplicates)
	}
}

func TestReceiveBufferBatchesAcks(t *testing.T) {
	f := newReceiveFixture(t, 8, 2, time.Hour)
	_, ack := f.insert(t, 0)
	assert.Equal(t, noAck, ack)
	_, ack = f.insert(t, 1)
	assert.Equal(t, int64(1), ack)
	_, ack = f.insert(t, 3)
	assert.Equal(t, noAck, ack, "nothing new flushed")
	_, ack = f.insert(t, 2)
	assert.Equal(t, int64(3), ack, "one cumulative ack for 2 and 3")
}

func TestReceiveBufferAckTimer(t *testing.T) {
	f := newReceiveFixture(t, 8, 4, 10*time.Millisecond)
	_, ack := f.insert(t, 0)
	assert.Equal(t, noAck, ack)
	require.Eventually(t, func() bool { return len(f.timerAcks()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []int64{0}, f.timerAcks())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, f.timerAcks(), 1, "no ack without new messages")
}

func TestReceiveBufferDuplicateReacks(t *testing.T) {
	f := newReceiveFixture(t, 8, 4, time.Hour)
	f.insert(t, 0)
	f.insert(t, 1)
	flushed, ack := f.insert(t, 0)
	assert.Empty(t, flushed)
	assert.Equal(t, int64(1), ack)
	assert.Equal(t, uint64(1), f.buf.stats().Duplicates)

	// the re-ack covered 0 and 1, so a new batch starts from 2
	_, ack = f.insert(t, 2)
	assert.Equal(t, noAck, ack)
	_, ack = f.insert(t, 3)
	assert.Equal(t, noAck, ack, "batch is not cut short by the re-ack")
	_, ack = f.insert(t, 4)
	assert.Equal(t, noAck, ack)
	_, ack = f.insert(t, 5)
	assert.Equal(t, int64(5), ack)
}

func TestReceiveBufferReackDisarmsTimer(t *testing.T) {
	f := newReceiveFixture(t, 8, 4, 20*time.Millisecond)
	_, ack := f.insert(t, 0)
	assert.Equal(t, noAck, ack)
	_, ack = f.insert(t, 0)
	assert.Equal(t, int64(0), ack)
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, f.timerAcks(), "0 was already re-acked")
	assert.Equal(t, uint64(1), f.buf.stats().AcksSent)
}

func TestReceiveBufferDropsOutsideWindow(t *testing.T) {
	f := newReceiveFixture(t, 4, 4, time.Hour)
	flushed, ack := f.insert(t, 4)
	assert.Empty(t, flushed)
	assert.Equal(t, noAck, ack)
	assert.Equal(t, uint64(1), f.buf.stats().Dropped)
	assert.Equal(t, 0, f.quota.Count(), "dropped message released")
}

func TestReceiveBufferClose(t *testing.T) {
	f := newReceiveFixture(t, 4, 4, time.Hour)
	f.insert(t, 0)
	f.insert(t, 1)

	_, err := f.buf.close(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrProtocolViolation))

	ack, err := f.buf.close(2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack, "owed ack sent with close")

	flushed, ack := f.insert(t, 2)
	assert.Empty(t, flushed, "no data after close")
	assert.Equal(t, noAck, ack)
	_, ack = f.insert(t, 1)
	assert.Equal(t, int64(1), ack, "late duplicates still re-acked")
}

func TestReceiveBufferClearReleases(t *testing.T) {
	f := newReceiveFixture(t, 4, 4, time.Hour)
	f.insert(t, 1)
	f.insert(t, 2)
	assert.Equal(t, 2, f.quota.Count())
	f.buf.clear()
	assert.Equal(t, 0, f.quota.Count())
	flushed, ack := f.insert(t, 0)
	assert.Empty(t, flushed)
	assert.Equal(t, noAck, ack)
}
