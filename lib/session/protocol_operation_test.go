package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sink attaches an endpoint that counts datagrams and never answers.
func sink(t *testing.T, n *transport.Network, address string) *atomic.Int32 {
	t.Helper()
	ep, err := n.Attach(address)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	var count atomic.Int32
	ep.SetHandler(func([]byte, transport.SendTarget) { count.Add(1) })
	return &count
}

func closeRequest(t *testing.T) *protocol.Message {
	t.Helper()
	id, err := protocol.NewSessionID()
	require.NoError(t, err)
	return &protocol.Message{Session: protocol.SessionHeader{SessionID: id, Action: protocol.ActionCloseRequest, SequenceNumber: 3}}
}

func TestProtocolOperationTimesOutAfterRetries(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	received := sink(t, n, "b")
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	result := make(chan error, 2)
	require.NoError(t, nd.env.startProtocolOperation(closeRequest(t), target, 2, func(err error) { result <- err }))

	select {
	case err := <-result:
		assert.True(t, errors.Is(err, protocol.ErrTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("operation never completed")
	}
	n.Wait()
	assert.Equal(t, int32(3), received.Load(), "first send plus two retries")
	assert.Equal(t, 0, nd.env.Stats().PendingProtocolOps)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, result, 0, "completes exactly once")
}

func TestProtocolOperationCompletesOnAck(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	sink(t, n, "b")
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	msg := closeRequest(t)
	var calls atomic.Int32
	require.NoError(t, nd.env.startProtocolOperation(msg, target, 5, func(err error) {
		assert.NoError(t, err)
		calls.Add(1)
	}))
	assert.True(t, nd.env.completeAck(msg.Session.SessionID, protocol.ActionCloseRequestAck))
	assert.False(t, nd.env.completeAck(msg.Session.SessionID, protocol.ActionCloseRequestAck), "second ack is a no-op")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProtocolOperationAckThroughDispatch(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	a := newNode(t, n, "a", testConfig())
	newNode(t, n, "b", testConfig())
	target, err := a.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	// b acks every control request it receives, even for unknown sessions
	result := make(chan error, 1)
	require.NoError(t, a.env.startProtocolOperation(closeRequest(t), target, 5, func(err error) { result <- err }))
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}
}

func TestProtocolOperationCancel(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	received := sink(t, n, "b")
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	msg := closeRequest(t)
	result := make(chan error, 1)
	require.NoError(t, nd.env.startProtocolOperation(msg, target, 100, func(err error) { result <- err }))
	s := &Session{kind: KindOutbound, id: msg.Session.SessionID}
	nd.env.forgetSession(s)

	err = <-result
	assert.True(t, errors.Is(err, protocol.ErrOperationCanceled))
	n.Wait()
	sent := received.Load()
	time.Sleep(60 * time.Millisecond)
	n.Wait()
	assert.Equal(t, sent, received.Load(), "no retries after cancel")
}

func TestProtocolOperationSupersededByNewerRequest(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	sink(t, n, "b")
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	msg := closeRequest(t)
	first := make(chan error, 1)
	second := make(chan error, 1)
	require.NoError(t, nd.env.startProtocolOperation(msg, target, 100, func(err error) { first <- err }))
	require.NoError(t, nd.env.startProtocolOperation(msg, target, 100, func(err error) { second <- err }))
	assert.True(t, errors.Is(<-first, protocol.ErrOperationCanceled))
	require.True(t, nd.env.completeAck(msg.Session.SessionID, protocol.ActionCloseRequestAck))
	assert.NoError(t, <-second)
}

func TestProtocolOperationRejectsAcks(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)
	msg := closeRequest(t)
	msg.Session.Action = protocol.ActionCloseRequestAck
	err = nd.env.startProtocolOperation(msg, target, 1, nil)
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgument))
}

func TestProtocolOperationStaleWaiterIgnoredAfterReuse(t *testing.T) {
	n := transport.NewNetwork(transport.NetworkOptions{})
	nd := newNode(t, n, "a", testConfig())
	sink(t, n, "b")
	target, err := nd.endpoint.ResolveTarget("mem://b")
	require.NoError(t, err)

	first := closeRequest(t)
	require.NoError(t, nd.env.startProtocolOperation(first, target, 100, nil))
	firstKey := ackKey{id: first.Session.SessionID, ack: protocol.ActionCloseRequestAck}
	nd.env.mu.Lock()
	stale := nd.env.ackWaiters[firstKey]
	nd.env.mu.Unlock()
	require.True(t, nd.env.completeAck(first.Session.SessionID, protocol.ActionCloseRequestAck))

	second := closeRequest(t)
	result := make(chan error, 2)
	require.NoError(t, nd.env.startProtocolOperation(second, target, 100, func(err error) { result <- err }))
	secondKey := ackKey{id: second.Session.SessionID, ack: protocol.ActionCloseRequestAck}
	nd.env.mu.Lock()
	current := nd.env.ackWaiters[secondKey]
	nd.env.mu.Unlock()
	require.Same(t, stale.op, current.op, "pool hands back the recycled operation")

	assert.False(t, stale.complete(protocol.ErrOperationCanceled), "earlier use cannot complete the next one")
	assert.False(t, nd.env.completeAck(first.Session.SessionID, protocol.ActionCloseRequestAck), "duplicate ack is a no-op")
	assert.Len(t, result, 0)
	assert.Equal(t, 1, nd.env.Stats().PendingProtocolOps)

	require.True(t, nd.env.completeAck(second.Session.SessionID, protocol.ActionCloseRequestAck))
	assert.NoError(t, <-result)
}
