package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	data []byte
	from string
}

func collect(ep Transport) (<-chan received, func() []received) {
	ch := make(chan received, 1024)
	ep.SetHandler(func(datagram []byte, reply SendTarget) {
		ch <- received{data: datagram, from: reply.Address()}
	})
	return ch, func() []received {
		var out []received
		for {
			select {
			case r := <-ch:
				out = append(out, r)
			default:
				return out
			}
		}
	}
}

func TestNetworkDeliversWithReplyTarget(t *testing.T) {
	n := NewNetwork(NetworkOptions{})
	a, err := n.Attach("a")
	require.NoError(t, err)
	b, err := n.Attach("mem://b")
	require.NoError(t, err)

	ch, _ := collect(b)
	target, err := a.ResolveTarget("mem://b")
	require.NoError(t, err)
	require.NoError(t, a.SendOneWay(target, []byte("ping")))

	select {
	case r := <-ch:
		assert.Equal(t, []byte("ping"), r.data)
		assert.Equal(t, "mem://a", r.from)
	case <-time.After(time.Second):
		t.Fatal("datagram not delivered")
	}
}

func TestNetworkAttachDuplicate(t *testing.T) {
	n := NewNetwork(NetworkOptions{})
	_, err := n.Attach("x")
	require.NoError(t, err)
	_, err = n.Attach("mem://x")
	assert.Error(t, err)
}

func TestNetworkInterceptorDrops(t *testing.T) {
	n := NewNetwork(NetworkOptions{})
	a, _ := n.Attach("a")
	b, _ := n.Attach("b")
	_, drain := collect(b)

	var seen atomic.Int32
	n.SetInterceptor(func(from, to string, datagram []byte) bool {
		seen.Add(1)
		return datagram[0] != 0
	})
	target, _ := a.ResolveTarget("mem://b")
	require.NoError(t, a.SendOneWay(target, []byte{0}))
	require.NoError(t, a.SendOneWay(target, []byte{1}))
	n.Wait()

	got := drain()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1}, got[0].data)
	assert.Equal(t, int32(2), seen.Load())
}

func TestNetworkDropAll(t *testing.T) {
	n := NewNetwork(NetworkOptions{DropRate: 1})
	a, _ := n.Attach("a")
	b, _ := n.Attach("b")
	_, drain := collect(b)
	target, _ := a.ResolveTarget("mem://b")
	for i := 0; i < 10; i++ {
		require.NoError(t, a.SendOneWay(target, []byte{byte(i)}))
	}
	n.Wait()
	assert.Empty(t, drain())
}

func TestEndpointClosed(t *testing.T) {
	n := NewNetwork(NetworkOptions{})
	a, _ := n.Attach("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	err := a.SendOneWay(memTarget("mem://b"), []byte{1})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestMuxRoutesByAddress(t *testing.T) {
	n := NewNetwork(NetworkOptions{})
	a, _ := n.Attach("a")
	b, _ := n.Attach("b")
	m := Mux(a)

	var wg sync.WaitGroup
	wg.Add(1)
	var replyAddr string
	m.SetHandler(func(datagram []byte, reply SendTarget) {
		replyAddr = reply.Address()
		// replies go back through the muxer
		assert.NoError(t, m.SendOneWay(reply, []byte("pong")))
		wg.Done()
	})
	bch, _ := collect(b)

	target, err := b.ResolveTarget("mem://a")
	require.NoError(t, err)
	require.NoError(t, b.SendOneWay(target, []byte("ping")))
	wg.Wait()
	assert.Equal(t, "mem://b", replyAddr)

	select {
	case r := <-bch:
		assert.Equal(t, []byte("pong"), r.data)
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}

	_, err = m.ResolveTarget("quic://example:1")
	assert.ErrorIs(t, err, ErrNoTransportAvailable)
	assert.Error(t, m.SendOneWay(memTarget("mem://b"), nil))
	assert.Contains(t, m.Name(), "mem")
	require.NoError(t, m.Close())
}

func TestDatagramSizeLimit(t *testing.T) {
	n := NewNetwork(NetworkOptions{MaxDatagramSize: 4})
	a, _ := n.Attach("a")
	b, _ := n.Attach("b")
	_, drain := collect(b)
	m := Mux(a)

	target, err := m.ResolveTarget("mem://b")
	require.NoError(t, err)
	assert.Equal(t, 4, m.MaxDatagramSize(target))
	assert.Equal(t, 0, m.MaxDatagramSize(memTarget("mem://b")), "foreign target has no known limit")

	assert.ErrorIs(t, m.SendOneWay(target, []byte("large")), ErrDatagramTooLarge)
	require.NoError(t, m.SendOneWay(target, []byte("fits")))
	n.Wait()
	got := drain()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("fits"), got[0].data)
}
