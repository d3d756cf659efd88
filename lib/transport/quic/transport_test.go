package quic

import (
	"testing"
	"time"

	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatible(t *testing.T) {
	tr := &Transport{}
	assert.True(t, tr.Compatible("quic://127.0.0.1:7700"))
	assert.True(t, tr.Compatible("127.0.0.1:7700"))
	assert.False(t, tr.Compatible("mem://a"))
}

// TestDatagramExchange verifies a datagram reaches the listener and the
// reply target routes back over the same connection.
func TestDatagramExchange(t *testing.T) {
	opts := DefaultOptions()
	server, err := Listen("127.0.0.1:0", opts)
	require.NoError(t, err)
	defer server.Close()
	client, err := Listen("127.0.0.1:0", opts)
	require.NoError(t, err)
	defer client.Close()

	server.SetHandler(func(datagram []byte, reply transport.SendTarget) {
		_ = server.SendOneWay(reply, append([]byte("echo:"), datagram...))
	})
	replies := make(chan []byte, 16)
	client.SetHandler(func(datagram []byte, reply transport.SendTarget) {
		replies <- datagram
	})

	target, err := client.ResolveTarget(Scheme + server.Addr())
	require.NoError(t, err)

	// datagrams are unreliable; retry until one round trip completes
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	require.NoError(t, client.SendOneWay(target, []byte("hi")))
	for {
		select {
		case got := <-replies:
			assert.Equal(t, []byte("echo:hi"), got)
			return
		case <-tick.C:
			_ = client.SendOneWay(target, []byte("hi"))
		case <-deadline:
			t.Fatal("no reply received")
		}
	}
}

func TestSendRejectsOversize(t *testing.T) {
	tr := &Transport{opts: Options{MaxDatagramSize: 4}}
	err := tr.SendOneWay(target{address: "127.0.0.1:1"}, make([]byte, 5))
	assert.ErrorIs(t, err, transport.ErrDatagramTooLarge)
	assert.Equal(t, 4, tr.MaxDatagramSize(target{address: "127.0.0.1:1"}))
}
