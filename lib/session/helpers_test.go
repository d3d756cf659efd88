package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/stretchr/testify/require"
)

// testConfig is DefaultConfig with intervals short enough for tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowSize = 8
	cfg.AckBatchSize = 2
	cfg.AckBatchInterval = 5 * time.Millisecond
	cfg.RetryInterval = 20 * time.Millisecond
	cfg.MaxDataRetries = 50
	cfg.SendOperationQuota = 32
	cfg.ReceiveOperationQuota = 8
	cfg.QueuedInboundMessageQuota = 64
	cfg.ProtocolRetryInterval = 15 * time.Millisecond
	cfg.ProtocolMaxRetries = 40
	cfg.AbortMaxRetries = 2
	cfg.InitialSendOperations = 8
	cfg.InitialReceiveOperations = 4
	cfg.InitialInboundMessages = 8
	cfg.InitialProtocolOperations = 4
	cfg.PoolGrowIncrement = 4
	return cfg
}

type node struct {
	endpoint *transport.Endpoint
	env      *Environment
}

func newNode(t *testing.T, n *transport.Network, address string, cfg Config) *node {
	t.Helper()
	ep, err := n.Attach(address)
	require.NoError(t, err)
	env, err := NewEnvironment(ep, cfg)
	require.NoError(t, err)
	require.NoError(t, env.Start())
	t.Cleanup(func() {
		env.Stop()
		_ = ep.Close()
	})
	return &node{endpoint: ep, env: env}
}

func (nd *node) manager(t *testing.T, owner string) *Manager {
	t.Helper()
	m, err := nd.env.CreateSessionManager(mustPartition(t, owner))
	require.NoError(t, err)
	return m
}

func mustPartition(t *testing.T, s string) *partition.ServicePartition {
	t.Helper()
	p, err := partition.Parse(s)
	require.NoError(t, err)
	return p
}

// acceptAll registers a callback accepting every offer and returns a channel
// of the admitted sessions.
func acceptAll(t *testing.T, m *Manager) <-chan *Session {
	t.Helper()
	ch := make(chan *Session, 16)
	require.NoError(t, m.RegisterInboundCallback(func(_ *partition.ServicePartition, s *Session) bool {
		ch <- s
		return true
	}))
	return ch
}

func waitSession(t *testing.T, ch <-chan *Session) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound session admitted")
		return nil
	}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s still %s", s.ID(), s.State())
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// actionFilter drops datagrams whose action matches drop while enabled.
type actionFilter struct {
	mu      sync.Mutex
	drop    map[protocol.ActionCode]bool
	dropped map[protocol.ActionCode]int
}

func newActionFilter(n *transport.Network, actions ...protocol.ActionCode) *actionFilter {
	f := &actionFilter{drop: map[protocol.ActionCode]bool{}, dropped: map[protocol.ActionCode]int{}}
	for _, a := range actions {
		f.drop[a] = true
	}
	n.SetInterceptor(func(_, _ string, datagram []byte) bool {
		msg, err := protocol.Unmarshal(datagram)
		if err != nil {
			return true
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.drop[msg.Session.Action] {
			f.dropped[msg.Session.Action]++
			return false
		}
		return true
	})
	return f
}

func (f *actionFilter) set(a protocol.ActionCode, drop bool) {
	f.mu.Lock()
	f.drop[a] = drop
	f.mu.Unlock()
}

func (f *actionFilter) count(a protocol.ActionCode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped[a]
}
