package session

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/go-i2p/go-reliable/lib/index"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/pool"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// responseKey identifies a session waiting for an OpenResponse or a
// CloseResponse.
type responseKey struct {
	id     protocol.SessionID
	action protocol.ActionCode
}

// closedSessionMemory bounds how many ended inbound sessions are remembered
// for answering late retransmissions.
const closedSessionMemory = 1024

// Acks each role waits for. A terminating session cancels only its own,
// so both ends of a session can live in one Environment.
var (
	outboundAcks = []protocol.ActionCode{protocol.ActionOpenRequestAck, protocol.ActionCloseRequestAck}
	inboundAcks  = []protocol.ActionCode{protocol.ActionOpenResponseAck, protocol.ActionCloseResponseAck}
)

// Environment holds everything shared by the sessions of one process: the
// transport, the object pools, the ack and response correlation maps and
// the session and manager registries.
type Environment struct {
	transport transport.Transport
	cfg       Config

	sendOps         *pool.Pool[*SendOperation]
	receiveOps      *pool.Pool[*ReceiveOperation]
	inboundMessages *pool.Pool[*QueuedInboundMessage]
	protocolOps     *pool.Pool[*ProtocolOperation]

	managers *index.Ordered[*partition.ServicePartition, *Manager]

	mu              sync.Mutex
	running         bool
	stopped         bool
	ackWaiters      map[ackKey]ackWaiter
	responseWaiters map[responseKey]*Session
	outbound        map[protocol.SessionID]*Session
	inbound         map[protocol.SessionID]*Session
	retiredOrder    *queue.Queue
	retiredIDs      map[protocol.SessionID]bool

	datagrams      atomic.Uint64
	malformed      atomic.Uint64
	unknownSession atomic.Uint64
}

// NewEnvironment validates cfg and preallocates the pools. The environment
// does not receive anything until Start.
func NewEnvironment(t transport.Transport, cfg Config) (*Environment, error) {
	if t == nil {
		return nil, oops.In("session").Code(protocol.ErrInvalidArgument).
			Wrapf(protocol.ErrInvalidArgument, "nil transport")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Environment{
		transport:       t,
		cfg:             cfg,
		sendOps:         pool.New("send_operations", cfg.PoolGrowIncrement, newSendOperation),
		receiveOps:      pool.New("receive_operations", cfg.PoolGrowIncrement, newReceiveOperation),
		inboundMessages: pool.New("inbound_messages", cfg.PoolGrowIncrement, newQueuedInboundMessage),
		protocolOps:     pool.New("protocol_operations", cfg.PoolGrowIncrement, newProtocolOperation),
		managers:        index.NewOrdered[*partition.ServicePartition, *Manager](partition.ComparePartitions),
		ackWaiters:      make(map[ackKey]ackWaiter),
		responseWaiters: make(map[responseKey]*Session),
		outbound:        make(map[protocol.SessionID]*Session),
		inbound:         make(map[protocol.SessionID]*Session),
		retiredOrder:    queue.New(),
		retiredIDs:      make(map[protocol.SessionID]bool),
	}
	inits := []struct {
		name string
		init func(int) error
		size int
	}{
		{"send_operations", e.sendOps.Initialize, cfg.InitialSendOperations},
		{"receive_operations", e.receiveOps.Initialize, cfg.InitialReceiveOperations},
		{"inbound_messages", e.inboundMessages.Initialize, cfg.InitialInboundMessages},
		{"protocol_operations", e.protocolOps.Initialize, cfg.InitialProtocolOperations},
	}
	for _, p := range inits {
		if err := p.init(p.size); err != nil {
			return nil, oops.In("session").Code(protocol.ErrResourceExhausted).
				With("pool", p.name).With("size", p.size).Wrapf(err, "initialize pool")
		}
	}
	return e, nil
}

// Config returns the environment's configuration.
func (e *Environment) Config() Config {
	return e.cfg
}

// Start registers the environment as the transport's inbound handler.
func (e *Environment) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.stopped:
		return oops.In("session").Code(protocol.ErrObjectClosed).Wrapf(protocol.ErrObjectClosed, "environment stopped")
	case e.running:
		return oops.In("session").Code(protocol.ErrInvalidState).Wrapf(protocol.ErrInvalidState, "environment already started")
	}
	e.running = true
	e.transport.SetHandler(e.dispatch)
	log.WithFields(logger.Fields{
		"at":        "(Environment) Start",
		"transport": e.transport.Name(),
	}).Info("environment_started")
	return nil
}

// Stop closes every manager, which aborts their sessions, cancels the
// remaining protocol operations and detaches from the transport. The
// transport itself is left open.
func (e *Environment) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.running = false
	e.mu.Unlock()

	for _, m := range e.managers.Snapshot() {
		m.Close()
	}

	e.mu.Lock()
	pending := make([]ackWaiter, 0, len(e.ackWaiters))
	for _, w := range e.ackWaiters {
		pending = append(pending, w)
	}
	e.mu.Unlock()
	canceled := oops.In("session").Code(protocol.ErrOperationCanceled).
		Wrapf(protocol.ErrOperationCanceled, "environment stopped")
	for _, w := range pending {
		w.complete(canceled)
	}

	e.transport.SetHandler(nil)
	log.WithFields(logger.Fields{
		"at":        "(Environment) Stop",
		"transport": e.transport.Name(),
	}).Info("environment_stopped")
}

// Close stops the environment. It lets an Environment be registered as an
// io.Closer.
func (e *Environment) Close() error {
	e.Stop()
	return nil
}

// CreateSessionManager hosts owner, which may be a range partition. Hosted
// partitions of one environment must not overlap.
func (e *Environment) CreateSessionManager(owner *partition.ServicePartition) (*Manager, error) {
	if owner == nil {
		return nil, oops.In("session").Code(protocol.ErrInvalidArgument).
			Wrapf(protocol.ErrInvalidArgument, "nil partition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, oops.In("session").Code(protocol.ErrObjectClosed).Wrapf(protocol.ErrObjectClosed, "environment stopped")
	}
	for _, m := range e.managers.Snapshot() {
		if overlaps(m.owner, owner) {
			return nil, oops.In("session").Code(protocol.ErrAlreadyExists).
				With("owner", owner.String()).With("hosted", m.owner.String()).
				Wrapf(protocol.ErrAlreadyExists, "partition already hosted")
		}
	}
	m := newManager(e, owner)
	e.managers.Insert(owner, m)
	log.WithFields(logger.Fields{
		"at":    "(Environment) CreateSessionManager",
		"owner": owner.String(),
	}).Debug("session_manager_created")
	return m, nil
}

func overlaps(a, b *partition.ServicePartition) bool {
	if a.Name() != b.Name() {
		return false
	}
	ka, kb := a.Key(), b.Key()
	if ka.Type() != kb.Type() {
		return false
	}
	if ka.Type() == partition.KeyTypeInt64Range {
		return ka.Low() <= kb.High() && kb.Low() <= ka.High()
	}
	return ka.Equal(kb)
}

func (e *Environment) removeManager(m *Manager) {
	e.managers.RemoveIf(m.owner, func(v *Manager) bool { return v == m })
}

// findManager returns the manager hosting target: an exact match, or the
// range partition containing it.
func (e *Environment) findManager(target *partition.ServicePartition) *Manager {
	if m, ok := e.managers.Find(target); ok {
		return m
	}
	_, m, ok := e.managers.Floor(target.FloorProbe())
	if ok && m.owner.Name() == target.Name() && partition.FindCompare(m.owner.Key(), target.Key()) == 0 {
		return m
	}
	return nil
}

// maxPayload is the largest payload whose data message fits the transport's
// datagram limit for target.
func (e *Environment) maxPayload(target transport.SendTarget) int {
	limit := protocol.MaxPayloadSize
	if sl, ok := e.transport.(transport.SizeLimited); ok {
		if n := sl.MaxDatagramSize(target); n > 0 {
			limit = min(limit, n-protocol.DataOverhead)
		}
	}
	return limit
}

func (e *Environment) sessionsFor(kind Kind) map[protocol.SessionID]*Session {
	if kind == KindOutbound {
		return e.outbound
	}
	return e.inbound
}

func (e *Environment) addSession(s *Session) {
	e.mu.Lock()
	e.sessionsFor(s.kind)[s.id] = s
	e.mu.Unlock()
}

func (e *Environment) findSession(kind Kind, id protocol.SessionID) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionsFor(kind)[id]
}

// forgetSession unregisters a closed session and cancels the protocol
// operations and response waits it still owns.
func (e *Environment) forgetSession(s *Session) {
	acks := outboundAcks
	responses := []protocol.ActionCode{protocol.ActionOpenResponse, protocol.ActionCloseResponse}
	if s.kind == KindInbound {
		acks = inboundAcks
		responses = nil
	}

	e.mu.Lock()
	sessions := e.sessionsFor(s.kind)
	if sessions[s.id] == s {
		delete(sessions, s.id)
	}
	for _, a := range responses {
		k := responseKey{id: s.id, action: a}
		if e.responseWaiters[k] == s {
			delete(e.responseWaiters, k)
		}
	}
	var pending []ackWaiter
	for _, a := range acks {
		if w, ok := e.ackWaiters[ackKey{id: s.id, ack: a}]; ok {
			pending = append(pending, w)
		}
	}
	e.mu.Unlock()

	canceled := oops.In("session").Code(protocol.ErrOperationCanceled).
		With("session_id", s.id.String()).Wrapf(protocol.ErrOperationCanceled, "session closed")
	for _, w := range pending {
		w.complete(canceled)
	}
}

// retire records an inbound session that has ended; normal marks a
// completed close handshake. Only the most recent closedSessionMemory are
// kept.
func (e *Environment) retire(id protocol.SessionID, normal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.retiredIDs[id]; !ok {
		e.retiredOrder.Add(id)
		if e.retiredOrder.Length() > closedSessionMemory {
			delete(e.retiredIDs, e.retiredOrder.Remove().(protocol.SessionID))
		}
	}
	e.retiredIDs[id] = normal
}

// retired reports whether id belonged to a recently ended inbound session
// and whether it closed normally.
func (e *Environment) retired(id protocol.SessionID) (known, normal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	normal, known = e.retiredIDs[id]
	return known, normal
}

func (e *Environment) addAckWaiter(key ackKey, w ackWaiter) (ackWaiter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.ackWaiters[key]
	e.ackWaiters[key] = w
	return prev, ok
}

func (e *Environment) removeAckWaiter(key ackKey, w ackWaiter) {
	e.mu.Lock()
	if e.ackWaiters[key] == w {
		delete(e.ackWaiters, key)
	}
	e.mu.Unlock()
}

// completeAck completes the operation waiting for ack on session id. It
// reports whether one was waiting.
func (e *Environment) completeAck(id protocol.SessionID, ack protocol.ActionCode) bool {
	e.mu.Lock()
	w, ok := e.ackWaiters[ackKey{id: id, ack: ack}]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return w.complete(nil)
}

func (e *Environment) addResponseWaiter(id protocol.SessionID, action protocol.ActionCode, s *Session) {
	e.mu.Lock()
	e.responseWaiters[responseKey{id: id, action: action}] = s
	e.mu.Unlock()
}

func (e *Environment) takeResponseWaiter(id protocol.SessionID, action protocol.ActionCode) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := responseKey{id: id, action: action}
	s, ok := e.responseWaiters[k]
	if ok {
		delete(e.responseWaiters, k)
	}
	return s
}

// sendResponse sends an OpenResponse or CloseResponse as a protocol
// operation. A successful OpenResponse carries the accepted window.
func (e *Environment) sendResponse(id protocol.SessionID, action protocol.ActionCode, code protocol.ErrorCode,
	window int, peer transport.SendTarget, done func(error),
) {
	msg := &protocol.Message{
		Session:  protocol.SessionHeader{SessionID: id, Action: action},
		Response: &protocol.ProtocolResponseHeader{ResponseCode: code},
	}
	if action == protocol.ActionOpenResponse && code == protocol.CodeSuccess {
		msg.Parameters = &protocol.SessionParametersHeader{WindowSize: uint32(window)}
	}
	if err := e.startProtocolOperation(msg, peer, e.cfg.ProtocolMaxRetries, done); err != nil {
		log.WithFields(logger.Fields{
			"at":         "(Environment) sendResponse",
			"session_id": id.String(),
			"action":     action.String(),
		}).WithError(err).Warn("response_not_sent")
		if done != nil {
			done(err)
		}
	}
}

// EnvironmentStats is a point-in-time view of an environment.
type EnvironmentStats struct {
	Managers             int
	OutboundSessions     int
	InboundSessions      int
	PendingProtocolOps   int
	ResponseWaiters      int
	SendOpsAvailable     int
	ReceiveOpsAvailable  int
	InboundMsgsAvailable int
	ProtocolOpsAvailable int
	Datagrams            uint64
	Malformed            uint64
	UnknownSession       uint64
}

func (e *Environment) Stats() EnvironmentStats {
	e.mu.Lock()
	st := EnvironmentStats{
		OutboundSessions:   len(e.outbound),
		InboundSessions:    len(e.inbound),
		PendingProtocolOps: len(e.ackWaiters),
		ResponseWaiters:    len(e.responseWaiters),
	}
	e.mu.Unlock()
	st.Managers = e.managers.Len()
	st.SendOpsAvailable = e.sendOps.Available()
	st.ReceiveOpsAvailable = e.receiveOps.Available()
	st.InboundMsgsAvailable = e.inboundMessages.Available()
	st.ProtocolOpsAvailable = e.protocolOps.Available()
	st.Datagrams = e.datagrams.Load()
	st.Malformed = e.malformed.Load()
	st.UnknownSession = e.unknownSession.Load()
	return st
}
