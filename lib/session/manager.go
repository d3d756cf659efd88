package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-reliable/lib/index"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/protocol"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// InboundSessionCallback decides whether to accept a session offered by
// source. It runs on its own goroutine; returning false rejects the offer.
// The session may be used to Receive once the callback returns true.
type InboundSessionCallback func(source *partition.ServicePartition, s *Session) bool

// SessionAbortedCallback reports a session that ended without the local
// application asking: the partner aborted it, a newer session from the same
// source replaced it, or its retries ran out.
type SessionAbortedCallback func(kind Kind, partner *partition.ServicePartition, s *Session)

// Manager owns the sessions of one hosted partition. Outbound sessions are
// indexed by target partition, inbound sessions by source then target.
type Manager struct {
	env   *Environment
	owner *partition.ServicePartition

	// admitMu serializes inbound admission so a conflicting session is
	// removed before its replacement is indexed.
	admitMu sync.Mutex

	mu      sync.RWMutex
	accept  InboundSessionCallback
	aborted SessionAbortedCallback
	closed  bool

	outbound *index.Ordered[*partition.ServicePartition, *Session]
	inbound  *index.TwoTier[*partition.ServicePartition, *partition.ServicePartition, *Session]
	limiter  *rate.Limiter

	offersRejected atomic.Uint64
	conflicts      atomic.Uint64
}

func newManager(env *Environment, owner *partition.ServicePartition) *Manager {
	return &Manager{
		env:      env,
		owner:    owner,
		outbound: index.NewOrdered[*partition.ServicePartition, *Session](partition.ComparePartitions),
		inbound: index.NewTwoTier[*partition.ServicePartition, *partition.ServicePartition, *Session](
			partition.ComparePartitions, partition.ComparePartitions),
		limiter: rate.NewLimiter(rate.Limit(env.cfg.MaxSessionOffersPerSecond), env.cfg.SessionOfferBurst),
	}
}

// Owner returns the partition this manager hosts.
func (m *Manager) Owner() *partition.ServicePartition {
	return m.owner
}

// CreateOutboundSession opens a session from the owner to target, reached at
// endpoint. It returns once the partner accepted or refused the session, or
// ctx ended. target must be a concrete key, not a range.
func (m *Manager) CreateOutboundSession(ctx context.Context, target *partition.ServicePartition, endpoint string) (*Session, error) {
	if target == nil || !target.Key().IsValidTarget() {
		return nil, oops.In("session").Code(protocol.ErrInvalidArgument).
			With("target", target).Wrapf(protocol.ErrInvalidArgument, "target must be a concrete partition")
	}
	peer, err := m.env.transport.ResolveTarget(endpoint)
	if err != nil {
		return nil, oops.In("session").Code(protocol.ErrTransport).
			With("endpoint", endpoint).With("cause", err.Error()).Wrapf(protocol.ErrTransport, "resolve endpoint")
	}
	id, err := protocol.NewSessionID()
	if err != nil {
		return nil, oops.In("session").Code(protocol.ErrResourceExhausted).Wrapf(err, "session id")
	}
	s := newSession(m.env, m, KindOutbound, id, m.owner, target, peer)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, oops.In("session").Code(protocol.ErrObjectClosed).
			With("owner", m.owner.String()).Wrapf(protocol.ErrObjectClosed, "manager closed")
	}
	if !m.outbound.Insert(target, s) {
		m.mu.RUnlock()
		return nil, oops.In("session").Code(protocol.ErrAlreadyExists).
			With("target", target.String()).Wrapf(protocol.ErrAlreadyExists, "outbound session")
	}
	m.env.addSession(s)
	m.mu.RUnlock()

	log.WithFields(logger.Fields{
		"at":         "(Manager) CreateOutboundSession",
		"session_id": id.String(),
		"source":     m.owner.String(),
		"target":     target.String(),
		"endpoint":   endpoint,
	}).Debug("opening_session")
	if err := s.open(); err != nil {
		s.terminate(SignalAbortApiCalled, err)
		return nil, err
	}
	select {
	case err := <-s.openDone:
		if err != nil {
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		s.terminate(SignalAbortApiCalled, oops.In("session").Code(protocol.ErrOperationCanceled).Wrapf(ctx.Err(), "open"))
		<-s.openDone
		return nil, ctx.Err()
	}
}

// onInboundSessionRequested admits or rejects an OpenRequest for a
// partition hosted here. A live session from the same source to the same
// target is aborted and replaced.
func (m *Manager) onInboundSessionRequested(id protocol.SessionID, source, target *partition.ServicePartition,
	requestedWindow int, peer transport.SendTarget,
) {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()
	if m.env.findSession(KindInbound, id) != nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	reject := func(code protocol.ErrorCode, reason string) {
		m.offersRejected.Add(1)
		log.WithFields(logger.Fields{
			"at":         "(Manager) onInboundSessionRequested",
			"session_id": id.String(),
			"source":     source.String(),
			"target":     target.String(),
			"reason":     reason,
		}).Debug("session_offer_rejected")
		m.env.sendResponse(id, protocol.ActionOpenResponse, code, 0, peer, nil)
	}
	switch {
	case m.closed:
		reject(protocol.ErrSessionNotFound, "manager closed")
		return
	case m.accept == nil:
		reject(protocol.ErrSessionRejected, "no inbound callback")
		return
	case !m.limiter.Allow():
		reject(protocol.ErrResourceExhausted, "offer rate exceeded")
		return
	}

	if old, ok := m.inbound.Find(source, target); ok {
		m.conflicts.Add(1)
		log.WithFields(logger.Fields{
			"at":          "(Manager) onInboundSessionRequested",
			"session_id":  old.id.String(),
			"replaced_by": id.String(),
			"source":      source.String(),
			"target":      target.String(),
		}).Info("conflicting_session_aborted")
		old.terminate(SignalAbortConflictingSession, oops.In("session").Code(protocol.ErrSessionRejected).
			With("replaced_by", id.String()).Wrapf(protocol.ErrSessionRejected, "replaced by a newer session"))
		// a concurrent close may still be on its way to releasing old
		m.inbound.RemoveIf(source, target, func(v *Session) bool { return v == old })
	}

	s := newSession(m.env, m, KindInbound, id, source, target, peer)
	s.mu.Lock()
	s.applyLocked(SignalOpenRequestReceived)
	s.mu.Unlock()
	if !m.inbound.Insert(source, target, s) {
		reject(protocol.ErrAlreadyExists, "index conflict")
		return
	}
	m.env.addSession(s)
	go s.offer(m.accept, requestedWindow)
}

// RegisterInboundCallback starts accepting inbound session offers.
func (m *Manager) RegisterInboundCallback(cb InboundSessionCallback) error {
	if cb == nil {
		return oops.In("session").Code(protocol.ErrInvalidArgument).Wrapf(protocol.ErrInvalidArgument, "nil callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return oops.In("session").Code(protocol.ErrObjectClosed).Wrapf(protocol.ErrObjectClosed, "manager closed")
	case m.accept != nil:
		return oops.In("session").Code(protocol.ErrAlreadyExists).Wrapf(protocol.ErrAlreadyExists, "inbound callback")
	}
	m.accept = cb
	return nil
}

// UnregisterInboundCallback stops accepting inbound offers. Sessions already
// admitted are unaffected.
func (m *Manager) UnregisterInboundCallback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accept == nil {
		return oops.In("session").Code(protocol.ErrInvalidState).Wrapf(protocol.ErrInvalidState, "no inbound callback")
	}
	m.accept = nil
	return nil
}

// SetSessionAbortedCallback replaces the aborted-session callback; nil
// disables it.
func (m *Manager) SetSessionAbortedCallback(cb SessionAbortedCallback) {
	m.mu.Lock()
	m.aborted = cb
	m.mu.Unlock()
}

// SetOfferRate changes how many inbound offers per second the manager
// admits, with bursts of up to burst offers.
func (m *Manager) SetOfferRate(perSecond float64, burst int) error {
	if perSecond <= 0 || burst < 1 {
		return oops.In("session").Code(protocol.ErrInvalidArgument).
			With("per_second", perSecond).With("burst", burst).Wrapf(protocol.ErrInvalidArgument, "offer rate")
	}
	m.limiter.SetLimit(rate.Limit(perSecond))
	m.limiter.SetBurst(burst)
	log.WithFields(logger.Fields{
		"at":         "(Manager) SetOfferRate",
		"owner":      m.owner.String(),
		"per_second": perSecond,
		"burst":      burst,
	}).Debug("offer_rate_changed")
	return nil
}

func (m *Manager) notifyAborted(s *Session) {
	go func() {
		m.mu.RLock()
		cb := m.aborted
		m.mu.RUnlock()
		if cb != nil {
			cb(s.kind, s.Partner(), s)
		}
	}()
}

// release drops s from its index. It is called once per session, by
// terminate; a newer session stored under the same keys is left alone.
func (m *Manager) release(s *Session) {
	same := func(v *Session) bool { return v == s }
	if s.kind == KindOutbound {
		m.outbound.RemoveIf(s.target, same)
		return
	}
	m.inbound.RemoveIf(s.source, s.target, same)
}

// OutboundSession returns the live outbound session to target.
func (m *Manager) OutboundSession(target *partition.ServicePartition) (*Session, bool) {
	return m.outbound.Find(target)
}

// InboundSession returns the live inbound session from source to target.
func (m *Manager) InboundSession(source, target *partition.ServicePartition) (*Session, bool) {
	return m.inbound.Find(source, target)
}

// Close aborts every session of this manager and stops hosting its
// partition.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.accept = nil
	m.mu.Unlock()

	m.env.removeManager(m)
	cause := oops.In("session").Code(protocol.ErrObjectClosed).
		With("owner", m.owner.String()).Wrapf(protocol.ErrObjectClosed, "manager closed")
	for _, s := range m.outbound.Snapshot() {
		s.terminate(SignalAbortManagerClose, cause)
	}
	for _, s := range m.inbound.Snapshot() {
		s.terminate(SignalAbortManagerClose, cause)
	}
	log.WithFields(logger.Fields{
		"at":    "(Manager) Close",
		"owner": m.owner.String(),
	}).Info("session_manager_closed")
}

// ManagerStats is a point-in-time view of a manager.
type ManagerStats struct {
	Owner          string
	Outbound       int
	Inbound        int
	InboundSources int
	OffersRejected uint64
	Conflicts      uint64
}

func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Owner:          m.owner.String(),
		Outbound:       m.outbound.Len(),
		Inbound:        m.inbound.Len(),
		InboundSources: m.inbound.PrimaryLen(),
		OffersRejected: m.offersRejected.Load(),
		Conflicts:      m.conflicts.Load(),
	}
}
