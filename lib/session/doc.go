// Package session implements reliable, ordered, flow-controlled message
// sessions between service partitions over an unreliable datagram
// transport.
//
// # Components
//
//   - Environment: one per process or replica. Owns the shared pools, the
//     protocol ack waiters, the response waiters and the session maps, and
//     dispatches every inbound datagram.
//   - Manager: one per hosted partition. Creates outbound sessions, admits
//     or rejects inbound session offers and indexes its sessions.
//   - Session: one logical channel in the outbound (sender) or inbound
//     (receiver) role, driven by a state machine.
//   - sendBuffer / receiveBuffer: the sliding send window with cumulative
//     acks and retransmission, and the reorder buffer with ack batching.
//   - ProtocolOperation: a control message resent until acknowledged.
//
// # Locking
//
// Locks are always taken in the order Session.mu, then the buffer mutex,
// then Environment.mu, then pool and index mutexes. Transport sends and
// application callbacks never run under any of these locks.
//
// # Example
//
//	env, err := session.NewEnvironment(t, session.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if err := env.Start(); err != nil {
//		return err
//	}
//	defer env.Stop()
//
//	mgr, err := env.CreateSessionManager(source)
//	s, err := mgr.CreateOutboundSession(ctx, target, "quic://peer:7700")
//	err = s.Send(ctx, []byte("hello"))
//	err = s.Close(ctx)
package session
