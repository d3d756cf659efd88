// Package transport defines the unreliable datagram transport consumed by
// reliable sessions.
//
// # Contract
//
// A Transport resolves an address to a SendTarget, sends single datagrams
// with no delivery, ordering or duplication guarantees, and delivers every
// inbound datagram to one registered Handler together with a SendTarget for
// replying to its sender.
//
// # Implementations
//
//   - Network / Endpoint: in-memory datagram network with configurable loss,
//     duplication and reordering, used by tests and single-process hosts.
//   - lib/transport/quic: QUIC DATAGRAM frames between processes.
//   - Muxer: routes addresses to whichever registered transport claims them.
//
// # Thread Safety
//
// All implementations are safe for concurrent use. Handlers may be invoked
// concurrently from multiple goroutines.
package transport
