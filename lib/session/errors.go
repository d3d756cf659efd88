package session

import "github.com/go-i2p/go-reliable/lib/protocol"

// Error codes returned by this package. They are the protocol response
// codes, re-exported for callers that only import session.
var (
	ErrInvalidState      error = protocol.ErrInvalidState
	ErrResourceExhausted error = protocol.ErrResourceExhausted
	ErrTimeout           error = protocol.ErrTimeout
	ErrOperationCanceled error = protocol.ErrOperationCanceled
	ErrSessionRejected   error = protocol.ErrSessionRejected
	ErrSessionNotFound   error = protocol.ErrSessionNotFound
	ErrObjectClosed      error = protocol.ErrObjectClosed
	ErrQueueEmpty        error = protocol.ErrQueueEmpty
	ErrInvalidArgument   error = protocol.ErrInvalidArgument
	ErrAlreadyExists     error = protocol.ErrAlreadyExists
	ErrProtocolViolation error = protocol.ErrProtocolViolation
	ErrTransport         error = protocol.ErrTransport
	ErrNotReady          error = protocol.ErrNotReady
)

const errInvalidArgument = protocol.ErrInvalidArgument
