package protocol

import (
	"errors"
	"strconv"
)

// ErrorCode is both a Go error and the response code carried on the wire.
// Sentinels are plain values so errors.Is matches them through wrapping.
type ErrorCode int32

const (
	CodeSuccess ErrorCode = iota
	ErrInvalidState
	ErrResourceExhausted
	ErrTimeout
	ErrOperationCanceled
	ErrSessionRejected
	ErrSessionNotFound
	ErrObjectClosed
	ErrQueueEmpty
	ErrInvalidArgument
	ErrAlreadyExists
	ErrProtocolViolation
	ErrTransport
	ErrNotReady
)

var errorCodeText = map[ErrorCode]string{
	CodeSuccess:          "success",
	ErrInvalidState:      "invalid session state",
	ErrResourceExhausted: "resource exhausted",
	ErrTimeout:           "operation timed out",
	ErrOperationCanceled: "operation canceled",
	ErrSessionRejected:   "session rejected",
	ErrSessionNotFound:   "session not found",
	ErrObjectClosed:      "object closed",
	ErrQueueEmpty:        "queue empty",
	ErrInvalidArgument:   "invalid argument",
	ErrAlreadyExists:     "already exists",
	ErrProtocolViolation: "protocol violation",
	ErrTransport:         "transport failure",
	ErrNotReady:          "not ready",
}

func (c ErrorCode) Error() string {
	if s, ok := errorCodeText[c]; ok {
		return s
	}
	return "error code " + strconv.Itoa(int(c))
}

// Err converts a received response code into an error, nil for success.
func (c ErrorCode) Err() error {
	if c == CodeSuccess {
		return nil
	}
	return c
}

// CodeOf extracts the response code from err. Errors that carry no code map
// to ErrInvalidState; nil maps to CodeSuccess.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrInvalidState
}
