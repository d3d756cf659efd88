package transport

import "errors"

// error for when we have no transports available to use
var ErrNoTransportAvailable = errors.New("no transports available")

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// ErrUnknownTarget is returned when a target was not produced by the
// transport it is sent through.
var ErrUnknownTarget = errors.New("unknown send target")

// ErrDatagramTooLarge is returned when a datagram exceeds the transport MTU.
var ErrDatagramTooLarge = errors.New("datagram too large")
