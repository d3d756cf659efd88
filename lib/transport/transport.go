package transport

import "github.com/go-i2p/logger"

var log = logger.GetGoI2PLogger()

// SendTarget is a resolved destination for SendOneWay.
type SendTarget interface {
	Address() string
}

// Handler receives one inbound datagram and a target for replying to its
// sender. The datagram is owned by the handler.
type Handler func(datagram []byte, reply SendTarget)

// SizeLimited is implemented by transports that cap the datagram size.
// A result of zero or less means target has no limit.
type SizeLimited interface {
	MaxDatagramSize(target SendTarget) int
}

// Transport is an unreliable, unordered datagram service.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	// Compatible reports whether this transport can resolve address.
	Compatible(address string) bool
	// ResolveTarget turns an address into a reusable SendTarget.
	ResolveTarget(address string) (SendTarget, error)
	// SendOneWay sends one datagram without any delivery guarantee.
	SendOneWay(target SendTarget, datagram []byte) error
	// SetHandler registers the single inbound handler.
	SetHandler(h Handler)
	// Close stops delivery and releases resources.
	Close() error
}
