package config

import (
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults contains all configuration values for a session host.
type ConfigDefaults struct {
	// Session defaults apply to every session of an environment
	Session SessionDefaults

	// Protocol defaults drive control message retries
	Protocol ProtocolDefaults

	// Pool defaults size the shared environment pools
	Pool PoolDefaults

	// Manager defaults apply to every session manager
	Manager ManagerDefaults

	// Transport defaults configure the QUIC datagram transport
	Transport TransportDefaults
}

// SessionDefaults contains per-session flow control values
type SessionDefaults struct {
	// WindowSize is the maximum number of unacknowledged messages in flight.
	// The inbound side may lower it during the open exchange.
	// Default: 64
	WindowSize int

	// AckBatchSize is how many in-order messages are delivered before an
	// acknowledgment is sent without waiting for the batching timer.
	// Default: 8
	AckBatchSize int

	// AckBatchInterval bounds how long a delivered message waits for its
	// acknowledgment.
	// Default: 50 milliseconds
	AckBatchInterval time.Duration

	// RetryInterval is how long the sender waits for ack progress before
	// resending the unacknowledged window.
	// Default: 500 milliseconds
	RetryInterval time.Duration

	// MaxDataRetries is how many resend rounds without progress are allowed
	// before the session is aborted.
	// Default: 40
	MaxDataRetries int

	// SendOperationQuota caps pending sends per session, acknowledged or
	// held for window space.
	// Default: 128
	SendOperationQuota int

	// ReceiveOperationQuota caps parked receive calls per session.
	// Default: 32
	ReceiveOperationQuota int

	// QueuedInboundMessageQuota caps messages buffered or queued for
	// delivery per session.
	// Default: 128
	QueuedInboundMessageQuota int
}

// ProtocolDefaults contains control message retry values
type ProtocolDefaults struct {
	// RetryInterval is the resend period of open, close and abort messages.
	// Default: 300 milliseconds
	RetryInterval time.Duration

	// MaxRetries is how many resends an open or close message gets.
	// Default: 20
	MaxRetries int

	// MaxAbortRetries is how many resends a best-effort abort gets.
	// Default: 3
	MaxAbortRetries int
}

// PoolDefaults contains initial sizes of the shared pools
type PoolDefaults struct {
	// SendOperations pre-allocated at environment start.
	// Default: 256
	SendOperations int

	// ReceiveOperations pre-allocated at environment start.
	// Default: 64
	ReceiveOperations int

	// InboundMessages pre-allocated at environment start.
	// Default: 256
	InboundMessages int

	// ProtocolOperations pre-allocated at environment start.
	// Default: 64
	ProtocolOperations int

	// GrowIncrement is how many items an exhausted pool allocates at once.
	// Default: 16
	GrowIncrement int
}

// ManagerDefaults contains session admission values
type ManagerDefaults struct {
	// MaxSessionOffersPerSecond is the sustained rate of inbound session
	// offers a manager considers.
	// Default: 200
	MaxSessionOffersPerSecond float64

	// SessionOfferBurst is the burst allowance above that rate.
	// Default: 50
	SessionOfferBurst int
}

// TransportDefaults contains QUIC transport values
type TransportDefaults struct {
	// ListenAddress is the host:port to listen on.
	// Default: localhost:7700
	ListenAddress string

	// MaxDatagramSize is the largest datagram sent.
	// Default: 1200 bytes
	MaxDatagramSize int

	// HandshakeTimeout bounds connection establishment.
	// Default: 10 seconds
	HandshakeTimeout time.Duration

	// IdleTimeout closes connections without traffic.
	// Default: 60 seconds
	IdleTimeout time.Duration
}

// Defaults returns a ConfigDefaults instance with all default values set.
// This is the single source of truth for all configuration defaults.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Session:   buildSessionDefaults(),
		Protocol:  buildProtocolDefaults(),
		Pool:      buildPoolDefaults(),
		Manager:   buildManagerDefaults(),
		Transport: buildTransportDefaults(),
	}
}

func buildSessionDefaults() SessionDefaults {
	return SessionDefaults{
		WindowSize:                64,
		AckBatchSize:              8,
		AckBatchInterval:          50 * time.Millisecond,
		RetryInterval:             500 * time.Millisecond,
		MaxDataRetries:            40,
		SendOperationQuota:        128,
		ReceiveOperationQuota:     32,
		QueuedInboundMessageQuota: 128,
	}
}

func buildProtocolDefaults() ProtocolDefaults {
	return ProtocolDefaults{
		RetryInterval:   300 * time.Millisecond,
		MaxRetries:      20,
		MaxAbortRetries: 3,
	}
}

func buildPoolDefaults() PoolDefaults {
	return PoolDefaults{
		SendOperations:     256,
		ReceiveOperations:  64,
		InboundMessages:    256,
		ProtocolOperations: 64,
		GrowIncrement:      16,
	}
}

func buildManagerDefaults() ManagerDefaults {
	return ManagerDefaults{
		MaxSessionOffersPerSecond: 200,
		SessionOfferBurst:         50,
	}
}

func buildTransportDefaults() TransportDefaults {
	return TransportDefaults{
		ListenAddress:    "localhost:7700",
		MaxDatagramSize:  1200,
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      60 * time.Second,
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	return runConfigValidators(cfg)
}

// runConfigValidators executes all configuration validators in sequence.
func runConfigValidators(cfg ConfigDefaults) error {
	validators := []func() error{
		func() error { return validateSession(cfg.Session) },
		func() error { return validateProtocol(cfg.Protocol) },
		func() error { return validatePool(cfg.Pool) },
		func() error { return validateManager(cfg.Manager) },
		func() error { return validateTransport(cfg.Transport) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("all configuration validations passed")
	return nil
}

func validateSession(s SessionDefaults) error {
	if s.WindowSize < 1 {
		return newValidationError("Session.WindowSize must be at least 1")
	}
	if s.SendOperationQuota < s.WindowSize {
		log.WithFields(logger.Fields{
			"at":                   "validateSession",
			"window_size":          s.WindowSize,
			"send_operation_quota": s.SendOperationQuota,
		}).Error("Invalid session configuration")
		return newValidationError("Session.SendOperationQuota must be >= WindowSize")
	}
	if s.QueuedInboundMessageQuota < s.WindowSize {
		return newValidationError("Session.QueuedInboundMessageQuota must be >= WindowSize")
	}
	if s.AckBatchSize < 1 || s.AckBatchSize > s.WindowSize {
		return newValidationError("Session.AckBatchSize must be between 1 and WindowSize")
	}
	if s.AckBatchInterval <= 0 {
		return newValidationError("Session.AckBatchInterval must be positive")
	}
	if s.RetryInterval <= s.AckBatchInterval {
		return newValidationError("Session.RetryInterval must exceed AckBatchInterval")
	}
	if s.MaxDataRetries < 1 {
		return newValidationError("Session.MaxDataRetries must be at least 1")
	}
	if s.ReceiveOperationQuota < 1 {
		return newValidationError("Session.ReceiveOperationQuota must be at least 1")
	}
	return nil
}

func validateProtocol(p ProtocolDefaults) error {
	if p.RetryInterval <= 0 {
		return newValidationError("Protocol.RetryInterval must be positive")
	}
	if p.MaxRetries < 1 {
		return newValidationError("Protocol.MaxRetries must be at least 1")
	}
	if p.MaxAbortRetries < 0 {
		return newValidationError("Protocol.MaxAbortRetries must not be negative")
	}
	return nil
}

func validatePool(p PoolDefaults) error {
	if p.SendOperations < 0 || p.ReceiveOperations < 0 || p.InboundMessages < 0 || p.ProtocolOperations < 0 {
		return newValidationError("Pool sizes must not be negative")
	}
	if p.GrowIncrement < 1 {
		return newValidationError("Pool.GrowIncrement must be at least 1")
	}
	return nil
}

func validateManager(m ManagerDefaults) error {
	if m.MaxSessionOffersPerSecond <= 0 {
		return newValidationError("Manager.MaxSessionOffersPerSecond must be positive")
	}
	if m.SessionOfferBurst < 1 {
		return newValidationError("Manager.SessionOfferBurst must be at least 1")
	}
	return nil
}

func validateTransport(t TransportDefaults) error {
	if t.ListenAddress == "" {
		return newValidationError("Transport.ListenAddress must be set")
	}
	if t.MaxDatagramSize < 512 {
		return newValidationError("Transport.MaxDatagramSize must be at least 512 bytes")
	}
	if t.HandshakeTimeout < time.Second {
		return newValidationError("Transport.HandshakeTimeout must be at least 1 second")
	}
	if t.IdleTimeout < t.HandshakeTimeout {
		return newValidationError("Transport.IdleTimeout must be >= HandshakeTimeout")
	}
	return nil
}

// validationError represents a configuration validation error
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
