package session

import (
	"time"

	"github.com/go-i2p/go-reliable/lib/config"
	"github.com/samber/oops"
)

// Config holds the immutable settings of an Environment and every session
// and manager it creates.
type Config struct {
	WindowSize                int
	AckBatchSize              int
	AckBatchInterval          time.Duration
	RetryInterval             time.Duration
	MaxDataRetries            int
	SendOperationQuota        int
	ReceiveOperationQuota     int
	QueuedInboundMessageQuota int

	ProtocolRetryInterval time.Duration
	ProtocolMaxRetries    int
	AbortMaxRetries       int

	InitialSendOperations     int
	InitialReceiveOperations  int
	InitialInboundMessages    int
	InitialProtocolOperations int
	PoolGrowIncrement         int

	MaxSessionOffersPerSecond float64
	SessionOfferBurst         int
}

// DefaultConfig returns the configuration built from config.Defaults().
func DefaultConfig() Config {
	return ConfigFromDefaults(config.Defaults())
}

// ConfigFromDefaults projects the host configuration onto session settings.
func ConfigFromDefaults(d config.ConfigDefaults) Config {
	return Config{
		WindowSize:                d.Session.WindowSize,
		AckBatchSize:              d.Session.AckBatchSize,
		AckBatchInterval:          d.Session.AckBatchInterval,
		RetryInterval:             d.Session.RetryInterval,
		MaxDataRetries:            d.Session.MaxDataRetries,
		SendOperationQuota:        d.Session.SendOperationQuota,
		ReceiveOperationQuota:     d.Session.ReceiveOperationQuota,
		QueuedInboundMessageQuota: d.Session.QueuedInboundMessageQuota,

		ProtocolRetryInterval: d.Protocol.RetryInterval,
		ProtocolMaxRetries:    d.Protocol.MaxRetries,
		AbortMaxRetries:       d.Protocol.MaxAbortRetries,

		InitialSendOperations:     d.Pool.SendOperations,
		InitialReceiveOperations:  d.Pool.ReceiveOperations,
		InitialInboundMessages:    d.Pool.InboundMessages,
		InitialProtocolOperations: d.Pool.ProtocolOperations,
		PoolGrowIncrement:         d.Pool.GrowIncrement,

		MaxSessionOffersPerSecond: d.Manager.MaxSessionOffersPerSecond,
		SessionOfferBurst:         d.Manager.SessionOfferBurst,
	}
}

func (c Config) validate() error {
	fail := func(format string, args ...any) error {
		return oops.In("session").Code(errInvalidArgument).Wrapf(errInvalidArgument, format, args...)
	}
	switch {
	case c.WindowSize < 1:
		return fail("window size %d", c.WindowSize)
	case c.SendOperationQuota < c.WindowSize:
		return fail("send quota %d below window %d", c.SendOperationQuota, c.WindowSize)
	case c.QueuedInboundMessageQuota < c.WindowSize:
		return fail("inbound message quota %d below window %d", c.QueuedInboundMessageQuota, c.WindowSize)
	case c.AckBatchSize < 1:
		return fail("ack batch size %d", c.AckBatchSize)
	case c.AckBatchInterval <= 0 || c.RetryInterval <= 0 || c.ProtocolRetryInterval <= 0:
		return fail("intervals must be positive")
	case c.MaxDataRetries < 1 || c.ProtocolMaxRetries < 1 || c.AbortMaxRetries < 0:
		return fail("retry limits out of range")
	case c.ReceiveOperationQuota < 1:
		return fail("receive quota %d", c.ReceiveOperationQuota)
	case c.PoolGrowIncrement < 1:
		return fail("pool grow increment %d", c.PoolGrowIncrement)
	case c.MaxSessionOffersPerSecond <= 0 || c.SessionOfferBurst < 1:
		return fail("session offer rate limit out of range")
	}
	return nil
}
