package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaults verifies that Defaults() returns a complete configuration
// with all expected default values set.
func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Session.WindowSize != 64 {
		t.Errorf("Session.WindowSize = %d, want 64", cfg.Session.WindowSize)
	}
	if cfg.Session.AckBatchSize != 8 {
		t.Errorf("Session.AckBatchSize = %d, want 8", cfg.Session.AckBatchSize)
	}
	if cfg.Session.AckBatchInterval != 50*time.Millisecond {
		t.Errorf("Session.AckBatchInterval = %v, want 50ms", cfg.Session.AckBatchInterval)
	}
	if cfg.Protocol.MaxAbortRetries != 3 {
		t.Errorf("Protocol.MaxAbortRetries = %d, want 3", cfg.Protocol.MaxAbortRetries)
	}
	if cfg.Transport.ListenAddress != "localhost:7700" {
		t.Errorf("Transport.ListenAddress = %s, want localhost:7700", cfg.Transport.ListenAddress)
	}
	assert.NoError(t, Validate(cfg), "defaults must validate")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigDefaults)
	}{
		{"window zero", func(c *ConfigDefaults) { c.Session.WindowSize = 0 }},
		{"quota below window", func(c *ConfigDefaults) { c.Session.SendOperationQuota = c.Session.WindowSize - 1 }},
		{"inbound quota below window", func(c *ConfigDefaults) { c.Session.QueuedInboundMessageQuota = 1 }},
		{"batch above window", func(c *ConfigDefaults) { c.Session.AckBatchSize = c.Session.WindowSize + 1 }},
		{"retry shorter than ack batching", func(c *ConfigDefaults) { c.Session.RetryInterval = c.Session.AckBatchInterval }},
		{"protocol retries", func(c *ConfigDefaults) { c.Protocol.MaxRetries = 0 }},
		{"grow increment", func(c *ConfigDefaults) { c.Pool.GrowIncrement = 0 }},
		{"offer rate", func(c *ConfigDefaults) { c.Manager.MaxSessionOffersPerSecond = 0 }},
		{"datagram size", func(c *ConfigDefaults) { c.Transport.MaxDatagramSize = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "configuration validation failed")
		})
	}
}
