// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable per-engine configuration.

package facade

import "github.com/momentics/asyncip/api"

// Config holds parameters immutable per engine instance.
type Config struct {
	MessageLength   int  // Initial frame size of every connection, bytes
	QueueCapacity   int  // Capacity of per-connection inbound/outbound queues
	WaitTimeoutMs   int  // Reader block time per multiplexing round
	WriteIntervalMs int  // Writer cadence between drain passes
	JoinTimeoutMs   int  // Bound on worker shutdown join
	LegacyPoll      bool // Use the select(2) back-end (IPv4-only)
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		MessageLength:   api.MaxMessageLength,
		QueueCapacity:   api.QueueMaxItems,
		WaitTimeoutMs:   api.WaitTimeoutMs,
		WriteIntervalMs: 1000,
		JoinTimeoutMs:   api.WaitTimeoutMs,
		LegacyPoll:      false,
	}
}

// normalize fills zero fields with defaults so a partially populated
// Config is usable.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MessageLength <= 0 || c.MessageLength > api.MaxMessageLength {
		c.MessageLength = def.MessageLength
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.WaitTimeoutMs <= 0 {
		c.WaitTimeoutMs = def.WaitTimeoutMs
	}
	if c.WriteIntervalMs <= 0 {
		c.WriteIntervalMs = def.WriteIntervalMs
	}
	if c.JoinTimeoutMs <= 0 {
		c.JoinTimeoutMs = def.JoinTimeoutMs
	}
}
