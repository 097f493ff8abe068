//go:build linux

// File: facade/asyncip.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Flat operation surface over a lazily created package default engine.
// Errors are logged and collapsed into the sentinel returns (InvalidID,
// nil, false, 0) so callers can stay entirely ID-based.

package facade

import (
	"log"
	"sync"

	"github.com/momentics/asyncip/api"
)

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Default returns the package default engine, creating it with
// DefaultConfig on first use.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = New(nil)
	}
	return defaultEngine
}

// OpenConnection opens a connection on the default engine. It returns
// InvalidID on any failure.
func OpenConnection(connType api.ConnType, host string, port uint16) uint64 {
	id, err := Default().Open(connType, host, port)
	if err != nil {
		log.Printf("[asyncip] open: %v", err)
		return api.InvalidID
	}
	return id
}

// CloseConnection closes the identified connection; unknown identifiers
// are ignored.
func CloseConnection(id uint64) {
	Default().Close(id)
}

// ReadMessage returns one received message, or nil when none is pending
// or the identifier is unknown or names a server.
func ReadMessage(id uint64) []byte {
	msg, err := Default().Read(id)
	if err != nil {
		log.Printf("[asyncip] read: %v", err)
		return nil
	}
	return msg
}

// WriteMessage enqueues data for sending. It returns false when the
// identifier is unknown or the message cannot fit a frame. Oversized
// messages are refused here, at enqueue time, rather than silently
// dropped at send time.
func WriteMessage(id uint64, data []byte) bool {
	if err := Default().Write(id, data); err != nil {
		log.Printf("[asyncip] write: %v", err)
		return false
	}
	return true
}

// GetClient returns one accepted client identifier of the server, or
// InvalidID when none is pending or the call is invalid.
func GetClient(serverID uint64) uint64 {
	id, err := Default().GetClient(serverID)
	if err != nil {
		log.Printf("[asyncip] get client: %v", err)
		return api.InvalidID
	}
	return id
}

// GetAddress returns the connection's "<host>/<port>" string, empty when
// the identifier is unknown.
func GetAddress(id uint64) string {
	addr, err := Default().Address(id)
	if err != nil {
		log.Printf("[asyncip] address: %v", err)
		return ""
	}
	return addr
}

// GetActivesNumber returns the number of open connections.
func GetActivesNumber() int {
	return Default().Count()
}

// GetClientsNumber returns the size of a server's client set, 1 for a
// client and 0 for an unknown identifier.
func GetClientsNumber(id uint64) int {
	return Default().ClientCount(id)
}

// SetMessageLength sets the connection's frame size, clamped to
// MaxMessageLength, and returns the applied value (0 on error).
func SetMessageLength(id uint64, length int) int {
	n, err := Default().SetMessageLength(id, length)
	if err != nil {
		log.Printf("[asyncip] set message length: %v", err)
		return 0
	}
	return n
}

// IsServer reports whether id names a server connection.
func IsServer(id uint64) bool {
	srv, err := Default().IsServer(id)
	if err != nil {
		return false
	}
	return srv
}
