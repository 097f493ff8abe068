// File: api/types.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared constants and the connection type-byte encoding used across the
// asyncip library. The high nibble of the type byte selects the transport,
// the low nibble the role.

package api

// ConnType is the one-byte connection descriptor passed to OpenConnection.
type ConnType uint8

// Transport flags (high nibble) and role flags (low nibble).
const (
	TCP ConnType = 0x10
	UDP ConnType = 0x20

	Server ConnType = 0x01
	Client ConnType = 0x02

	TransportMask ConnType = 0xF0
	RoleMask      ConnType = 0x0F
)

// Transport returns the transport bits of t.
func (t ConnType) Transport() ConnType { return t & TransportMask }

// Role returns the role bits of t.
func (t ConnType) Role() ConnType { return t & RoleMask }

// Valid reports whether t is one of the four supported transport/role combinations.
func (t ConnType) Valid() bool {
	tr, role := t.Transport(), t.Role()
	return (tr == TCP || tr == UDP) && (role == Server || role == Client)
}

// String renders t in "TCP/server" form for diagnostics.
func (t ConnType) String() string {
	var tr, role string
	switch t.Transport() {
	case TCP:
		tr = "TCP"
	case UDP:
		tr = "UDP"
	default:
		tr = "???"
	}
	switch t.Role() {
	case Server:
		role = "server"
	case Client:
		role = "client"
	default:
		role = "???"
	}
	return tr + "/" + role
}

// Library-wide limits and defaults.
const (
	// MaxMessageLength is the hard upper bound of a single message payload.
	MaxMessageLength = 512

	// QueueMaxItems bounds every per-connection read and write queue.
	QueueMaxItems = 10

	// WaitTimeoutMs is the reader worker's poll timeout and the bound used
	// when joining workers during teardown.
	WaitTimeoutMs = 5000

	// PortMin is the lowest accepted port number (Dynamic/Private range).
	PortMin = 49152

	// ListenBacklog is the TCP server listen queue depth.
	ListenBacklog = 20

	// MulticastTTL is applied to UDP server sockets for multicast sends.
	MulticastTTL = 255
)

// InvalidID signals "no such connection" on every ID-returning operation.
const InvalidID = ^uint64(0)
