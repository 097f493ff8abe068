// File: internal/poll/set.go
// Package poll implements the descriptor multiplexing set the reader
// worker blocks on.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Two back-ends are provided: a poll(2)-based set over a sorted descriptor
// array, and a legacy select(2)-based bitmap for hosts where poll is
// unavailable or undesirable.

package poll

// Set is the contract shared by both multiplexer back-ends.
//
// Membership is mutated from application goroutines during connection open
// and close while a single worker sits in Wait, so implementations must be
// safe for that interleaving. Readable reports readiness observed by the
// most recent Wait.
type Set interface {
	// Insert subscribes fd to read-readiness events. Inserting an fd that
	// is already present is a no-op.
	Insert(fd int) error

	// Remove unsubscribes fd. Removing an unknown fd is a no-op.
	Remove(fd int)

	// Wait blocks up to timeoutMs milliseconds and returns the number of
	// descriptors with pending events (0 on timeout).
	Wait(timeoutMs int) (int, error)

	// Readable reports whether fd had a read-readiness bit set in the
	// last completed Wait.
	Readable(fd int) bool

	// Len returns the number of subscribed descriptors.
	Len() int
}
