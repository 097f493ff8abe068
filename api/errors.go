// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sentinel errors shared across the asyncip library. Call sites wrap them
// with fmt.Errorf("%w: ...") so callers can match with errors.Is.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
	ErrResolveFailure   = fmt.Errorf("address resolution failed")
	ErrSocketFailure    = fmt.Errorf("socket operation failed")
	ErrPeerClosed       = fmt.Errorf("peer closed connection")
	ErrNotFound         = fmt.Errorf("connection not found")
	ErrWrongRole        = fmt.Errorf("operation not valid for connection role")
	ErrQueueFull        = fmt.Errorf("queue is full")
	ErrQueueClosed      = fmt.Errorf("queue is discarded")
	ErrOperationTimeout = fmt.Errorf("operation timeout")
	ErrMessageTooLong   = fmt.Errorf("message exceeds configured length")
)
