// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conn

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
)

// Sentinel errors for connection-level failures.
var (
	// ErrProtocol indicates the peer violated the request/response contract.
	ErrProtocol = errors.New("protocol violation")

	// ErrCancelled indicates a request was retired by cancellation.
	ErrCancelled = errors.New("request cancelled")

	// ErrBackpressure indicates too many requests are outstanding.
	ErrBackpressure = errors.New("too many outstanding requests")

	// ErrDraining indicates the connection no longer accepts new requests.
	ErrDraining = errors.New("connection draining")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("connection already running")
)

// ProtocolError reports a message that breaks the correlation contract,
// such as a response whose id matches no outstanding request.
type ProtocolError struct {
	// Reason describes the violation.
	Reason string

	// ID is the offending message id, if any.
	ID *jsonrpc.ID
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("protocol violation: %s (id %s)", e.Reason, e.ID)
	}
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// CancelledError resolves a request that was cancelled locally.
type CancelledError struct {
	// ID is the cancelled request id.
	ID jsonrpc.ID

	// Method is the cancelled request method.
	Method string

	// Cause is why the request was cancelled, e.g. context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s request %s cancelled: %v", e.Method, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s request %s cancelled", e.Method, e.ID)
}

// Unwrap returns the cause.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrCancelled.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}
