// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

// Error taxonomy. Callers match with errors.Is against these values
// whichever layer produced the error.
var (
	// ErrStartup: the backend could not be launched or did not complete the
	// handshake. Fatal to the session.
	ErrStartup = transport.ErrStartup

	// ErrConnectionLost: the stream closed. Outstanding and future requests
	// fail with it.
	ErrConnectionLost = transport.ErrConnectionLost

	// ErrFraming and ErrDecode: malformed bytes on the wire. They close the
	// connection and reach callers wrapped in ErrConnectionLost.
	ErrFraming = jsonrpc.ErrFraming
	ErrDecode  = jsonrpc.ErrDecode

	// ErrProtocol: a violation of the protocol contract. Fatal to the session.
	ErrProtocol = conn.ErrProtocol

	// ErrCancelled: the request was cancelled. Not escalated.
	ErrCancelled = conn.ErrCancelled

	// ErrBackpressure: too many outstanding requests. Retry later.
	ErrBackpressure = conn.ErrBackpressure

	// ErrUnknownDocument and ErrVersionMismatch: local document misuse.
	ErrUnknownDocument = docsync.ErrUnknownDocument
	ErrVersionMismatch = docsync.ErrVersionMismatch

	// ErrBackend: the backend answered with an error. The session stays usable.
	ErrBackend = errors.New("backend error")

	// ErrNotReady: the operation needs a Ready session.
	ErrNotReady = errors.New("session not ready")

	// ErrUnsupported: the backend did not advertise the capability.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// BackendError is an error response from the backend.
type BackendError struct {
	// Method is the request method.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the backend's message.
	Message string

	// Err is the underlying *jsonrpc.Error.
	Err *jsonrpc.Error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// Unwrap returns the wire error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	// Op is the attempted operation.
	Op string

	// State is the session state at the time.
	State State

	kind error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.State)
}

// Is reports whether target is the error's kind (ErrNotReady or ErrProtocol).
func (e *StateError) Is(target error) bool {
	return target == e.kind
}

func notReady(op string, state State) error {
	return &StateError{Op: op, State: state, kind: ErrNotReady}
}

func invalidState(op string, state State) error {
	return &StateError{Op: op, State: state, kind: ErrProtocol}
}

// UnsupportedError names a capability the backend did not advertise.
type UnsupportedError struct {
	Method string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, ErrUnsupported)
}

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// mapError converts a connection-level result error into the session
// taxonomy. Backend error responses become *BackendError, except
// RequestCancelled which becomes a cancellation.
func mapError(method string, id jsonrpc.ID, err error) error {
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	if rpcErr.Code == jsonrpc.CodeRequestCancelled {
		return &conn.CancelledError{ID: id, Method: method, Cause: rpcErr}
	}
	return &BackendError{Method: method, Code: rpcErr.Code, Message: rpcErr.Message, Err: rpcErr}
}
