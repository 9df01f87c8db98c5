// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for framing and decoding.
var (
	// ErrFraming indicates the header block of a frame was malformed.
	ErrFraming = errors.New("jsonrpc framing error")

	// ErrDecode indicates a frame body was not a valid JSON-RPC message.
	ErrDecode = errors.New("jsonrpc decode error")
)

// FramingError describes a malformed header block.
//
// The caller decides whether the stream is still usable. The connection
// layer always closes the transport on a FramingError because the reader
// can no longer find the next frame boundary.
type FramingError struct {
	// Reason is a short description of what was wrong.
	Reason string
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf("jsonrpc framing: %s", e.Reason)
}

// Is reports whether target is ErrFraming.
func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

// DecodeError describes a frame body that could not be turned into a Message.
type DecodeError struct {
	// Raw is a copy of the body bytes, kept for diagnostics.
	Raw []byte

	// Err is the underlying parse or shape error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return fmt.Sprintf("jsonrpc decode: %v (body %q)", e.Err, raw)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Standard JSON-RPC and LSP error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestFailed        = -32803
	CodeServerCancelled      = -32802
	CodeContentModified      = -32801
	CodeRequestCancelled     = -32800
)
