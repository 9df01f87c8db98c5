// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport failures.
var (
	// ErrStartup indicates the backend could not be launched or connected.
	ErrStartup = errors.New("backend startup failed")

	// ErrConnectionLost indicates the duplex stream closed, deliberately or not.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed is the cause recorded when the stream was closed locally.
	ErrClosed = errors.New("transport closed")
)

// StartupError reports a failure to launch or connect to the backend.
//
// It is returned before any protocol traffic is exchanged.
type StartupError struct {
	// Kind is the transport kind being opened.
	Kind Kind

	// Target is the executable path or address.
	Target string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("start %s backend %q: %v", e.Kind, e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStartup.
func (e *StartupError) Is(target error) bool {
	return target == ErrStartup
}

// ConnectionLostError reports that the stream is no longer usable.
type ConnectionLostError struct {
	// Err is the cause: process exit, read/write failure, or ErrClosed.
	Err error
}

// Error implements the error interface.
func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return ErrConnectionLost.Error()
	}
	return fmt.Sprintf("%v: %v", ErrConnectionLost, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConnectionLost.
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}

// Lost wraps err as a ConnectionLostError unless it already is one.
func Lost(err error) error {
	if err == nil {
		return &ConnectionLostError{}
	}
	if errors.Is(err, ErrConnectionLost) {
		return err
	}
	return &ConnectionLostError{Err: err}
}
