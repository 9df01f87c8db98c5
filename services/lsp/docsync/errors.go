// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docsync

import (
	"errors"
	"fmt"
)

// Sentinel errors for document state misuse. None of them affect the
// health of the session.
var (
	// ErrUnknownDocument indicates the uri was never opened or is closed.
	ErrUnknownDocument = errors.New("unknown document")

	// ErrAlreadyOpen indicates Open was called for an open uri.
	ErrAlreadyOpen = errors.New("document already open")

	// ErrInvalidRange indicates a position outside the document text.
	ErrInvalidRange = errors.New("invalid range")

	// ErrVersionMismatch indicates a position or edit targets another version.
	ErrVersionMismatch = errors.New("document version mismatch")

	// ErrEmptyChange indicates Change was called without change events.
	ErrEmptyChange = errors.New("change without content changes")

	// ErrDetached indicates the store no longer emits notifications.
	ErrDetached = errors.New("document store detached")
)

// VersionMismatchError reports a stale or future document version.
type VersionMismatchError struct {
	URI       string
	Current   int
	Requested int
}

// Error implements the error interface.
func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: version %d requested, current is %d", e.URI, e.Requested, e.Current)
}

// Is reports whether target is ErrVersionMismatch.
func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}

func unknown(uri string) error {
	return fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
}
