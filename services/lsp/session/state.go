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

// State is the lifecycle state of a Session.
//
//	Unstarted ──Start──► Initializing ──handshake──► Ready ──Shutdown──► ShuttingDown ──► Closed
//	     any non-Closed state ──fatal error──► Failed
//	     Ready ──connection lost──► Closed
type State int

const (
	StateUnstarted State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
