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
	"sort"
	"sync"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

// DiagnosticSet is the latest diagnostics the backend published for a uri.
type DiagnosticSet struct {
	// URI is the document the diagnostics belong to.
	URI string

	// Version is the document version they were computed for, if reported.
	Version *int

	// Diagnostics is the full set; an empty slice clears the uri.
	Diagnostics []protocol.Diagnostic
}

// DiagnosticHandler observes every accepted DiagnosticSet.
type DiagnosticHandler func(DiagnosticSet)

// diagnosticStore keeps the latest set per uri. A new set replaces the old
// one entirely.
type diagnosticStore struct {
	mu      sync.Mutex
	sets    map[string]DiagnosticSet
	subs    map[int]DiagnosticHandler
	order   []int
	nextSub int

	// versionOf returns the tracked document version, if any.
	versionOf func(uri string) (int, bool)
}

func newDiagnosticStore(versionOf func(string) (int, bool)) *diagnosticStore {
	return &diagnosticStore{
		sets:      make(map[string]DiagnosticSet),
		subs:      make(map[int]DiagnosticHandler),
		versionOf: versionOf,
	}
}

// publish stores set and notifies subscribers. Sets computed for a version
// older than the tracked document are dropped; it returns false for them.
func (d *diagnosticStore) publish(set DiagnosticSet) bool {
	if set.Version != nil && d.versionOf != nil {
		if current, ok := d.versionOf(set.URI); ok && *set.Version < current {
			return false
		}
	}
	set.Diagnostics = append([]protocol.Diagnostic(nil), set.Diagnostics...)

	d.mu.Lock()
	d.sets[set.URI] = set
	handlers := d.handlersLocked()
	d.mu.Unlock()

	for _, h := range handlers {
		h(copySet(set))
	}
	return true
}

// subscribe registers h and replays the current sets to it in uri order.
func (d *diagnosticStore) subscribe(h DiagnosticHandler) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = h
	d.order = append(d.order, id)

	uris := make([]string, 0, len(d.sets))
	for uri := range d.sets {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	replay := make([]DiagnosticSet, 0, len(uris))
	for _, uri := range uris {
		replay = append(replay, copySet(d.sets[uri]))
	}
	d.mu.Unlock()

	for _, set := range replay {
		h(set)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs, id)
			for i, sub := range d.order {
				if sub == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (d *diagnosticStore) get(uri string) (DiagnosticSet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[uri]
	if !ok {
		return DiagnosticSet{}, false
	}
	return copySet(set), true
}

func (d *diagnosticStore) handlersLocked() []DiagnosticHandler {
	handlers := make([]DiagnosticHandler, 0, len(d.order))
	for _, id := range d.order {
		handlers = append(handlers, d.subs[id])
	}
	return handlers
}

func copySet(set DiagnosticSet) DiagnosticSet {
	set.Diagnostics = append([]protocol.Diagnostic(nil), set.Diagnostics...)
	if set.Version != nil {
		v := *set.Version
		set.Version = &v
	}
	return set
}
