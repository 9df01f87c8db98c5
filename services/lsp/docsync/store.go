// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docsync tracks the text and version of open documents and emits
// the matching textDocument notifications.
//
// # Versioning
//
// A document opens at version 1. Every Change or ApplyEdits call increments
// the version by exactly one, however many content changes it carries.
//
// # Buffering
//
// Until the store is attached to a Sink (the session reaching Ready),
// notifications are queued in call order. Attach flushes the queue before
// any new notification is sent, so changes for a uri are never reordered.
// After Detach nothing is emitted or queued.
package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

// Sink receives document notifications. *conn.Conn satisfies it.
type Sink interface {
	Notify(ctx context.Context, method string, params any) error
}

// Document is a snapshot of one open document.
type Document struct {
	URI        string
	LanguageID string
	Version    int
	Text       string
}

// eventKind is the notification an event turns into.
type eventKind int

const (
	eventOpen eventKind = iota
	eventChange
	eventSave
	eventClose
)

// event is a mutation recorded before the sync options are known. It keeps
// both the patches and the resulting text so it can be emitted in any sync
// mode.
type event struct {
	kind    eventKind
	doc     Document
	changes []protocol.TextDocumentContentChangeEvent
}

// Store owns the documents of one session.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Emission happens under the
//	store lock so notifications leave in mutation order.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*Document
	sink     Sink
	opts     protocol.TextDocumentSyncOptions
	queue    []event
	detached bool
	logger   *slog.Logger
}

// NewStore creates an empty, unattached store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:   make(map[string]*Document),
		logger: logger,
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Open starts tracking uri at version 1 and emits didOpen.
//
// Outputs:
//
//	Document - The new snapshot
//	error - ErrAlreadyOpen, or the emission error
func (s *Store) Open(ctx context.Context, uri, languageID, text string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[uri]; ok {
		return Document{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, uri)
	}
	doc := &Document{URI: uri, LanguageID: languageID, Version: 1, Text: text}
	s.docs[uri] = doc
	return *doc, s.emit(ctx, event{kind: eventOpen, doc: *doc})
}

// Change applies content changes in order and emits one didChange.
//
// Description:
//
//	A change with a nil Range replaces the whole text; otherwise its Range
//	is resolved in UTF-16 units against the text produced by the previous
//	change. On any invalid range the document is left untouched.
//
// Outputs:
//
//	Document - The new snapshot
//	error - ErrUnknownDocument, ErrEmptyChange, ErrInvalidRange, or the
//	        emission error
func (s *Store) Change(ctx context.Context, uri string, changes ...protocol.TextDocumentContentChangeEvent) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return Document{}, unknown(uri)
	}
	if len(changes) == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrEmptyChange, uri)
	}

	text := doc.Text
	for _, change := range changes {
		next, err := applyChange(text, change)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", uri, err)
		}
		text = next
	}
	doc.Text = text
	doc.Version++

	return *doc, s.emit(ctx, event{
		kind:    eventChange,
		doc:     *doc,
		changes: append([]protocol.TextDocumentContentChangeEvent(nil), changes...),
	})
}

// ApplyEdits applies a workspace edit's text edits to uri as one change.
//
// Inputs:
//
//	version - When non-nil, the document version the edits were computed for
//	edits - Non-overlapping edits against the current text
func (s *Store) ApplyEdits(ctx context.Context, uri string, version *int, edits []protocol.TextEdit) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return Document{}, unknown(uri)
	}
	if version != nil && *version != doc.Version {
		return Document{}, &VersionMismatchError{URI: uri, Current: doc.Version, Requested: *version}
	}
	if len(edits) == 0 {
		return *doc, nil
	}

	text, changes, err := applyEdits(doc.Text, edits)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", uri, err)
	}
	doc.Text = text
	doc.Version++

	return *doc, s.emit(ctx, event{kind: eventChange, doc: *doc, changes: changes})
}

// Save emits didSave for uri.
func (s *Store) Save(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return unknown(uri)
	}
	return s.emit(ctx, event{kind: eventSave, doc: *doc})
}

// Close stops tracking uri and emits didClose.
func (s *Store) Close(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return unknown(uri)
	}
	delete(s.docs, uri)
	return s.emit(ctx, event{kind: eventClose, doc: *doc})
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns the current snapshot of uri.
func (s *Store) Get(uri string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Version returns the current version of uri.
func (s *Store) Version(uri string) (int, bool) {
	doc, ok := s.Get(uri)
	return doc.Version, ok
}

// Check verifies that uri is open at version.
//
// Outputs:
//
//	error - ErrUnknownDocument or *VersionMismatchError
func (s *Store) Check(uri string, version int) error {
	current, ok := s.Version(uri)
	if !ok {
		return unknown(uri)
	}
	if current != version {
		return &VersionMismatchError{URI: uri, Current: current, Requested: version}
	}
	return nil
}

// CheckPosition verifies uri is open at version and pos lies inside it.
func (s *Store) CheckPosition(uri string, version int, pos protocol.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return unknown(uri)
	}
	if doc.Version != version {
		return &VersionMismatchError{URI: uri, Current: doc.Version, Requested: version}
	}
	if _, err := offsetOf(doc.Text, lineStarts(doc.Text), pos); err != nil {
		return fmt.Errorf("%s: %w", uri, err)
	}
	return nil
}

// URIs returns the open uris in sorted order.
func (s *Store) URIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Pending returns the number of queued notifications.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// =============================================================================
// EMISSION
// =============================================================================

// Attach starts emitting to sink, first flushing queued notifications in
// order.
//
// Outputs:
//
//	error - The first flush failure. Unsent notifications stay queued.
func (s *Store) Attach(ctx context.Context, sink Sink, opts protocol.TextDocumentSyncOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return ErrDetached
	}
	s.opts = opts

	for len(s.queue) > 0 {
		if err := s.send(ctx, sink, s.queue[0]); err != nil {
			return fmt.Errorf("flush document notifications: %w", err)
		}
		s.queue = s.queue[1:]
	}
	s.sink = sink

	s.logger.Debug("document store attached",
		slog.Bool("open_close", opts.OpenClose),
		slog.String("change", opts.Change.String()),
		slog.Bool("save", opts.Save),
	)
	return nil
}

// Detach stops all emission. Queued notifications are dropped.
func (s *Store) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.queue); n > 0 {
		s.logger.Debug("dropping queued document notifications", slog.Int("count", n))
	}
	s.sink = nil
	s.queue = nil
	s.detached = true
}

// emit sends or queues ev. Caller holds s.mu.
func (s *Store) emit(ctx context.Context, ev event) error {
	switch {
	case s.detached:
		return nil
	case s.sink == nil:
		s.queue = append(s.queue, ev)
		return nil
	}
	return s.send(ctx, s.sink, ev)
}

// send converts ev into the notification the sync options call for.
func (s *Store) send(ctx context.Context, sink Sink, ev event) error {
	id := protocol.TextDocumentIdentifier{URI: ev.doc.URI}

	switch ev.kind {
	case eventOpen:
		if !s.opts.OpenClose {
			return nil
		}
		return sink.Notify(ctx, protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        ev.doc.URI,
				LanguageID: ev.doc.LanguageID,
				Version:    ev.doc.Version,
				Text:       ev.doc.Text,
			},
		})

	case eventChange:
		var changes []protocol.TextDocumentContentChangeEvent
		switch s.opts.Change {
		case protocol.SyncIncremental:
			changes = ev.changes
		case protocol.SyncFull:
			changes = []protocol.TextDocumentContentChangeEvent{{Text: ev.doc.Text}}
		default:
			return nil
		}
		return sink.Notify(ctx, protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
			TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: ev.doc.URI, Version: ev.doc.Version},
			ContentChanges: changes,
		})

	case eventSave:
		if !s.opts.Save {
			return nil
		}
		params := protocol.DidSaveTextDocumentParams{TextDocument: id}
		if s.opts.IncludeText {
			text := ev.doc.Text
			params.Text = &text
		}
		return sink.Notify(ctx, protocol.MethodDidSave, params)

	case eventClose:
		if !s.opts.OpenClose {
			return nil
		}
		return sink.Notify(ctx, protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{TextDocument: id})
	}
	return nil
}
