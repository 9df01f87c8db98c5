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
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

// DocumentPosition addresses a position in a specific document version.
type DocumentPosition struct {
	// URI is the document URI.
	URI string `validate:"required,uri"`

	// Version is the version the caller computed Line and Character against.
	Version int `validate:"gte=1"`

	// Line is 0-based.
	Line int `validate:"gte=0"`

	// Character is a 0-based UTF-16 code unit offset.
	Character int `validate:"gte=0"`
}

func (p DocumentPosition) params() protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: p.URI},
		Position:     protocol.Position{Line: p.Line, Character: p.Character},
	}
}

// =============================================================================
// TYPED OPERATIONS
// =============================================================================

// Hover requests hover information at a position.
//
// Description:
//
//	Requires a Ready session whose backend advertises hoverProvider. The
//	position must be valid against the stated version of a tracked
//	document. All hover content shapes are normalized to MarkupContent.
//
// Inputs:
//
//	ctx - Context for cancellation. Expiry cancels the request.
//	pos - Document position
//
// Outputs:
//
//	*protocol.Hover - Hover content, nil when the backend has none
//	error - ErrNotReady, ErrUnsupported, ErrUnknownDocument,
//	        ErrVersionMismatch, ErrBackend, ErrCancelled or ErrConnectionLost
//
// Thread Safety: Safe for concurrent use.
func (s *Session) Hover(ctx context.Context, pos DocumentPosition) (hover *protocol.Hover, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "Hover", s.id, pos.URI)
	defer func() { endOperationSpan(span, countOf(hover != nil), err) }()

	c, caps, err := s.ready(protocol.MethodHover)
	if err != nil {
		return nil, err
	}
	if !caps.HasHoverProvider() {
		return nil, &UnsupportedError{Method: protocol.MethodHover}
	}
	params, err := s.positionParams(pos)
	if err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, c, protocol.MethodHover, params)
	if err != nil {
		return nil, err
	}
	return protocol.ParseHover(raw)
}

// Definition requests the definition locations of the symbol at a position.
//
// Description:
//
//	Single locations, location arrays and location links are all returned
//	as a list of Locations. A null result is an empty list.
//
// Thread Safety: Safe for concurrent use.
func (s *Session) Definition(ctx context.Context, pos DocumentPosition) (locs []protocol.Location, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "Definition", s.id, pos.URI)
	defer func() { endOperationSpan(span, len(locs), err) }()

	c, caps, err := s.ready(protocol.MethodDefinition)
	if err != nil {
		return nil, err
	}
	if !caps.HasDefinitionProvider() {
		return nil, &UnsupportedError{Method: protocol.MethodDefinition}
	}
	params, err := s.positionParams(pos)
	if err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, c, protocol.MethodDefinition, params)
	if err != nil {
		return nil, err
	}
	return protocol.ParseLocations(raw)
}

// Completion requests completion items at a position. Bare item arrays are
// returned as a complete list.
//
// Thread Safety: Safe for concurrent use.
func (s *Session) Completion(ctx context.Context, pos DocumentPosition) (list *protocol.CompletionList, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "Completion", s.id, pos.URI)
	defer func() {
		n := 0
		if list != nil {
			n = len(list.Items)
		}
		endOperationSpan(span, n, err)
	}()

	c, caps, err := s.ready(protocol.MethodCompletion)
	if err != nil {
		return nil, err
	}
	if !caps.HasCompletionProvider() {
		return nil, &UnsupportedError{Method: protocol.MethodCompletion}
	}
	tdp, err := s.positionParams(pos)
	if err != nil {
		return nil, err
	}
	params := protocol.CompletionParams{
		TextDocumentPositionParams: tdp,
		Context:                    &protocol.CompletionContext{TriggerKind: 1},
	}

	raw, err := s.call(ctx, c, protocol.MethodCompletion, params)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCompletion(raw)
}

// ExecuteCommand runs a backend command.
//
// Description:
//
//	Requires executeCommandProvider. When the backend lists its commands,
//	command must be one of them. The backend may call back with
//	workspace/applyEdit while the command runs.
//
// Inputs:
//
//	ctx - Context for cancellation
//	command - Command name
//	args - Arguments, each marshaled to JSON
//
// Outputs:
//
//	json.RawMessage - The command result, as sent
//	error - Non-nil on failure
//
// Thread Safety: Safe for concurrent use.
func (s *Session) ExecuteCommand(ctx context.Context, command string, args ...any) (result json.RawMessage, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "ExecuteCommand", s.id, "")
	defer func() { endOperationSpan(span, countOf(result != nil), err) }()

	c, caps, err := s.ready(protocol.MethodExecuteCommand)
	if err != nil {
		return nil, err
	}
	if !caps.HasExecuteCommandProvider() {
		return nil, &UnsupportedError{Method: protocol.MethodExecuteCommand}
	}
	if !caps.SupportsCommand(command) {
		return nil, &UnsupportedError{Method: protocol.MethodExecuteCommand + " " + command}
	}

	params := protocol.ExecuteCommandParams{Command: command}
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("marshal argument %d: %w", i, err)
		}
		params.Arguments = append(params.Arguments, data)
	}
	if err := protocol.Validate(params); err != nil {
		return nil, err
	}

	return s.call(ctx, c, protocol.MethodExecuteCommand, params)
}

// positionParams checks pos against the document store.
func (s *Session) positionParams(pos DocumentPosition) (protocol.TextDocumentPositionParams, error) {
	if err := protocol.Validate(pos); err != nil {
		return protocol.TextDocumentPositionParams{}, err
	}
	if err := s.docs.CheckPosition(pos.URI, pos.Version, protocol.Position{Line: pos.Line, Character: pos.Character}); err != nil {
		return protocol.TextDocumentPositionParams{}, err
	}
	return pos.params(), nil
}

func countOf(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// OpenDocument starts tracking a document at version 1. An empty languageID
// uses Config.LanguageID. Before Ready the didOpen is buffered.
func (s *Session) OpenDocument(ctx context.Context, uri, languageID, text string) (docsync.Document, error) {
	if languageID == "" {
		languageID = s.cfg.LanguageID
	}
	return s.docs.Open(ctx, uri, languageID, text)
}

// ChangeDocument applies changes atomically and bumps the version by one.
func (s *Session) ChangeDocument(ctx context.Context, uri string, changes ...protocol.TextDocumentContentChangeEvent) (docsync.Document, error) {
	return s.docs.Change(ctx, uri, changes...)
}

// SaveDocument sends didSave when the backend asked for it.
func (s *Session) SaveDocument(ctx context.Context, uri string) error {
	return s.docs.Save(ctx, uri)
}

// CloseDocument stops tracking a document.
func (s *Session) CloseDocument(ctx context.Context, uri string) error {
	return s.docs.Close(ctx, uri)
}

// Document returns a snapshot of a tracked document.
func (s *Session) Document(uri string) (docsync.Document, bool) {
	return s.docs.Get(uri)
}

// Documents lists tracked document URIs in sorted order.
func (s *Session) Documents() []string {
	return s.docs.URIs()
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// SubscribeDiagnostics registers fn for diagnostics. The current sets are
// replayed to fn before it returns. The returned func unsubscribes.
//
// Outputs:
//
//	func() - Unsubscribe; safe to call more than once
//	error - ErrNotReady unless the session is Ready
func (s *Session) SubscribeDiagnostics(fn DiagnosticHandler) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}
	if _, _, err := s.ready("subscribeDiagnostics"); err != nil {
		return nil, err
	}
	return s.diags.subscribe(fn), nil
}

// Diagnostics returns the latest set for uri.
func (s *Session) Diagnostics(uri string) (DiagnosticSet, bool) {
	return s.diags.get(uri)
}

// OnNotification adds a handler for an inbound notification the session
// does not consume itself. Handlers added after Start take effect at once.
func (s *Session) OnNotification(method string, h conn.NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[method] = append(s.extra[method], h)
	if s.conn != nil {
		s.conn.OnNotification(method, h)
	}
}
