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
	"log/slog"
	"sort"

	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

// registerHandlers installs the handlers for backend-initiated messages.
func (s *Session) registerHandlers(c *conn.Conn) {
	c.OnNotification(protocol.MethodPublishDiagnostics, s.handleDiagnostics)
	c.OnNotification(protocol.MethodLogMessage, func(_ context.Context, params json.RawMessage) {
		s.handleMessage(false, params)
	})
	c.OnNotification(protocol.MethodShowMessage, func(_ context.Context, params json.RawMessage) {
		s.handleMessage(true, params)
	})

	c.OnRequest(protocol.MethodApplyEdit, s.handleApplyEdit)
	c.OnRequest(protocol.MethodConfiguration, handleConfiguration)
	c.OnRequest(protocol.MethodRegisterCapability, acknowledge)
	c.OnRequest(protocol.MethodUnregisterCapability, acknowledge)
}

func (s *Session) handleDiagnostics(ctx context.Context, params json.RawMessage) {
	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("Dropping malformed diagnostics", slog.String("error", err.Error()))
		return
	}
	if p.URI == "" {
		s.logger.Warn("Dropping diagnostics without uri")
		return
	}
	if p.Diagnostics == nil {
		p.Diagnostics = []protocol.Diagnostic{}
	}

	accepted := s.diags.publish(DiagnosticSet{URI: p.URI, Version: p.Version, Diagnostics: p.Diagnostics})
	if !accepted {
		attrs := []any{slog.String("uri", p.URI)}
		if p.Version != nil {
			attrs = append(attrs, slog.Int("version", *p.Version))
		}
		s.logger.Debug("Dropping stale diagnostics", attrs...)
		return
	}
	recordDiagnostics(ctx, len(p.Diagnostics))
}

func (s *Session) handleMessage(show bool, params json.RawMessage) {
	var p protocol.LogMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Debug("Dropping malformed message", slog.String("error", err.Error()))
		return
	}

	level := slog.LevelDebug
	switch p.Type {
	case protocol.MessageError:
		level = slog.LevelError
	case protocol.MessageWarning:
		level = slog.LevelWarn
	case protocol.MessageInfo:
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "backend: "+p.Message,
		slog.Bool("show", show),
		slog.String("type", p.Type.String()),
	)

	if s.onMessage != nil {
		s.onMessage(show, p.Type, p.Message)
	}
}

// handleApplyEdit answers workspace/applyEdit. Without an EditApplier the
// edit is applied to the tracked documents, which re-syncs them with the
// backend.
func (s *Session) handleApplyEdit(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.ApplyWorkspaceEditParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	}

	if s.applyEdit != nil {
		return s.applyEdit(ctx, p.Edit)
	}

	if err := s.applyWorkspaceEdit(ctx, p.Edit); err != nil {
		s.logger.Warn("Rejected workspace edit",
			slog.String("label", p.Label),
			slog.String("error", err.Error()),
		)
		return protocol.ApplyWorkspaceEditResult{Applied: false, FailureReason: err.Error()}, nil
	}
	s.logger.Info("Applied workspace edit", slog.String("label", p.Label))
	return protocol.ApplyWorkspaceEditResult{Applied: true}, nil
}

// applyWorkspaceEdit applies versioned document changes when present,
// otherwise the unversioned changes in uri order. Versions are checked for
// every document before any edit is applied.
func (s *Session) applyWorkspaceEdit(ctx context.Context, edit protocol.WorkspaceEdit) error {
	if len(edit.DocumentChanges) > 0 {
		for _, dc := range edit.DocumentChanges {
			if dc.TextDocument.Version == nil {
				continue
			}
			if err := s.docs.Check(dc.TextDocument.URI, *dc.TextDocument.Version); err != nil {
				return err
			}
		}
		for _, dc := range edit.DocumentChanges {
			if _, err := s.docs.ApplyEdits(ctx, dc.TextDocument.URI, dc.TextDocument.Version, dc.Edits); err != nil {
				return fmt.Errorf("%s: %w", dc.TextDocument.URI, err)
			}
		}
		return nil
	}

	uris := make([]string, 0, len(edit.Changes))
	for uri := range edit.Changes {
		if _, ok := s.docs.Get(uri); !ok {
			return fmt.Errorf("%s: %w", uri, ErrUnknownDocument)
		}
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		if _, err := s.docs.ApplyEdits(ctx, uri, nil, edit.Changes[uri]); err != nil {
			return fmt.Errorf("%s: %w", uri, err)
		}
	}
	return nil
}

// handleConfiguration answers workspace/configuration with null for every
// requested section.
func handleConfiguration(_ context.Context, params json.RawMessage) (any, error) {
	var p protocol.ConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	}
	return make([]any, len(p.Items)), nil
}

func acknowledge(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}
