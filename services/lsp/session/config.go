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
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultInitializeTimeout = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultClientName        = "sollsp"
	DefaultLanguageID        = "solidity"
)

// Config configures a Session.
type Config struct {
	// Transport selects and parameterises the backend connection.
	Transport transport.Config `yaml:"transport" json:"transport"`

	// RootURI is the workspace root sent in initialize. Empty sends null.
	RootURI string `yaml:"root_uri" json:"root_uri" validate:"omitempty,uri"`

	// WorkspaceName names the single workspace folder. Defaults to RootURI.
	WorkspaceName string `yaml:"workspace_name" json:"workspace_name"`

	// ClientName and ClientVersion are sent as clientInfo.
	ClientName    string `yaml:"client_name" json:"client_name"`
	ClientVersion string `yaml:"client_version" json:"client_version"`

	// LanguageID is used for documents opened without one.
	LanguageID string `yaml:"language_id" json:"language_id"`

	// InitializeTimeout bounds the initialize handshake.
	InitializeTimeout time.Duration `yaml:"initialize_timeout" json:"initialize_timeout" validate:"gte=0"`

	// RequestTimeout bounds each typed operation unless ctx is shorter.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gte=0"`

	// ShutdownTimeout bounds the drain and shutdown handshake.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`

	// MaxOutstanding caps concurrent requests.
	MaxOutstanding int `yaml:"max_outstanding" json:"max_outstanding" validate:"gte=0"`

	// Trace is the initial trace level: off, messages or verbose.
	Trace string `yaml:"trace" json:"trace" validate:"omitempty,oneof=off messages verbose"`

	// InitializationOptions are passed through to the backend.
	InitializationOptions any `yaml:"initialization_options" json:"initialization_options"`
}

var validate = validator.New()

// Validate checks the configuration, including the transport.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return nil
}

// validateWithoutTransport is used when a StreamOpener replaces the
// transport configuration.
func (c Config) validateWithoutTransport() error {
	if err := validate.StructExcept(c, "Transport"); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.LanguageID == "" {
		c.LanguageID = DefaultLanguageID
	}
	if c.InitializeTimeout == 0 {
		c.InitializeTimeout = DefaultInitializeTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.WorkspaceName == "" {
		c.WorkspaceName = c.RootURI
	}
	return c
}

// =============================================================================
// OPTIONS
// =============================================================================

// StreamOpener opens the stream to the backend. The default opens
// Config.Transport with transport.Open.
type StreamOpener func(ctx context.Context) (transport.Stream, error)

// MessageHandler receives window/logMessage and window/showMessage.
type MessageHandler func(show bool, typ protocol.MessageType, message string)

// EditApplier handles workspace/applyEdit instead of the document store.
type EditApplier func(ctx context.Context, edit protocol.WorkspaceEdit) (protocol.ApplyWorkspaceEditResult, error)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreamOpener replaces transport.Open, e.g. with an in-process backend.
func WithStreamOpener(open StreamOpener) Option {
	return func(s *Session) {
		s.open = open
	}
}

// WithMessageHandler forwards backend log and show messages to the host.
func WithMessageHandler(h MessageHandler) Option {
	return func(s *Session) {
		s.onMessage = h
	}
}

// WithEditApplier lets the host apply workspace edits.
func WithEditApplier(a EditApplier) Option {
	return func(s *Session) {
		s.applyEdit = a
	}
}
