// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements the client side of an LSP session.
//
// # Overview
//
// A Session owns one backend connection, its transport and its document
// store. It performs the initialize handshake, gates typed operations on the
// negotiated capabilities, routes inbound diagnostics, messages and edits,
// and shuts the backend down with a bounded drain.
//
// # State Machine
//
//	Unstarted → Initializing → Ready → ShuttingDown → Closed
//	any non-Closed state → Failed (terminal)
//
// Only initialize is sent while Initializing. Document notifications issued
// before Ready are buffered and flushed once the handshake completes.
// Failed sessions do not recover; construct a new Session to retry.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/telemetry"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

// Session is one client session with a language backend.
type Session struct {
	id        string
	cfg       Config
	logger    *slog.Logger
	open      StreamOpener
	onMessage MessageHandler
	applyEdit EditApplier

	docs  *docsync.Store
	diags *diagnosticStore

	mu         sync.Mutex
	state      State
	conn       *conn.Conn
	caps       *protocol.ServerCapabilities
	serverInfo *protocol.ServerInfo
	fatal      error
	lost       error
	extra      map[string][]conn.NotificationHandler
	runDone    chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an unstarted session.
//
// Description:
//
//	Validates cfg, applies defaults and assigns a session id. Nothing is
//	launched until Start.
//
// Inputs:
//
//	cfg - Session configuration. Transport may be empty when
//	      WithStreamOpener is given.
//	opts - Optional settings
//
// Outputs:
//
//	*Session - The session in state Unstarted
//	error - Non-nil if cfg is invalid
func New(cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		logger: slog.Default(),
		extra:  make(map[string][]conn.NotificationHandler),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.open == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else if err := cfg.validateWithoutTransport(); err != nil {
		return nil, err
	}

	s.cfg = cfg.withDefaults()
	s.id = uuid.NewString()
	s.logger = s.logger.With(slog.String("session_id", s.id))
	if s.open == nil {
		tc := s.cfg.Transport
		s.open = func(ctx context.Context) (transport.Stream, error) {
			return transport.Open(ctx, tc, s.logger)
		}
	}
	s.docs = docsync.NewStore(s.logger)
	s.diags = newDiagnosticStore(s.docs.Version)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: the fatal error of a Failed session or
// the ConnectionLost cause of a lost one. Nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	return s.lost
}

// Capabilities returns the negotiated server capabilities. The second value
// is false before the handshake completed.
func (s *Session) Capabilities() (protocol.ServerCapabilities, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps == nil {
		return protocol.ServerCapabilities{}, false
	}
	return *s.caps, true
}

// ServerInfo returns the backend's self-description, if it sent one.
func (s *Session) ServerInfo() (protocol.ServerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverInfo == nil {
		return protocol.ServerInfo{}, false
	}
	return *s.serverInfo, true
}

// Outstanding returns the number of requests awaiting a response.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.Outstanding()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start connects to the backend and performs the initialize handshake.
//
// Description:
//
//	Opens the transport, starts the connection reader, sends initialize and
//	waits up to InitializeTimeout for a result carrying capabilities. Then
//	sends initialized, flushes buffered document notifications and enters
//	Ready. Any failure moves the session to Failed.
//
// Outputs:
//
//	error - *transport.StartupError on launch, timeout or handshake failure;
//	        a protocol error for a result without capabilities or a Start
//	        outside Unstarted
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.mu.Lock()
	if s.state != StateUnstarted {
		st := s.state
		s.mu.Unlock()
		return invalidState("start", st)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	s.logger.Info("Starting session",
		slog.String("transport", string(s.cfg.Transport.Kind)),
		slog.String("target", s.cfg.Transport.Target()),
	)

	err := s.start(ctx)
	recordSessionStart(ctx, string(s.cfg.Transport.Kind), err)
	if err != nil {
		s.fail(err)
		return err
	}

	info, _ := s.ServerInfo()
	s.logger.Info("Session ready",
		slog.String("server", info.Name),
		slog.String("server_version", info.Version),
	)
	return nil
}

func (s *Session) start(ctx context.Context) error {
	stream, err := s.open(ctx)
	if err != nil {
		return s.startupError(err)
	}

	c := conn.New(stream,
		conn.WithLogger(s.logger),
		conn.WithMaxOutstanding(s.cfg.MaxOutstanding),
		conn.WithProtocolErrorHandler(s.onProtocolError),
	)
	s.registerHandlers(c)

	s.mu.Lock()
	for method, hs := range s.extra {
		for _, h := range hs {
			c.OnNotification(method, h)
		}
	}
	s.conn = c
	s.runDone = make(chan struct{})
	runDone := s.runDone
	s.mu.Unlock()

	go func() {
		err := c.Run(context.Background())
		close(runDone)
		s.onConnClosed(err)
	}()

	params := s.initializeParams()
	if err := protocol.Validate(params); err != nil {
		return s.startupError(err)
	}

	ictx, cancel := context.WithTimeout(ctx, s.cfg.InitializeTimeout)
	defer cancel()

	raw, err := s.call(ictx, c, protocol.MethodInitialize, params)
	if err != nil {
		return s.startupError(fmt.Errorf("initialize: %w", err))
	}

	var res protocol.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return &conn.ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}
	if res.Capabilities == nil {
		return &conn.ProtocolError{Reason: "initialize result without capabilities"}
	}

	if err := c.Notify(ctx, protocol.MethodInitialized, struct{}{}); err != nil {
		return s.startupError(fmt.Errorf("initialized: %w", err))
	}
	if err := s.docs.Attach(ctx, c, res.Capabilities.SyncOptions()); err != nil {
		return s.startupError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		return invalidState("start", s.state)
	}
	if err := c.Err(); err != nil {
		return s.startupError(err)
	}
	s.caps = res.Capabilities
	s.serverInfo = res.ServerInfo
	s.state = StateReady
	return nil
}

func (s *Session) initializeParams() protocol.InitializeParams {
	pid := os.Getpid()
	params := protocol.InitializeParams{
		ProcessID:             &pid,
		ClientInfo:            &protocol.ClientInfo{Name: s.cfg.ClientName, Version: s.cfg.ClientVersion},
		Capabilities:          clientCapabilities(),
		InitializationOptions: s.cfg.InitializationOptions,
		Trace:                 s.cfg.Trace,
	}
	if s.cfg.RootURI != "" {
		root := s.cfg.RootURI
		params.RootURI = &root
		params.WorkspaceFolders = []protocol.WorkspaceFolder{{URI: root, Name: s.cfg.WorkspaceName}}
	}
	return params
}

func clientCapabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		TextDocument: protocol.TextDocumentClientCapabilities{
			Synchronization: &protocol.TextDocumentSyncClientCapabilities{DidSave: true},
			Hover: &protocol.HoverClientCapabilities{
				ContentFormat: []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
			},
			Definition: &protocol.DefinitionClientCapabilities{LinkSupport: true},
			Completion: &protocol.CompletionClientCapabilities{
				CompletionItem: &protocol.CompletionItemCapabilities{
					DocumentationFormat: []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
				},
			},
			PublishDiagnostics: &protocol.PublishDiagnosticsCapabilities{VersionSupport: true},
		},
		Workspace: protocol.WorkspaceClientCapabilities{
			ApplyEdit:      true,
			WorkspaceEdit:  &protocol.WorkspaceEditClientCapabilities{DocumentChanges: true},
			ExecuteCommand: &protocol.ExecuteCommandClientCapabilities{},
			Configuration:  true,
		},
	}
}

// startupError wraps err as a StartupError unless it already is one.
func (s *Session) startupError(err error) error {
	if errors.Is(err, ErrStartup) {
		return err
	}
	return &transport.StartupError{Kind: s.cfg.Transport.Kind, Target: s.cfg.Transport.Target(), Err: err}
}

// Shutdown ends a Ready session.
//
// Description:
//
//	Stops new operations, waits for outstanding requests, sends shutdown
//	and exit, and closes the transport. The whole sequence is bounded by
//	ShutdownTimeout; when the drain times out the handshake is skipped and
//	remaining requests resolve with ConnectionLost. The session is Closed on
//	return in every case except a Shutdown during Initializing.
//
// Outputs:
//
//	error - The drain or handshake failure, if any
func (s *Session) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.mu.Lock()
	switch s.state {
	case StateUnstarted:
		s.state = StateClosed
		s.mu.Unlock()
		s.docs.Detach()
		s.finish()
		return nil
	case StateInitializing:
		s.mu.Unlock()
		return notReady("shutdown", StateInitializing)
	case StateShuttingDown:
		s.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateClosed, StateFailed:
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	c := s.conn
	runDone := s.runDone
	s.mu.Unlock()

	s.logger.Info("Shutting down session", slog.Int("outstanding", c.Outstanding()))

	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if derr := c.Drain(sctx); derr != nil {
		s.logger.Warn("Drain timed out, closing with requests outstanding",
			slog.Int("outstanding", c.Outstanding()),
		)
		err = fmt.Errorf("drain: %w", derr)
	} else if serr := c.Request(sctx, protocol.MethodShutdown, nil, nil); serr != nil {
		s.logger.Warn("Shutdown request failed", slog.String("error", serr.Error()))
		err = fmt.Errorf("shutdown: %w", mapError(protocol.MethodShutdown, jsonrpc.ID{}, serr))
	} else if nerr := c.Notify(sctx, protocol.MethodExit, nil); nerr != nil {
		err = fmt.Errorf("exit: %w", nerr)
	}

	s.docs.Detach()
	_ = c.Close(nil)
	<-runDone

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.finish()

	s.logger.Info("Session closed")
	return err
}

// fail moves the session to Failed and tears the connection down.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateFailed
	s.fatal = err
	c := s.conn
	s.mu.Unlock()

	s.logger.Error("Session failed",
		slog.String("from_state", from.String()),
		slog.String("error", err.Error()),
	)
	if c != nil {
		_ = c.Close(err)
	}
	s.docs.Detach()
	s.finish()
}

// onProtocolError runs on the reader goroutine.
func (s *Session) onProtocolError(perr *conn.ProtocolError) {
	go s.fail(perr)
}

// onConnClosed runs once the connection reader has stopped.
func (s *Session) onConnClosed(err error) {
	s.mu.Lock()
	if s.state != StateReady {
		// Start, Shutdown and fail own the other transitions.
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.lost = err
	s.mu.Unlock()

	s.logger.Warn("Backend connection lost", slog.String("error", fmt.Sprint(err)))
	s.docs.Detach()
	s.finish()
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// ready returns the connection if typed operations are allowed.
func (s *Session) ready(op string) (*conn.Conn, *protocol.ServerCapabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return s.conn, s.caps, nil
	case StateFailed:
		return nil, nil, fmt.Errorf("%s: session failed: %w", op, s.fatal)
	case StateClosed:
		if s.lost != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, s.lost)
		}
	}
	return nil, nil, notReady(op, s.state)
}

// call sends one request bounded by RequestTimeout and maps its error.
func (s *Session) call(ctx context.Context, c *conn.Conn, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout(method))
	defer cancel()

	start := time.Now()
	trackOutstanding(ctx, 1)
	defer trackOutstanding(ctx, -1)

	pending, err := c.Go(ctx, method, params)
	if err != nil {
		recordRequestMetrics(ctx, method, time.Since(start), err)
		return nil, err
	}
	raw, err := pending.Wait(ctx)
	if err != nil {
		err = mapError(method, pending.ID(), err)
	}
	recordRequestMetrics(ctx, method, time.Since(start), err)

	telemetry.LoggerWithTrace(ctx, s.logger).Debug("request completed",
		slog.String("method", method),
		slog.String("id", pending.ID().String()),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("success", err == nil),
	)
	return raw, err
}

func (s *Session) requestTimeout(method string) time.Duration {
	if method == protocol.MethodInitialize {
		return s.cfg.InitializeTimeout
	}
	return s.cfg.RequestTimeout
}
