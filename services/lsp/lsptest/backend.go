// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsptest provides a scriptable language backend for tests.
//
// The backend speaks the real wire protocol through the conn package. It
// runs in-process over net.Pipe (Start) or as a subprocess: a test binary
// whose TestMain calls RunFromEnv can re-exec itself as the backend with
// SubprocessConfig.
package lsptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

// EnvScript carries the JSON Script of a re-exec'd backend.
const EnvScript = "SOLLSP_STUB_SCRIPT"

// Script describes how the backend behaves.
type Script struct {
	// Capabilities is the initialize result capabilities. Empty uses
	// DefaultCapabilities.
	Capabilities json.RawMessage `json:"capabilities,omitempty"`

	// OmitCapabilities answers initialize without a capabilities member.
	OmitCapabilities bool `json:"omitCapabilities,omitempty"`

	// IgnoreInitialize never answers initialize.
	IgnoreInitialize bool `json:"ignoreInitialize,omitempty"`

	// ServerInfo is returned from initialize.
	ServerInfo *protocol.ServerInfo `json:"serverInfo,omitempty"`

	// LogMessages are sent as window/logMessage after initialized.
	LogMessages []string `json:"logMessages,omitempty"`

	// Diagnostics are published after initialized.
	Diagnostics []protocol.PublishDiagnosticsParams `json:"diagnostics,omitempty"`

	// HoverText answers textDocument/hover as a bare MarkedString. Empty
	// answers null.
	HoverText string `json:"hoverText,omitempty"`

	// Definition answers textDocument/definition.
	Definition []protocol.Location `json:"definition,omitempty"`

	// Completion labels answer textDocument/completion as a bare array.
	Completion []string `json:"completion,omitempty"`

	// ApplyEdit is sent as workspace/applyEdit when a command is executed;
	// the command result is the client's answer.
	ApplyEdit *protocol.ApplyWorkspaceEditParams `json:"applyEdit,omitempty"`

	// Errors answers the named methods with the given error.
	Errors map[string]*jsonrpc.Error `json:"errors,omitempty"`

	// Hang lists methods that are never answered.
	Hang []string `json:"hang,omitempty"`

	// CrashOn makes the backend die abruptly when the method arrives.
	CrashOn string `json:"crashOn,omitempty"`

	// Delay is applied before every response.
	Delay time.Duration `json:"delay,omitempty"`
}

// DefaultCapabilities is used when Script.Capabilities is empty.
var DefaultCapabilities = json.RawMessage(`{
	"textDocumentSync": 2,
	"hoverProvider": true,
	"definitionProvider": true,
	"completionProvider": {"resolveProvider": false},
	"executeCommandProvider": {"commands": ["slang-ex.applyedit"]}
}`)

// Received is one message the backend got from the client.
type Received struct {
	Method string
	Params json.RawMessage
}

// Backend is a running stub backend.
type Backend struct {
	script Script
	logger *slog.Logger
	crash  func()

	mu       sync.Mutex
	received []Received
	conn     *conn.Conn
	ready    chan struct{}
	readyOne sync.Once
}

// NewBackend creates a backend for script.
func NewBackend(script Script) *Backend {
	return &Backend{
		script: script,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ready:  make(chan struct{}),
	}
}

// Serve runs the backend over rw until the client exits, the stream fails,
// or ctx ends.
func Serve(ctx context.Context, rw io.ReadWriteCloser, script Script) error {
	return NewBackend(script).Serve(ctx, rw)
}

// Serve runs the backend over rw.
func (b *Backend) Serve(ctx context.Context, rw io.ReadWriteCloser) error {
	c := conn.New(rw, conn.WithLogger(b.logger))
	b.mu.Lock()
	b.conn = c
	if b.crash == nil {
		b.crash = func() { _ = c.Close(errors.New("backend crashed")) }
	}
	b.mu.Unlock()

	b.register(c)
	err := c.Run(ctx)
	if errors.Is(err, transport.ErrConnectionLost) {
		return nil
	}
	return err
}

// Initialized is closed once the client sent initialized.
func (b *Backend) Initialized() <-chan struct{} {
	return b.ready
}

// Received returns the messages received so far, in arrival order for
// notifications.
func (b *Backend) Received() []Received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Received(nil), b.received...)
}

// Methods returns the methods of Received.
func (b *Backend) Methods() []string {
	rs := b.Received()
	methods := make([]string, 0, len(rs))
	for _, r := range rs {
		methods = append(methods, r.Method)
	}
	return methods
}

// Notify sends a notification to the client.
func (b *Backend) Notify(ctx context.Context, method string, params any) error {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return fmt.Errorf("backend not serving")
	}
	return c.Notify(ctx, method, params)
}

// Kill drops the connection without any protocol exchange.
func (b *Backend) Kill() {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c != nil {
		_ = c.Close(errors.New("backend killed"))
	}
}

func (b *Backend) record(method string, params json.RawMessage) {
	b.mu.Lock()
	b.received = append(b.received, Received{Method: method, Params: params})
	b.mu.Unlock()
}

func (b *Backend) hangs(method string) bool {
	for _, m := range b.script.Hang {
		if m == method {
			return true
		}
	}
	return false
}

// =============================================================================
// HANDLERS
// =============================================================================

func (b *Backend) register(c *conn.Conn) {
	request := func(method string, answer func(ctx context.Context, params json.RawMessage) (any, error)) {
		c.OnRequest(method, func(ctx context.Context, params json.RawMessage) (any, error) {
			b.record(method, params)
			if method == b.script.CrashOn {
				b.crash()
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if b.hangs(method) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if b.script.Delay > 0 {
				select {
				case <-time.After(b.script.Delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if rpcErr, ok := b.script.Errors[method]; ok {
				return nil, rpcErr
			}
			return answer(ctx, params)
		})
	}

	request(protocol.MethodInitialize, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if b.script.IgnoreInitialize {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if b.script.OmitCapabilities {
			return map[string]any{"serverInfo": b.script.ServerInfo}, nil
		}
		caps := b.script.Capabilities
		if len(caps) == 0 {
			caps = DefaultCapabilities
		}
		return map[string]any{"capabilities": caps, "serverInfo": b.script.ServerInfo}, nil
	})

	request(protocol.MethodShutdown, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	request(protocol.MethodHover, func(context.Context, json.RawMessage) (any, error) {
		if b.script.HoverText == "" {
			return nil, nil
		}
		return map[string]any{"contents": b.script.HoverText}, nil
	})

	request(protocol.MethodDefinition, func(context.Context, json.RawMessage) (any, error) {
		return b.script.Definition, nil
	})

	request(protocol.MethodCompletion, func(context.Context, json.RawMessage) (any, error) {
		items := make([]protocol.CompletionItem, 0, len(b.script.Completion))
		for _, label := range b.script.Completion {
			items = append(items, protocol.CompletionItem{Label: label, Kind: protocol.CompletionKindText})
		}
		return items, nil
	})

	request(protocol.MethodExecuteCommand, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if b.script.ApplyEdit == nil {
			return nil, nil
		}
		var result protocol.ApplyWorkspaceEditResult
		if err := c.Request(ctx, protocol.MethodApplyEdit, b.script.ApplyEdit, &result); err != nil {
			return nil, err
		}
		return result, nil
	})

	notification := func(method string, then func(ctx context.Context)) {
		c.OnNotification(method, func(ctx context.Context, params json.RawMessage) {
			b.record(method, params)
			if method == b.script.CrashOn {
				b.crash()
				return
			}
			if then != nil {
				then(ctx)
			}
		})
	}

	notification(protocol.MethodInitialized, func(ctx context.Context) {
		for _, msg := range b.script.LogMessages {
			_ = c.Notify(ctx, protocol.MethodLogMessage, protocol.LogMessageParams{Type: protocol.MessageInfo, Message: msg})
		}
		for _, d := range b.script.Diagnostics {
			_ = c.Notify(ctx, protocol.MethodPublishDiagnostics, d)
		}
		b.readyOne.Do(func() { close(b.ready) })
	})
	notification(protocol.MethodDidOpen, nil)
	notification(protocol.MethodDidChange, nil)
	notification(protocol.MethodDidClose, nil)
	notification(protocol.MethodDidSave, nil)
	notification(protocol.MethodExit, func(context.Context) {
		_ = c.Close(nil)
	})
}

// =============================================================================
// IN-PROCESS AND SUBPROCESS HARNESSES
// =============================================================================

// Start runs a backend in-process over net.Pipe and returns the client end.
func Start(ctx context.Context, script Script) (*Backend, transport.Stream) {
	client, server := net.Pipe()
	b := NewBackend(script)
	go func() { _ = b.Serve(ctx, server) }()
	return b, transport.NewStream(client, "pipe:lsptest")
}

// SubprocessConfig returns a stdio transport config that re-executes the
// current test binary as a backend running script.
func SubprocessConfig(script Script) (transport.Config, error) {
	raw, err := json.Marshal(script)
	if err != nil {
		return transport.Config{}, fmt.Errorf("marshal script: %w", err)
	}
	return transport.Config{
		Kind:        transport.KindStdio,
		Command:     os.Args[0],
		Args:        []string{"-test.run=^$"},
		Env:         map[string]string{EnvScript: string(raw)},
		KillTimeout: 2 * time.Second,
	}, nil
}

// stdio joins the process's standard streams.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	_ = os.Stdin.Close()
	return os.Stdout.Close()
}

// RunFromEnv serves the Script in $SOLLSP_STUB_SCRIPT over stdin/stdout and
// exits the process. It returns false, doing nothing, when the variable is
// unset. Call it first thing in TestMain.
func RunFromEnv() bool {
	raw := os.Getenv(EnvScript)
	if raw == "" {
		return false
	}
	var script Script
	if err := json.Unmarshal([]byte(raw), &script); err != nil {
		fmt.Fprintf(os.Stderr, "lsptest: bad %s: %v\n", EnvScript, err)
		os.Exit(2)
	}

	b := NewBackend(script)
	b.crash = func() { os.Exit(3) }
	b.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := b.Serve(context.Background(), stdio{}); err != nil {
		fmt.Fprintf(os.Stderr, "lsptest: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
	return true
}
