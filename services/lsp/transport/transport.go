// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport owns the duplex byte stream between the client and a
// language backend.
//
// A backend is either launched as a subprocess speaking over stdin/stdout,
// or reached over a TCP socket, a unix-domain socket (named pipe), or a
// websocket. Every variant yields the same Stream abstraction, so the
// connection layer never knows which one it is talking to.
//
// # Failure Model
//
//   - Launch or dial failures return *StartupError before any traffic.
//   - Process exit, socket reset or local Close finish the stream; Err then
//     returns a *ConnectionLostError describing the cause.
//
// # Thread Safety
//
// Streams allow one reader and one writer concurrently. Close is safe to
// call from any goroutine, more than once.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Kind selects the transport variant.
type Kind string

const (
	// KindStdio launches the backend and talks over its stdin/stdout.
	KindStdio Kind = "stdio"

	// KindTCP dials host:port.
	KindTCP Kind = "tcp"

	// KindPipe connects to a unix-domain socket or named pipe path.
	KindPipe Kind = "pipe"

	// KindWebSocket dials a ws:// or wss:// URL.
	KindWebSocket Kind = "websocket"
)

const (
	// DefaultDialTimeout bounds socket and websocket dials.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKillTimeout is how long Close waits for a backend process to
	// exit on its own before killing it.
	DefaultKillTimeout = 3 * time.Second
)

// Config describes how to reach the backend.
type Config struct {
	// Kind selects the transport variant.
	Kind Kind `yaml:"kind" json:"kind" validate:"required,oneof=stdio tcp pipe websocket"`

	// Command is the backend executable (stdio only). Resolved via PATH.
	Command string `yaml:"command" json:"command" validate:"required_if=Kind stdio"`

	// Args are passed to Command.
	Args []string `yaml:"args" json:"args"`

	// Dir is the working directory of the backend process.
	Dir string `yaml:"dir" json:"dir"`

	// Env overrides entries of the parent environment.
	Env map[string]string `yaml:"env" json:"env"`

	// Address is host:port (tcp), a socket path (pipe) or a URL (websocket).
	Address string `yaml:"address" json:"address" validate:"required_unless=Kind stdio"`

	// DialTimeout bounds the connect phase of socket variants.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" validate:"gte=0"`

	// KillTimeout bounds the graceful exit of a backend process on Close.
	KillTimeout time.Duration `yaml:"kill_timeout" json:"kill_timeout" validate:"gte=0"`
}

var validate = validator.New()

// Validate checks the configuration for missing or inconsistent fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid transport config: %w", err)
	}
	return nil
}

// Target returns the executable or address, for logs and errors.
func (c Config) Target() string {
	if c.Kind == KindStdio {
		return c.Command
	}
	return c.Address
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.KillTimeout == 0 {
		c.KillTimeout = DefaultKillTimeout
	}
	return c
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is the duplex byte stream to a backend.
type Stream interface {
	io.ReadWriteCloser

	// Done is closed once the stream can no longer carry traffic.
	Done() <-chan struct{}

	// Err returns nil while the stream is open, then a *ConnectionLostError.
	Err() error

	// Describe names the peer for logs ("stdio:solang", "tcp:127.0.0.1:9257").
	Describe() string
}

// Open connects to the backend described by cfg.
//
// Description:
//
//	Validates cfg and dispatches on its Kind. Any launch or connect failure
//	is returned as a *StartupError.
//
// Inputs:
//
//	ctx - Bounds the connect phase. The stream outlives ctx.
//	cfg - Transport configuration
//	logger - Receives backend stderr and lifecycle events. Nil uses slog.Default().
//
// Outputs:
//
//	Stream - The open stream
//	error - *StartupError on failure
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Stream, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &StartupError{Kind: cfg.Kind, Target: cfg.Target(), Err: err}
	}
	cfg = cfg.withDefaults()

	switch cfg.Kind {
	case KindStdio:
		return startProcess(cfg, logger)
	case KindTCP:
		return dialSocket(ctx, cfg, "tcp", logger)
	case KindPipe:
		return dialSocket(ctx, cfg, "unix", logger)
	case KindWebSocket:
		return dialWebSocket(ctx, cfg, logger)
	default:
		return nil, &StartupError{Kind: cfg.Kind, Target: cfg.Target(), Err: fmt.Errorf("unknown transport kind")}
	}
}

// lifecycle tracks the terminal state shared by all stream variants.
type lifecycle struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// finish records the first cause and closes done. Later calls are no-ops.
func (l *lifecycle) finish(cause error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = Lost(cause)
		l.mu.Unlock()
		close(l.done)
	})
}

// Done implements Stream.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

// Err implements Stream.
func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// =============================================================================
// IN-PROCESS STREAMS
// =============================================================================

// rwcStream adapts an arbitrary io.ReadWriteCloser.
type rwcStream struct {
	*lifecycle
	rwc  io.ReadWriteCloser
	name string
}

// NewStream wraps an existing duplex, such as one end of net.Pipe.
//
// The first read or write error finishes the stream.
func NewStream(rwc io.ReadWriteCloser, name string) Stream {
	return &rwcStream{lifecycle: newLifecycle(), rwc: rwc, name: name}
}

func (s *rwcStream) Read(p []byte) (int, error) {
	n, err := s.rwc.Read(p)
	if err != nil {
		s.finish(err)
	}
	return n, err
}

func (s *rwcStream) Write(p []byte) (int, error) {
	n, err := s.rwc.Write(p)
	if err != nil {
		s.finish(err)
		return n, Lost(err)
	}
	return n, nil
}

func (s *rwcStream) Close() error {
	s.finish(ErrClosed)
	return s.rwc.Close()
}

func (s *rwcStream) Describe() string {
	return s.name
}
