// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream carries framed LSP bytes inside websocket messages.
//
// Description:
//
//	Each Write becomes one binary message. Reads concatenate message payloads
//	into a byte stream, so the framer above does not care how the peer
//	chunked its output.
//
// Thread Safety:
//
//	gorilla connections allow one concurrent reader and one concurrent
//	writer; writeMu guards the writer against Close sending the close frame.
type wsStream struct {
	*lifecycle

	conn    *websocket.Conn
	name    string
	current io.Reader
	writeMu sync.Mutex
}

// dialWebSocket connects to the ws:// or wss:// URL in cfg.Address.
func dialWebSocket(ctx context.Context, cfg Config, logger *slog.Logger) (*wsStream, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.Address, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		logger.Warn("Backend websocket dial failed",
			slog.String("url", cfg.Address),
			slog.String("error", err.Error()),
		)
		return nil, &StartupError{Kind: cfg.Kind, Target: cfg.Address, Err: err}
	}

	name := "websocket:" + cfg.Address
	logger.Info("Backend connected", slog.String("backend", name))
	return newWSStream(conn, name), nil
}

func newWSStream(conn *websocket.Conn, name string) *wsStream {
	return &wsStream{lifecycle: newLifecycle(), conn: conn, name: name}
}

// Read returns bytes from the current message, advancing to the next one
// when it is exhausted.
func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.current == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.finish(err)
					return 0, io.EOF
				}
				s.finish(err)
				return 0, err
			}
			s.current = r
		}
		n, err := s.current.Read(p)
		if errors.Is(err, io.EOF) {
			s.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			s.finish(err)
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		s.finish(err)
		return 0, Lost(err)
	}
	return len(p), nil
}

// Close sends a close frame, best effort, and closes the connection.
func (s *wsStream) Close() error {
	s.finish(ErrClosed)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *wsStream) Describe() string {
	return s.name
}
