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
	"log/slog"
	"net"
)

// socketStream is a backend reached over TCP or a unix-domain socket.
type socketStream struct {
	*lifecycle
	conn net.Conn
	name string
}

// dialSocket connects to cfg.Address over network ("tcp" or "unix").
func dialSocket(ctx context.Context, cfg Config, network string, logger *slog.Logger) (*socketStream, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, network, cfg.Address)
	if err != nil {
		logger.Warn("Backend dial failed",
			slog.String("network", network),
			slog.String("address", cfg.Address),
			slog.String("error", err.Error()),
		)
		return nil, &StartupError{Kind: cfg.Kind, Target: cfg.Address, Err: err}
	}

	name := string(cfg.Kind) + ":" + cfg.Address
	logger.Info("Backend connected",
		slog.String("backend", name),
		slog.String("local", conn.LocalAddr().String()),
	)
	return &socketStream{lifecycle: newLifecycle(), conn: conn, name: name}, nil
}

func (s *socketStream) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			s.finish(ErrClosed)
		} else {
			s.finish(err)
		}
	}
	return n, err
}

func (s *socketStream) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		s.finish(err)
		return n, Lost(err)
	}
	return n, nil
}

func (s *socketStream) Close() error {
	s.finish(ErrClosed)
	return s.conn.Close()
}

func (s *socketStream) Describe() string {
	return s.name
}
