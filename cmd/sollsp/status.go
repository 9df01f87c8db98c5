// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/AleutianAI/SolLSP/services/lsp/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// sessionStatus is one entry of GET /sessions.
type sessionStatus struct {
	ID          string               `json:"id"`
	State       string               `json:"state"`
	Outstanding int                  `json:"outstanding"`
	Documents   []string             `json:"documents"`
	Server      *protocol.ServerInfo `json:"server,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func statusOf(s *session.Session) sessionStatus {
	st := sessionStatus{
		ID:          s.ID(),
		State:       s.State().String(),
		Outstanding: s.Outstanding(),
		Documents:   s.Documents(),
	}
	if info, ok := s.ServerInfo(); ok {
		st.Server = &info
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// statusServer exposes session state and metrics over HTTP.
//
// Routes:
//
//	GET /healthz   200 while every session is Ready, 503 otherwise
//	GET /sessions  session status as JSON
//	GET /metrics   Prometheus metrics, when that exporter is active
type statusServer struct {
	srv    *http.Server
	logger *slog.Logger
}

func newStatusServer(addr string, logger *slog.Logger, sessions ...*session.Session) *statusServer {
	return &statusServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newStatusRouter(sessions...),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func newStatusRouter(sessions ...*session.Session) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("sollsp"))

	router.GET("/healthz", func(c *gin.Context) {
		for _, s := range sessions {
			if s.State() != session.StateReady {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "session": statusOf(s)})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/sessions", func(c *gin.Context) {
		out := make([]sessionStatus, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, statusOf(s))
		}
		c.JSON(http.StatusOK, out)
	})

	if metrics := telemetry.MetricsHandler(); metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

// Run serves until Shutdown. It returns nil after a Shutdown.
func (st *statusServer) Run() error {
	st.logger.Info("status server listening", slog.String("addr", st.srv.Addr))
	if err := st.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (st *statusServer) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.srv.Shutdown(ctx); err != nil {
		st.logger.Warn("status server shutdown failed", slog.String("error", err.Error()))
	}
}
