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
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/SolLSP/pkg/config"
	"github.com/AleutianAI/SolLSP/pkg/logging"
	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/AleutianAI/SolLSP/services/lsp/telemetry"
	"github.com/spf13/cobra"
)

// cliApp holds what PersistentPreRunE builds for a command.
type cliApp struct {
	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// app is set by setup and released by teardown.
var app *cliApp

// setup loads configuration, applies flag overrides and starts logging and
// telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg)
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc, err := cfg.ToLoggingConfig("sollsp")
	if err != nil {
		return err
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	shutdown, err := telemetry.Init(cmd.Context(), cfg.ToTelemetryConfig())
	if err != nil {
		_ = logger.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}

	app = &cliApp{cfg: cfg, logger: logger, shutdown: shutdown}
	return nil
}

// applyFlags copies non-empty persistent flags over cfg.
func applyFlags(cfg *config.Config) {
	if fields := strings.Fields(serverFlag); len(fields) > 0 {
		cfg.Server.Command = fields[0]
		cfg.Server.Args = fields[1:]
	}
	if transportFlag != "" {
		cfg.Server.Kind = transportFlag
	}
	if addressFlag != "" {
		cfg.Server.Address = addressFlag
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if rootFlag != "" {
		cfg.Workspace.Root = rootFlag
	}
	if statusAddr != "" {
		cfg.Status.Addr = statusAddr
	}
}

func teardown(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := errors.Join(app.shutdown(ctx), app.logger.Close())
	app = nil
	return err
}

func runConfig(cmd *cobra.Command, _ []string) error {
	data, err := app.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// =============================================================================
// SESSION HELPERS
// =============================================================================

// openSession creates a session from the loaded config and starts it.
func (a *cliApp) openSession(ctx context.Context) (*session.Session, error) {
	sc, err := a.cfg.ToSessionConfig()
	if err != nil {
		return nil, err
	}
	sc.ClientVersion = version

	errOut := newPalette(os.Stderr)
	s, err := session.New(sc,
		session.WithLogger(a.logger.Slog()),
		session.WithMessageHandler(func(show bool, typ protocol.MessageType, message string) {
			if show {
				fmt.Fprintln(os.Stderr, errOut.message(typ, message))
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// closeSession shuts s down; ShutdownTimeout bounds the wait.
func (a *cliApp) closeSession(s *session.Session) {
	if err := s.Shutdown(context.Background()); err != nil {
		a.logger.Slog().Warn("shutdown failed",
			slog.String("session_id", s.ID()),
			slog.String("error", err.Error()))
	}
}

// openFile reads path and opens it in s.
func openFile(ctx context.Context, s *session.Session, path string) (docsync.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return docsync.Document{}, err
	}
	return openText(ctx, s, path, string(data))
}

func openText(ctx context.Context, s *session.Session, path, text string) (docsync.Document, error) {
	uri, err := config.FileURI(path)
	if err != nil {
		return docsync.Document{}, err
	}
	return s.OpenDocument(ctx, uri, "", text)
}
