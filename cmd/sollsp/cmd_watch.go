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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/SolLSP/pkg/config"
	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func runWatch(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer app.closeSession(s)
	logger := app.logger.Slog()

	out := cmd.OutOrStdout()
	p := newPalette(out)
	var outMu sync.Mutex
	unsubscribe, err := s.SubscribeDiagnostics(func(set session.DiagnosticSet) {
		outMu.Lock()
		defer outMu.Unlock()
		if jsonOutput {
			_ = writeJSON(out, set)
			return
		}
		renderDiagnostics(out, p, set)
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if app.cfg.Status.Addr != "" {
		status := newStatusServer(app.cfg.Status.Addr, logger, s)
		go func() {
			if err := status.Run(); err != nil {
				logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
		defer status.Shutdown(context.Background())
	}

	syncer := newDirSyncer(s, root, watchExt, watchDebounce, rate.Limit(watchRate), logger)
	logger.Info("watching",
		slog.String("root", root),
		slog.String("session_id", s.ID()))
	return syncer.Run(ctx)
}

// =============================================================================
// DIRECTORY SYNC
// =============================================================================

// documentSession is the part of session.Session the syncer needs.
type documentSession interface {
	Document(uri string) (docsync.Document, bool)
	OpenDocument(ctx context.Context, uri, languageID, text string) (docsync.Document, error)
	ChangeDocument(ctx context.Context, uri string, changes ...protocol.TextDocumentContentChangeEvent) (docsync.Document, error)
	SaveDocument(ctx context.Context, uri string) error
	CloseDocument(ctx context.Context, uri string) error
	Done() <-chan struct{}
	Err() error
}

// dirSyncer mirrors matching files under a directory into a session.
//
// Description:
//
//	Run opens every matching file, then watches the tree. Events are
//	collected until the debounce window passes without new ones, then the
//	batch is synchronised in path order at no more than the limiter's rate.
//	A changed file is sent as a full-text change followed by didSave; a
//	removed file is closed.
//
// Thread Safety: Run must be called once.
type dirSyncer struct {
	session  documentSession
	root     string
	exts     map[string]bool
	debounce time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func newDirSyncer(s documentSession, root string, exts []string, debounce time.Duration, limit rate.Limit, logger *slog.Logger) *dirSyncer {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[strings.ToLower(ext)] = true
	}
	if limit <= 0 {
		limit = rate.Inf
	}
	return &dirSyncer{
		session:  s,
		root:     root,
		exts:     set,
		debounce: debounce,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Run synchronises until ctx ends or the session stops. It returns the
// session error if the session stopped first.
func (y *dirSyncer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	files, err := y.addTree(watcher, y.root)
	if err != nil {
		return err
	}
	if err := y.syncBatch(ctx, files); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-y.session.Done():
			return y.session.Err()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			y.logger.Warn("watcher error", slog.String("error", err.Error()))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !y.collect(watcher, event, pending) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(y.debounce)
			} else {
				timer.Reset(y.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for path := range pending {
				batch = append(batch, path)
			}
			clear(pending)
			sort.Strings(batch)
			if err := y.syncBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// collect adds the paths event affects to pending and reports whether it
// added any. New directories are watched and their files collected.
func (y *dirSyncer) collect(watcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]struct{}) bool {
	added := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			files, err := y.addTree(watcher, event.Name)
			if err != nil {
				y.logger.Warn("watch new directory failed",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			for _, path := range files {
				pending[path] = struct{}{}
				added = true
			}
			return added
		}
	}
	if event.Op == fsnotify.Chmod || !y.matches(event.Name) {
		return added
	}
	pending[event.Name] = struct{}{}
	return true
}

// addTree watches dir and its subdirectories and returns the matching files.
// Hidden directories are skipped.
func (y *dirSyncer) addTree(watcher *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		if y.matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("watch %s: %w", dir, err)
	}
	return files, nil
}

func (y *dirSyncer) matches(path string) bool {
	return y.exts[strings.ToLower(filepath.Ext(path))]
}

// syncBatch synchronises paths in order. Per-file failures are logged; only
// a stopped session or ctx ends the batch early.
func (y *dirSyncer) syncBatch(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := y.syncFile(ctx, path); err != nil {
			if errors.Is(err, docsync.ErrDetached) {
				return y.session.Err()
			}
			y.logger.Warn("sync failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// syncFile brings the document for path in line with the file on disk.
func (y *dirSyncer) syncFile(ctx context.Context, path string) error {
	uri, err := config.FileURI(path)
	if err != nil {
		return err
	}
	doc, open := y.session.Document(uri)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if !open {
			return nil
		}
		return y.session.CloseDocument(ctx, uri)
	}
	if err != nil {
		return err
	}
	text := string(data)

	if !open {
		_, err := y.session.OpenDocument(ctx, uri, "", text)
		return err
	}
	if doc.Text == text {
		return nil
	}
	if _, err := y.session.ChangeDocument(ctx, uri, protocol.TextDocumentContentChangeEvent{Text: text}); err != nil {
		return err
	}
	return y.session.SaveDocument(ctx, uri)
}
