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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxParallelReads bounds concurrent file reads.
const maxParallelReads = 8

// withSession runs fn against a started session and shuts it down after.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx := cmd.Context()
	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer app.closeSession(s)
	return fn(ctx, s)
}

// =============================================================================
// CHECK
// =============================================================================

func runCheck(cmd *cobra.Command, args []string) error {
	texts, err := readFiles(cmd.Context(), args)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		waiter, err := newDiagnosticWaiter(s)
		if err != nil {
			return err
		}
		defer waiter.stop()

		uris := make([]string, 0, len(args))
		for i, path := range args {
			doc, err := openText(ctx, s, path, texts[i])
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			uris = append(uris, doc.URI)
		}

		sets := waiter.wait(ctx, s.Done(), uris, diagWait)
		out := cmd.OutOrStdout()
		if jsonOutput {
			ordered := make([]session.DiagnosticSet, 0, len(sets))
			for _, uri := range uris {
				if set, ok := sets[uri]; ok {
					ordered = append(ordered, set)
				}
			}
			if err := writeJSON(out, ordered); err != nil {
				return err
			}
		}

		p := newPalette(out)
		errCount := 0
		for _, uri := range uris {
			set, ok := sets[uri]
			if !ok {
				if !jsonOutput {
					fmt.Fprintf(out, "%s %s\n", p.Path.Render(displayPath(uri)), p.Muted.Render("no diagnostics received"))
				}
				continue
			}
			errCount += countErrors(set)
			if !jsonOutput {
				renderDiagnostics(out, p, set)
			}
		}
		if errCount > 0 {
			return fmt.Errorf("%d error(s) found", errCount)
		}
		return nil
	})
}

// readFiles reads paths concurrently, preserving order.
func readFiles(ctx context.Context, paths []string) ([]string, error) {
	texts := make([]string, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			texts[i] = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

// diagnosticWaiter collects published diagnostic sets by uri.
type diagnosticWaiter struct {
	mu      sync.Mutex
	sets    map[string]session.DiagnosticSet
	changed chan struct{}
	cancel  func()
}

func newDiagnosticWaiter(s *session.Session) (*diagnosticWaiter, error) {
	w := &diagnosticWaiter{
		sets:    make(map[string]session.DiagnosticSet),
		changed: make(chan struct{}, 1),
	}
	cancel, err := s.SubscribeDiagnostics(w.record)
	if err != nil {
		return nil, err
	}
	w.cancel = cancel
	return w, nil
}

func (w *diagnosticWaiter) record(set session.DiagnosticSet) {
	w.mu.Lock()
	w.sets[set.URI] = set
	w.mu.Unlock()
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// wait returns once every uri has a set, or when timeout, ctx or done ends
// the wait first. Missing uris are absent from the result.
func (w *diagnosticWaiter) wait(ctx context.Context, done <-chan struct{}, uris []string, timeout time.Duration) map[string]session.DiagnosticSet {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		got := w.snapshot(uris)
		if len(got) == len(uris) {
			return got
		}
		select {
		case <-w.changed:
		case <-timer.C:
			return w.snapshot(uris)
		case <-ctx.Done():
			return w.snapshot(uris)
		case <-done:
			return w.snapshot(uris)
		}
	}
}

func (w *diagnosticWaiter) snapshot(uris []string) map[string]session.DiagnosticSet {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]session.DiagnosticSet, len(uris))
	for _, uri := range uris {
		if set, ok := w.sets[uri]; ok {
			out[uri] = set
		}
	}
	return out
}

func (w *diagnosticWaiter) stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// =============================================================================
// POSITION QUERIES
// =============================================================================

// openTarget opens the file named by t and resolves its position.
func openTarget(ctx context.Context, s *session.Session, t target) (session.DocumentPosition, error) {
	doc, err := openFile(ctx, s, t.Path)
	if err != nil {
		return session.DocumentPosition{}, err
	}
	line, character := t.position(doc.Text)
	return session.DocumentPosition{
		URI:       doc.URI,
		Version:   doc.Version,
		Line:      line,
		Character: character,
	}, nil
}

func runHover(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		pos, err := openTarget(ctx, s, t)
		if err != nil {
			return err
		}
		hover, err := s.Hover(ctx, pos)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), hover)
		}
		renderHover(cmd.OutOrStdout(), newPalette(cmd.OutOrStdout()), hover)
		return nil
	})
}

func runDefinition(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		pos, err := openTarget(ctx, s, t)
		if err != nil {
			return err
		}
		locs, err := s.Definition(ctx, pos)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), locs)
		}
		renderLocations(cmd.OutOrStdout(), newPalette(cmd.OutOrStdout()), locs)
		return nil
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		pos, err := openTarget(ctx, s, t)
		if err != nil {
			return err
		}
		list, err := s.Completion(ctx, pos)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		renderCompletion(cmd.OutOrStdout(), newPalette(cmd.OutOrStdout()), list)
		return nil
	})
}

// =============================================================================
// EXEC
// =============================================================================

func runExec(cmd *cobra.Command, args []string) error {
	cmdArgs := commandArgs(args[1:])
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		result, err := s.ExecuteCommand(ctx, args[0], cmdArgs...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(result) == 0 || string(result) == "null" {
			if jsonOutput {
				_, err := fmt.Fprintln(out, "null")
				return err
			}
			fmt.Fprintln(out, newPalette(out).Success.Render("ok"))
			return nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, result, "", "  "); err != nil {
			return fmt.Errorf("command result: %w", err)
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(out)
		return err
	})
}

// commandArgs keeps valid JSON arguments as raw JSON and passes the rest
// as strings.
func commandArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, arg := range raw {
		if json.Valid([]byte(arg)) {
			out = append(out, json.RawMessage(arg))
		} else {
			out = append(out, arg)
		}
	}
	return out
}
