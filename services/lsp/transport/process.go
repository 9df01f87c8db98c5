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
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// PROCESS STREAM
// =============================================================================

// processStream talks to a backend subprocess over its stdin/stdout.
//
// Description:
//
//	The pipes are created with os.Pipe rather than Cmd.StdoutPipe so that
//	Wait never closes the read side under the reader: bytes the backend wrote
//	right before exiting are still delivered, followed by EOF. A helper the
//	backend left running may still hold the write end of stdout, so the read
//	side is released exitDrainGrace after the backend itself exits.
//
// Thread Safety:
//
//	One reader and one writer may run concurrently. Close is idempotent.
type processStream struct {
	*lifecycle

	cmd         *exec.Cmd
	stdin       *os.File
	stdout      *os.File
	stderr      *os.File
	name        string
	killTimeout time.Duration
	logger      *slog.Logger

	exited  chan struct{}
	release sync.Once
	group   errgroup.Group
}

// exitDrainGrace is how long trailing output may drain after the backend
// process exits before its pipes are closed.
const exitDrainGrace = 250 * time.Millisecond

// startProcess launches cfg.Command and wires its standard streams.
func startProcess(cfg Config, logger *slog.Logger) (*processStream, error) {
	startErr := func(err error) error {
		return &StartupError{Kind: KindStdio, Target: cfg.Command, Err: err}
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		logger.Warn("Backend executable not found",
			slog.String("command", cfg.Command),
			slog.String("error", err.Error()),
		)
		return nil, startErr(err)
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	setProcessGroup(cmd)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, startErr(fmt.Errorf("stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, startErr(fmt.Errorf("stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, startErr(fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, startErr(err)
	}

	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	name := "stdio:" + filepath.Base(path)
	s := &processStream{
		lifecycle:   newLifecycle(),
		cmd:         cmd,
		stdin:       stdinW,
		stdout:      stdoutR,
		stderr:      stderrR,
		name:        name,
		killTimeout: cfg.KillTimeout,
		logger:      logger.With(slog.String("backend", name)),
		exited:      make(chan struct{}),
	}

	s.logger.Info("Backend process started",
		slog.String("command", path),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("dir", cfg.Dir),
	)

	s.group.Go(func() error {
		s.logStderr()
		return nil
	})
	s.group.Go(func() error {
		err := cmd.Wait()
		close(s.exited)
		if err == nil {
			err = errors.New("backend process exited")
		} else {
			err = fmt.Errorf("backend process exited: %w", err)
		}
		s.logger.Info("Backend process exited", slog.String("status", err.Error()))
		s.finish(err)
		time.AfterFunc(exitDrainGrace, s.releasePipes)
		return nil
	})

	return s, nil
}

// logStderr forwards each stderr line of the backend to the logger.
func (s *processStream) logStderr() {
	scanner := bufio.NewScanner(s.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("backend stderr", slog.String("line", scanner.Text()))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("Backend stderr read failed", slog.String("error", err.Error()))
	}
}

// Read reads from the backend's stdout.
//
// io.EOF is returned once the process has exited and its output is drained.
// When the pipe had to be released while a leftover child still held it, the
// exit cause recorded by the lifecycle is returned instead.
func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil {
		s.finish(err)
		if errors.Is(err, os.ErrClosed) {
			return n, s.Err()
		}
	}
	return n, err
}

// Write writes to the backend's stdin.
func (s *processStream) Write(p []byte) (int, error) {
	n, err := s.stdin.Write(p)
	if err != nil {
		s.finish(err)
		return n, Lost(err)
	}
	return n, nil
}

// Close ends the session with the backend process.
//
// Description:
//
//	Closes stdin so a well-behaved backend sees EOF, waits up to the kill
//	timeout for it to exit, then kills its process group. Returns once the
//	process has been reaped and the stderr pump has stopped.
func (s *processStream) Close() error {
	s.finish(ErrClosed)
	_ = s.stdin.Close()

	select {
	case <-s.exited:
	case <-time.After(s.killTimeout):
		s.logger.Warn("Backend did not exit, killing",
			slog.Duration("timeout", s.killTimeout),
		)
		killProcessGroup(s.cmd)
		<-s.exited
	}

	s.releasePipes()
	return s.group.Wait()
}

// releasePipes closes the read ends of stdout and stderr, unblocking the
// reader and the stderr pump.
func (s *processStream) releasePipes() {
	s.release.Do(func() {
		_ = s.stdout.Close()
		_ = s.stderr.Close()
	})
}

// Describe implements Stream.
func (s *processStream) Describe() string {
	return s.name
}

// =============================================================================
// HELPERS
// =============================================================================

// mergeEnv applies overrides on top of base. Later entries win in exec, so
// overrides are appended in a stable order.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
