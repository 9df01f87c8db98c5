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
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath    string
	serverFlag    string
	transportFlag string
	addressFlag   string
	logLevelFlag  string
	rootFlag      string
	statusAddr    string
	jsonOutput    bool
	diagWait      time.Duration
	watchExt      []string
	watchDebounce time.Duration
	watchRate     float64

	rootCmd = &cobra.Command{
		Use:   "sollsp",
		Short: "A command-line client for Solidity language servers",
		Long: `sollsp starts a Solidity language server over stdio, TCP, a named pipe
or WebSocket and drives it the way an editor would: it opens documents,
collects diagnostics and answers hover, definition and completion queries.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	// --- Analysis ---
	checkCmd = &cobra.Command{
		Use:   "check <file>...",
		Short: "Open files and print the diagnostics the server publishes",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck, // Defined in cmd_query.go
	}
	hoverCmd = &cobra.Command{
		Use:   "hover <file:line:col>",
		Short: "Show hover information at a position",
		Args:  cobra.ExactArgs(1),
		RunE:  runHover, // Defined in cmd_query.go
	}
	definitionCmd = &cobra.Command{
		Use:     "definition <file:line:col>",
		Short:   "Show where the symbol at a position is defined",
		Aliases: []string{"def"},
		Args:    cobra.ExactArgs(1),
		RunE:    runDefinition, // Defined in cmd_query.go
	}
	completeCmd = &cobra.Command{
		Use:   "complete <file:line:col>",
		Short: "List completion proposals at a position",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete, // Defined in cmd_query.go
	}
	execCmd = &cobra.Command{
		Use:   "exec <command> [json-arg]...",
		Short: "Run a server command; arguments are parsed as JSON when possible",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec, // Defined in cmd_query.go
	}

	// --- Long running ---
	watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep files in a directory synchronised and stream diagnostics",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	// --- Utilities ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfig, // Defined in app.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to the config file (default: user config dir)")
	pf.StringVar(&serverFlag, "server", "", "Server command line for the stdio transport")
	pf.StringVar(&transportFlag, "transport", "", "Transport kind: stdio, tcp, pipe or websocket")
	pf.StringVar(&addressFlag, "address", "", "Server address for tcp, pipe or websocket")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&rootFlag, "root", "", "Workspace root directory or URI")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	checkCmd.Flags().DurationVar(&diagWait, "wait", 5*time.Second,
		"How long to wait for diagnostics on every file")

	watchCmd.Flags().StringSliceVar(&watchExt, "ext", []string{".sol"}, "File extensions to synchronise")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond,
		"Quiet period before a batch of changes is sent")
	watchCmd.Flags().Float64Var(&watchRate, "rate", 20, "Maximum documents synchronised per second")
	watchCmd.Flags().StringVar(&statusAddr, "status", "", "Serve status and metrics on this address")

	rootCmd.AddCommand(checkCmd, hoverCmd, definitionCmd, completeCmd, execCmd, watchCmd, configCmd)
}
