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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
)

func diag(line, char int, sev protocol.DiagnosticSeverity, msg string) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: char},
			End:   protocol.Position{Line: line, Character: char + 1},
		},
		Severity: sev,
		Message:  msg,
	}
}

func TestRenderDiagnostics_SortedAndOneBased(t *testing.T) {
	var buf bytes.Buffer
	set := session.DiagnosticSet{
		URI: "untitled:a.sol",
		Diagnostics: []protocol.Diagnostic{
			diag(4, 0, protocol.SeverityWarning, "later"),
			diag(0, 7, protocol.SeverityError, "first"),
		},
	}
	set.Diagnostics[0].Source = "solc"

	renderDiagnostics(&buf, newPalette(&buf), set)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "untitled:a.sol:1:8: error: first", lines[0])
	assert.Equal(t, "untitled:a.sol:5:1: warning: later (solc)", lines[1])
}

func TestRenderDiagnostics_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderDiagnostics(&buf, newPalette(&buf), session.DiagnosticSet{URI: "untitled:a.sol"})
	assert.Equal(t, "untitled:a.sol no problems\n", buf.String())
}

func TestCountErrors(t *testing.T) {
	set := session.DiagnosticSet{Diagnostics: []protocol.Diagnostic{
		diag(0, 0, protocol.SeverityError, "a"),
		diag(0, 0, 0, "missing severity counts as error"),
		diag(0, 0, protocol.SeverityWarning, "b"),
		diag(0, 0, protocol.SeverityHint, "c"),
	}}
	assert.Equal(t, 2, countErrors(set))
}

func TestRenderHover(t *testing.T) {
	var buf bytes.Buffer
	renderHover(&buf, newPalette(&buf), nil)
	assert.Equal(t, "no hover information\n", buf.String())

	buf.Reset()
	renderHover(&buf, newPalette(&buf), &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: "```solidity\ncontract A\n```\n"},
	})
	assert.Equal(t, "```solidity\ncontract A\n```\n", buf.String())
}

func TestRenderLocations(t *testing.T) {
	var buf bytes.Buffer
	renderLocations(&buf, newPalette(&buf), nil)
	assert.Equal(t, "no definition found\n", buf.String())

	buf.Reset()
	renderLocations(&buf, newPalette(&buf), []protocol.Location{{
		URI:   "untitled:b.sol",
		Range: protocol.Range{Start: protocol.Position{Line: 2, Character: 4}},
	}})
	assert.Equal(t, "untitled:b.sol:3:5\n", buf.String())
}

func TestRenderCompletion(t *testing.T) {
	var buf bytes.Buffer
	renderCompletion(&buf, newPalette(&buf), &protocol.CompletionList{
		IsIncomplete: true,
		Items: []protocol.CompletionItem{
			{Label: "transfer", Kind: protocol.CompletionKindFunction, Detail: "function transfer(address,uint256)"},
			{Label: "balance", Kind: protocol.CompletionKindField},
			{Label: "zz", SortText: "0"},
		},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "zz", lines[0], "sortText orders before labels")
	assert.Equal(t, "balance   field", lines[1])
	assert.Contains(t, lines[2], "function transfer(address,uint256)")
	assert.Equal(t, "(list is incomplete)", lines[3])

	buf.Reset()
	renderCompletion(&buf, newPalette(&buf), &protocol.CompletionList{})
	assert.Equal(t, "no completions\n", buf.String())
}

func TestCommandArgs(t *testing.T) {
	args := commandArgs([]string{`{"a":1}`, "42", "plain text", ""})
	require.Len(t, args, 4)
	assert.Equal(t, json.RawMessage(`{"a":1}`), args[0])
	assert.Equal(t, json.RawMessage(`42`), args[1])
	assert.Equal(t, "plain text", args[2])
	assert.Equal(t, "", args[3])
}

func TestDisplayPath(t *testing.T) {
	assert.Equal(t, "untitled:x", displayPath("untitled:x"))

	wd, err := os.Getwd()
	require.NoError(t, err)
	inside := "file://" + filepath.ToSlash(filepath.Join(wd, "sub", "a.sol"))
	assert.Equal(t, filepath.Join("sub", "a.sol"), displayPath(inside))
}
