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
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/charmbracelet/lipgloss"
)

// Brand colors.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

// palette holds styles bound to one output. Writers that are not terminals
// get plain text.
type palette struct {
	Title   lipgloss.Style
	Path    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		Title:   r.NewStyle().Bold(true).Foreground(colorTealBright),
		Path:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(colorSlate),
		Success: r.NewStyle().Foreground(colorTealBright),
		Error:   r.NewStyle().Foreground(colorError).Bold(true),
		Warning: r.NewStyle().Foreground(colorWarning),
		Info:    r.NewStyle().Foreground(colorTealPrimary),
	}
}

func (p palette) severity(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.SeverityError:
		return p.Error.Render(s.String())
	case protocol.SeverityWarning:
		return p.Warning.Render(s.String())
	case protocol.SeverityInformation:
		return p.Info.Render(s.String())
	case protocol.SeverityHint:
		return p.Muted.Render(s.String())
	default:
		// Backends may omit severity; clients treat it as an error.
		return p.Error.Render(protocol.SeverityError.String())
	}
}

// message formats a window/showMessage for stderr.
func (p palette) message(typ protocol.MessageType, text string) string {
	label := "[" + typ.String() + "]"
	switch typ {
	case protocol.MessageError:
		label = p.Error.Render(label)
	case protocol.MessageWarning:
		label = p.Warning.Render(label)
	default:
		label = p.Info.Render(label)
	}
	return label + " " + text
}

// =============================================================================
// RESULTS
// =============================================================================

// renderDiagnostics prints one line per diagnostic in position order.
// Positions are 1-based.
func renderDiagnostics(w io.Writer, p palette, set session.DiagnosticSet) {
	path := displayPath(set.URI)
	if len(set.Diagnostics) == 0 {
		fmt.Fprintf(w, "%s %s\n", p.Path.Render(path), p.Success.Render("no problems"))
		return
	}

	diags := append([]protocol.Diagnostic(nil), set.Diagnostics...)
	sort.SliceStable(diags, func(i, j int) bool {
		return diags[i].Range.Start.Before(diags[j].Range.Start)
	})
	for _, d := range diags {
		loc := fmt.Sprintf("%s:%d:%d", path, d.Range.Start.Line+1, d.Range.Start.Character+1)
		line := fmt.Sprintf("%s: %s: %s", p.Path.Render(loc), p.severity(d.Severity), d.Message)
		if d.Source != "" {
			line += " " + p.Muted.Render("("+d.Source+")")
		}
		fmt.Fprintln(w, line)
	}
}

// countErrors returns the number of error diagnostics in set.
func countErrors(set session.DiagnosticSet) int {
	n := 0
	for _, d := range set.Diagnostics {
		if d.Severity == protocol.SeverityError || d.Severity == 0 {
			n++
		}
	}
	return n
}

func renderHover(w io.Writer, p palette, hover *protocol.Hover) {
	if hover == nil || strings.TrimSpace(hover.Contents.Value) == "" {
		fmt.Fprintln(w, p.Muted.Render("no hover information"))
		return
	}
	fmt.Fprintln(w, strings.TrimRight(hover.Contents.Value, "\n"))
}

func renderLocations(w io.Writer, p palette, locs []protocol.Location) {
	if len(locs) == 0 {
		fmt.Fprintln(w, p.Muted.Render("no definition found"))
		return
	}
	for _, loc := range locs {
		fmt.Fprintln(w, p.Path.Render(fmt.Sprintf("%s:%d:%d",
			displayPath(loc.URI), loc.Range.Start.Line+1, loc.Range.Start.Character+1)))
	}
}

func renderCompletion(w io.Writer, p palette, list *protocol.CompletionList) {
	if list == nil || len(list.Items) == 0 {
		fmt.Fprintln(w, p.Muted.Render("no completions"))
		return
	}

	items := append([]protocol.CompletionItem(nil), list.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return sortKey(items[i]) < sortKey(items[j])
	})

	width := 0
	for _, item := range items {
		width = max(width, lipgloss.Width(item.Label))
	}
	for _, item := range items {
		line := p.Title.Render(item.Label) + strings.Repeat(" ", width-lipgloss.Width(item.Label))
		line += "  " + p.Info.Render(fmt.Sprintf("%-8s", kindName(item.Kind)))
		if item.Detail != "" {
			line += "  " + p.Muted.Render(item.Detail)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	if list.IsIncomplete {
		fmt.Fprintln(w, p.Muted.Render("(list is incomplete)"))
	}
}

func sortKey(item protocol.CompletionItem) string {
	if item.SortText != "" {
		return item.SortText
	}
	return item.Label
}

func kindName(k protocol.CompletionItemKind) string {
	switch k {
	case protocol.CompletionKindText:
		return "text"
	case protocol.CompletionKindMethod:
		return "method"
	case protocol.CompletionKindFunction:
		return "function"
	case protocol.CompletionKindField:
		return "field"
	case protocol.CompletionKindVariable:
		return "variable"
	case protocol.CompletionKindClass:
		return "contract"
	case protocol.CompletionKindKeyword:
		return "keyword"
	case protocol.CompletionKindSnippet:
		return "snippet"
	case protocol.CompletionKindStruct:
		return "struct"
	case protocol.CompletionKindEvent:
		return "event"
	default:
		return ""
	}
}

// writeJSON prints v indented.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// displayPath turns a file URI into a path relative to the working
// directory when possible. Other URIs are returned unchanged.
func displayPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	path := filepath.FromSlash(u.Path)
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}
