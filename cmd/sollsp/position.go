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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/AleutianAI/SolLSP/services/lsp/docsync"
)

// errBadTarget is returned for arguments that are not file:line:col.
var errBadTarget = errors.New("expected file:line:col")

// target is a 1-based position typed by a user. Col counts characters.
type target struct {
	Path string
	Line int
	Col  int
}

// parseTarget splits "path:line:col". The path may contain colons.
func parseTarget(arg string) (target, error) {
	colSep := strings.LastIndex(arg, ":")
	if colSep <= 0 {
		return target{}, fmt.Errorf("%q: %w", arg, errBadTarget)
	}
	lineSep := strings.LastIndex(arg[:colSep], ":")
	if lineSep <= 0 {
		return target{}, fmt.Errorf("%q: %w", arg, errBadTarget)
	}

	line, err := strconv.Atoi(arg[lineSep+1 : colSep])
	if err != nil || line < 1 {
		return target{}, fmt.Errorf("%q: line must be a positive number: %w", arg, errBadTarget)
	}
	col, err := strconv.Atoi(arg[colSep+1:])
	if err != nil || col < 1 {
		return target{}, fmt.Errorf("%q: column must be a positive number: %w", arg, errBadTarget)
	}
	return target{Path: arg[:lineSep], Line: line, Col: col}, nil
}

// position converts t to a zero-based line and UTF-16 offset within text.
// Columns past the end of a line are passed through so the document store
// reports them.
func (t target) position(text string) (line, character int) {
	line = t.Line - 1
	content, ok := docsync.LineText(text, line)
	if !ok {
		return line, t.Col - 1
	}
	return line, utf16Offset(content, t.Col-1)
}

// utf16Offset returns the UTF-16 length of the first n characters of s.
func utf16Offset(s string, n int) int {
	units := 0
	for i := 0; i < n; i++ {
		if s == "" {
			return units + n - i
		}
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		units += utf16.RuneLen(r)
	}
	return units
}
