// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docsync

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

// =============================================================================
// UTF-16 POSITIONS
// =============================================================================

// lineStarts returns the byte offset of each line. Lines end at "\n",
// "\r\n" or "\r".
func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			starts = append(starts, i+1)
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineEnd returns the byte offset where the content of the line starting at
// start ends, excluding its terminator.
func lineEnd(text string, start int) int {
	if i := strings.IndexAny(text[start:], "\r\n"); i >= 0 {
		return start + i
	}
	return len(text)
}

// LineText returns zero-based line n of text without its terminator, using
// the same line breaks as document positions. ok is false past the last line.
func LineText(text string, n int) (line string, ok bool) {
	starts := lineStarts(text)
	if n < 0 || n >= len(starts) {
		return "", false
	}
	return text[starts[n]:lineEnd(text, starts[n])], true
}

// offsetOf converts a UTF-16 based position into a byte offset in text.
//
// A character past the end of its line, a line past the end of the text, or
// a character inside a surrogate pair is ErrInvalidRange.
func offsetOf(text string, starts []int, pos protocol.Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 || pos.Line >= len(starts) {
		return 0, fmt.Errorf("%w: line %d outside document of %d lines", ErrInvalidRange, pos.Line, len(starts))
	}
	start := starts[pos.Line]
	end := lineEnd(text, start)

	units := 0
	offset := start
	for offset < end && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:end])
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
		offset += size
	}
	if units != pos.Character {
		if units > pos.Character {
			return 0, fmt.Errorf("%w: %d:%d splits a surrogate pair", ErrInvalidRange, pos.Line, pos.Character)
		}
		return 0, fmt.Errorf("%w: character %d past end of line %d", ErrInvalidRange, pos.Character, pos.Line)
	}
	return offset, nil
}

// rangeOffsets converts r into byte offsets.
func rangeOffsets(text string, starts []int, r protocol.Range) (int, int, error) {
	if r.End.Before(r.Start) {
		return 0, 0, fmt.Errorf("%w: end %d:%d before start %d:%d",
			ErrInvalidRange, r.End.Line, r.End.Character, r.Start.Line, r.Start.Character)
	}
	from, err := offsetOf(text, starts, r.Start)
	if err != nil {
		return 0, 0, err
	}
	to, err := offsetOf(text, starts, r.End)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// applyChange applies one content change event to text.
func applyChange(text string, change protocol.TextDocumentContentChangeEvent) (string, error) {
	if change.Range == nil {
		return change.Text, nil
	}
	from, to, err := rangeOffsets(text, lineStarts(text), *change.Range)
	if err != nil {
		return "", err
	}
	return text[:from] + change.Text + text[to:], nil
}

// span is a text edit resolved to byte offsets.
type span struct {
	from, to int
	index    int
	edit     protocol.TextEdit
}

// applyEdits applies a set of non-overlapping edits, all expressed against
// text, as one change. It returns the new text and the equivalent content
// change events ordered back to front so each range is still valid when the
// backend applies them in sequence.
func applyEdits(text string, edits []protocol.TextEdit) (string, []protocol.TextDocumentContentChangeEvent, error) {
	starts := lineStarts(text)
	spans := make([]span, 0, len(edits))
	for i, e := range edits {
		from, to, err := rangeOffsets(text, starts, e.Range)
		if err != nil {
			return "", nil, err
		}
		spans = append(spans, span{from: from, to: to, index: i, edit: e})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
	for i := 1; i < len(spans); i++ {
		if spans[i-1].to > spans[i].from {
			return "", nil, fmt.Errorf("%w: edits %d and %d overlap", ErrInvalidRange, spans[i-1].index, spans[i].index)
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.from])
		b.WriteString(s.edit.NewText)
		last = s.to
	}
	b.WriteString(text[last:])

	// Back to front; inserts at the same offset keep their array order.
	changes := make([]protocol.TextDocumentContentChangeEvent, 0, len(spans))
	for i := len(spans) - 1; i >= 0; i-- {
		r := spans[i].edit.Range
		changes = append(changes, protocol.TextDocumentContentChangeEvent{Range: &r, Text: spans[i].edit.NewText})
	}
	return b.String(), changes, nil
}
