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
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SolLSP/services/lsp/protocol"
)

type sent struct {
	method string
	params any
}

type recordingSink struct {
	mu     sync.Mutex
	sent   []sent
	failAt int // 1-based call index to fail; 0 never fails
	calls  int
}

func (r *recordingSink) Notify(ctx context.Context, method string, params any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt != 0 && r.calls == r.failAt {
		return errors.New("write failed")
	}
	r.sent = append(r.sent, sent{method: method, params: params})
	return nil
}

func (r *recordingSink) methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.method)
	}
	return out
}

var incremental = protocol.TextDocumentSyncOptions{OpenClose: true, Change: protocol.SyncIncremental, Save: true}

func rng(sl, sc, el, ec int) *protocol.Range {
	return &protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestStore_VersionIncrementsByOne(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)

	doc, err := s.Open(ctx, "file:///a.sol", "solidity", "pragma solidity;")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)

	for want := 2; want <= 5; want++ {
		doc, err = s.Change(ctx, "file:///a.sol",
			protocol.TextDocumentContentChangeEvent{Range: rng(0, 0, 0, 0), Text: "//"},
			protocol.TextDocumentContentChangeEvent{Range: rng(0, 0, 0, 2), Text: ""},
		)
		require.NoError(t, err)
		assert.Equal(t, want, doc.Version, "one increment per call, not per change event")
	}
	assert.Equal(t, "pragma solidity;", doc.Text)
}

func TestStore_UnknownDocument(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)

	_, err := s.Change(ctx, "file:///never.sol", protocol.TextDocumentContentChangeEvent{Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownDocument)

	_, err = s.Open(ctx, "file:///a.sol", "solidity", "")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, "file:///a.sol"))

	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownDocument)
	assert.ErrorIs(t, s.Close(ctx, "file:///a.sol"), ErrUnknownDocument)
	assert.ErrorIs(t, s.Save(ctx, "file:///a.sol"), ErrUnknownDocument)
	assert.ErrorIs(t, s.Check("file:///a.sol", 1), ErrUnknownDocument)

	// Reopening starts a fresh history.
	doc, err := s.Open(ctx, "file:///a.sol", "solidity", "y")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
}

func TestStore_AlreadyOpenAndEmptyChange(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	_, err := s.Open(ctx, "file:///a.sol", "solidity", "")
	require.NoError(t, err)

	_, err = s.Open(ctx, "file:///a.sol", "solidity", "")
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	_, err = s.Change(ctx, "file:///a.sol")
	assert.ErrorIs(t, err, ErrEmptyChange)
}

func TestStore_PatchUsesUTF16Units(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	// The emoji is two UTF-16 units and four bytes.
	_, err := s.Open(ctx, "file:///a.sol", "solidity", "// 😀 ok\r\nuint x;\n")
	require.NoError(t, err)

	tests := []struct {
		name   string
		change protocol.TextDocumentContentChangeEvent
		want   string
	}{
		{"after surrogate pair", protocol.TextDocumentContentChangeEvent{Range: rng(0, 6, 0, 8), Text: "fine"}, "// 😀 fine\r\nuint x;\n"},
		{"second line after crlf", protocol.TextDocumentContentChangeEvent{Range: rng(1, 5, 1, 6), Text: "y"}, "// 😀 fine\r\nuint y;\n"},
		{"across lines", protocol.TextDocumentContentChangeEvent{Range: rng(0, 10, 1, 0), Text: " "}, "// 😀 fine uint y;\n"},
		{"empty last line", protocol.TextDocumentContentChangeEvent{Range: rng(1, 0, 1, 0), Text: "}"}, "// 😀 fine uint y;\n}"},
		{"full replace", protocol.TextDocumentContentChangeEvent{Text: "contract C {}"}, "contract C {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := s.Change(ctx, "file:///a.sol", tt.change)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Text)
		})
	}
}

func TestStore_InvalidRangeLeavesDocumentUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	_, err := s.Open(ctx, "file:///a.sol", "solidity", "a😀b\nline2")
	require.NoError(t, err)

	tests := []struct {
		name string
		r    *protocol.Range
	}{
		{"line past end", rng(5, 0, 5, 0)},
		{"character past end of line", rng(1, 6, 1, 6)},
		{"inside surrogate pair", rng(0, 2, 0, 3)},
		{"end before start", rng(1, 3, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Range: tt.r, Text: "x"})
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}

	// A valid change followed by an invalid one in the same call is atomic.
	_, err = s.Change(ctx, "file:///a.sol",
		protocol.TextDocumentContentChangeEvent{Range: rng(0, 0, 0, 1), Text: "A"},
		protocol.TextDocumentContentChangeEvent{Range: rng(9, 0, 9, 0), Text: "x"},
	)
	assert.ErrorIs(t, err, ErrInvalidRange)

	doc, ok := s.Get("file:///a.sol")
	require.True(t, ok)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "a😀b\nline2", doc.Text)
}

func TestStore_BuffersUntilAttached(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)

	_, err := s.Open(ctx, "file:///a.sol", "solidity", "x")
	require.NoError(t, err)
	_, err = s.Open(ctx, "file:///b.sol", "solidity", "y")
	require.NoError(t, err)
	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Range: rng(0, 1, 0, 1), Text: "1"})
	require.NoError(t, err)
	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Range: rng(0, 2, 0, 2), Text: "2"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, "file:///b.sol"))
	assert.Equal(t, 5, s.Pending())

	sink := &recordingSink{}
	require.NoError(t, s.Attach(ctx, sink, incremental))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, []string{
		protocol.MethodDidOpen, protocol.MethodDidOpen,
		protocol.MethodDidChange, protocol.MethodDidChange,
		protocol.MethodDidClose,
	}, sink.methods())

	first := sink.sent[2].params.(protocol.DidChangeTextDocumentParams)
	second := sink.sent[3].params.(protocol.DidChangeTextDocumentParams)
	assert.Equal(t, 2, first.TextDocument.Version)
	assert.Equal(t, 3, second.TextDocument.Version)
	assert.Equal(t, "1", first.ContentChanges[0].Text)
	assert.Equal(t, "2", second.ContentChanges[0].Text)

	// After attach, emission is immediate.
	require.NoError(t, s.Save(ctx, "file:///a.sol"))
	assert.Equal(t, protocol.MethodDidSave, sink.methods()[5])
}

func TestStore_FullSyncSendsWholeText(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	sink := &recordingSink{}
	require.NoError(t, s.Attach(ctx, sink, protocol.TextDocumentSyncOptions{OpenClose: true, Change: protocol.SyncFull}))

	_, err := s.Open(ctx, "file:///a.sol", "solidity", "abc")
	require.NoError(t, err)
	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Range: rng(0, 1, 0, 2), Text: "X"})
	require.NoError(t, err)

	params := sink.sent[1].params.(protocol.DidChangeTextDocumentParams)
	require.Len(t, params.ContentChanges, 1)
	assert.Nil(t, params.ContentChanges[0].Range)
	assert.Equal(t, "aXc", params.ContentChanges[0].Text)

	// Save is not advertised, so nothing is sent.
	require.NoError(t, s.Save(ctx, "file:///a.sol"))
	assert.Len(t, sink.sent, 2)
}

func TestStore_SyncNoneSuppressesEmission(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	sink := &recordingSink{}
	require.NoError(t, s.Attach(ctx, sink, protocol.TextDocumentSyncOptions{}))

	_, err := s.Open(ctx, "file:///a.sol", "solidity", "abc")
	require.NoError(t, err)
	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Text: "def"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, "file:///a.sol"))
	assert.Empty(t, sink.sent)
}

func TestStore_SaveIncludesText(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	sink := &recordingSink{}
	opts := incremental
	opts.IncludeText = true
	require.NoError(t, s.Attach(ctx, sink, opts))

	_, err := s.Open(ctx, "file:///a.sol", "solidity", "abc")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "file:///a.sol"))

	params := sink.sent[1].params.(protocol.DidSaveTextDocumentParams)
	require.NotNil(t, params.Text)
	assert.Equal(t, "abc", *params.Text)
}

func TestStore_AttachFailureKeepsQueue(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	for _, uri := range []string{"file:///a.sol", "file:///b.sol", "file:///c.sol"} {
		_, err := s.Open(ctx, uri, "solidity", "")
		require.NoError(t, err)
	}

	err := s.Attach(ctx, &recordingSink{failAt: 2}, incremental)
	require.Error(t, err)
	assert.Equal(t, 2, s.Pending(), "the first notification went out, two remain")

	sink := &recordingSink{}
	require.NoError(t, s.Attach(ctx, sink, incremental))
	require.Len(t, sink.sent, 2)
	assert.Equal(t, "file:///b.sol", sink.sent[0].params.(protocol.DidOpenTextDocumentParams).TextDocument.URI)
}

func TestStore_DetachStopsEmission(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	_, err := s.Open(ctx, "file:///a.sol", "solidity", "")
	require.NoError(t, err)

	s.Detach()
	assert.Equal(t, 0, s.Pending())

	_, err = s.Change(ctx, "file:///a.sol", protocol.TextDocumentContentChangeEvent{Text: "x"})
	require.NoError(t, err, "local state still tracks edits")
	assert.Equal(t, 0, s.Pending())
	assert.ErrorIs(t, s.Attach(ctx, &recordingSink{}, incremental), ErrDetached)
}

func TestStore_ApplyEdits(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	sink := &recordingSink{}
	require.NoError(t, s.Attach(ctx, sink, incremental))

	original := "contract A {\n  uint x;\n}\n"
	_, err := s.Open(ctx, "file:///a.sol", "solidity", original)
	require.NoError(t, err)

	edits := []protocol.TextEdit{
		{Range: *rng(1, 7, 1, 8), NewText: "total"},
		{Range: *rng(0, 9, 0, 10), NewText: "Token"},
		{Range: *rng(2, 1, 2, 1), NewText: " // end"},
		{Range: *rng(2, 1, 2, 1), NewText: "!"},
	}
	v := 1
	doc, err := s.ApplyEdits(ctx, "file:///a.sol", &v, edits)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "contract Token {\n  uint total;\n} // end!\n", doc.Text)

	// Replaying the emitted changes in order reproduces the same text.
	params := sink.sent[1].params.(protocol.DidChangeTextDocumentParams)
	replayed := original
	for _, change := range params.ContentChanges {
		replayed, err = applyChange(replayed, change)
		require.NoError(t, err)
	}
	assert.Equal(t, doc.Text, replayed)

	stale := 1
	_, err = s.ApplyEdits(ctx, "file:///a.sol", &stale, edits)
	var vm *VersionMismatchError
	require.True(t, errors.As(err, &vm))
	assert.Equal(t, 2, vm.Current)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, err = s.ApplyEdits(ctx, "file:///a.sol", nil, []protocol.TextEdit{
		{Range: *rng(0, 0, 0, 5), NewText: "a"},
		{Range: *rng(0, 3, 0, 7), NewText: "b"},
	})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestStore_CheckAndCheckPosition(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	_, err := s.Open(ctx, "file:///a.sol", "solidity", "pragma solidity;\n")
	require.NoError(t, err)

	assert.NoError(t, s.Check("file:///a.sol", 1))
	assert.ErrorIs(t, s.Check("file:///a.sol", 2), ErrVersionMismatch)

	assert.NoError(t, s.CheckPosition("file:///a.sol", 1, protocol.Position{Line: 0, Character: 7}))
	assert.ErrorIs(t, s.CheckPosition("file:///a.sol", 1, protocol.Position{Line: 0, Character: 40}), ErrInvalidRange)
	assert.ErrorIs(t, s.CheckPosition("file:///a.sol", 3, protocol.Position{}), ErrVersionMismatch)
	assert.ErrorIs(t, s.CheckPosition("file:///b.sol", 1, protocol.Position{}), ErrUnknownDocument)

	assert.Equal(t, []string{"file:///a.sol"}, s.URIs())
}

func TestLineText(t *testing.T) {
	text := "a\r\nb\rc\nd"
	for n, want := range []string{"a", "b", "c", "d"} {
		got, ok := LineText(text, n)
		require.True(t, ok, "line %d", n)
		assert.Equal(t, want, got)
	}
	_, ok := LineText(text, 4)
	assert.False(t, ok)

	got, ok := LineText("x\n", 1)
	require.True(t, ok, "a trailing newline starts an empty last line")
	assert.Equal(t, "", got)
}
