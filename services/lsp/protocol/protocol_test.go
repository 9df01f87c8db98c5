// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHover(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind MarkupKind
		want     string
		wantNil  bool
		wantErr  bool
	}{
		{"null", `null`, "", "", true, false},
		{"markup content", `{"contents":{"kind":"plaintext","value":"uint256 x"}}`, PlainText, "uint256 x", false, false},
		{"bare marked string", `{"contents":"hover text"}`, Markdown, "hover text", false, false},
		{"language marked string", `{"contents":{"language":"solidity","value":"function f()"}}`, Markdown, "```solidity\nfunction f()\n```", false, false},
		{"array", `{"contents":["a",{"language":"solidity","value":"b"}]}`, Markdown, "a\n\n```solidity\nb\n```", false, false},
		{"missing contents", `{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}`, "", "", false, true},
		{"number contents", `{"contents":42}`, "", "", false, true},
		{"not an object", `[1,2]`, "", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHover(json.RawMessage(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, h)
				return
			}
			require.NotNil(t, h)
			assert.Equal(t, tt.wantKind, h.Contents.Kind)
			assert.Equal(t, tt.want, h.Contents.Value)
		})
	}
}

func TestParseHover_KeepsRange(t *testing.T) {
	h, err := ParseHover(json.RawMessage(`{"contents":"x","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`))
	require.NoError(t, err)
	require.NotNil(t, h.Range)
	assert.Equal(t, Position{Line: 1, Character: 5}, h.Range.End)
}

func TestParseLocations(t *testing.T) {
	loc := `{"uri":"file:///a.sol","range":{"start":{"line":3,"character":1},"end":{"line":3,"character":4}}}`
	link := `{"targetUri":"file:///b.sol","targetRange":{"start":{"line":0,"character":0},"end":{"line":9,"character":0}},"targetSelectionRange":{"start":{"line":2,"character":9},"end":{"line":2,"character":12}}}`

	tests := []struct {
		name    string
		input   string
		want    []Location
		wantErr bool
	}{
		{"null", `null`, nil, false},
		{"single", loc, []Location{{URI: "file:///a.sol", Range: Range{Start: Position{3, 1}, End: Position{3, 4}}}}, false},
		{"array", "[" + loc + "]", []Location{{URI: "file:///a.sol", Range: Range{Start: Position{3, 1}, End: Position{3, 4}}}}, false},
		{"links", "[" + link + "]", []Location{{URI: "file:///b.sol", Range: Range{Start: Position{2, 9}, End: Position{2, 12}}}}, false},
		{"empty array", `[]`, []Location{}, false},
		{"no uri", `{"range":{}}`, nil, true},
		{"garbage", `"nowhere"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocations(json.RawMessage(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCompletion(t *testing.T) {
	list, err := ParseCompletion(json.RawMessage(`[{"label":"Hello","detail":"Some detail"},{"label":"Bye"}]`))
	require.NoError(t, err)
	assert.False(t, list.IsIncomplete)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "Hello", list.Items[0].Label)
	assert.Equal(t, "Some detail", list.Items[0].Detail)

	list, err = ParseCompletion(json.RawMessage(`{"isIncomplete":true,"items":[{"label":"pragma","kind":14}]}`))
	require.NoError(t, err)
	assert.True(t, list.IsIncomplete)
	assert.Equal(t, CompletionKindKeyword, list.Items[0].Kind)

	list, err = ParseCompletion(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, list.Items)

	_, err = ParseCompletion(json.RawMessage(`7`))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestServerCapabilities_Providers(t *testing.T) {
	var caps ServerCapabilities
	require.NoError(t, json.Unmarshal([]byte(`{
		"hoverProvider": true,
		"definitionProvider": {"workDoneProgress": false},
		"executeCommandProvider": {"commands": ["slang-ex.applyedit"]}
	}`), &caps))

	assert.True(t, caps.HasHoverProvider())
	assert.True(t, caps.HasDefinitionProvider(), "options object enables the provider")
	assert.False(t, caps.HasCompletionProvider())
	assert.True(t, caps.HasExecuteCommandProvider())
	assert.True(t, caps.SupportsCommand("slang-ex.applyedit"))
	assert.False(t, caps.SupportsCommand("other"))

	caps = ServerCapabilities{}
	require.NoError(t, json.Unmarshal([]byte(`{"hoverProvider": false}`), &caps))
	assert.False(t, caps.HasHoverProvider())
}

func TestServerCapabilities_SyncOptions(t *testing.T) {
	tests := []struct {
		name string
		json string
		want TextDocumentSyncOptions
	}{
		{"absent", `{}`, TextDocumentSyncOptions{}},
		{"kind incremental", `{"textDocumentSync":2}`, TextDocumentSyncOptions{OpenClose: true, Change: SyncIncremental, Save: true}},
		{"kind none", `{"textDocumentSync":0}`, TextDocumentSyncOptions{Change: SyncNone}},
		{"options", `{"textDocumentSync":{"openClose":true,"change":1}}`, TextDocumentSyncOptions{OpenClose: true, Change: SyncFull}},
		{"options save text", `{"textDocumentSync":{"openClose":true,"change":2,"save":{"includeText":true}}}`,
			TextDocumentSyncOptions{OpenClose: true, Change: SyncIncremental, Save: true, IncludeText: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var caps ServerCapabilities
			require.NoError(t, json.Unmarshal([]byte(tt.json), &caps))
			assert.Equal(t, tt.want, caps.SyncOptions())
		})
	}
}

func TestInitializeResult_MissingCapabilities(t *testing.T) {
	var res InitializeResult
	require.NoError(t, json.Unmarshal([]byte(`{"serverInfo":{"name":"solang"}}`), &res))
	assert.Nil(t, res.Capabilities)

	require.NoError(t, json.Unmarshal([]byte(`{"capabilities":{}}`), &res))
	assert.NotNil(t, res.Capabilities)
}

func TestValidate(t *testing.T) {
	ok := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: "file:///a.sol"},
		Position:     Position{Line: 0, Character: 7},
	}
	assert.NoError(t, Validate(ok))

	bad := ok
	bad.Position.Line = -1
	err := Validate(bad)
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "Line")

	noURI := ok
	noURI.TextDocument.URI = ""
	assert.ErrorIs(t, Validate(noURI), ErrInvalidParams)

	root := "not a uri"
	assert.ErrorIs(t, Validate(InitializeParams{RootURI: &root}), ErrInvalidParams)
	assert.NoError(t, Validate(InitializeParams{}))

	assert.ErrorIs(t, Validate(ExecuteCommandParams{}), ErrInvalidParams)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "unknown", DiagnosticSeverity(9).String())
}
