// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns at most n bytes per Read to simulate partial reads.
type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestEncode_WritesHeaders(t *testing.T) {
	req, err := NewRequest(NewNumberID(1), "initialize", map[string]int{"processId": 7})
	require.NoError(t, err)

	data, err := Encode(req)
	require.NoError(t, err)

	head, body, ok := strings.Cut(string(data), "\r\n\r\n")
	require.True(t, ok, "missing header terminator in %q", data)
	assert.Contains(t, head, fmt.Sprintf("Content-Length: %d", len(body)))
	assert.Contains(t, head, "Content-Type: application/vscode-jsonrpc")
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"processId":7}}`, body)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	diags := make([]map[string]any, 5000)
	for i := range diags {
		diags[i] = map[string]any{
			"range":    map[string]any{"start": map[string]int{"line": i, "character": 0}, "end": map[string]int{"line": i, "character": 4}},
			"severity": 2,
			"message":  "unknown pragma",
		}
	}

	mustReq := func(id ID, method string, params any) Message {
		m, err := NewRequest(id, method, params)
		require.NoError(t, err)
		return m
	}
	mustNote := func(method string, params any) Message {
		m, err := NewNotification(method, params)
		require.NoError(t, err)
		return m
	}
	mustResult := func(id ID, result any) Message {
		m, err := NewResultResponse(id, result)
		require.NoError(t, err)
		return m
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{"request without params", mustReq(NewNumberID(1), "shutdown", nil)},
		{"request with empty params", mustReq(NewNumberID(2), "initialize", struct{}{})},
		{"request with string id", mustReq(NewStringID("abc"), "textDocument/hover", map[string]int{"line": 1})},
		{"notification without params", mustNote("exit", nil)},
		{"notification with large params", mustNote("textDocument/publishDiagnostics", map[string]any{"uri": "file:///a.sol", "diagnostics": diags})},
		{"null result", mustResult(NewNumberID(3), nil)},
		{"object result", mustResult(NewNumberID(4), map[string]bool{"hoverProvider": true})},
		{"error response", NewErrorResponse(NewNumberID(5), &Error{Code: CodeMethodNotFound, Message: "nope", Data: json.RawMessage(`{"x":1}`)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			f := NewFramer(bytes.NewReader(data), nil)
			got, err := f.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)

			_, err = f.ReadMessage()
			assert.ErrorIs(t, err, io.EOF, "framer must consume exactly one frame")
		})
	}
}

func TestFramer_ReadMessage(t *testing.T) {
	t.Run("partial reads are buffered", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"server initialized!"}}`
		input := frame(body) + frame(`{"jsonrpc":"2.0","id":9,"result":null}`)

		f := NewFramer(&chunkReader{data: []byte(input), n: 3}, nil)

		m, err := f.ReadMessage()
		require.NoError(t, err)
		note, ok := m.(*Notification)
		require.True(t, ok, "got %T", m)
		assert.Equal(t, "window/logMessage", note.Method)

		m, err = f.ReadMessage()
		require.NoError(t, err)
		resp, ok := m.(*Response)
		require.True(t, ok, "got %T", m)
		assert.Equal(t, NewNumberID(9), *resp.ID)
		assert.Equal(t, "null", string(resp.Result))
	})

	t.Run("header names are case insensitive and extra headers ignored", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"result":{}}`
		input := fmt.Sprintf("content-length: %d\nContent-Type: application/json\n\n%s", len(body), body)

		_, err := NewFramer(strings.NewReader(input), nil).ReadMessage()
		require.NoError(t, err)
	})

	t.Run("missing Content-Length is a framing error", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("Content-Type: x\r\n\r\n{}"), nil).ReadMessage()
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("non numeric Content-Length is a framing error", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("Content-Length: ten\r\n\r\n"), nil).ReadMessage()
		var fe *FramingError
		require.True(t, errors.As(err, &fe), "got %v", err)
		assert.Contains(t, fe.Reason, "ten")
	})

	t.Run("negative Content-Length is a framing error", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("Content-Length: -4\r\n\r\n"), nil).ReadMessage()
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("oversized body is a framing error", func(t *testing.T) {
		f := NewFramer(strings.NewReader("Content-Length: 100\r\n\r\n"), nil, WithMaxContentLength(10))
		_, err := f.ReadMessage()
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("header without colon is a framing error", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("garbage\r\n\r\n"), nil).ReadMessage()
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("empty stream returns EOF", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader(""), nil).ReadMessage()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("truncated body returns unexpected EOF", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("Content-Length: 50\r\n\r\n{\"jsonrpc\""), nil).ReadMessage()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated headers return unexpected EOF", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader("Content-Length: 50\r\n"), nil).ReadMessage()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("invalid body is a decode error carrying raw bytes", func(t *testing.T) {
		_, err := NewFramer(strings.NewReader(frame(`{"hello":`)), nil).ReadMessage()
		var de *DecodeError
		require.True(t, errors.As(err, &de), "got %v", err)
		assert.Equal(t, `{"hello":`, string(de.Raw))
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestDecode_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"workspace/applyEdit","params":{}}`, "*jsonrpc.Request", false},
		{"request with string id", `{"jsonrpc":"2.0","id":"a1","method":"x"}`, "*jsonrpc.Request", false},
		{"notification", `{"jsonrpc":"2.0","method":"exit"}`, "*jsonrpc.Notification", false},
		{"response without result member", `{"jsonrpc":"2.0","id":2}`, "*jsonrpc.Response", false},
		{"error response with null id", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`, "*jsonrpc.Response", false},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":1}`, "", true},
		{"no method no id", `{"jsonrpc":"2.0","result":1}`, "", true},
		{"null id without error", `{"jsonrpc":"2.0","id":null,"result":1}`, "", true},
		{"fractional id", `{"jsonrpc":"2.0","id":1.5,"result":1}`, "", true},
		{"method with result", `{"jsonrpc":"2.0","id":1,"method":"x","result":1}`, "", true},
		{"not an object", `[1,2,3]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fmt.Sprintf("%T", m))
		})
	}
}

func TestID_JSON(t *testing.T) {
	data, err := json.Marshal(NewStringID("7"))
	require.NoError(t, err)
	assert.Equal(t, `"7"`, string(data))

	var id ID
	require.NoError(t, json.Unmarshal([]byte(`42`), &id))
	assert.Equal(t, NewNumberID(42), id)
	assert.False(t, id.IsString())
	assert.NotEqual(t, NewNumberID(7), NewStringID("7"))
}
