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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    target
		wantErr bool
	}{
		{name: "simple", arg: "a.sol:3:5", want: target{Path: "a.sol", Line: 3, Col: 5}},
		{name: "path with colon", arg: `C:\src\a.sol:10:1`, want: target{Path: `C:\src\a.sol`, Line: 10, Col: 1}},
		{name: "missing column", arg: "a.sol:3", wantErr: true},
		{name: "missing path", arg: ":3:5", wantErr: true},
		{name: "zero line", arg: "a.sol:0:5", wantErr: true},
		{name: "zero column", arg: "a.sol:1:0", wantErr: true},
		{name: "not a number", arg: "a.sol:x:5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTarget(tt.arg)
			if tt.wantErr {
				require.ErrorIs(t, err, errBadTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTarget_Position(t *testing.T) {
	text := "pragma solidity;\r\nstring s = \"😀x\";\n"

	line, char := target{Line: 1, Col: 8}.position(text)
	assert.Equal(t, 0, line)
	assert.Equal(t, 7, char)

	// The emoji is two UTF-16 units; "x" follows it.
	line, char = target{Line: 2, Col: 14}.position(text)
	assert.Equal(t, 1, line)
	assert.Equal(t, 14, char)

	// Past the end of the line: extra columns pass through.
	_, char = target{Line: 1, Col: 30}.position(text)
	assert.Equal(t, 29, char)

	// Past the last line.
	line, char = target{Line: 9, Col: 2}.position(text)
	assert.Equal(t, 8, line)
	assert.Equal(t, 1, char)
}

func TestTarget_PositionLoneCarriageReturn(t *testing.T) {
	// Old Mac line endings: each "\r" ends a line.
	text := "pragma solidity;\r😀 contract A {}\rcontract B {}"

	line, char := target{Line: 2, Col: 3}.position(text)
	assert.Equal(t, 1, line)
	assert.Equal(t, 3, char, "the emoji on line 2 is two UTF-16 units")

	line, char = target{Line: 3, Col: 10}.position(text)
	assert.Equal(t, 2, line)
	assert.Equal(t, 9, char)
}

func TestUTF16Offset(t *testing.T) {
	assert.Equal(t, 0, utf16Offset("abc", 0))
	assert.Equal(t, 3, utf16Offset("abc", 3))
	assert.Equal(t, 3, utf16Offset("é😀", 2))
	assert.Equal(t, 5, utf16Offset("ab", 5))
}
