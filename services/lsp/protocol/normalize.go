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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for protocol shapes.
var (
	// ErrInvalidResponse indicates a result in none of the allowed forms.
	ErrInvalidResponse = errors.New("invalid LSP response")

	// ErrInvalidParams indicates params failed validation before sending.
	ErrInvalidParams = errors.New("invalid LSP params")
)

var validate = validator.New()

// Validate checks v against its validate tags.
//
// The returned error wraps ErrInvalidParams and names each failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(fields, ", "))
}

// =============================================================================
// RESULT NORMALISATION
// =============================================================================

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// markedString is the legacy {language, value} hover form.
type markedString struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// ParseHover normalises a textDocument/hover result.
//
// Description:
//
//	Accepts MarkupContent, a bare MarkedString, a {language, value}
//	MarkedString, or an array of MarkedStrings. Legacy forms become markdown,
//	with language-tagged strings fenced. A null result returns nil, nil.
func ParseHover(data json.RawMessage) (*Hover, error) {
	if isNull(data) {
		return nil, nil
	}
	var raw struct {
		Contents json.RawMessage `json:"contents"`
		Range    *Range          `json:"range"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: hover: %v", ErrInvalidResponse, err)
	}
	if isNull(raw.Contents) {
		return nil, fmt.Errorf("%w: hover without contents", ErrInvalidResponse)
	}

	contents, err := parseHoverContents(raw.Contents)
	if err != nil {
		return nil, err
	}
	return &Hover{Contents: contents, Range: raw.Range}, nil
}

func parseHoverContents(data json.RawMessage) (MarkupContent, error) {
	trimmed := bytes.TrimSpace(data)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return MarkupContent{}, fmt.Errorf("%w: hover: %v", ErrInvalidResponse, err)
		}
		return MarkupContent{Kind: Markdown, Value: s}, nil

	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return MarkupContent{}, fmt.Errorf("%w: hover: %v", ErrInvalidResponse, err)
		}
		values := make([]string, 0, len(parts))
		for _, part := range parts {
			mc, err := parseHoverContents(part)
			if err != nil {
				return MarkupContent{}, err
			}
			values = append(values, mc.Value)
		}
		return MarkupContent{Kind: Markdown, Value: strings.Join(values, "\n\n")}, nil

	case '{':
		var probe struct {
			Kind     *MarkupKind `json:"kind"`
			Language *string     `json:"language"`
			Value    string      `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return MarkupContent{}, fmt.Errorf("%w: hover: %v", ErrInvalidResponse, err)
		}
		switch {
		case probe.Kind != nil:
			return MarkupContent{Kind: *probe.Kind, Value: probe.Value}, nil
		case probe.Language != nil:
			ms := markedString{Language: *probe.Language, Value: probe.Value}
			return MarkupContent{Kind: Markdown, Value: fence(ms)}, nil
		}
	}
	return MarkupContent{}, fmt.Errorf("%w: unrecognised hover contents %s", ErrInvalidResponse, truncate(trimmed))
}

func fence(ms markedString) string {
	return "```" + ms.Language + "\n" + ms.Value + "\n```"
}

// ParseLocations normalises a textDocument/definition result.
//
// Description:
//
//	Accepts a Location, an array of Locations, or an array of LocationLinks.
//	Links are reduced to their target selection range. A null result returns
//	an empty slice.
func ParseLocations(data json.RawMessage) ([]Location, error) {
	if isNull(data) {
		return nil, nil
	}

	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: definition: %v", ErrInvalidResponse, err)
		}
		locations := make([]Location, 0, len(items))
		for _, item := range items {
			loc, err := parseLocation(item)
			if err != nil {
				return nil, err
			}
			locations = append(locations, loc)
		}
		return locations, nil
	}

	loc, err := parseLocation(trimmed)
	if err != nil {
		return nil, err
	}
	return []Location{loc}, nil
}

func parseLocation(data json.RawMessage) (Location, error) {
	var probe struct {
		URI                  string `json:"uri"`
		Range                Range  `json:"range"`
		TargetURI            string `json:"targetUri"`
		TargetSelectionRange Range  `json:"targetSelectionRange"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Location{}, fmt.Errorf("%w: location: %v", ErrInvalidResponse, err)
	}
	switch {
	case probe.TargetURI != "":
		return Location{URI: probe.TargetURI, Range: probe.TargetSelectionRange}, nil
	case probe.URI != "":
		return Location{URI: probe.URI, Range: probe.Range}, nil
	}
	return Location{}, fmt.Errorf("%w: location without uri %s", ErrInvalidResponse, truncate(data))
}

// ParseCompletion normalises a textDocument/completion result.
//
// A bare array of items becomes a complete list; null becomes an empty one.
func ParseCompletion(data json.RawMessage) (*CompletionList, error) {
	if isNull(data) {
		return &CompletionList{}, nil
	}
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '[' {
		var items []CompletionItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: completion: %v", ErrInvalidResponse, err)
		}
		return &CompletionList{Items: items}, nil
	}
	var list CompletionList
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: completion: %v", ErrInvalidResponse, err)
	}
	return &list, nil
}

func truncate(data []byte) string {
	if len(data) > 120 {
		return string(data[:120]) + "..."
	}
	return string(data)
}
