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
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// =============================================================================
// ID
// =============================================================================

// ID is a JSON-RPC request identifier: either an integer or a string.
//
// The zero value is the integer 0. ID is comparable and can be used as a map
// key; the numeric 1 and the string "1" are distinct ids.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NewNumberID returns an integer id.
func NewNumberID(n int64) ID {
	return ID{num: n}
}

// NewStringID returns a string id.
func NewStringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IsString reports whether the id was a JSON string.
func (id ID) IsString() bool {
	return id.isStr
}

// Number returns the integer value. Zero for string ids.
func (id ID) Number() int64 {
	return id.num
}

// String returns a printable form: the bare number, or the quoted string.
func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
//
// Accepts a JSON integer or string. Fractional numbers, null, and any other
// JSON kind are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer or string, got %s", data)
	}
	*id = NewNumberID(n)
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// Message is one of *Request, *Notification or *Response.
type Message interface {
	isMessage()
}

// Request is a call that expects exactly one Response with the same ID.
type Request struct {
	// ID correlates the eventual Response.
	ID ID

	// Method is the method to invoke.
	Method string

	// Params is the encoded parameter payload. May be empty.
	Params json.RawMessage
}

// Notification is a one-way message without an id.
type Notification struct {
	// Method is the method to invoke.
	Method string

	// Params is the encoded parameter payload. May be empty.
	Params json.RawMessage
}

// Response answers a Request.
//
// Exactly one of Result and Error is meaningful. ID is nil only for error
// responses to requests the peer could not parse.
type Response struct {
	// ID is the id of the Request being answered.
	ID *ID

	// Result is the encoded result. "null" for methods without a result.
	Result json.RawMessage

	// Error is set when the call failed.
	Error *Error
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// Error is the error object carried by a failed Response.
type Error struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data carries optional additional information.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with no data.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewRequest builds a Request, marshaling params eagerly.
//
// A nil params value produces a request without a params member.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return &Request{ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification, marshaling params eagerly.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return &Notification{Method: method, Params: raw}, nil
}

// NewResultResponse builds a successful Response. A nil result encodes as null.
func NewResultResponse(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{ID: &id, Result: raw}, nil
}

// NewErrorResponse builds a failed Response.
func NewErrorResponse(id ID, rpcErr *Error) *Response {
	return &Response{ID: &id, Error: rpcErr}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(params)
}

// =============================================================================
// WIRE FORM
// =============================================================================

// wireMessage is the union of all member names used on the wire.
//
// ID, Result and Error are raw so that an explicit null can be told apart
// from an absent member.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Request) MarshalJSON() ([]byte, error) {
	id, err := r.ID.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{JSONRPC: Version, ID: id, Method: r.Method, Params: r.Params})
}

// MarshalJSON implements json.Marshaler.
func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{JSONRPC: Version, Method: n.Method, Params: n.Params})
}

// MarshalJSON implements json.Marshaler.
//
// A response always carries an id member (null when ID is nil) and exactly
// one of result and error.
func (r *Response) MarshalJSON() ([]byte, error) {
	var out struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
	}
	out.JSONRPC = Version
	out.ID = json.RawMessage("null")
	if r.ID != nil {
		id, err := r.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out.ID = id
	}
	if r.Error != nil {
		out.Error = r.Error
	} else {
		out.Result = r.Result
		if len(out.Result) == 0 {
			out.Result = json.RawMessage("null")
		}
	}
	return json.Marshal(out)
}

// Decode classifies a frame body into a Message.
//
// Description:
//
//	A body with a method and a non-null id is a Request; a method without an
//	id (or with a null id) is a Notification; a body with an id and no method
//	is a Response. A missing result member on a Response is read as null.
//
// Outputs:
//
//	Message - The decoded message
//	error - *DecodeError carrying the raw body if the shape is invalid
func Decode(body []byte) (Message, error) {
	fail := func(err error) (Message, error) {
		raw := make([]byte, len(body))
		copy(raw, body)
		return nil, &DecodeError{Raw: raw, Err: err}
	}

	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return fail(err)
	}
	if w.JSONRPC != Version {
		return fail(fmt.Errorf("unsupported jsonrpc version %q", w.JSONRPC))
	}

	hasID := len(w.ID) > 0 && !isNull(w.ID)
	var id ID
	if hasID {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return fail(err)
		}
	}

	if w.Method != "" {
		if len(w.Result) > 0 || len(w.Error) > 0 {
			return fail(fmt.Errorf("message has both method and result/error"))
		}
		params := nullToEmpty(w.Params)
		if hasID {
			return &Request{ID: id, Method: w.Method, Params: params}, nil
		}
		return &Notification{Method: w.Method, Params: params}, nil
	}

	if len(w.ID) == 0 {
		return fail(fmt.Errorf("message has neither method nor id"))
	}

	resp := &Response{}
	if hasID {
		resp.ID = &id
	}
	if len(w.Error) > 0 && !isNull(w.Error) {
		var rpcErr Error
		if err := json.Unmarshal(w.Error, &rpcErr); err != nil {
			return fail(fmt.Errorf("error member: %w", err))
		}
		resp.Error = &rpcErr
		return resp, nil
	}
	if !hasID {
		return fail(fmt.Errorf("response with null id must carry an error"))
	}
	resp.Result = w.Result
	if len(resp.Result) == 0 {
		resp.Result = json.RawMessage("null")
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	return raw
}
