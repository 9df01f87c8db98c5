// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrpc implements the JSON-RPC 2.0 message model and the LSP base
// protocol framing used to carry it over a byte stream.
//
// A frame is a header block of "Name: value" lines terminated by an empty
// line, followed by exactly Content-Length bytes of JSON body:
//
//	Content-Length: 52\r\n
//	Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n
//	\r\n
//	{"jsonrpc":"2.0","id":1,"method":"initialize",...}
//
// # Components
//
//   - Message: tagged variant of *Request, *Notification and *Response
//   - Framer: reads and writes whole frames over an io.Reader/io.Writer pair
//   - Encode/Decode: frame and classify a single message
//
// # Thread Safety
//
// Message values are immutable after construction. A Framer is not safe for
// concurrent writers; callers serialize WriteMessage (see package conn).
package jsonrpc
