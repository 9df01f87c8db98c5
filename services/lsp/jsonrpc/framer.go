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
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// headerContentLength is the only header the protocol requires.
	headerContentLength = "content-length"

	// contentType is written on every outgoing frame.
	contentType = "application/vscode-jsonrpc; charset=utf-8"

	// DefaultMaxContentLength bounds a single frame body.
	DefaultMaxContentLength = 64 << 20

	// maxHeaderLine bounds a single header line.
	maxHeaderLine = 4096
)

// =============================================================================
// ENCODE
// =============================================================================

// Encode returns the full frame (headers and body) for a message.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 96)
	fmt.Fprintf(&buf, "Content-Length: %d\r\nContent-Type: %s\r\n\r\n", len(body), contentType)
	buf.Write(body)
	return buf.Bytes(), nil
}

// =============================================================================
// FRAMER
// =============================================================================

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithMaxContentLength bounds the body size accepted by ReadMessage.
func WithMaxContentLength(n int) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.maxContentLength = n
		}
	}
}

// Framer reads and writes framed messages.
//
// Description:
//
//	ReadMessage consumes exactly the bytes of one frame, buffering partial
//	reads until the header block and the full body are available. A blocked
//	read is released by closing the underlying stream; Framer has no other
//	cancellation path.
//
// Thread Safety:
//
//	One goroutine may read while another writes. Concurrent writers must be
//	serialized by the caller.
type Framer struct {
	reader           *bufio.Reader
	writer           io.Writer
	maxContentLength int
}

// NewFramer creates a framer over the given reader and writer.
//
// Either side may be nil when the framer is only used in one direction.
func NewFramer(r io.Reader, w io.Writer, opts ...FramerOption) *Framer {
	f := &Framer{
		writer:           w,
		maxContentLength: DefaultMaxContentLength,
	}
	if r != nil {
		f.reader = bufio.NewReaderSize(r, 64*1024)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WriteMessage encodes m and writes the frame with a single Write call.
func (f *Framer) WriteMessage(m Message) error {
	if f.writer == nil {
		return fmt.Errorf("framer has no writer")
	}
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := f.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes one frame.
//
// Outputs:
//
//	Message - The decoded message
//	error - io.EOF if the stream ended cleanly between frames,
//	        io.ErrUnexpectedEOF if it ended inside a frame,
//	        *FramingError for a malformed header block,
//	        *DecodeError if the body is not a valid message
func (f *Framer) ReadMessage() (Message, error) {
	body, err := f.readFrame()
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// readFrame reads one frame and returns its body without decoding it.
func (f *Framer) readFrame() ([]byte, error) {
	if f.reader == nil {
		return nil, fmt.Errorf("framer has no reader")
	}

	contentLength := -1
	first := true
	for {
		line, err := f.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && !first {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		first = false

		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &FramingError{Reason: fmt.Sprintf("header line without colon: %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			continue
		}

		value = strings.TrimSpace(value)
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", value)}
		}
		if n < 0 {
			return nil, &FramingError{Reason: fmt.Sprintf("negative Content-Length %d", n)}
		}
		if n > f.maxContentLength {
			return nil, &FramingError{Reason: fmt.Sprintf("Content-Length %d exceeds limit %d", n, f.maxContentLength)}
		}
		contentLength = n
	}

	if contentLength < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(f.reader, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// readLine reads one header line without its terminator.
//
// Both "\r\n" and a bare "\n" terminate a line.
func (f *Framer) readLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := f.reader.ReadLine()
		if err != nil {
			if len(line) > 0 && errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > maxHeaderLine {
			return "", &FramingError{Reason: "header line too long"}
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}
