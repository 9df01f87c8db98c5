// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
)

// Call is an outbound request awaiting its response.
type Call struct {
	id       jsonrpc.ID
	method   string
	issuedAt time.Time
	conn     *Conn

	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

// ID returns the request id.
func (c *Call) ID() jsonrpc.ID {
	return c.id
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves or ctx ends.
//
// When ctx ends first the request is cancelled on the connection and a
// *CancelledError wrapping ctx.Err() is returned. The cancellation
// notification is written in the background: a backend that stops reading
// must not hold the caller past its deadline.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}

	if c.conn.abandon(c.id, ctx.Err()) == nil {
		go func() {
			_ = c.conn.notifyCancel(c.id)
		}()
	}
	<-c.done
	return c.result, c.err
}

// resolve settles the call. Only the first resolution takes effect.
func (c *Call) resolve(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		c.conn.slots.Release(1)
	})
}
