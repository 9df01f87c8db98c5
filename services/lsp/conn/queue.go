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
	"sync"

	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
)

// notificationQueue is an unbounded FIFO between the reader and the
// dispatcher. The reader never blocks on push.
type notificationQueue struct {
	mu     sync.Mutex
	items  []*jsonrpc.Notification
	closed bool
	signal chan struct{}
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{signal: make(chan struct{}, 1)}
}

func (q *notificationQueue) push(n *jsonrpc.Notification) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, n)
	q.mu.Unlock()
	q.wake()
}

// pop blocks until an item is available. It returns false once the queue is
// closed and empty; items queued before close are still delivered.
func (q *notificationQueue) pop() (*jsonrpc.Notification, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return n, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

func (q *notificationQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *notificationQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// idRing remembers the most recent ids in a fixed-size ring.
type idRing struct {
	ids  []jsonrpc.ID
	set  map[jsonrpc.ID]struct{}
	next int
	full bool
}

func newIDRing(size int) *idRing {
	return &idRing{
		ids: make([]jsonrpc.ID, size),
		set: make(map[jsonrpc.ID]struct{}, size),
	}
}

func (r *idRing) add(id jsonrpc.ID) {
	if _, ok := r.set[id]; ok {
		return
	}
	if r.full {
		delete(r.set, r.ids[r.next])
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next++
	if r.next == len(r.ids) {
		r.next = 0
		r.full = true
	}
}

func (r *idRing) contains(id jsonrpc.ID) bool {
	_, ok := r.set[id]
	return ok
}
