// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conn multiplexes JSON-RPC requests, responses and notifications
// over one duplex stream.
//
// # Architecture
//
//	callers ──Go/Request/Notify──► writeMu ──► Framer ──► stream
//	stream ──► Framer ──► Run (single reader)
//	                         ├── Response     ──► pending[id].resolve
//	                         ├── Request      ──► goroutine per request ──► reply
//	                         └── Notification ──► FIFO queue ──► dispatcher
//
// Responses are correlated by id, never by send order. Notifications are
// delivered to handlers in arrival order by a single dispatcher goroutine, so
// a slow handler delays later notifications but never the reader.
//
// # Resolution
//
// Every Call resolves exactly once: with the backend's result or error, with
// a *CancelledError, or with a transport.ConnectionLostError when the stream
// fails or the connection is closed.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/SolLSP/services/lsp/jsonrpc"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

const (
	// DefaultMaxOutstanding caps concurrent in-flight requests.
	DefaultMaxOutstanding = 256

	// DefaultCancelMethod is the LSP cancellation notification.
	DefaultCancelMethod = "$/cancelRequest"

	// DefaultCancelledMemory is how many cancelled ids are remembered so a
	// late response for them is not mistaken for a protocol violation.
	DefaultCancelledMemory = 1024
)

// NotificationHandler handles an inbound notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// RequestHandler handles an inbound request. The returned value is sent as
// the result. Returning a *jsonrpc.Error sends it verbatim; any other error
// is sent as an internal error.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxOutstanding caps concurrent in-flight requests.
func WithMaxOutstanding(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxOutstanding = int64(n)
		}
	}
}

// WithCancelMethod sets the cancellation notification method. An empty
// method disables cancellation notifications; Cancel still retires the
// request locally.
func WithCancelMethod(method string) Option {
	return func(c *Conn) {
		c.cancelMethod = method
	}
}

// WithCancelledMemory sets how many cancelled ids are remembered.
func WithCancelledMemory(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.cancelledMemory = n
		}
	}
}

// WithProtocolErrorHandler registers a callback for protocol violations.
// It runs on the reader goroutine and must not block.
func WithProtocolErrorHandler(fn func(*ProtocolError)) Option {
	return func(c *Conn) {
		c.onProtocolError = fn
	}
}

// WithFramerOptions passes options to the underlying framer.
func WithFramerOptions(opts ...jsonrpc.FramerOption) Option {
	return func(c *Conn) {
		c.framerOpts = append(c.framerOpts, opts...)
	}
}

// =============================================================================
// CONN
// =============================================================================

// Conn is a JSON-RPC connection over a duplex stream.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Run must be called exactly once.
type Conn struct {
	stream          io.ReadWriteCloser
	framer          *jsonrpc.Framer
	framerOpts      []jsonrpc.FramerOption
	logger          *slog.Logger
	maxOutstanding  int64
	cancelMethod    string
	cancelledMemory int
	onProtocolError func(*ProtocolError)

	writeMu sync.Mutex
	slots   *semaphore.Weighted

	// baseCtx is handed to inbound handlers and cancelled on Close.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	nextID        int64
	pending       map[jsonrpc.ID]*Call
	cancelled     *idRing
	inbound       map[jsonrpc.ID]context.CancelFunc
	notifications map[string][]NotificationHandler
	requests      map[string]RequestHandler
	draining      bool
	running       bool
	err           error

	queue     *notificationQueue
	done      chan struct{}
	closeOnce sync.Once
	handlers  sync.WaitGroup
}

// New creates a connection over stream. Call Run to start reading.
func New(stream io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		stream:          stream,
		logger:          slog.Default(),
		maxOutstanding:  DefaultMaxOutstanding,
		cancelMethod:    DefaultCancelMethod,
		cancelledMemory: DefaultCancelledMemory,
		pending:         make(map[jsonrpc.ID]*Call),
		inbound:         make(map[jsonrpc.ID]context.CancelFunc),
		notifications:   make(map[string][]NotificationHandler),
		requests:        make(map[string]RequestHandler),
		queue:           newNotificationQueue(),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.framer = jsonrpc.NewFramer(stream, stream, c.framerOpts...)
	c.slots = semaphore.NewWeighted(c.maxOutstanding)
	c.cancelled = newIDRing(c.cancelledMemory)
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())
	return c
}

// OnNotification registers a handler for an inbound notification method.
// Several handlers may be registered; they run in registration order.
func (c *Conn) OnNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[method] = append(c.notifications[method], h)
}

// OnRequest registers the handler for an inbound request method, replacing
// any previous one. Unregistered methods are answered with MethodNotFound.
func (c *Conn) OnRequest(method string, h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[method] = h
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while open, then the ConnectionLost cause.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Outstanding returns the number of unresolved outbound requests.
func (c *Conn) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// =============================================================================
// OUTBOUND
// =============================================================================

// Go sends a request and returns immediately.
//
// Description:
//
//	Allocates a fresh id, claims a backpressure slot, records the pending
//	call and writes the frame. The id counter is monotonic; an id still
//	pending after wraparound is skipped.
//
// Inputs:
//
//	ctx - Checked before sending. Use Call.Wait to bound the wait.
//	method - Request method
//	params - Marshaled to JSON; nil omits params
//
// Outputs:
//
//	*Call - The in-flight call
//	error - ErrBackpressure, ErrDraining, ConnectionLost, or a marshal error
func (c *Conn) Go(ctx context.Context, method string, params any) (*Call, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if c.draining {
		c.mu.Unlock()
		return nil, ErrDraining
	}
	if !c.slots.TryAcquire(1) {
		c.mu.Unlock()
		return nil, ErrBackpressure
	}
	var id jsonrpc.ID
	for {
		c.nextID++
		id = jsonrpc.NewNumberID(c.nextID)
		if _, busy := c.pending[id]; !busy {
			break
		}
	}
	call := &Call{
		id:       id,
		method:   method,
		issuedAt: time.Now(),
		done:     make(chan struct{}),
		conn:     c,
	}
	c.pending[id] = call
	c.mu.Unlock()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		c.retire(id, nil, err)
		return nil, err
	}

	c.logger.Debug("send request",
		slog.String("method", method),
		slog.String("id", id.String()),
	)
	if err := c.write(req); err != nil {
		c.retire(id, nil, err)
		return nil, err
	}
	return call, nil
}

// Request sends a request and waits for its result.
//
// Description:
//
//	If ctx ends first the request is cancelled and a *CancelledError
//	wrapping ctx.Err() is returned. A backend error response is returned as
//	*jsonrpc.Error. When result is non-nil and the response carries a non-null
//	result, it is unmarshaled into result.
func (c *Conn) Request(ctx context.Context, method string, params, result any) error {
	call, err := c.Go(ctx, method, params)
	if err != nil {
		return err
	}
	raw, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification. Notifications and requests leave in the
// order their writes acquire the write lock.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Err(); err != nil {
		return err
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	c.logger.Debug("send notification", slog.String("method", method))
	return c.write(n)
}

// Cancel retires the request with the given id.
//
// Description:
//
//	Resolves the call with a *CancelledError, remembers the id so a late
//	response is tolerated, and sends the cancellation notification. The
//	backend is not required to stop working on the request.
//
// Outputs:
//
//	error - Non-nil if the id is not outstanding or the notification failed
func (c *Conn) Cancel(id jsonrpc.ID) error {
	if err := c.abandon(id, nil); err != nil {
		return err
	}
	return c.notifyCancel(id)
}

// abandon retires an outstanding request locally and resolves its Call with
// a *CancelledError. A late response for id is tolerated afterwards.
func (c *Conn) abandon(id jsonrpc.ID, cause error) error {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.cancelled.add(id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel: no outstanding request %s", id)
	}

	call.resolve(nil, &CancelledError{ID: id, Method: call.method, Cause: cause})
	c.logger.Debug("request cancelled",
		slog.String("method", call.method),
		slog.String("id", id.String()),
		slog.Duration("elapsed", time.Since(call.issuedAt)),
	)
	return nil
}

// notifyCancel tells the backend that id was abandoned.
func (c *Conn) notifyCancel(id jsonrpc.ID) error {
	if c.cancelMethod == "" || c.Err() != nil {
		return nil
	}
	return c.Notify(context.Background(), c.cancelMethod, cancelParams{ID: id})
}

type cancelParams struct {
	ID jsonrpc.ID `json:"id"`
}

// Drain blocks new requests until every outstanding one has resolved.
//
// Description:
//
//	While draining, Go returns ErrDraining. Once the outstanding requests
//	are gone, or ctx ends, new requests are accepted again so a final
//	handshake (such as LSP shutdown) can still be sent.
//
// Outputs:
//
//	error - ctx.Err() if outstanding requests remain when ctx ends
func (c *Conn) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	// Holding every slot means nothing is in flight.
	if err := c.slots.Acquire(ctx, c.maxOutstanding); err != nil {
		c.logger.Warn("Drain timed out",
			slog.Int("outstanding", c.Outstanding()),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.slots.Release(c.maxOutstanding)
	return nil
}

// Close closes the stream and resolves remaining calls with ConnectionLost.
//
// Inputs:
//
//	cause - Why the connection is closing. Nil records transport.ErrClosed.
func (c *Conn) Close(cause error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		if cause == nil {
			cause = transport.ErrClosed
		}
		lost := transport.Lost(cause)

		c.mu.Lock()
		c.err = lost
		pending := c.pending
		c.pending = make(map[jsonrpc.ID]*Call)
		c.mu.Unlock()

		close(c.done)
		c.baseCancel()
		c.queue.close()
		closeErr = c.stream.Close()

		for _, call := range pending {
			call.resolve(nil, lost)
		}
		if len(pending) > 0 {
			c.logger.Info("Resolved pending requests on close",
				slog.Int("count", len(pending)),
				slog.String("cause", lost.Error()),
			)
		}
	})
	return closeErr
}

func (c *Conn) write(m jsonrpc.Message) error {
	c.writeMu.Lock()
	err := c.framer.WriteMessage(m)
	c.writeMu.Unlock()
	if err != nil {
		lost := transport.Lost(err)
		c.Close(lost)
		return lost
	}
	return nil
}

// retire removes a pending call and resolves it.
func (c *Conn) retire(id jsonrpc.ID, result json.RawMessage, err error) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		call.resolve(result, err)
	}
}

// =============================================================================
// INBOUND
// =============================================================================

// Run reads and dispatches messages until the stream fails or ctx ends.
//
// Description:
//
//	Run is the only reader of the stream. Framing and decode errors close
//	the connection because the next frame boundary is unknown. Run returns
//	after the notification dispatcher has delivered everything it queued.
//
// Outputs:
//
//	error - The ConnectionLost cause
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		c.dispatchNotifications()
	}()

	go func() {
		select {
		case <-ctx.Done():
			c.Close(ctx.Err())
		case <-c.done:
		}
	}()

	for {
		msg, err := c.framer.ReadMessage()
		if err != nil {
			if c.Err() == nil {
				if errors.Is(err, io.EOF) {
					c.logger.Info("Connection closed by peer")
				} else {
					c.logger.Warn("Connection read failed", slog.String("error", err.Error()))
				}
			}
			c.Close(err)
			break
		}
		c.handle(msg)
	}

	<-dispatched
	c.handlers.Wait()
	return c.Err()
}

func (c *Conn) handle(msg jsonrpc.Message) {
	switch m := msg.(type) {
	case *jsonrpc.Response:
		c.handleResponse(m)
	case *jsonrpc.Request:
		c.handleRequest(m)
	case *jsonrpc.Notification:
		c.handleNotification(m)
	}
}

func (c *Conn) handleResponse(resp *jsonrpc.Response) {
	if resp.ID == nil {
		c.logger.Warn("Peer reported an error without an id",
			slog.String("error", resp.Error.Error()),
		)
		return
	}
	id := *resp.ID

	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	late := !ok && c.cancelled.contains(id)
	c.mu.Unlock()

	switch {
	case ok:
		c.logger.Debug("receive response",
			slog.String("method", call.method),
			slog.String("id", id.String()),
			slog.Duration("elapsed", time.Since(call.issuedAt)),
		)
		if resp.Error != nil {
			call.resolve(nil, resp.Error)
		} else {
			call.resolve(resp.Result, nil)
		}
	case late:
		c.logger.Debug("discard late response for cancelled request",
			slog.String("id", id.String()),
		)
	default:
		perr := &ProtocolError{Reason: "response for unknown request id", ID: &id}
		c.logger.Warn("Protocol violation", slog.String("error", perr.Error()))
		if c.onProtocolError != nil {
			c.onProtocolError(perr)
		}
	}
}

func (c *Conn) handleRequest(req *jsonrpc.Request) {
	c.mu.Lock()
	h, ok := c.requests[req.Method]
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.inbound[req.ID] = cancel
	c.mu.Unlock()

	c.logger.Debug("receive request",
		slog.String("method", req.Method),
		slog.String("id", req.ID.String()),
	)

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inbound, req.ID)
			c.mu.Unlock()
			cancel()
		}()

		var resp *jsonrpc.Response
		if !ok {
			resp = jsonrpc.NewErrorResponse(req.ID,
				jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found: "+req.Method))
		} else {
			resp = c.invokeRequest(ctx, h, req)
		}
		if err := c.write(resp); err != nil && c.Err() == nil {
			c.logger.Warn("Failed to send response",
				slog.String("method", req.Method),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *Conn) invokeRequest(ctx context.Context, h RequestHandler, req *jsonrpc.Request) (resp *jsonrpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Request handler panicked",
				slog.String("method", req.Method),
				slog.Any("panic", r),
			)
			resp = jsonrpc.NewErrorResponse(req.ID,
				jsonrpc.NewError(jsonrpc.CodeInternalError, fmt.Sprintf("handler panic: %v", r)))
		}
	}()

	result, err := h(ctx, req.Params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		switch {
		case errors.As(err, &rpcErr):
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			rpcErr = jsonrpc.NewError(jsonrpc.CodeRequestCancelled, "request cancelled")
		default:
			rpcErr = jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
		}
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}
	resp, err = jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error()))
	}
	return resp
}

func (c *Conn) handleNotification(n *jsonrpc.Notification) {
	if c.cancelMethod != "" && n.Method == c.cancelMethod {
		c.handleInboundCancel(n.Params)
		return
	}
	c.queue.push(n)
}

// handleInboundCancel cancels the context of an inbound request the peer
// no longer wants answered.
func (c *Conn) handleInboundCancel(params json.RawMessage) {
	var p cancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.logger.Debug("ignore malformed cancel notification", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	cancel, ok := c.inbound[p.ID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// dispatchNotifications delivers queued notifications in arrival order.
// It returns once the queue is closed and empty.
func (c *Conn) dispatchNotifications() {
	for {
		n, ok := c.queue.pop()
		if !ok {
			return
		}
		c.mu.Lock()
		hs := append([]NotificationHandler(nil), c.notifications[n.Method]...)
		c.mu.Unlock()

		if len(hs) == 0 {
			c.logger.Debug("no handler for notification", slog.String("method", n.Method))
			continue
		}
		for _, h := range hs {
			c.invokeNotification(h, n)
		}
	}
}

func (c *Conn) invokeNotification(h NotificationHandler, n *jsonrpc.Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Notification handler panicked",
				slog.String("method", n.Method),
				slog.Any("panic", r),
			)
		}
	}()
	h(c.baseCtx, n.Params)
}
