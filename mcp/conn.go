package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/shaharia-lab/mcpbridge/observability"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentRequests bounds the inbound requests handled at once per connection.
const DefaultMaxConcurrentRequests = 32

// Conn is one side of a JSON-RPC session over a Transport. It serves inbound
// requests through a Router and correlates outbound calls with their responses.
type Conn struct {
	transport Transport
	router    *Router
	logger    observability.Logger

	sem         *semaphore.Weighted
	inflight    *inflightRequests
	syncMethods map[string]bool
	handlers    sync.WaitGroup

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan *Response

	done      chan struct{}
	closeOnce sync.Once
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithConnLogger sets the connection logger.
func WithConnLogger(logger observability.Logger) ConnOption {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxConcurrentRequests bounds concurrent inbound handlers.
func WithMaxConcurrentRequests(n int64) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithSyncMethods makes the read loop handle these methods inline, so their
// effects are visible before the next message is read.
func WithSyncMethods(methods ...string) ConnOption {
	return func(c *Conn) {
		for _, m := range methods {
			c.syncMethods[m] = true
		}
	}
}

// NewConn wires a transport to a router. Call Run to start processing.
func NewConn(t Transport, router *Router, opts ...ConnOption) *Conn {
	c := &Conn{
		transport:   t,
		router:      router,
		logger:      observability.NewNullLogger(),
		sem:         semaphore.NewWeighted(DefaultMaxConcurrentRequests),
		inflight:    newInflightRequests(),
		syncMethods: make(map[string]bool),
		pending:     make(map[string]chan *Response),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Done is closed once the connection stops.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run reads and dispatches messages until the peer disconnects, the transport
// is closed or ctx ends. Running handlers are cancelled and awaited before Run returns.
func (c *Conn) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		frame, err := c.transport.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrFrameTooLarge):
				c.logger.Warn("dropping oversized message")
				c.writeResponse(NewErrorResponse(nil, NewError(CodeInvalidRequest, "message too large", nil)))
				continue
			case errors.Is(err, io.EOF), errors.Is(err, ErrTransportClosed):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("failed to receive message: %w", err)
			}
		}

		c.handleFrame(ctx, frame)
	}
}

func (c *Conn) handleFrame(ctx context.Context, frame []byte) {
	req, resp, id, err := DecodeMessage(frame)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = NewError(CodeParseError, "parse error", nil)
		}
		c.logger.WithErr(err).Warn("rejecting malformed message")
		c.writeResponse(NewErrorResponse(id, rpcErr))
		return
	}

	switch {
	case resp != nil:
		c.handleResponse(resp)
	case req.IsNotification():
		c.handleNotification(ctx, req)
	default:
		c.handleRequest(ctx, req)
	}
}

func (c *Conn) handleNotification(ctx context.Context, req *Request) {
	if req.Method == NotificationCancelled {
		var params CancelledParams
		if err := req.BindParams(&params); err != nil {
			c.logger.WithErr(err).Warn("invalid cancellation notification")
			return
		}
		if c.inflight.cancel(params.RequestID) {
			c.logger.WithFields(map[string]interface{}{
				"request_id": params.RequestID.String(),
				"reason":     params.Reason,
			}).Debug("request cancelled by peer")
		}
		return
	}

	c.router.DispatchNotification(ctx, req)
}

func (c *Conn) handleRequest(ctx context.Context, req *Request) {
	id := *req.ID
	reqCtx, entry, ok := c.inflight.begin(ctx, id)
	if !ok {
		c.writeResponse(NewErrorResponse(req.ID, NewError(CodeInvalidRequest, "duplicate request id", map[string]string{"id": id.String()})))
		return
	}

	if c.syncMethods[req.Method] {
		c.serve(reqCtx, req, entry)
		return
	}

	// Requests over the limit wait for a slot off the read loop, so
	// cancellations and responses keep flowing.
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		if err := c.sem.Acquire(reqCtx, 1); err != nil {
			c.inflight.end(id)
			c.logger.Debugf("request %s cancelled while waiting for a handler slot", id.String())
			return
		}
		defer c.sem.Release(1)
		if reqCtx.Err() != nil {
			c.inflight.end(id)
			return
		}
		c.serve(reqCtx, req, entry)
	}()
}

func (c *Conn) serve(ctx context.Context, req *Request, entry *inflightRequest) {
	resp := c.router.Dispatch(ctx, req)
	c.inflight.end(*req.ID)

	if entry.cancelled.Load() {
		c.logger.Debugf("not responding to cancelled request %s", req.ID.String())
		return
	}
	c.writeResponse(resp)
}

func (c *Conn) handleResponse(resp *Response) {
	if resp.ID == nil {
		if resp.Error != nil {
			c.logger.WithErr(resp.Error).Warn("peer reported an uncorrelated error")
		}
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID.Key()]
	delete(c.pending, resp.ID.Key())
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warnf("dropping response for unknown request %s", resp.ID.String())
		return
	}
	ch <- resp
}

func (c *Conn) writeResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.WithErr(err).Error("failed to encode response")
		return
	}
	if err := c.transport.Send(context.Background(), data); err != nil {
		c.logger.WithErr(err).Warn("failed to send response")
	}
}

// Call sends a request and waits for its response. The result is decoded into
// result when it is non-nil. When ctx ends first the peer is told to cancel.
func (c *Conn) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := NewNumberID(c.nextID.Add(1))
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Response, 1)
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return ErrConnClosed
	default:
	}
	c.pending[id.Key()] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		c.forget(id)
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := c.transport.Send(ctx, data); err != nil {
		c.forget(id)
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		if err := c.Notify(context.Background(), NotificationCancelled, CancelledParams{RequestID: id, Reason: ctx.Err().Error()}); err != nil {
			c.logger.WithErr(err).Debug("failed to send cancellation")
		}
		return ctx.Err()
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *Conn) forget(id ID) {
	c.pendingMu.Lock()
	delete(c.pending, id.Key())
	c.pendingMu.Unlock()
}

// Notify sends a notification.
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return c.transport.Send(ctx, data)
}

// Close closes the transport, which stops Run.
func (c *Conn) Close() error {
	err := c.transport.Close()
	c.markClosed()
	return err
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		close(c.done)
		c.pendingMu.Unlock()
	})
}

func (c *Conn) shutdown() {
	c.markClosed()
	c.inflight.cancelAll()
	c.handlers.Wait()
}
