package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaharia-lab/mcpbridge/observability"
)

// HandlerFunc answers a request. The returned value is marshalled as the result.
type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// NotificationHandlerFunc consumes a notification.
type NotificationHandlerFunc func(ctx context.Context, req *Request)

// Middleware wraps request handlers. It sees every request before its handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Router dispatches requests and notifications to handlers by method name.
type Router struct {
	mu            sync.RWMutex
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationHandlerFunc
	middleware    []Middleware
	logger        observability.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger observability.Logger) *Router {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Router{
		handlers:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationHandlerFunc),
		logger:        logger,
	}
}

// Handle registers h for method, replacing any previous handler.
func (r *Router) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// HandleNotification registers h for the notification method.
func (r *Router) HandleNotification(method string, h NotificationHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[method] = h
}

// Use appends middleware. The first one added runs outermost.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Dispatch runs the handler for req and builds the response.
func (r *Router) Dispatch(ctx context.Context, req *Request) *Response {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	chain := r.middleware
	r.mu.RUnlock()

	if !ok {
		h = func(context.Context, *Request) (interface{}, error) {
			return nil, errMethodNotFound(req.Method)
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	result, err := r.invoke(ctx, h, req)
	if err != nil {
		return NewErrorResponse(req.ID, r.toRPCError(req, err))
	}

	resp, err := NewResultResponse(req.ID, result)
	if err != nil {
		r.logger.WithErr(err).Errorf("failed to encode result of %s", req.Method)
		return NewErrorResponse(req.ID, NewError(CodeInternalError, "internal error", nil))
	}
	return resp
}

func (r *Router) invoke(ctx context.Context, h HandlerFunc, req *Request) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler for %s panicked: %v", req.Method, p)
		}
	}()
	return h(ctx, req)
}

// DispatchNotification runs the notification handler if one exists.
func (r *Router) DispatchNotification(ctx context.Context, req *Request) {
	r.mu.RLock()
	h, ok := r.notifications[req.Method]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debugf("ignoring notification %s", req.Method)
		return
	}
	h(ctx, req)
}

func (r *Router) toRPCError(req *Request, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, ErrInvalidParams) {
		return errInvalidParams(err.Error(), nil)
	}

	r.logger.WithErr(err).WithFields(map[string]interface{}{"method": req.Method}).Error("request handler failed")
	return NewError(CodeInternalError, "internal error", nil)
}

// inflightRequest is an inbound request whose handler is still running.
type inflightRequest struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// inflightRequests correlates inbound request IDs with running handlers.
type inflightRequests struct {
	mu   sync.Mutex
	reqs map[string]*inflightRequest
}

func newInflightRequests() *inflightRequests {
	return &inflightRequests{reqs: make(map[string]*inflightRequest)}
}

// begin registers id. It fails when a request with the same id is still running.
func (f *inflightRequests) begin(ctx context.Context, id ID) (context.Context, *inflightRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.reqs[id.Key()]; exists {
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	req := &inflightRequest{cancel: cancel}
	f.reqs[id.Key()] = req
	return ctx, req, true
}

func (f *inflightRequests) end(id ID) {
	f.mu.Lock()
	req, ok := f.reqs[id.Key()]
	delete(f.reqs, id.Key())
	f.mu.Unlock()

	if ok {
		req.cancel()
	}
}

// cancel marks the request as cancelled by the peer and stops its handler.
func (f *inflightRequests) cancel(id ID) bool {
	f.mu.Lock()
	req, ok := f.reqs[id.Key()]
	f.mu.Unlock()

	if !ok {
		return false
	}
	req.cancelled.Store(true)
	req.cancel()
	return true
}

func (f *inflightRequests) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.reqs {
		req.cancel()
	}
}

func (f *inflightRequests) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}
