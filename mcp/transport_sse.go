package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/tmaxmax/go-sse"
)

const (
	// DefaultKeepAliveInterval is how often idle event streams get a comment.
	DefaultKeepAliveInterval = 30 * time.Second

	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"
	sseQueueSize     = 64
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// ErrUnauthorized is returned when a bearer token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// SSEServer serves MCP sessions over HTTP. Clients open an event stream with
// GET <base>/sse and post their messages to the endpoint it announces.
type SSEServer struct {
	server       *Server
	logger       observability.Logger
	basePath     string
	keepAlive    time.Duration
	jwtSecret    []byte
	allowOrigin  string
	maxFrameSize int

	mu       sync.RWMutex
	sessions map[string]*sseServerTransport
}

// SSEOption configures an SSEServer.
type SSEOption func(*SSEServer)

// WithBasePath mounts the endpoints under path, e.g. "/mcp".
func WithBasePath(path string) SSEOption {
	return func(h *SSEServer) {
		h.basePath = strings.TrimRight(path, "/")
	}
}

// WithKeepAlive sets the keep-alive comment interval. Zero disables it.
func WithKeepAlive(d time.Duration) SSEOption {
	return func(h *SSEServer) {
		h.keepAlive = d
	}
}

// WithJWTSecret requires an HS256 bearer token signed with secret on both endpoints.
func WithJWTSecret(secret []byte) SSEOption {
	return func(h *SSEServer) {
		h.jwtSecret = secret
	}
}

// WithAllowedOrigin sets the Access-Control-Allow-Origin value. Defaults to "*".
func WithAllowedOrigin(origin string) SSEOption {
	return func(h *SSEServer) {
		h.allowOrigin = origin
	}
}

// SSEHandler returns an HTTP handler that serves sessions for s.
func (s *Server) SSEHandler(opts ...SSEOption) *SSEServer {
	h := &SSEServer{
		server:       s,
		logger:       s.logger,
		keepAlive:    DefaultKeepAliveInterval,
		allowOrigin:  "*",
		maxFrameSize: s.frameLimit,
		sessions:     make(map[string]*sseServerTransport),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListenAndServeSSE serves HTTP on addr until ctx ends, then shuts down with
// a five second grace period.
func (s *Server) ListenAndServeSSE(ctx context.Context, addr string, opts ...SSEOption) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SSEHandler(opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(map[string]interface{}{"addr": addr}).Info("serving MCP over SSE")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down SSE server: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (h *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.authenticate(r); err != nil {
		h.logger.WithErr(err).Warn("rejecting unauthenticated request")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == h.basePath+"/sse" && r.Method == http.MethodGet:
		h.handleStream(w, r)
	case r.URL.Path == h.basePath+"/message" && r.Method == http.MethodPost:
		h.handleMessage(w, r)
	case r.URL.Path == h.basePath+"/sse" || r.URL.Path == h.basePath+"/message":
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

// SessionCount returns the number of open event streams.
func (h *SSEServer) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *SSEServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (h *SSEServer) authenticate(r *http.Request) error {
	if len(h.jwtSecret) == 0 {
		return nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil
}

func (h *SSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.logger.WithErr(err).Error("failed to upgrade event stream")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	t := newSSEServerTransport()

	endpoint := sse.Message{Type: sse.Type(sseEventEndpoint)}
	endpoint.AppendData(fmt.Sprintf("%s/message?sessionId=%s", h.basePath, id))
	if err := sess.Send(&endpoint); err != nil {
		h.logger.WithErr(err).Error("failed to send endpoint event")
		return
	}
	if err := sess.Flush(); err != nil {
		h.logger.WithErr(err).Error("failed to flush endpoint event")
		return
	}

	h.mu.Lock()
	h.sessions[id] = t
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		_ = t.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := h.server.serveSession(ctx, id, t); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.WithErr(err).WithFields(map[string]interface{}{"session_id": id}).Warn("SSE session ended with error")
		}
	}()

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-served:
			return
		case msg := <-t.outgoing:
			event := sse.Message{Type: sse.Type(sseEventMessage)}
			event.AppendData(string(msg))
			if err := sess.Send(&event); err != nil {
				h.logger.WithErr(err).Debug("failed to write event")
				return
			}
			if err := sess.Flush(); err != nil {
				h.logger.WithErr(err).Debug("failed to flush event")
				return
			}
		case <-tick:
			ping := sse.Message{}
			ping.AppendComment("keep-alive")
			if err := sess.Send(&ping); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	id := r.URL.Query().Get("sessionId")
	h.mu.RLock()
	t, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.maxFrameSize)+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > h.maxFrameSize {
		http.Error(w, ErrFrameTooLarge.Error(), http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body is not valid JSON", http.StatusBadRequest)
		return
	}

	if err := t.deliver(r.Context(), body); err != nil {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// sseServerTransport is the server side of one event stream.
type sseServerTransport struct {
	incoming  chan []byte
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEServerTransport() *sseServerTransport {
	return &sseServerTransport{
		incoming: make(chan []byte, sseQueueSize),
		outgoing: make(chan []byte, sseQueueSize),
		done:     make(chan struct{}),
	}
}

func (t *sseServerTransport) deliver(ctx context.Context, msg []byte) error {
	select {
	case t.incoming <- msg:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sseServerTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.outgoing <- msg:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sseServerTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.incoming:
		return msg, nil
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sseServerTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// SSEClientTransport is the client side of an SSE session.
type SSEClientTransport struct {
	httpClient *http.Client
	headers    http.Header
	logger     observability.Logger
	endpoint   string
	body       io.ReadCloser

	incoming  chan frameResult
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// SSEClientOption configures DialSSE.
type SSEClientOption func(*SSEClientTransport)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) SSEClientOption {
	return func(t *SSEClientTransport) {
		t.httpClient = c
	}
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) SSEClientOption {
	return func(t *SSEClientTransport) {
		t.headers.Set("Authorization", "Bearer "+token)
	}
}

// WithSSELogger sets the transport logger.
func WithSSELogger(logger observability.Logger) SSEClientOption {
	return func(t *SSEClientTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// DialSSE opens the event stream at streamURL and waits for the endpoint event.
func DialSSE(ctx context.Context, streamURL string, opts ...SSEClientOption) (*SSEClientTransport, error) {
	t := &SSEClientTransport{
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
		logger:     observability.NewNullLogger(),
		incoming:   make(chan frameResult, sseQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	base, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header = t.headers.Clone()
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to open event stream: unexpected status %d", resp.StatusCode)
	}
	t.body = resp.Body

	ready := make(chan error, 1)
	go t.readEvents(base, ready)

	select {
	case err := <-ready:
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		return t, nil
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}
}

// Endpoint returns the resolved message endpoint.
func (t *SSEClientTransport) Endpoint() string { return t.endpoint }

func (t *SSEClientTransport) readEvents(base *url.URL, ready chan<- error) {
	defer close(t.incoming)
	announced := false

	for ev, err := range sse.Read(t.body, &sse.ReadConfig{MaxEventSize: DefaultMaxFrameSize}) {
		if err != nil {
			if !announced {
				ready <- fmt.Errorf("event stream failed before endpoint: %w", err)
				return
			}
			select {
			case t.incoming <- frameResult{err: fmt.Errorf("event stream failed: %w", err)}:
			case <-t.done:
			}
			return
		}

		switch ev.Type {
		case sseEventEndpoint:
			if announced {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(ev.Data))
			if err != nil || ev.Data == "" {
				ready <- fmt.Errorf("invalid endpoint event %q", ev.Data)
				return
			}
			t.endpoint = base.ResolveReference(ref).String()
			announced = true
			ready <- nil
		case sseEventMessage:
			if !announced {
				t.logger.Warn("dropping message received before endpoint")
				continue
			}
			select {
			case t.incoming <- frameResult{frame: []byte(ev.Data)}:
			case <-t.done:
				return
			}
		default:
			t.logger.Debugf("ignoring event type %q", ev.Type)
		}
	}

	if !announced {
		ready <- errors.New("event stream closed before endpoint")
	}
}

// Send posts msg to the message endpoint.
func (t *SSEClientTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(msg))
	if err != nil {
		return err
	}
	req.Header = t.headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to post message: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the next message event.
func (t *SSEClientTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case res, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return res.frame, res.err
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the event stream.
func (t *SSEClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.cancel != nil {
			t.cancel()
		}
		if t.body != nil {
			_ = t.body.Close()
		}
	})
	return nil
}
