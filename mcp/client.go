package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpbridge/observability"
	"go.opentelemetry.io/otel/attribute"
)

const maxMissedPings = 3

// Client is the initiating side of an MCP session.
type Client struct {
	conn      *Conn
	router    *Router
	logger    observability.Logger
	info      Implementation
	caps      ClientCapabilities
	keepAlive time.Duration

	mu              sync.RWMutex
	initialized     bool
	serverInfo      Implementation
	serverCaps      ServerCapabilities
	protocolVersion string
	instructions    string

	runDone chan struct{}
	cancel  context.CancelFunc
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientInfo sets the name and version sent during initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = Implementation{Name: name, Version: version}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientCapabilities sets the capabilities advertised to the server.
func WithClientCapabilities(caps ClientCapabilities) ClientOption {
	return func(c *Client) {
		c.caps = caps
	}
}

// WithKeepAliveInterval pings the server every d once connected. The client
// closes itself after three consecutive failed pings.
func WithKeepAliveInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.keepAlive = d
	}
}

// NewClient creates a client over t. Nothing is sent until Connect.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		logger:  observability.NewNullLogger(),
		info:    Implementation{Name: defaultServerName + "-client", Version: defaultServerVersion},
		runDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.router = NewRouter(c.logger)
	c.router.Handle(MethodPing, func(ctx context.Context, req *Request) (interface{}, error) {
		return struct{}{}, nil
	})
	c.conn = NewConn(t, c.router, WithConnLogger(c.logger))
	return c
}

// OnNotification registers fn for a server notification such as
// notifications/tools/list_changed. Register handlers before Connect.
func (c *Client) OnNotification(method string, fn func(ctx context.Context, params json.RawMessage)) {
	c.router.HandleNotification(method, func(ctx context.Context, req *Request) {
		fn(ctx, req.Params)
	})
}

// Connect starts the connection and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "Client.Connect")
	defer func() { observability.EndSpan(span, err) }()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("client already connected")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.runDone)
		if err := c.conn.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithErr(err).Warn("connection stopped")
		}
	}()

	var result InitializeResult
	err = c.conn.Call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    c.caps,
		ClientInfo:      c.info,
	}, &result)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	if !IsSupportedProtocolVersion(result.ProtocolVersion) {
		_ = c.Close()
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocolVersion, result.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	c.instructions = result.Instructions
	c.mu.Unlock()

	if err = c.conn.Notify(ctx, NotificationInitialized, nil); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	span.SetAttributes(
		attribute.String("server_name", result.ServerInfo.Name),
		attribute.String("protocol_version", result.ProtocolVersion),
	)
	c.logger.WithFields(map[string]interface{}{
		"server":           result.ServerInfo.Name,
		"server_version":   result.ServerInfo.Version,
		"protocol_version": result.ProtocolVersion,
	}).Info("connected to MCP server")

	if c.keepAlive > 0 {
		go c.keepAliveLoop(runCtx)
	}
	return nil
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// ServerInfo returns what the server reported about itself.
func (c *Client) ServerInfo() Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server advertised.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// ProtocolVersion returns the negotiated protocol revision.
func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

// Instructions returns the server's usage hints.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// Done is closed when the connection has stopped.
func (c *Client) Done() <-chan struct{} { return c.runDone }

type capability int

const (
	capNone capability = iota
	capTools
	capPrompts
	capResources
	capLogging
)

func (c *Client) require(cap capability) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return ErrNotInitialized
	}

	var ok bool
	switch cap {
	case capTools:
		ok = c.serverCaps.Tools != nil
	case capPrompts:
		ok = c.serverCaps.Prompts != nil
	case capResources:
		ok = c.serverCaps.Resources != nil
	case capLogging:
		ok = c.serverCaps.Logging != nil
	default:
		ok = true
	}
	if !ok {
		return ErrCapabilityNotSupported
	}
	return nil
}

// paginateAll calls fetch with successive cursors until the server stops
// returning one.
func paginateAll(ctx context.Context, fetch func(ctx context.Context, cursor string) (string, error)) error {
	seen := make(map[string]bool)
	cursor := ""
	for {
		next, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if seen[next] {
			return fmt.Errorf("server repeated cursor %q", next)
		}
		seen[next] = true
		cursor = next
	}
}

// ListTools returns every tool, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.require(capTools); err != nil {
		return nil, err
	}

	var tools []Tool
	err := paginateAll(ctx, func(ctx context.Context, cursor string) (string, error) {
		var page ListToolsResult
		if err := c.conn.Call(ctx, MethodToolsList, PaginatedParams{Cursor: cursor}, &page); err != nil {
			return "", err
		}
		tools = append(tools, page.Tools...)
		return page.NextCursor, nil
	})
	return tools, err
}

// CallTool invokes a tool. args may be json.RawMessage or any value that
// marshals to a JSON object.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}) (result CallToolResult, err error) {
	ctx, span := observability.StartSpan(ctx, "Client.CallTool")
	span.SetAttributes(attribute.String("tool_name", name))
	defer func() { observability.EndSpan(span, err) }()

	if err = c.require(capTools); err != nil {
		return CallToolResult{}, err
	}

	params := CallToolParams{Name: name}
	switch v := args.(type) {
	case nil:
	case json.RawMessage:
		params.Arguments = v
	default:
		raw, mErr := json.Marshal(v)
		if mErr != nil {
			return CallToolResult{}, fmt.Errorf("failed to encode tool arguments: %w", mErr)
		}
		params.Arguments = raw
	}

	err = c.conn.Call(ctx, MethodToolsCall, params, &result)
	return result, err
}

// ListPrompts returns every prompt, following pagination cursors.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if err := c.require(capPrompts); err != nil {
		return nil, err
	}

	var prompts []Prompt
	err := paginateAll(ctx, func(ctx context.Context, cursor string) (string, error) {
		var page ListPromptsResult
		if err := c.conn.Call(ctx, MethodPromptsList, PaginatedParams{Cursor: cursor}, &page); err != nil {
			return "", err
		}
		prompts = append(prompts, page.Prompts...)
		return page.NextCursor, nil
	})
	return prompts, err
}

// GetPrompt renders a prompt on the server.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (GetPromptResult, error) {
	if err := c.require(capPrompts); err != nil {
		return GetPromptResult{}, err
	}
	var result GetPromptResult
	err := c.conn.Call(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args}, &result)
	return result, err
}

// ListResources returns every resource, following pagination cursors.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	if err := c.require(capResources); err != nil {
		return nil, err
	}

	var resources []Resource
	err := paginateAll(ctx, func(ctx context.Context, cursor string) (string, error) {
		var page ListResourcesResult
		if err := c.conn.Call(ctx, MethodResourcesList, PaginatedParams{Cursor: cursor}, &page); err != nil {
			return "", err
		}
		resources = append(resources, page.Resources...)
		return page.NextCursor, nil
	})
	return resources, err
}

// ReadResource fetches the contents of uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	if err := c.require(capResources); err != nil {
		return ReadResourceResult{}, err
	}
	var result ReadResourceResult
	err := c.conn.Call(ctx, MethodResourcesRead, ReadResourceParams{URI: uri}, &result)
	return result, err
}

// SetLogLevel asks the server to send log notifications at level and above.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if err := c.require(capLogging); err != nil {
		return err
	}
	return c.conn.Call(ctx, MethodSetLogLevel, SetLevelParams{Level: level}, nil)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.require(capNone); err != nil {
		return err
	}
	return c.conn.Call(ctx, MethodPing, nil, nil)
}

func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.runDone:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.keepAlive)
			err := c.Ping(pingCtx)
			cancel()

			if err == nil {
				missed = 0
				continue
			}
			missed++
			c.logger.WithErr(err).Warnf("keep-alive ping failed (%d/%d)", missed, maxMissedPings)
			if missed >= maxMissedPings {
				c.logger.Error("server stopped answering pings, closing connection")
				_ = c.Close()
				return
			}
		}
	}
}

// Close ends the session and waits for the connection to stop.
func (c *Client) Close() error {
	c.mu.Lock()
	c.initialized = false
	cancel := c.cancel
	c.mu.Unlock()

	err := c.conn.Close()
	if cancel != nil {
		cancel()
		<-c.runDone
	}
	if errors.Is(err, ErrTransportClosed) {
		return nil
	}
	return err
}
