package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrToolNotFound is returned when no local or remote source offers a tool.
var ErrToolNotFound = errors.New("tool not found")

// ToolsProvider merges tools from a local registry and any number of MCP
// clients. Local tools win on name conflicts; among clients the first one
// added wins.
type ToolsProvider struct {
	local  *mcp.ToolRegistry
	logger observability.Logger

	mu         sync.RWMutex
	clients    []*mcp.Client
	routes     map[string]*mcp.Client
	remote     []mcp.Tool
	stale      bool
	generation uint64
}

// ToolsProviderOption configures a ToolsProvider.
type ToolsProviderOption func(*ToolsProvider)

// WithToolsLogger sets the logger.
func WithToolsLogger(l observability.Logger) ToolsProviderOption {
	return func(p *ToolsProvider) { p.logger = l }
}

// NewToolsProvider creates a provider over local, which may be nil.
func NewToolsProvider(local *mcp.ToolRegistry, opts ...ToolsProviderOption) *ToolsProvider {
	p := &ToolsProvider{
		local:  local,
		logger: observability.NewNullLogger(),
		routes: make(map[string]*mcp.Client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddMCPClient adds a remote tool source. The client's tool list is cached
// until the server reports that it changed.
func (p *ToolsProvider) AddMCPClient(c *mcp.Client) {
	c.OnNotification(mcp.NotificationToolsListChanged, func(context.Context, json.RawMessage) {
		p.logger.WithFields(map[string]interface{}{"server": c.ServerInfo().Name}).Debug("remote tool list changed")
		p.Invalidate()
	})

	p.mu.Lock()
	p.clients = append(p.clients, c)
	p.stale = true
	p.generation++
	p.mu.Unlock()
}

// Invalidate drops the cached remote tool list.
func (p *ToolsProvider) Invalidate() {
	p.mu.Lock()
	p.stale = true
	p.generation++
	p.mu.Unlock()
}

// refresh rebuilds the remote routing table. A client whose tool list cannot
// be fetched is skipped and the cache stays stale so the next call retries it.
func (p *ToolsProvider) refresh(ctx context.Context) {
	p.mu.RLock()
	if !p.stale {
		p.mu.RUnlock()
		return
	}
	gen := p.generation
	clients := append([]*mcp.Client(nil), p.clients...)
	p.mu.RUnlock()

	routes := make(map[string]*mcp.Client)
	var remote []mcp.Tool
	complete := true
	for _, c := range clients {
		if !c.IsInitialized() {
			continue
		}
		tools, err := c.ListTools(ctx)
		if err != nil {
			p.logger.WithErr(err).WithFields(map[string]interface{}{"server": c.ServerInfo().Name}).Warn("skipping MCP server whose tools could not be listed")
			complete = false
			continue
		}
		for _, t := range tools {
			if _, taken := routes[t.Name]; taken {
				continue
			}
			routes[t.Name] = c
			remote = append(remote, t)
		}
	}

	p.mu.Lock()
	p.routes = routes
	p.remote = remote
	if p.generation == gen && complete {
		p.stale = false
	}
	p.mu.Unlock()
}

// ListTools returns the tools named in allowed, or every tool when allowed is
// empty.
func (p *ToolsProvider) ListTools(ctx context.Context, allowed []string) ([]mcp.Tool, error) {
	p.refresh(ctx)

	var allow map[string]bool
	if len(allowed) > 0 {
		allow = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allow[name] = true
		}
	}
	keep := func(name string) bool { return allow == nil || allow[name] }

	tools := make([]mcp.Tool, 0)
	seen := make(map[string]bool)
	if p.local != nil {
		for _, t := range p.local.All() {
			seen[t.Name] = true
			if keep(t.Name) {
				tools = append(tools, t)
			}
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.remote {
		if !seen[t.Name] && keep(t.Name) {
			tools = append(tools, t)
		}
	}
	return tools, nil
}

// ExecuteTool runs a tool on whichever source owns it.
func (p *ToolsProvider) ExecuteTool(ctx context.Context, params mcp.CallToolParams) (result mcp.CallToolResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ToolsProvider.ExecuteTool")
	span.SetAttributes(
		attribute.String("tool_name", params.Name),
		attribute.String("arguments", string(params.Arguments)),
	)
	startTime := time.Now()
	defer func() {
		span.SetAttributes(attribute.Float64("execution_time_ms", float64(time.Since(startTime).Milliseconds())))
		observability.EndSpan(span, err)
	}()

	if p.local != nil {
		if _, ok := p.local.Get(params.Name); ok {
			span.AddEvent("FoundLocalTool")
			span.SetAttributes(attribute.Bool("is_local_tool", true))
			return p.local.Call(ctx, params)
		}
	}

	p.refresh(ctx)

	p.mu.RLock()
	client, ok := p.routes[params.Name]
	p.mu.RUnlock()
	if !ok {
		return mcp.CallToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, params.Name)
	}

	span.AddEvent("CallingMCPServer", trace.WithAttributes(attribute.String("server", client.ServerInfo().Name)))
	span.SetAttributes(attribute.Bool("is_mcp_tool", true))
	return client.CallTool(ctx, params.Name, params.Arguments)
}

// toolResultText renders a tool outcome for the model. Failures are reported
// as text so the model can react to them.
func toolResultText(result mcp.CallToolResult, err error) (string, bool) {
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true
	}
	text := result.Text()
	if text == "" && len(result.StructuredContent) > 0 {
		text = string(result.StructuredContent)
	}
	if text == "" {
		text = "No content returned from tool"
	}
	return text, result.IsError
}
