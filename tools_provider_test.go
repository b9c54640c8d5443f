package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shaharia-lab/mcpbridge/calculator"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text string `json:"text"`
}

func newCalculatorRegistry(t *testing.T) *mcp.ToolRegistry {
	t.Helper()
	reg := mcp.NewToolRegistry(nil)
	require.NoError(t, calculator.Register(reg))
	return reg
}

// serveRegistry runs an MCP server for reg over an in-memory pipe and returns
// a client that has not connected yet.
func serveRegistry(t *testing.T, reg *mcp.ToolRegistry) *mcp.Client {
	t.Helper()

	aR, aW := io.Pipe()
	bR, bW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	srv := mcp.NewServer(mcp.UseToolRegistry(reg))
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.ServeTransport(ctx, mcp.NewStdioTransport(aR, bW))
	}()

	client := mcp.NewClient(mcp.NewStdioTransport(bR, aW))
	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		_ = aW.Close()
		_ = bR.Close()
		<-served
	})
	return client
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

func TestToolsProvider_LocalOnly(t *testing.T) {
	p := NewToolsProvider(newCalculatorRegistry(t))
	ctx := context.Background()

	all, err := p.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	filtered, err := p.ListTools(ctx, []string{"add", "sqrt", "unknown"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"add", "sqrt"}, toolNames(filtered))

	result, err := p.ExecuteTool(ctx, mcp.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":2,"b":3}`)})
	require.NoError(t, err)
	assert.Equal(t, "5", result.Text())

	_, err = p.ExecuteTool(ctx, mcp.CallToolParams{Name: "nope"})
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestToolsProvider_RemoteAndShadowing(t *testing.T) {
	remoteReg := mcp.NewToolRegistry(nil)
	mcp.MustRegisterTyped(remoteReg, "echo", "Echo the text back",
		func(ctx context.Context, in echoInput) (string, error) { return "remote: " + in.Text, nil })
	mcp.MustRegisterTyped(remoteReg, "add", "Remote add that should be shadowed",
		func(ctx context.Context, in echoInput) (string, error) { return "remote add", nil })

	client := serveRegistry(t, remoteReg)
	p := NewToolsProvider(newCalculatorRegistry(t))
	p.AddMCPClient(client)
	require.NoError(t, client.Connect(context.Background()))
	ctx := context.Background()

	tools, err := p.ListTools(ctx, nil)
	require.NoError(t, err)
	names := toolNames(tools)
	assert.Contains(t, names, "echo")
	assert.Len(t, names, 9)

	result, err := p.ExecuteTool(ctx, mcp.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, "remote: hi", result.Text())

	result, err = p.ExecuteTool(ctx, mcp.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "2", result.Text())
}

func TestToolsProvider_InvalidatedByListChanged(t *testing.T) {
	remoteReg := mcp.NewToolRegistry(nil)
	mcp.MustRegisterTyped(remoteReg, "echo", "Echo the text back",
		func(ctx context.Context, in echoInput) (string, error) { return in.Text, nil })

	client := serveRegistry(t, remoteReg)
	p := NewToolsProvider(nil)
	p.AddMCPClient(client)
	require.NoError(t, client.Connect(context.Background()))
	ctx := context.Background()

	tools, err := p.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, toolNames(tools))

	mcp.MustRegisterTyped(remoteReg, "shout", "Upper-case the text",
		func(ctx context.Context, in echoInput) (string, error) { return in.Text + "!", nil })

	assert.Eventually(t, func() bool {
		tools, err := p.ListTools(ctx, nil)
		return err == nil && len(tools) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestToolsProvider_SkipsUnreachableRemote(t *testing.T) {
	remoteReg := mcp.NewToolRegistry(nil)
	mcp.MustRegisterTyped(remoteReg, "echo", "Echo the text back",
		func(ctx context.Context, in echoInput) (string, error) { return in.Text, nil })

	aR, aW := io.Pipe()
	bR, bW := io.Pipe()
	serveCtx, stop := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = mcp.NewServer(mcp.UseToolRegistry(remoteReg)).ServeTransport(serveCtx, mcp.NewStdioTransport(aR, bW))
	}()

	client := mcp.NewClient(mcp.NewStdioTransport(bR, aW))
	t.Cleanup(func() { _ = client.Close() })

	p := NewToolsProvider(newCalculatorRegistry(t))
	p.AddMCPClient(client)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	stop()
	_ = bW.Close()
	_ = aR.Close()
	<-served

	tools, err := p.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools, 8)
	assert.NotContains(t, toolNames(tools), "echo")

	result, err := p.ExecuteTool(ctx, mcp.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":2,"b":3}`)})
	require.NoError(t, err)
	assert.Equal(t, "5", result.Text())

	_, err = p.ExecuteTool(ctx, mcp.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name      string
		result    mcp.CallToolResult
		err       error
		wantText  string
		wantError bool
	}{
		{
			name:     "text content",
			result:   mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent("42")}},
			wantText: "42",
		},
		{
			name:     "structured only",
			result:   mcp.CallToolResult{StructuredContent: json.RawMessage(`{"x":1}`)},
			wantText: `{"x":1}`,
		},
		{
			name:     "empty",
			wantText: "No content returned from tool",
		},
		{
			name:      "tool error flag",
			result:    mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent("Division by zero")}, IsError: true},
			wantText:  "Division by zero",
			wantError: true,
		},
		{
			name:      "call failure",
			err:       errors.New("connection closed"),
			wantText:  "Error: connection closed",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := toolResultText(tt.result, tt.err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantError, isErr)
		})
	}
}
