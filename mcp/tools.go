package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ToolHandler executes a tool call. Returned errors are reported to the caller
// as an error result, not as a protocol failure.
type ToolHandler func(ctx context.Context, params CallToolParams) (CallToolResult, error)

type registeredTool struct {
	tool    Tool
	input   *gojsonschema.Schema
	output  *gojsonschema.Schema
	handler ToolHandler
}

// ToolRegistry maps tool names to handlers and enforces their schemas.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]*registeredTool
	listeners []func()
	logger    observability.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger observability.Logger) *ToolRegistry {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &ToolRegistry{
		tools:  make(map[string]*registeredTool),
		logger: logger,
	}
}

// OnChange registers fn to run after every registration or removal.
func (r *ToolRegistry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *ToolRegistry) notifyChange() {
	r.mu.RLock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// Register adds a tool. The name must be unique and well-formed, the input
// schema must be a valid object schema and the output schema, when present, too.
func (r *ToolRegistry) Register(tool Tool, handler ToolHandler) error {
	if !toolNamePattern.MatchString(tool.Name) {
		return fmt.Errorf("invalid tool name %q", tool.Name)
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	input, err := compileObjectSchema(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: invalid input schema: %w", tool.Name, err)
	}

	var output *gojsonschema.Schema
	if len(tool.OutputSchema) > 0 {
		output, err = compileObjectSchema(tool.OutputSchema)
		if err != nil {
			return fmt.Errorf("tool %s: invalid output schema: %w", tool.Name, err)
		}
	}

	r.mu.Lock()
	if _, exists := r.tools[tool.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("duplicate tool: %s", tool.Name)
	}
	r.tools[tool.Name] = &registeredTool{tool: tool, input: input, output: output, handler: handler}
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{"tool": tool.Name}).Debug("tool registered")
	r.notifyChange()
	return nil
}

// Unregister removes a tool and reports whether it existed.
func (r *ToolRegistry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if ok {
		r.notifyChange()
	}
	return ok
}

// Get returns the definition of a tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return rt.tool, true
}

// Names returns all tool names in order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every tool definition ordered by name.
func (r *ToolRegistry) All() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if rt, ok := r.tools[name]; ok {
			tools = append(tools, rt.tool)
		}
	}
	return tools
}

// List returns one page of tools ordered by name.
func (r *ToolRegistry) List(cursor string, limit int) ListToolsResult {
	names := r.Names()
	start, end, next := paginate(names, cursor, limit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, end-start)
	for _, name := range names[start:end] {
		if rt, ok := r.tools[name]; ok {
			tools = append(tools, rt.tool)
		}
	}
	return ListToolsResult{Tools: tools, NextCursor: next}
}

// Call validates the arguments, runs the handler and validates the structured
// result against the output schema. Unknown tools and invalid arguments are
// protocol errors; handler failures come back as results with IsError set.
func (r *ToolRegistry) Call(ctx context.Context, params CallToolParams) (result CallToolResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ToolRegistry.Call")
	span.SetAttributes(attribute.String("tool_name", params.Name))
	defer func() { observability.EndSpan(span, err) }()

	r.mu.RLock()
	rt, ok := r.tools[params.Name]
	r.mu.RUnlock()
	if !ok {
		return CallToolResult{}, errInvalidParams("unknown tool: "+params.Name, nil)
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
		params.Arguments = args
	}

	if problems, vErr := validateAgainst(rt.input, args); vErr != nil {
		return CallToolResult{}, errInvalidParams("invalid tool arguments", map[string]interface{}{"errors": []string{vErr.Error()}})
	} else if len(problems) > 0 {
		return CallToolResult{}, errInvalidParams("invalid tool arguments", map[string]interface{}{"errors": problems})
	}

	result, handlerErr := r.runHandler(ctx, rt, params)
	if handlerErr != nil {
		if errors.Is(handlerErr, ErrInvalidParams) {
			return CallToolResult{}, errInvalidParams(handlerErr.Error(), nil)
		}
		r.logger.WithErr(handlerErr).WithFields(map[string]interface{}{"tool": params.Name}).Warn("tool returned an error")
		return CallToolResult{Content: []Content{TextContent(handlerErr.Error())}, IsError: true}, nil
	}

	span.SetAttributes(attribute.Bool("is_error", result.IsError), attribute.Int("content_length", len(result.Content)))

	if rt.output != nil && !result.IsError {
		if len(result.StructuredContent) == 0 {
			r.logger.Errorf("tool %s declares an output schema but returned no structured content", params.Name)
			return CallToolResult{}, NewError(CodeInternalError, "tool result does not match its output schema", nil)
		}
		problems, vErr := validateAgainst(rt.output, result.StructuredContent)
		if vErr != nil || len(problems) > 0 {
			r.logger.WithFields(map[string]interface{}{"tool": params.Name, "problems": problems}).Error("tool result violates its output schema")
			return CallToolResult{}, NewError(CodeInternalError, "tool result does not match its output schema", nil)
		}
	}

	if result.Content == nil {
		result.Content = []Content{}
	}
	return result, nil
}

func (r *ToolRegistry) runHandler(ctx context.Context, rt *registeredTool, params CallToolParams) (result CallToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", rt.tool.Name, p)
		}
	}()
	return rt.handler(ctx, params)
}

func compileObjectSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, errors.New("schema is required")
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}
	if t, _ := doc["type"].(string); t != "object" {
		return nil, fmt.Errorf(`schema type must be "object"`)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// validateAgainst returns the schema violations of doc. The error is set only
// when doc cannot be evaluated at all.
func validateAgainst(schema *gojsonschema.Schema, doc json.RawMessage) ([]string, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}
