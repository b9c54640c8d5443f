package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema from the Go type of v. Struct types become
// closed object schemas with all nested types inlined. Other types reflect to
// their plain JSON type.
func SchemaFor(v interface{}) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return raw, nil
}

func isObjectSchema(raw json.RawMessage) bool {
	var doc struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(raw, &doc) == nil && doc.Type == "object"
}

// NewTypedTool derives a tool definition and handler from fn. The input schema
// is reflected from In, which must be a struct. When Out is a struct its schema
// becomes the output schema and results carry structured content; other
// outputs are returned as text only.
func NewTypedTool[In, Out any](name, description string, fn func(ctx context.Context, in In) (Out, error)) (Tool, ToolHandler, error) {
	var zeroIn In
	inputSchema, err := SchemaFor(&zeroIn)
	if err != nil {
		return Tool{}, nil, err
	}
	if !isObjectSchema(inputSchema) {
		return Tool{}, nil, fmt.Errorf("tool %s: input type %T is not a struct", name, zeroIn)
	}

	var zeroOut Out
	outputSchema, err := SchemaFor(&zeroOut)
	if err != nil {
		return Tool{}, nil, err
	}
	structured := isObjectSchema(outputSchema)

	tool := Tool{Name: name, Description: description, InputSchema: inputSchema}
	if structured {
		tool.OutputSchema = outputSchema
	}

	handler := func(ctx context.Context, params CallToolParams) (CallToolResult, error) {
		var in In
		args := params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return CallToolResult{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}

		out, err := fn(ctx, in)
		if err != nil {
			return CallToolResult{}, err
		}
		return renderToolOutput(out, structured)
	}
	return tool, handler, nil
}

// MustRegisterTyped registers a typed tool and panics on failure. It is meant
// for static tool sets wired at startup.
func MustRegisterTyped[In, Out any](r *ToolRegistry, name, description string, fn func(ctx context.Context, in In) (Out, error)) {
	tool, handler, err := NewTypedTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	if err := r.Register(tool, handler); err != nil {
		panic(err)
	}
}

func renderToolOutput(out interface{}, structured bool) (CallToolResult, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to encode tool output: %w", err)
	}

	var text string
	switch v := out.(type) {
	case fmt.Stringer:
		text = v.String()
	case string:
		text = v
	default:
		text = string(raw)
	}

	result := CallToolResult{Content: []Content{TextContent(text)}}
	if structured {
		result.StructuredContent = raw
	}
	return result, nil
}
