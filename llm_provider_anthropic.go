package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// AnthropicLLMProvider implements LLMProvider with the Anthropic messages API.
type AnthropicLLMProvider struct {
	client AnthropicClientProvider
	model  anthropic.Model
	logger observability.Logger
}

// AnthropicProviderConfig holds configuration for the Anthropic provider.
type AnthropicProviderConfig struct {
	Client AnthropicClientProvider
	// Model defaults to Claude 3.5 Sonnet.
	Model  anthropic.Model
	Logger observability.Logger
}

// NewAnthropicLLMProvider creates an Anthropic provider.
func NewAnthropicLLMProvider(config AnthropicProviderConfig) *AnthropicLLMProvider {
	if config.Model == "" {
		config.Model = anthropic.ModelClaude_3_5_Sonnet_20240620
	}
	if config.Logger == nil {
		config.Logger = observability.NewNullLogger()
	}

	return &AnthropicLLMProvider{
		client: config.Client,
		model:  config.Model,
		logger: config.Logger,
	}
}

// convertToAnthropicMessages splits out the system prompt, which Anthropic takes
// as a separate parameter. Several system messages are joined.
func (p *AnthropicLLMProvider) convertToAnthropicMessages(messages []LLMMessage) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			system = append(system, msg.Text)
		case AssistantRole:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return out, strings.Join(system, "\n\n")
}

func (p *AnthropicLLMProvider) prepareTools(ctx context.Context, config LLMRequestConfig) ([]anthropic.ToolUnionUnionParam, error) {
	mcpTools, err := config.tools().ListTools(ctx, config.allowedTools)
	if err != nil {
		return nil, fmt.Errorf("error listing tools: %w", err)
	}

	params := make([]anthropic.ToolUnionUnionParam, 0, len(mcpTools))
	for _, tool := range mcpTools {
		var schema interface{}
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input schema of tool %s: %w", tool.Name, err)
		}

		params = append(params, anthropic.ToolParam{
			Name:        anthropic.F(tool.Name),
			Description: anthropic.F(tool.Description),
			InputSchema: anthropic.F(schema),
		})
	}
	return params, nil
}

func (p *AnthropicLLMProvider) messageParams(conversation []anthropic.MessageParam, system string, tools []anthropic.ToolUnionUnionParam, config LLMRequestConfig) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.F(p.model),
		MaxTokens:   anthropic.F(config.maxToken),
		Messages:    anthropic.F(conversation),
		TopP:        anthropic.Float(config.topP),
		Temperature: anthropic.Float(config.temperature),
		TopK:        anthropic.Int(config.topK),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}
	if len(tools) > 0 {
		params.Tools = anthropic.F(tools)
	}
	return params
}

// executeToolUse runs one tool_use block and wraps the outcome as a tool_result.
func (p *AnthropicLLMProvider) executeToolUse(ctx context.Context, block anthropic.ToolUseBlock, config LLMRequestConfig) anthropic.ContentBlockParamUnion {
	p.logger.WithFields(map[string]interface{}{"tool": block.Name}).Debug("executing tool")

	result, err := config.tools().ExecuteTool(ctx, mcp.CallToolParams{
		Name:      block.Name,
		Arguments: block.Input,
	})
	text, isError := toolResultText(result, err)
	return anthropic.NewToolResultBlock(block.ID, text, isError)
}

// GetResponse runs the tool loop until the model stops asking for tools. When
// the round limit is reached the text gathered so far is returned. Anthropic
// rejects conversations with tool blocks but no tool definitions, so tools are
// not withdrawn.
func (p *AnthropicLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()
	conversation, system := p.convertToAnthropicMessages(messages)

	tools, err := p.prepareTools(ctx, config)
	if err != nil {
		return LLMResponse{}, err
	}

	var resp LLMResponse
	var text strings.Builder
	rounds := 0
	for {
		message, err := p.client.CreateMessage(ctx, p.messageParams(conversation, system, tools, config))
		if err != nil {
			return LLMResponse{}, err
		}
		resp.TotalInputToken += int(message.Usage.InputTokens)
		resp.TotalOutputToken += int(message.Usage.OutputTokens)

		var toolUses []anthropic.ToolUseBlock
		for _, block := range message.Content {
			switch b := block.AsUnion().(type) {
			case anthropic.TextBlock:
				text.WriteString(b.Text)
				text.WriteString("\n")
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, b)
			}
		}

		if len(toolUses) == 0 {
			break
		}
		if rounds >= config.maxToolRounds {
			p.logger.Warnf("tool round limit of %d reached", config.maxToolRounds)
			break
		}
		rounds++

		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			results = append(results, p.executeToolUse(ctx, use, config))
			resp.ToolCalls++
		}
		conversation = append(conversation, message.ToParam(), anthropic.NewUserMessage(results...))
	}

	resp.Text = strings.TrimSpace(text.String())
	resp.CompletionTime = time.Since(startTime).Seconds()
	return resp, nil
}
