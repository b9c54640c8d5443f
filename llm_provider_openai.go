package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// OpenAILLMProvider implements LLMProvider with OpenAI chat completions.
type OpenAILLMProvider struct {
	client OpenAIClientProvider
	model  string
	logger observability.Logger
}

// OpenAIProviderConfig holds configuration for the OpenAI provider.
type OpenAIProviderConfig struct {
	Client OpenAIClientProvider
	// Model defaults to gpt-4o-mini.
	Model  openai.ChatModel
	Logger observability.Logger
}

// NewOpenAILLMProvider creates an OpenAI provider.
//
//	provider := NewOpenAILLMProvider(OpenAIProviderConfig{
//	    Client: NewOpenAIClient("your-api-key"),
//	    Model:  openai.ChatModelGPT4o,
//	})
func NewOpenAILLMProvider(config OpenAIProviderConfig) *OpenAILLMProvider {
	if config.Model == "" {
		config.Model = openai.ChatModelGPT4oMini
	}
	if config.Logger == nil {
		config.Logger = observability.NewNullLogger()
	}

	return &OpenAILLMProvider{
		client: config.Client,
		model:  config.Model,
		logger: config.Logger,
	}
}

func (p *OpenAILLMProvider) convertToOpenAIMessages(messages []LLMMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case AssistantRole:
			out = append(out, openai.AssistantMessage(msg.Text))
		case SystemRole:
			out = append(out, openai.SystemMessage(msg.Text))
		default:
			out = append(out, openai.UserMessage(msg.Text))
		}
	}
	return out
}

func (p *OpenAILLMProvider) createCompletionParams(messages []openai.ChatCompletionMessageParamUnion, config LLMRequestConfig) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(p.model),
		MaxTokens:   openai.Int(config.maxToken),
		TopP:        openai.Float(config.topP),
		Temperature: openai.Float(config.temperature),
	}
}

// prepareTools converts MCP tool definitions into OpenAI function tools.
func (p *OpenAILLMProvider) prepareTools(ctx context.Context, config LLMRequestConfig) ([]openai.ChatCompletionToolParam, error) {
	mcpTools, err := config.tools().ListTools(ctx, config.allowedTools)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]openai.ChatCompletionToolParam, 0, len(mcpTools))
	for _, tool := range mcpTools {
		schema := make(map[string]interface{})
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("failed to parse input schema of tool %s: %w", tool.Name, err)
		}

		tools = append(tools, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(tool.Name),
				Description: openai.String(tool.Description),
				Parameters:  openai.F(openai.FunctionParameters(schema)),
			}),
		})
	}
	return tools, nil
}

// GetResponse runs the tool loop: while the model asks for tools and the round
// limit allows, each call is executed and its result sent back. After the last
// permitted round the tools are withdrawn so the model has to answer.
func (p *OpenAILLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()
	conversation := p.convertToOpenAIMessages(messages)

	tools, err := p.prepareTools(ctx, config)
	if err != nil {
		return LLMResponse{}, err
	}
	offerTools := len(tools) > 0 && config.maxToolRounds > 0

	var resp LLMResponse
	rounds := 0
	for {
		params := p.createCompletionParams(conversation, config)
		if offerTools {
			params.Tools = openai.F(tools)
		}

		completion, err := p.client.CreateCompletion(ctx, params)
		if err != nil {
			return LLMResponse{}, err
		}
		resp.TotalInputToken += int(completion.Usage.PromptTokens)
		resp.TotalOutputToken += int(completion.Usage.CompletionTokens)

		if len(completion.Choices) == 0 {
			return LLMResponse{}, &LLMError{Code: 400, Message: "no choices in response"}
		}

		message := completion.Choices[0].Message
		if len(message.ToolCalls) == 0 || !offerTools {
			resp.Text = message.Content
			break
		}

		rounds++
		conversation = append(conversation, message)
		for _, call := range message.ToolCalls {
			p.logger.WithFields(map[string]interface{}{"tool": call.Function.Name, "round": rounds}).Debug("executing tool")

			result, execErr := config.tools().ExecuteTool(ctx, mcp.CallToolParams{
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
			text, _ := toolResultText(result, execErr)
			conversation = append(conversation, openai.ToolMessage(call.ID, text))
			resp.ToolCalls++
		}

		if rounds >= config.maxToolRounds {
			offerTools = false
		}
	}

	resp.CompletionTime = time.Since(startTime).Seconds()
	return resp, nil
}

// GetStreamingResponse streams a single completion. Tools are not offered on
// streamed requests.
func (p *OpenAILLMProvider) GetStreamingResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (<-chan StreamingLLMResponse, error) {
	params := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)

	stream := p.client.CreateStreamingCompletion(ctx, params)
	responseChan := make(chan StreamingLLMResponse, 100)

	go func() {
		defer close(responseChan)
		defer stream.Close()

		for stream.Next() {
			if ctx.Err() != nil {
				responseChan <- StreamingLLMResponse{Error: ctx.Err(), Done: true}
				return
			}
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				responseChan <- StreamingLLMResponse{
					Text:       chunk.Choices[0].Delta.Content,
					TokenCount: 1,
				}
			}
		}

		if err := stream.Err(); err != nil {
			responseChan <- StreamingLLMResponse{Error: err, Done: true}
			return
		}
		responseChan <- StreamingLLMResponse{Done: true}
	}()

	return responseChan, nil
}
