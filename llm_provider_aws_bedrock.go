package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// DefaultBedrockModel is used when BedrockProviderConfig.Model is empty.
const DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockLLMProvider implements LLMProvider with the Bedrock Converse API.
type BedrockLLMProvider struct {
	client BedrockConverseClient
	model  string
	logger observability.Logger
}

// BedrockProviderConfig holds the configuration for a Bedrock provider.
type BedrockProviderConfig struct {
	Client BedrockConverseClient
	Model  string
	Logger observability.Logger
}

// NewBedrockLLMProvider creates a Bedrock provider. Model defaults to DefaultBedrockModel.
func NewBedrockLLMProvider(config BedrockProviderConfig) *BedrockLLMProvider {
	if config.Model == "" {
		config.Model = DefaultBedrockModel
	}
	if config.Logger == nil {
		config.Logger = observability.NewNullLogger()
	}

	return &BedrockLLMProvider{
		client: config.Client,
		model:  config.Model,
		logger: config.Logger,
	}
}

func (p *BedrockLLMProvider) convertToBedrockMessages(messages []LLMMessage) ([]types.Message, []types.SystemContentBlock) {
	var out []types.Message
	var system []types.SystemContentBlock

	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Text})
		case AssistantRole:
			out = append(out, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Text}},
			})
		default:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Text}},
			})
		}
	}
	return out, system
}

func (p *BedrockLLMProvider) inferenceConfig(config LLMRequestConfig) *types.InferenceConfiguration {
	return &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(config.temperature)),
		TopP:        aws.Float32(float32(config.topP)),
		MaxTokens:   aws.Int32(int32(config.maxToken)),
	}
}

func (p *BedrockLLMProvider) prepareTools(ctx context.Context, config LLMRequestConfig) (*types.ToolConfiguration, error) {
	mcpTools, err := config.tools().ListTools(ctx, config.allowedTools)
	if err != nil {
		return nil, fmt.Errorf("error listing tools: %w", err)
	}
	if len(mcpTools) == 0 {
		return nil, nil
	}

	tools := make([]types.Tool, 0, len(mcpTools))
	for _, tool := range mcpTools {
		var schema map[string]interface{}
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input schema of tool %s: %w", tool.Name, err)
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(tool.Name),
			Description: aws.String(tool.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return &types.ToolConfiguration{Tools: tools}, nil
}

func (p *BedrockLLMProvider) executeToolUse(ctx context.Context, use types.ToolUseBlock, config LLMRequestConfig) types.ContentBlock {
	name := aws.ToString(use.Name)
	p.logger.WithFields(map[string]interface{}{"tool": name}).Debug("executing tool")

	var args json.RawMessage
	var err error
	if use.Input != nil {
		args, err = use.Input.MarshalSmithyDocument()
	}

	var result mcp.CallToolResult
	if err == nil {
		result, err = config.tools().ExecuteTool(ctx, mcp.CallToolParams{Name: name, Arguments: args})
	}
	text, isError := toolResultText(result, err)

	status := types.ToolResultStatusSuccess
	if isError {
		status = types.ToolResultStatusError
	}
	return &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
		ToolUseId: use.ToolUseId,
		Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
		Status:    status,
	}}
}

// GetResponse runs the Converse tool loop. Like the Anthropic provider it stops
// at the round limit instead of withdrawing tools, since Bedrock rejects tool
// blocks in history without a tool configuration.
func (p *BedrockLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()
	conversation, system := p.convertToBedrockMessages(messages)

	toolConfig, err := p.prepareTools(ctx, config)
	if err != nil {
		return LLMResponse{}, err
	}

	var resp LLMResponse
	var text strings.Builder
	rounds := 0
	for {
		output, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
			ModelId:         aws.String(p.model),
			Messages:        conversation,
			System:          system,
			InferenceConfig: p.inferenceConfig(config),
			ToolConfig:      toolConfig,
		})
		if err != nil {
			return LLMResponse{}, err
		}
		if output.Usage != nil {
			resp.TotalInputToken += int(aws.ToInt32(output.Usage.InputTokens))
			resp.TotalOutputToken += int(aws.ToInt32(output.Usage.OutputTokens))
		}

		msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
		if !ok {
			return LLMResponse{}, &LLMError{Code: 500, Message: "unexpected converse output"}
		}

		var toolUses []types.ToolUseBlock
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				text.WriteString(b.Value)
				text.WriteString("\n")
			case *types.ContentBlockMemberToolUse:
				toolUses = append(toolUses, b.Value)
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

		results := make([]types.ContentBlock, 0, len(toolUses))
		for _, use := range toolUses {
			results = append(results, p.executeToolUse(ctx, use, config))
			resp.ToolCalls++
		}
		conversation = append(conversation, msg.Value, types.Message{
			Role:    types.ConversationRoleUser,
			Content: results,
		})
	}

	resp.Text = strings.TrimSpace(text.String())
	resp.CompletionTime = time.Since(startTime).Seconds()
	return resp, nil
}

// GetStreamingResponse streams a single Converse call. Tools are not offered
// on streamed requests.
func (p *BedrockLLMProvider) GetStreamingResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (<-chan StreamingLLMResponse, error) {
	conversation, system := p.convertToBedrockMessages(messages)

	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(p.model),
		Messages:        conversation,
		System:          system,
		InferenceConfig: p.inferenceConfig(config),
	})
	if err != nil {
		return nil, err
	}

	responseChan := make(chan StreamingLLMResponse, 100)
	go func() {
		defer close(responseChan)
		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			if ctx.Err() != nil {
				responseChan <- StreamingLLMResponse{Error: ctx.Err(), Done: true}
				return
			}
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if delta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && delta.Value != "" {
					responseChan <- StreamingLLMResponse{Text: delta.Value, TokenCount: 1}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				responseChan <- StreamingLLMResponse{Done: true}
				return
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
