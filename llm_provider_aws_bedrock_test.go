package mcpbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBedrockConverseClient struct {
	mock.Mock
}

func (m *MockBedrockConverseClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*bedrockruntime.ConverseOutput)
	return out, args.Error(1)
}

func (m *MockBedrockConverseClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*bedrockruntime.ConverseStreamOutput)
	return out, args.Error(1)
}

func converseOutput(in, out int32, blocks ...types.ContentBlock) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: blocks,
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(in), OutputTokens: aws.Int32(out)},
	}
}

func TestBedrockLLMProvider_GetResponse(t *testing.T) {
	client := new(MockBedrockConverseClient)
	client.On("Converse", mock.Anything, mock.MatchedBy(func(in *bedrockruntime.ConverseInput) bool {
		return aws.ToString(in.ModelId) == "test-model" &&
			len(in.System) == 1 &&
			len(in.Messages) == 1 &&
			in.ToolConfig == nil
	})).Return(converseOutput(10, 5, &types.ContentBlockMemberText{Value: "This is a test response"}), nil).Once()

	provider := NewBedrockLLMProvider(BedrockProviderConfig{Client: client, Model: "test-model"})
	llm := NewLLMRequest(NewRequestConfig(WithMaxToken(1000), WithTemperature(0.7)), provider)

	resp, err := llm.Generate(context.Background(), []LLMMessage{
		{Role: SystemRole, Text: "You are a helpful assistant."},
		{Role: UserRole, Text: "Hello, can you help me?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "This is a test response", resp.Text)
	assert.Equal(t, 10, resp.TotalInputToken)
	assert.Equal(t, 5, resp.TotalOutputToken)
	client.AssertExpectations(t)
}

func TestBedrockLLMProvider_DefaultModel(t *testing.T) {
	provider := NewBedrockLLMProvider(BedrockProviderConfig{})
	assert.Equal(t, DefaultBedrockModel, provider.model)
}

func TestBedrockLLMProvider_GetResponse_ToolLoop(t *testing.T) {
	client := new(MockBedrockConverseClient)
	toolUse := &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
		ToolUseId: aws.String("call-1"),
		Name:      aws.String("add"),
		Input:     document.NewLazyDocument(map[string]interface{}{"a": 2, "b": 3}),
	}}
	client.On("Converse", mock.Anything, mock.MatchedBy(func(in *bedrockruntime.ConverseInput) bool {
		return len(in.Messages) == 1 && in.ToolConfig != nil && len(in.ToolConfig.Tools) == 8
	})).Return(converseOutput(15, 10, &types.ContentBlockMemberText{Value: "Let me add."}, toolUse), nil).Once()

	var toolResult types.ToolResultBlock
	client.On("Converse", mock.Anything, mock.MatchedBy(func(in *bedrockruntime.ConverseInput) bool {
		if len(in.Messages) != 3 || len(in.Messages[2].Content) != 1 {
			return false
		}
		block, ok := in.Messages[2].Content[0].(*types.ContentBlockMemberToolResult)
		if ok {
			toolResult = block.Value
		}
		return ok
	})).Return(converseOutput(20, 10, &types.ContentBlockMemberText{Value: "The sum is 5."}), nil).Once()

	provider := NewBedrockLLMProvider(BedrockProviderConfig{Client: client})
	llm := NewLLMRequest(NewRequestConfig(UseToolsProvider(NewToolsProvider(newCalculatorRegistry(t)))), provider)

	resp, err := llm.Generate(context.Background(), []LLMMessage{{Role: UserRole, Text: "What is 2 + 3?"}})
	require.NoError(t, err)
	assert.Equal(t, "Let me add.\nThe sum is 5.", resp.Text)
	assert.Equal(t, 35, resp.TotalInputToken)
	assert.Equal(t, 20, resp.TotalOutputToken)
	assert.Equal(t, 1, resp.ToolCalls)

	assert.Equal(t, "call-1", aws.ToString(toolResult.ToolUseId))
	assert.Equal(t, types.ToolResultStatusSuccess, toolResult.Status)
	require.Len(t, toolResult.Content, 1)
	assert.Equal(t, &types.ToolResultContentBlockMemberText{Value: "5"}, toolResult.Content[0])
	client.AssertExpectations(t)
}

func TestBedrockLLMProvider_GetResponse_StopsAtRoundLimit(t *testing.T) {
	client := new(MockBedrockConverseClient)
	client.On("Converse", mock.Anything, mock.Anything).Return(converseOutput(1, 1,
		&types.ContentBlockMemberText{Value: "thinking"},
		&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{ToolUseId: aws.String("x"), Name: aws.String("add")}},
	), nil).Once()

	provider := NewBedrockLLMProvider(BedrockProviderConfig{Client: client})
	llm := NewLLMRequest(NewRequestConfig(
		UseToolsProvider(NewToolsProvider(newCalculatorRegistry(t))),
		WithMaxToolRounds(0),
	), provider)

	resp, err := llm.Generate(context.Background(), []LLMMessage{{Role: UserRole, Text: "add"}})
	require.NoError(t, err)
	assert.Equal(t, "thinking", resp.Text)
	assert.Zero(t, resp.ToolCalls)
	client.AssertExpectations(t)
}

func TestBedrockLLMProvider_Errors(t *testing.T) {
	client := new(MockBedrockConverseClient)
	client.On("Converse", mock.Anything, mock.Anything).Return(nil, errors.New("bedrock service error")).Once()
	client.On("ConverseStream", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	provider := NewBedrockLLMProvider(BedrockProviderConfig{Client: client})
	messages := []LLMMessage{{Role: UserRole, Text: "Hello"}}

	_, err := provider.GetResponse(context.Background(), messages, NewRequestConfig())
	assert.ErrorContains(t, err, "bedrock service error")

	_, err = provider.GetStreamingResponse(context.Background(), messages, NewRequestConfig())
	assert.ErrorContains(t, err, "throttled")
	client.AssertExpectations(t)
}
