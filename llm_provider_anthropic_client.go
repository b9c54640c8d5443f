package mcpbridge

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClientProvider is the part of the Anthropic SDK the provider uses.
type AnthropicClientProvider interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	CreateStreamingMessage(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent]
}

// AnthropicClient implements AnthropicClientProvider with the official SDK.
type AnthropicClient struct {
	messages *anthropic.MessageService
}

// NewAnthropicClient creates a client for apiKey.
//
//	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
//	    Client: NewAnthropicClient("your-api-key"),
//	})
//	stream, err := provider.GetStreamingResponse(ctx, messages, NewRequestConfig())
//	for chunk := range stream {
//	    fmt.Print(chunk.Text)
//	}
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		messages: client.Messages,
	}
}

func (c *AnthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.messages.New(ctx, params)
}

func (c *AnthropicClient) CreateStreamingMessage(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent] {
	return c.messages.NewStreaming(ctx, params)
}
