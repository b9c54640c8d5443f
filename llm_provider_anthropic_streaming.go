package mcpbridge

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// GetStreamingResponse streams text deltas as they arrive. Tool calls are
// executed between streamed rounds, bounded by the round limit.
func (p *AnthropicLLMProvider) GetStreamingResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (<-chan StreamingLLMResponse, error) {
	conversation, system := p.convertToAnthropicMessages(messages)

	tools, err := p.prepareTools(ctx, config)
	if err != nil {
		return nil, err
	}

	responseChan := make(chan StreamingLLMResponse)
	go p.processStreamingResponse(ctx, conversation, system, tools, config, responseChan)
	return responseChan, nil
}

func (p *AnthropicLLMProvider) processStreamingResponse(
	ctx context.Context,
	conversation []anthropic.MessageParam,
	system string,
	tools []anthropic.ToolUnionUnionParam,
	config LLMRequestConfig,
	responseChan chan<- StreamingLLMResponse,
) {
	defer close(responseChan)

	for rounds := 0; ; rounds++ {
		msg, err := p.streamMessage(ctx, p.messageParams(conversation, system, tools, config), responseChan)
		if err != nil {
			responseChan <- StreamingLLMResponse{Done: true, Error: err}
			return
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			if use, ok := block.AsUnion().(anthropic.ToolUseBlock); ok {
				if rounds >= config.maxToolRounds {
					break
				}
				results = append(results, p.executeToolUse(ctx, use, config))
			}
		}

		if len(results) == 0 {
			responseChan <- StreamingLLMResponse{Done: true}
			return
		}
		conversation = append(conversation, msg.ToParam(), anthropic.NewUserMessage(results...))
	}
}

func (p *AnthropicLLMProvider) streamMessage(ctx context.Context, params anthropic.MessageNewParams, responseChan chan<- StreamingLLMResponse) (*anthropic.Message, error) {
	stream := p.client.CreateStreamingMessage(ctx, params)
	defer stream.Close()

	var msg anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		if evt, ok := event.AsUnion().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsUnion().(anthropic.TextDelta); ok && delta.Text != "" {
				select {
				case responseChan <- StreamingLLMResponse{Text: delta.Text, TokenCount: 1}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("error in streaming: %w", err)
	}
	return &msg, nil
}
