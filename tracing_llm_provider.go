package mcpbridge

import (
	"context"
	"time"

	"github.com/shaharia-lab/mcpbridge/observability"
	"go.opentelemetry.io/otel/attribute"
)

// TracingLLMProvider wraps an LLMProvider and records a span per request.
type TracingLLMProvider struct {
	provider LLMProvider
}

// NewTracingLLMProvider creates a tracing decorator for provider.
func NewTracingLLMProvider(provider LLMProvider) *TracingLLMProvider {
	return &TracingLLMProvider{
		provider: provider,
	}
}

func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetResponse")
	startTime := time.Now()

	response, err := t.provider.GetResponse(ctx, messages, config)
	if err != nil {
		observability.EndSpan(span, err)
		return LLMResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Int("tool_calls", response.ToolCalls),
		attribute.Int("message_count", len(messages)),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
		attribute.Int64("max_token", config.MaxToken()),
		attribute.Float64("temperature", config.Temperature()),
		attribute.Float64("top_p", config.TopP()),
		attribute.Int64("top_k", config.TopK()),
	)
	observability.EndSpan(span, nil)
	return response, nil
}

func (t *TracingLLMProvider) GetStreamingResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (<-chan StreamingLLMResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetStreamingResponse")
	startTime := time.Now()

	upstream, err := t.provider.GetStreamingResponse(ctx, messages, config)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}

	traced := make(chan StreamingLLMResponse)
	go func() {
		defer close(traced)

		var chunks int
		var streamErr error
		for response := range upstream {
			if response.Error != nil {
				streamErr = response.Error
			}
			chunks += response.TokenCount
			traced <- response
		}

		span.SetAttributes(
			attribute.Int("total_tokens", chunks),
			attribute.Float64("total_streaming_time", time.Since(startTime).Seconds()),
			attribute.Int("message_count", len(messages)),
		)
		observability.EndSpan(span, streamErr)
	}()

	return traced, nil
}
