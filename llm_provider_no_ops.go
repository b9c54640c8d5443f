package mcpbridge

import (
	"context"
	"sync"
)

// NoOpsLLMProvider answers with canned responses and remembers what it was
// asked. It backs tests and dry runs.
type NoOpsLLMProvider struct {
	response       LLMResponse
	streamResponse StreamingLLMResponse

	mu       sync.Mutex
	requests [][]LLMMessage
}

// NoOpsOption configures a NoOpsLLMProvider.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse sets the response returned by GetResponse.
func WithResponse(response LLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.response = response
	}
}

// WithStreamingResponse sets the single chunk sent by GetStreamingResponse.
func WithStreamingResponse(response StreamingLLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.streamResponse = response
	}
}

// NewNoOpsLLMProvider creates a provider that answers without calling a model.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{
		response: LLMResponse{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			CompletionTime:   0.1,
		},
		streamResponse: StreamingLLMResponse{
			Text:       "Default NoOps streaming response",
			Done:       true,
			TokenCount: 4,
		},
	}

	for _, opt := range opts {
		opt(provider)
	}
	return provider
}

// Requests returns every message list the provider received, oldest first.
func (n *NoOpsLLMProvider) Requests() [][]LLMMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]LLMMessage(nil), n.requests...)
}

func (n *NoOpsLLMProvider) record(messages []LLMMessage) {
	n.mu.Lock()
	n.requests = append(n.requests, append([]LLMMessage(nil), messages...))
	n.mu.Unlock()
}

func (n *NoOpsLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, _ LLMRequestConfig) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}
	n.record(messages)
	return n.response, nil
}

func (n *NoOpsLLMProvider) GetStreamingResponse(ctx context.Context, messages []LLMMessage, _ LLMRequestConfig) (<-chan StreamingLLMResponse, error) {
	n.record(messages)
	responseChan := make(chan StreamingLLMResponse, 1)

	go func() {
		defer close(responseChan)

		select {
		case <-ctx.Done():
			responseChan <- StreamingLLMResponse{
				Error: ctx.Err(),
				Done:  true,
			}
		default:
			responseChan <- n.streamResponse
		}
	}()

	return responseChan, nil
}
