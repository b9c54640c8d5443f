// Package mcpbridge connects language models to MCP tool servers and adds
// retrieval-augmented chat on top of a vector store.
package mcpbridge

import (
	"context"
	"fmt"
)

// LLMMessageRole is the author of a chat message.
type LLMMessageRole string

const (
	UserRole      LLMMessageRole = "user"
	AssistantRole LLMMessageRole = "assistant"
	SystemRole    LLMMessageRole = "system"
)

// LLMMessage is one turn of a conversation.
type LLMMessage struct {
	Role LLMMessageRole `json:"role"`
	Text string         `json:"text"`
}

// LLMResponse is a complete model answer with token accounting summed over
// every round of a tool loop.
type LLMResponse struct {
	Text             string  `json:"text"`
	TotalInputToken  int     `json:"total_input_token"`
	TotalOutputToken int     `json:"total_output_token"`
	CompletionTime   float64 `json:"completion_time"`
	ToolCalls        int     `json:"tool_calls,omitempty"`
}

// StreamingLLMResponse is one chunk of a streamed answer. The final chunk has
// Done set, and carries Error when the stream failed.
type StreamingLLMResponse struct {
	Text       string `json:"text"`
	Done       bool   `json:"done"`
	Error      error  `json:"-"`
	TokenCount int    `json:"token_count"`
}

// LLMProvider is implemented by every model backend.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
	GetStreamingResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (<-chan StreamingLLMResponse, error)
}

// LLMError is returned when a provider answers with something unusable.
type LLMError struct {
	Code    int
	Message string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}
