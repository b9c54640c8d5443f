package mcpbridge

import (
	"context"
	"errors"
	"time"
)

// ErrChatNotFound is returned for operations on an unknown session.
var ErrChatNotFound = errors.New("chat not found")

// ChatHistoryMessage is a stored turn with its token accounting.
type ChatHistoryMessage struct {
	LLMMessage
	GeneratedAt time.Time              `json:"generated_at"`
	InputToken  int64                  `json:"input_token"`
	OutputToken int64                  `json:"output_token"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// ChatHistory is one conversation.
type ChatHistory struct {
	SessionID string                 `json:"session_id"`
	Messages  []ChatHistoryMessage   `json:"messages"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// ChatHistoryStorage persists conversations. Messages keep insertion order.
type ChatHistoryStorage interface {
	CreateChat(ctx context.Context) (*ChatHistory, error)
	AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error
	GetChat(ctx context.Context, sessionID string) (*ChatHistory, error)
	// ListChatHistories returns conversations newest first, without messages.
	ListChatHistories(ctx context.Context) ([]ChatHistory, error)
	DeleteChat(ctx context.Context, sessionID string) error
	// RecentMessages returns the last n messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]ChatHistoryMessage, error)
}

// toLLMMessages drops the storage fields from msgs.
func toLLMMessages(msgs []ChatHistoryMessage) []LLMMessage {
	out := make([]LLMMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.LLMMessage
	}
	return out
}
