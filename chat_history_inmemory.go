package mcpbridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryChatHistoryStorage keeps conversations in a map.
type InMemoryChatHistoryStorage struct {
	conversations map[string]*ChatHistory
	mu            sync.RWMutex
}

var _ ChatHistoryStorage = (*InMemoryChatHistoryStorage)(nil)

// NewInMemoryChatHistoryStorage creates an empty storage.
func NewInMemoryChatHistoryStorage() *InMemoryChatHistoryStorage {
	return &InMemoryChatHistoryStorage{
		conversations: make(map[string]*ChatHistory),
	}
}

func (s *InMemoryChatHistoryStorage) CreateChat(_ context.Context) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := &ChatHistory{
		SessionID: uuid.New().String(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
	s.conversations[chat.SessionID] = chat

	out := *chat
	return &out, nil
}

func (s *InMemoryChatHistoryStorage) AddMessage(_ context.Context, sessionID string, message ChatHistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
	}
	if message.GeneratedAt.IsZero() {
		message.GeneratedAt = time.Now().UTC()
	}
	chat.Messages = append(chat.Messages, message)
	return nil
}

func (s *InMemoryChatHistoryStorage) GetChat(_ context.Context, sessionID string) (*ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
	}

	out := *chat
	out.Messages = append([]ChatHistoryMessage{}, chat.Messages...)
	return &out, nil
}

func (s *InMemoryChatHistoryStorage) ListChatHistories(_ context.Context) ([]ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]ChatHistory, 0, len(s.conversations))
	for _, chat := range s.conversations {
		c := *chat
		c.Messages = []ChatHistoryMessage{}
		chats = append(chats, c)
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].SessionID < chats[j].SessionID
		}
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

func (s *InMemoryChatHistoryStorage) DeleteChat(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[sessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
	}
	delete(s.conversations, sessionID)
	return nil
}

func (s *InMemoryChatHistoryStorage) RecentMessages(_ context.Context, sessionID string, n int) ([]ChatHistoryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
	}
	if n <= 0 {
		return []ChatHistoryMessage{}, nil
	}

	msgs := chat.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]ChatHistoryMessage{}, msgs...), nil
}
