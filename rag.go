package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
)

// DefaultMemoryWindow is how many stored messages are replayed to the model.
const DefaultMemoryWindow = 10

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

const ragSystemPrompt = `Context information is below, between the dashed lines.
---------------------
%s
---------------------
Answer the user using this context and the conversation so far, not prior knowledge.
If the answer is not in the context, say that you cannot answer the question.`

// RAGService answers questions from the documents in a vector store and keeps
// the conversation in a chat history.
type RAGService struct {
	store     vectorstore.Store
	memory    ChatHistoryStorage
	llm       *LLMRequest
	topK      int
	threshold float64
	window    int
	logger    observability.Logger
}

// RAGOption configures a RAGService.
type RAGOption func(*RAGService)

// WithRAGTopK sets how many documents are retrieved per question.
func WithRAGTopK(k int) RAGOption {
	return func(s *RAGService) { s.topK = k }
}

// WithRAGThreshold drops documents scoring below threshold.
func WithRAGThreshold(threshold float64) RAGOption {
	return func(s *RAGService) { s.threshold = threshold }
}

// WithMemoryWindow sets how many past messages are sent with each question.
func WithMemoryWindow(n int) RAGOption {
	return func(s *RAGService) { s.window = n }
}

// WithRAGLogger sets the logger.
func WithRAGLogger(l observability.Logger) RAGOption {
	return func(s *RAGService) { s.logger = l }
}

// NewRAGService answers questions from store, keeping the conversation in memory.
func NewRAGService(store vectorstore.Store, memory ChatHistoryStorage, llm *LLMRequest, opts ...RAGOption) *RAGService {
	s := &RAGService{
		store:  store,
		memory: memory,
		llm:    llm,
		topK:   vectorstore.DefaultTopK,
		window: DefaultMemoryWindow,
		logger: observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RAGResponse is an answer with the documents it was grounded on.
type RAGResponse struct {
	Answer    string
	Documents []document.Document
	Response  LLMResponse
}

// Query answers question in the given session and returns the text only.
func (s *RAGService) Query(ctx context.Context, sessionID, question string) (string, error) {
	resp, err := s.QueryWithResponse(ctx, sessionID, question)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// QueryWithResponse retrieves context for question, asks the model with the
// recent conversation, and records both turns in the session.
func (s *RAGService) QueryWithResponse(ctx context.Context, sessionID, question string) (*RAGResponse, error) {
	ctx, span := observability.StartSpan(ctx, "RAGService.QueryWithResponse")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	question = strings.TrimSpace(question)
	if question == "" {
		err = ErrEmptyQuestion
		return nil, err
	}

	var history []ChatHistoryMessage
	history, err = s.memory.RecentMessages(ctx, sessionID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var docs []document.Document
	docs, err = s.store.Search(ctx, vectorstore.SearchRequest{
		Query:     question,
		TopK:      s.topK,
		Threshold: s.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{"session": sessionID, "documents": len(docs)}).Debug("retrieved context")

	messages := make([]LLMMessage, 0, len(history)+2)
	messages = append(messages, LLMMessage{Role: SystemRole, Text: buildContextPrompt(docs)})
	messages = append(messages, toLLMMessages(history)...)
	messages = append(messages, LLMMessage{Role: UserRole, Text: question})

	asked := time.Now().UTC()
	var resp LLMResponse
	resp, err = s.llm.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	if err = s.memory.AddMessage(ctx, sessionID, ChatHistoryMessage{
		LLMMessage:  LLMMessage{Role: UserRole, Text: question},
		GeneratedAt: asked,
		InputToken:  int64(resp.TotalInputToken),
	}); err != nil {
		return nil, fmt.Errorf("failed to store question: %w", err)
	}
	if err = s.memory.AddMessage(ctx, sessionID, ChatHistoryMessage{
		LLMMessage:  LLMMessage{Role: AssistantRole, Text: resp.Text},
		GeneratedAt: time.Now().UTC(),
		OutputToken: int64(resp.TotalOutputToken),
		Metadata:    map[string]interface{}{"documents": len(docs)},
	}); err != nil {
		return nil, fmt.Errorf("failed to store answer: %w", err)
	}

	return &RAGResponse{Answer: resp.Text, Documents: docs, Response: resp}, nil
}

func buildContextPrompt(docs []document.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return fmt.Sprintf(ragSystemPrompt, strings.Join(parts, "\n\n"))
}
