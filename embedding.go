package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
	"golang.org/x/time/rate"
)

// EmbeddingModel names the model used to generate embeddings.
type EmbeddingModel string

const (
	EmbeddingModelTextEmbedding3Small EmbeddingModel = "text-embedding-3-small"
	EmbeddingModelAllMiniLML6V2       EmbeddingModel = "all-MiniLM-L6-v2"
	EmbeddingModelTitanEmbedTextV2    EmbeddingModel = "amazon.titan-embed-text-v2:0"
	EmbeddingModelCohereEmbedEnglish  EmbeddingModel = "cohere.embed-english-v3"
)

// EmbeddingProvider generates embedding vectors. input is a string or a
// []string.
type EmbeddingProvider interface {
	Generate(ctx context.Context, input interface{}, model EmbeddingModel) (*EmbeddingResponse, error)
}

// EmbeddingObject is a single vector from an embedding response.
type EmbeddingObject struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Usage is the token accounting of an embedding request.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse is the OpenAI-shaped result every provider returns.
type EmbeddingResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  EmbeddingModel    `json:"model"`
	Usage  Usage             `json:"usage"`
}

// EmbeddingService pairs a provider with a model and an optional rate limit.
// It satisfies vectorstore.Embedder.
type EmbeddingService struct {
	provider EmbeddingProvider
	model    EmbeddingModel
	limiter  *rate.Limiter
	logger   observability.Logger
}

var _ vectorstore.Embedder = (*EmbeddingService)(nil)

// EmbeddingServiceOption configures an EmbeddingService.
type EmbeddingServiceOption func(*EmbeddingService)

// WithEmbeddingModel sets the model passed to the provider.
func WithEmbeddingModel(model EmbeddingModel) EmbeddingServiceOption {
	return func(s *EmbeddingService) { s.model = model }
}

// WithRateLimit allows at most perSecond requests per second with the given
// burst.
func WithRateLimit(perSecond float64, burst int) EmbeddingServiceOption {
	return func(s *EmbeddingService) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithEmbeddingLogger sets the logger.
func WithEmbeddingLogger(l observability.Logger) EmbeddingServiceOption {
	return func(s *EmbeddingService) { s.logger = l }
}

// NewEmbeddingService creates a service over provider.
func NewEmbeddingService(provider EmbeddingProvider, opts ...EmbeddingServiceOption) *EmbeddingService {
	s := &EmbeddingService{
		provider: provider,
		model:    EmbeddingModelTextEmbedding3Small,
		logger:   observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate calls the provider once the rate limiter admits the request.
func (s *EmbeddingService) Generate(ctx context.Context, input interface{}, model EmbeddingModel) (*EmbeddingResponse, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	return s.provider.Generate(ctx, input, model)
}

// Embed returns one vector per text, in input order.
func (s *EmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	resp, err := s.Generate(ctx, texts, s.model)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	data := append([]EmbeddingObject(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, obj := range data {
		out[i] = obj.Embedding
	}

	s.logger.WithFields(map[string]interface{}{
		"texts":    len(texts),
		"tokens":   resp.Usage.TotalTokens,
		"duration": time.Since(start).String(),
	}).Debug("generated embeddings")
	return out, nil
}

// OpenAICompatibleEmbeddingProvider calls an OpenAI-compatible /v1/embeddings
// endpoint.
type OpenAICompatibleEmbeddingProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatibleEmbeddingProvider creates a provider for baseURL. apiKey
// may be empty for local servers.
func NewOpenAICompatibleEmbeddingProvider(baseURL, apiKey string, httpClient *http.Client) *OpenAICompatibleEmbeddingProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAICompatibleEmbeddingProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type embeddingRequest struct {
	Input          interface{}    `json:"input"`
	Model          EmbeddingModel `json:"model"`
	EncodingFormat string         `json:"encoding_format"`
}

func (p *OpenAICompatibleEmbeddingProvider) Generate(ctx context.Context, input interface{}, model EmbeddingModel) (*EmbeddingResponse, error) {
	switch input.(type) {
	case string, []string:
	default:
		return nil, fmt.Errorf("unsupported input type: %T", input)
	}

	jsonBody, err := json.Marshal(embeddingRequest{
		Input:          input,
		Model:          model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var embResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return &embResp, nil
}
