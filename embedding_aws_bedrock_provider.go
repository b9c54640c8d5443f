package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// BedrockEmbeddingProvider generates embeddings with AWS Bedrock. Titan and
// Cohere request formats are supported.
type BedrockEmbeddingProvider struct {
	client    BedrockClient
	inputType string
	logger    observability.Logger
}

// BedrockEmbeddingOption configures a BedrockEmbeddingProvider.
type BedrockEmbeddingOption func(*BedrockEmbeddingProvider)

// WithCohereInputType sets the Cohere input_type, "search_document" by default.
func WithCohereInputType(inputType string) BedrockEmbeddingOption {
	return func(b *BedrockEmbeddingProvider) { b.inputType = inputType }
}

// WithBedrockLogger sets the logger.
func WithBedrockLogger(l observability.Logger) BedrockEmbeddingOption {
	return func(b *BedrockEmbeddingProvider) { b.logger = l }
}

// NewBedrockEmbeddingProvider loads the default AWS configuration for awsRegion.
func NewBedrockEmbeddingProvider(ctx context.Context, awsRegion string, opts ...BedrockEmbeddingOption) (*BedrockEmbeddingProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewBedrockEmbeddingProviderWithClient(bedrockruntime.NewFromConfig(cfg), opts...), nil
}

// NewBedrockEmbeddingProviderWithClient creates a provider with an existing client.
func NewBedrockEmbeddingProviderWithClient(client BedrockClient, opts ...BedrockEmbeddingOption) *BedrockEmbeddingProvider {
	b := &BedrockEmbeddingProvider{
		client:    client,
		inputType: "search_document",
		logger:    observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BedrockEmbeddingProvider) Generate(ctx context.Context, input interface{}, model EmbeddingModel) (*EmbeddingResponse, error) {
	if b.client == nil {
		return nil, errors.New("bedrock client is not initialized")
	}

	var texts []string
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, errors.New("input string cannot be empty")
		}
		texts = []string{v}
	case []string:
		if len(v) == 0 {
			return nil, errors.New("input string slice cannot be empty")
		}
		for _, s := range v {
			if s == "" {
				return nil, errors.New("input slice contains an empty string")
			}
		}
		texts = v
	default:
		return nil, fmt.Errorf("unsupported input type: %T", input)
	}

	switch {
	case strings.HasPrefix(string(model), "amazon.titan-embed"):
		return b.generateWithTitan(ctx, texts, model)
	case strings.HasPrefix(string(model), "cohere.embed"):
		return b.generateWithCohere(ctx, texts, model)
	default:
		b.logger.Warnf("unknown model family %q, using the Titan request format", model)
		return b.generateWithTitan(ctx, texts, model)
	}
}

func (b *BedrockEmbeddingProvider) invoke(ctx context.Context, model EmbeddingModel, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(string(model)),
		Body:        bodyBytes,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// generateWithTitan makes one call per text; Titan does not batch.
func (b *BedrockEmbeddingProvider) generateWithTitan(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	embeddings := make([]EmbeddingObject, 0, len(texts))
	totalTokens := 0

	for i, text := range texts {
		body, err := b.invoke(ctx, model, map[string]string{"inputText": text})
		if err != nil {
			return nil, fmt.Errorf("bedrock InvokeModel failed for titan (index %d): %w", i, err)
		}

		var titanResp struct {
			Embedding           []float32 `json:"embedding"`
			InputTextTokenCount int       `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal titan response body (index %d): %w", i, err)
		}

		embeddings = append(embeddings, EmbeddingObject{
			Object:    "embedding",
			Embedding: titanResp.Embedding,
			Index:     i,
		})
		totalTokens += titanResp.InputTextTokenCount
	}

	return &EmbeddingResponse{
		Object: "list",
		Data:   embeddings,
		Model:  model,
		Usage: Usage{
			PromptTokens: totalTokens,
			TotalTokens:  totalTokens,
		},
	}, nil
}

func (b *BedrockEmbeddingProvider) generateWithCohere(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	body, err := b.invoke(ctx, model, map[string]interface{}{
		"texts":      texts,
		"input_type": b.inputType,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel failed for cohere: %w", err)
	}

	var cohereResp struct {
		Embeddings [][]float32 `json:"embeddings"`
		Meta       *struct {
			BilledUnits *struct {
				InputTokens int `json:"input_tokens"`
			} `json:"billed_units"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &cohereResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cohere response body: %w", err)
	}

	if len(cohereResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere response embeddings count (%d) does not match input texts count (%d)", len(cohereResp.Embeddings), len(texts))
	}

	embeddings := make([]EmbeddingObject, len(texts))
	for i, emb := range cohereResp.Embeddings {
		embeddings[i] = EmbeddingObject{
			Object:    "embedding",
			Embedding: emb,
			Index:     i,
		}
	}

	promptTokens := 0
	if cohereResp.Meta != nil && cohereResp.Meta.BilledUnits != nil {
		promptTokens = cohereResp.Meta.BilledUnits.InputTokens
	} else {
		b.logger.Debugf("no token usage in cohere response for model %s", model)
	}

	return &EmbeddingResponse{
		Object: "list",
		Data:   embeddings,
		Model:  model,
		Usage: Usage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
	}, nil
}
