package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbeddingProvider struct {
	response *EmbeddingResponse
	err      error
	calls    int
}

func (m *mockEmbeddingProvider) Generate(_ context.Context, _ interface{}, _ EmbeddingModel) (*EmbeddingResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func TestEmbeddingService_Embed(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		response *EmbeddingResponse
		err      error
		want     [][]float32
		wantErr  string
	}{
		{
			name:  "orders vectors by index",
			texts: []string{"a", "b"},
			response: &EmbeddingResponse{Data: []EmbeddingObject{
				{Embedding: []float32{2}, Index: 1},
				{Embedding: []float32{1}, Index: 0},
			}},
			want: [][]float32{{1}, {2}},
		},
		{
			name:     "count mismatch",
			texts:    []string{"a", "b"},
			response: &EmbeddingResponse{Data: []EmbeddingObject{{Embedding: []float32{1}}}},
			wantErr:  "expected 2 embeddings, got 1",
		},
		{
			name:    "provider error",
			texts:   []string{"a"},
			err:     errors.New("boom"),
			wantErr: "boom",
		},
		{
			name:  "no texts",
			texts: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewEmbeddingService(&mockEmbeddingProvider{response: tt.response, err: tt.err})
			got, err := svc.Embed(context.Background(), tt.texts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddingService_RateLimit(t *testing.T) {
	provider := &mockEmbeddingProvider{response: &EmbeddingResponse{Data: []EmbeddingObject{{Embedding: []float32{1}}}}}
	svc := NewEmbeddingService(provider, WithRateLimit(1, 1))

	_, err := svc.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Embed(ctx, []string{"b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, 1, provider.calls)
}

func TestOpenAICompatibleEmbeddingProvider_Generate(t *testing.T) {
	var gotAuth string
	var gotBody embeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(EmbeddingResponse{
			Object: "list",
			Data:   []EmbeddingObject{{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0}},
			Model:  EmbeddingModelAllMiniLML6V2,
			Usage:  Usage{PromptTokens: 2, TotalTokens: 2},
		})
	}))
	defer server.Close()

	p := NewOpenAICompatibleEmbeddingProvider(server.URL, "secret", server.Client())
	resp, err := p.Generate(context.Background(), "hello", EmbeddingModelAllMiniLML6V2)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "hello", gotBody.Input)
	assert.Equal(t, "float", gotBody.EncodingFormat)
	assert.Equal(t, []float32{0.1, 0.2}, resp.Data[0].Embedding)
	assert.Equal(t, 2, resp.Usage.TotalTokens)
}

func TestOpenAICompatibleEmbeddingProvider_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewOpenAICompatibleEmbeddingProvider(server.URL, "", nil)

	_, err := p.Generate(context.Background(), "hello", EmbeddingModelAllMiniLML6V2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")

	_, err = p.Generate(context.Background(), 42, EmbeddingModelAllMiniLML6V2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input type")
}
