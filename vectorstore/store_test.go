package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"cat", "dog", "fish", "car"}

// keywordEmbedder counts vocabulary words, giving predictable similarities.
type keywordEmbedder struct {
	err   error
	calls int
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(vocabulary))
		for _, word := range strings.Fields(strings.ToLower(text)) {
			for j, v := range vocabulary {
				if strings.Trim(word, ".,!?") == v {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

type shortEmbedder struct{}

func (shortEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func sampleDocs() []document.Document {
	return []document.Document{
		{ID: "a", Content: "cat cat dog", Metadata: map[string]interface{}{"source": "pets"}},
		{ID: "b", Content: "dog fish", Metadata: map[string]interface{}{"source": "pets"}},
		{ID: "c", Content: "car", Metadata: map[string]interface{}{"source": "garage"}},
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(&keywordEmbedder{})
	require.NoError(t, store.Add(ctx, sampleDocs()))

	tests := []struct {
		name    string
		req     SearchRequest
		wantIDs []string
	}{
		{name: "ties ordered by id", req: SearchRequest{Query: "cat"}, wantIDs: []string{"a", "b", "c"}},
		{name: "default threshold keeps zero scores", req: SearchRequest{Query: "dog"}, wantIDs: []string{"b", "a", "c"}},
		{name: "top k", req: SearchRequest{Query: "dog", TopK: 1}, wantIDs: []string{"b"}},
		{name: "threshold", req: SearchRequest{Query: "dog", Threshold: 0.1}, wantIDs: []string{"b", "a"}},
		{name: "filter", req: SearchRequest{Query: "car", Filter: map[string]interface{}{"source": "garage"}}, wantIDs: []string{"c"}},
		{name: "filter without matches", req: SearchRequest{Query: "car", Filter: map[string]interface{}{"source": "nowhere"}}, wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Search(ctx, tt.req)
			require.NoError(t, err)

			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestMemoryStore_Scores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(&keywordEmbedder{})
	require.NoError(t, store.Add(ctx, sampleDocs()))

	docs, err := store.Search(ctx, SearchRequest{Query: "cat", TopK: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
	assert.InDelta(t, 0.894, docs[0].Score, 0.001)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore(&keywordEmbedder{})
	_, err := store.Search(ctx, SearchRequest{})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	failing := NewMemoryStore(&keywordEmbedder{err: errors.New("quota exceeded")})
	err = failing.Add(ctx, sampleDocs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	short := NewMemoryStore(shortEmbedder{})
	assert.ErrorIs(t, short.Add(ctx, sampleDocs()), ErrEmbeddingMismatch)
}

func TestMemoryStore_DeleteCountAndPersistence(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	store := NewMemoryStore(embedder)
	require.NoError(t, store.Add(ctx, sampleDocs()))
	require.NoError(t, store.Add(ctx, nil))
	assert.Equal(t, 1, embedder.calls, "empty batches are not embedded")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.Delete(ctx, []string{"c", "unknown"}))
	n, _ = store.Count(ctx)
	assert.Equal(t, 2, n)

	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, store.Save(path))

	restored := NewMemoryStore(&keywordEmbedder{})
	require.NoError(t, restored.Load(path))
	n, _ = restored.Count(ctx)
	assert.Equal(t, 2, n)

	docs, err := restored.Search(ctx, SearchRequest{Query: "fish", TopK: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "pets", docs[0].Metadata["source"])

	assert.Error(t, restored.Load(filepath.Join(t.TempDir(), "missing.json")))
}
