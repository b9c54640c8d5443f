package mcpbridge

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocabulary = []string{"spring", "framework", "rap", "feud", "jobs"}

// wordEmbedder counts vocabulary words so similarity follows shared topics.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(testVocabulary))
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?")
			for j, v := range testVocabulary {
				if word == v {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

type staticReader struct {
	docs  []document.Document
	err   error
	reads *int32
}

func (r staticReader) Read(ctx context.Context) ([]document.Document, error) {
	if r.reads != nil {
		atomic.AddInt32(r.reads, 1)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.docs, ctx.Err()
}

func TestIngestor_Ingest(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore(wordEmbedder{})

	var reads int32
	readers := []document.Reader{
		staticReader{docs: []document.Document{document.New("Spring is a framework for Java applications.", nil)}, reads: &reads},
		staticReader{docs: []document.Document{document.New("The rap feud dominated the charts.", nil)}, reads: &reads},
	}

	ingestor := NewIngestor(store, WithIngestConcurrency(1))
	result, err := ingestor.Ingest(ctx, readers...)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 2, result.Chunks)
	assert.EqualValues(t, 2, reads)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	result, err = ingestor.Ingest(ctx, readers...)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.EqualValues(t, 2, reads, "readers are not run when the store is populated")

	result, err = NewIngestor(store, WithForce(true)).Ingest(ctx, readers...)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestIngestor_ReaderError(t *testing.T) {
	store := vectorstore.NewMemoryStore(wordEmbedder{})
	boom := errors.New("fetch failed")

	_, err := NewIngestor(store).Ingest(context.Background(),
		staticReader{docs: []document.Document{document.New("Spring framework", nil)}},
		staticReader{err: boom},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestor_WithLLMChunker(t *testing.T) {
	store := vectorstore.NewMemoryStore(wordEmbedder{})
	provider := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "[[0, 7], [8, 17]]"}))
	chunker := NewChunkingByLLMProvider(NewLLMRequest(NewRequestConfig(), provider))

	result, err := NewIngestor(store, WithTransformer(chunker)).Ingest(context.Background(),
		staticReader{docs: []document.Document{document.New("Spring. Framework", nil)}},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chunks)
}
