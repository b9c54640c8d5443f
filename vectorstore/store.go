// Package vectorstore stores embedded documents and finds the ones closest to a
// query.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shaharia-lab/mcpbridge/document"
)

// DefaultTopK is used when a search request does not set TopK.
const DefaultTopK = 4

var (
	ErrEmptyQuery        = errors.New("search query is empty")
	ErrEmbeddingMismatch = errors.New("embedder returned a different number of vectors than inputs")
)

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchRequest describes a similarity search. Documents scoring below
// Threshold are dropped. Filter keeps only documents whose metadata holds every
// listed key with an equal value.
type SearchRequest struct {
	Query     string
	TopK      int
	Threshold float64
	Filter    map[string]interface{}
}

func (r SearchRequest) topK() int {
	if r.TopK <= 0 {
		return DefaultTopK
	}
	return r.TopK
}

// Store is a vector store. Search results carry their similarity in Score.
type Store interface {
	Add(ctx context.Context, docs []document.Document) error
	Search(ctx context.Context, req SearchRequest) ([]document.Document, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

func embedDocuments(ctx context.Context, e Embedder, docs []document.Document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, ErrEmbeddingMismatch
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	vectors, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, ErrEmbeddingMismatch
	}
	return vectors[0], nil
}

// cosineSimilarity returns 0 for vectors of different length or zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func matchesFilter(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

type candidate struct {
	doc    document.Document
	vector []float32
}

// rank scores candidates against query and keeps the best TopK.
func rank(query []float32, candidates []candidate, req SearchRequest) []document.Document {
	results := make([]document.Document, 0, len(candidates))
	for _, c := range candidates {
		if !matchesFilter(c.doc.Metadata, req.Filter) {
			continue
		}
		score := cosineSimilarity(query, c.vector)
		if score < req.Threshold {
			continue
		}
		d := c.doc
		d.Score = score
		results = append(results, d)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if k := req.topK(); len(results) > k {
		results = results[:k]
	}
	return results
}
