package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shaharia-lab/mcpbridge/document"
)

// MemoryStore keeps documents and vectors in process memory. It can be
// persisted to and restored from a JSON file.
type MemoryStore struct {
	embedder Embedder

	mu      sync.RWMutex
	entries map[string]candidate
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		entries:  make(map[string]candidate),
	}
}

func (s *MemoryStore) Add(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedDocuments(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range docs {
		s.entries[d.ID] = candidate{doc: d, vector: vectors[i]}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, req SearchRequest) ([]document.Document, error) {
	query, err := embedQuery(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.entries))
	for _, c := range s.entries {
		candidates = append(candidates, c)
	}
	s.mu.RUnlock()

	return rank(query, candidates, req), nil
}

func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

type storedEntry struct {
	Document  document.Document `json:"document"`
	Embedding []float32         `json:"embedding"`
}

// Save writes all entries to path.
func (s *MemoryStore) Save(path string) error {
	s.mu.RLock()
	entries := make([]storedEntry, 0, len(s.entries))
	for _, c := range s.entries {
		entries = append(entries, storedEntry{Document: c.doc, Embedding: c.vector})
	}
	s.mu.RUnlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode vector store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vector store file: %w", err)
	}
	return nil
}

// Load adds the entries stored at path, replacing documents with the same ID.
func (s *MemoryStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vector store file: %w", err)
	}

	var entries []storedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode vector store file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Document.ID] = candidate{doc: e.Document, vector: e.Embedding}
	}
	return nil
}
