package mcpbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
	"golang.org/x/sync/errgroup"
)

// DefaultIngestConcurrency bounds how many readers run at once.
const DefaultIngestConcurrency = 4

// Ingestor loads documents from readers, splits them and adds the chunks to a
// vector store.
type Ingestor struct {
	store       vectorstore.Store
	transformer document.Transformer
	concurrency int
	force       bool
	logger      observability.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithTransformer replaces the default token splitter, for example with a
// ChunkingByLLMProvider.
func WithTransformer(t document.Transformer) IngestorOption {
	return func(i *Ingestor) { i.transformer = t }
}

// WithIngestConcurrency bounds how many readers run at once.
func WithIngestConcurrency(n int) IngestorOption {
	return func(i *Ingestor) { i.concurrency = n }
}

// WithForce ingests even when the store already holds documents.
func WithForce(force bool) IngestorOption {
	return func(i *Ingestor) { i.force = force }
}

// WithIngestLogger sets the logger.
func WithIngestLogger(l observability.Logger) IngestorOption {
	return func(i *Ingestor) { i.logger = l }
}

// NewIngestor creates an ingestor that writes into store.
func NewIngestor(store vectorstore.Store, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:       store,
		transformer: document.NewTokenTextSplitter(),
		concurrency: DefaultIngestConcurrency,
		logger:      observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.concurrency <= 0 {
		i.concurrency = 1
	}
	return i
}

// IngestResult reports what an ingestion run did.
type IngestResult struct {
	Skipped   bool
	Documents int
	Chunks    int
}

// Ingest reads every source, splits the documents and stores the chunks. It
// does nothing when the store is not empty and force is off. Documents keep
// the order of readers regardless of which finishes first.
func (i *Ingestor) Ingest(ctx context.Context, readers ...document.Reader) (IngestResult, error) {
	ctx, span := observability.StartSpan(ctx, "Ingestor.Ingest")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	if !i.force {
		var count int
		count, err = i.store.Count(ctx)
		if err != nil {
			return IngestResult{}, fmt.Errorf("failed to count documents: %w", err)
		}
		if count > 0 {
			i.logger.Infof("vector store already holds %d documents, skipping ingestion", count)
			return IngestResult{Skipped: true}, nil
		}
	}

	start := time.Now()
	batches := make([][]document.Document, len(readers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, r := range readers {
		g.Go(func() error {
			docs, err := r.Read(gctx)
			if err != nil {
				return fmt.Errorf("reader %d: %w", idx, err)
			}
			batches[idx] = docs
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return IngestResult{}, err
	}

	var docs []document.Document
	for _, batch := range batches {
		docs = append(docs, batch...)
	}

	var chunks []document.Document
	chunks, err = i.transformer.Transform(ctx, docs)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to split documents: %w", err)
	}

	if len(chunks) > 0 {
		if err = i.store.Add(ctx, chunks); err != nil {
			return IngestResult{}, fmt.Errorf("failed to store chunks: %w", err)
		}
	}

	i.logger.WithFields(map[string]interface{}{
		"documents": len(docs),
		"chunks":    len(chunks),
		"duration":  time.Since(start).String(),
	}).Info("ingestion finished")

	return IngestResult{Documents: len(docs), Chunks: len(chunks)}, nil
}
