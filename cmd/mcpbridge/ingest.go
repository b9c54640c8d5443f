package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shaharia-lab/mcpbridge"
	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
	"github.com/spf13/cobra"
)

// readersFor maps each source to a reader: http(s) URLs are fetched as HTML
// and .pdf paths are read page by page.
func readersFor(sources []string) ([]document.Reader, error) {
	readers := make([]document.Reader, 0, len(sources))
	for _, src := range sources {
		switch {
		case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
			readers = append(readers, document.NewHTMLReader(src))
		case strings.EqualFold(filepath.Ext(src), ".pdf"):
			readers = append(readers, document.NewPDFPageReader(src))
		default:
			return nil, fmt.Errorf("unsupported source %q: expected an http(s) URL or a .pdf file", src)
		}
	}
	return readers, nil
}

func newIngestCommand(a *app) *cobra.Command {
	var force, llmChunking bool

	cmd := &cobra.Command{
		Use:   "ingest [sources...]",
		Short: "Load web pages and PDF files into the vector store",
		Long:  "Load web pages and PDF files into the vector store. Without arguments the rag.sources from the config are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				sources = a.cfg.RAG.Sources
			}
			if len(sources) == 0 {
				return errors.New("no sources given and rag.sources is empty")
			}

			ctx := cmd.Context()
			embedder, err := newEmbedder(ctx, a.cfg.Embedding, a.cfg.LLM.AWSRegion, a.logger)
			if err != nil {
				return err
			}
			store, closeStore, err := openVectorStore(ctx, a.cfg.VectorStore, embedder, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					a.logger.WithErr(err).Error("failed to close vector store")
				}
			}()

			opts := []mcpbridge.IngestorOption{
				mcpbridge.WithForce(force),
				mcpbridge.WithIngestConcurrency(a.cfg.RAG.IngestConcurrency),
				mcpbridge.WithIngestLogger(a.logger),
			}
			if llmChunking {
				provider, err := newLLMProvider(ctx, a.cfg.LLM, a.logger)
				if err != nil {
					return err
				}
				llm := mcpbridge.NewLLMRequest(requestConfig(a.cfg.LLM, nil), provider)
				opts = append(opts, mcpbridge.WithTransformer(mcpbridge.NewChunkingByLLMProvider(llm)))
			}

			result, err := ingest(ctx, store, sources, opts...)
			if err != nil {
				return err
			}
			if result.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "vector store already populated; use --force to ingest anyway")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents as %d chunks\n", result.Documents, result.Chunks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ingest even when the store already holds documents")
	cmd.Flags().BoolVar(&llmChunking, "llm-chunking", false, "let the configured LLM choose chunk boundaries")
	return cmd
}

func ingest(ctx context.Context, store vectorstore.Store, sources []string, opts ...mcpbridge.IngestorOption) (mcpbridge.IngestResult, error) {
	readers, err := readersFor(sources)
	if err != nil {
		return mcpbridge.IngestResult{}, err
	}
	return mcpbridge.NewIngestor(store, opts...).Ingest(ctx, readers...)
}
