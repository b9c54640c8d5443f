package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shaharia-lab/mcpbridge"
	"github.com/shaharia-lab/mcpbridge/calculator"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/spf13/cobra"
)

func newChatCommand(a *app) *cobra.Command {
	var sessionID string
	var localTools bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about the ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if len(a.cfg.RAG.Sources) > 0 {
				result, err := ingest(ctx, store, a.cfg.RAG.Sources,
					mcpbridge.WithIngestConcurrency(a.cfg.RAG.IngestConcurrency),
					mcpbridge.WithIngestLogger(a.logger))
				if err != nil {
					return err
				}
				if !result.Skipped {
					a.logger.Infof("ingested %d chunks from %d sources", result.Chunks, len(a.cfg.RAG.Sources))
				}
			}

			memory, closeMemory, err := openChatHistory(ctx, a.cfg.ChatHistory, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeMemory() }()

			tools, closeTools, err := buildToolsProvider(ctx, a, localTools)
			if err != nil {
				return err
			}
			defer closeTools()

			provider, err := newLLMProvider(ctx, a.cfg.LLM, a.logger)
			if err != nil {
				return err
			}

			rag := mcpbridge.NewRAGService(store, memory,
				mcpbridge.NewLLMRequest(requestConfig(a.cfg.LLM, tools), provider),
				mcpbridge.WithRAGTopK(a.cfg.RAG.TopK),
				mcpbridge.WithRAGThreshold(a.cfg.RAG.Threshold),
				mcpbridge.WithMemoryWindow(a.cfg.RAG.MemoryWindow),
				mcpbridge.WithRAGLogger(a.logger),
			)

			if sessionID == "" {
				chat, err := memory.CreateChat(ctx)
				if err != nil {
					return err
				}
				sessionID = chat.SessionID
			}
			a.logger.WithFields(map[string]interface{}{"session": sessionID}).Info("chat session started")

			return chatLoop(ctx, rag, sessionID, a.stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing chat session")
	cmd.Flags().BoolVar(&localTools, "calculator", false, "offer the built-in calculator tools to the model")
	return cmd
}

// buildToolsProvider connects every configured MCP server. The returned
// function closes the clients.
func buildToolsProvider(ctx context.Context, a *app, localTools bool) (*mcpbridge.ToolsProvider, func(), error) {
	var local *mcp.ToolRegistry
	if localTools {
		local = mcp.NewToolRegistry(a.logger)
		if err := calculator.Register(local); err != nil {
			return nil, nil, err
		}
	}

	tools := mcpbridge.NewToolsProvider(local, mcpbridge.WithToolsLogger(a.logger))
	var clients []*mcp.Client
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	for _, server := range a.cfg.MCPServers {
		client, err := newMCPClient(ctx, server, a.cfg.Server.Version, a.logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mcp server %s: %w", server.Name, err)
		}
		clients = append(clients, client)
		tools.AddMCPClient(client)

		if err := client.Connect(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to mcp server %s: %w", server.Name, err)
		}
		a.logger.WithFields(map[string]interface{}{
			"server":  server.Name,
			"version": client.ServerInfo().Version,
		}).Info("connected to MCP server")
	}
	return tools, closeAll, nil
}

type questioner interface {
	Query(ctx context.Context, sessionID, question string) (string, error)
}

// chatLoop reads questions line by line until "exit", a blank line or EOF.
func chatLoop(ctx context.Context, rag questioner, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Ask a question. Type 'exit' or press enter on an empty line to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" || strings.EqualFold(question, "exit") {
			return nil
		}

		answer, err := rag.Query(ctx, sessionID, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
}
