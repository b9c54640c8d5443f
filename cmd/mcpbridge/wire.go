package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	"github.com/shaharia-lab/mcpbridge"
	"github.com/shaharia-lab/mcpbridge/config"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/shaharia-lab/mcpbridge/vectorstore"
)

func missingKey(provider string) error {
	return fmt.Errorf("no API key for %s: set llm.api_key, MCPBRIDGE_LLM_API_KEY or run `mcpbridge key set %s`", provider, provider)
}

func newLLMProvider(ctx context.Context, cfg config.LLMConfig, logger observability.Logger) (mcpbridge.LLMProvider, error) {
	var provider mcpbridge.LLMProvider

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, missingKey(cfg.Provider)
		}
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		provider = mcpbridge.NewOpenAILLMProvider(mcpbridge.OpenAIProviderConfig{
			Client: mcpbridge.NewOpenAIClient(cfg.APIKey, opts...),
			Model:  openai.ChatModel(cfg.Model),
			Logger: logger,
		})

	case "anthropic":
		if cfg.APIKey == "" {
			return nil, missingKey(cfg.Provider)
		}
		var opts []anthropicoption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		provider = mcpbridge.NewAnthropicLLMProvider(mcpbridge.AnthropicProviderConfig{
			Client: mcpbridge.NewAnthropicClient(cfg.APIKey, opts...),
			Model:  anthropic.Model(cfg.Model),
			Logger: logger,
		})

	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		provider = mcpbridge.NewBedrockLLMProvider(mcpbridge.BedrockProviderConfig{
			Client: bedrockruntime.NewFromConfig(awsCfg),
			Model:  cfg.Model,
			Logger: logger,
		})

	case "noop":
		provider = mcpbridge.NewNoOpsLLMProvider()

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return mcpbridge.NewTracingLLMProvider(provider), nil
}

func requestConfig(cfg config.LLMConfig, tools *mcpbridge.ToolsProvider) mcpbridge.LLMRequestConfig {
	return mcpbridge.NewRequestConfig(
		mcpbridge.WithMaxToken(cfg.MaxTokens),
		mcpbridge.WithTemperature(cfg.Temperature),
		mcpbridge.WithTopP(cfg.TopP),
		mcpbridge.WithTopK(cfg.TopK),
		mcpbridge.WithMaxToolRounds(cfg.MaxToolRounds),
		mcpbridge.UseToolsProvider(tools),
	)
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, awsRegion string, logger observability.Logger) (*mcpbridge.EmbeddingService, error) {
	var provider mcpbridge.EmbeddingProvider

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("no API key for the openai embedding provider")
		}
		provider = mcpbridge.NewOpenAICompatibleEmbeddingProvider(cfg.BaseURL, cfg.APIKey, http.DefaultClient)
	case "bedrock":
		p, err := mcpbridge.NewBedrockEmbeddingProvider(ctx, awsRegion, mcpbridge.WithBedrockLogger(logger))
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	opts := []mcpbridge.EmbeddingServiceOption{
		mcpbridge.WithEmbeddingModel(mcpbridge.EmbeddingModel(cfg.Model)),
		mcpbridge.WithEmbeddingLogger(logger),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, mcpbridge.WithRateLimit(cfg.RateLimit, cfg.Burst))
	}
	return mcpbridge.NewEmbeddingService(provider, opts...), nil
}

// openVectorStore returns the configured store and a function that releases
// it. The memory store is saved to its path on release.
func openVectorStore(ctx context.Context, cfg config.VectorStoreConfig, embedder vectorstore.Embedder, logger observability.Logger) (vectorstore.Store, func() error, error) {
	switch cfg.Type {
	case "memory":
		store := vectorstore.NewMemoryStore(embedder)
		if cfg.Path == "" {
			return store, func() error { return nil }, nil
		}
		if err := store.Load(cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		return store, func() error {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return fmt.Errorf("failed to create vector store directory: %w", err)
			}
			return store.Save(cfg.Path)
		}, nil

	case "pgvector":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		store, err := vectorstore.NewPGVectorStore(ctx, db, embedder,
			vectorstore.WithTable(cfg.Table),
			vectorstore.WithDimensions(cfg.Dimensions),
			vectorstore.WithPGLogger(logger),
		)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return vectorstore.NewRedisStore(client, embedder, cfg.RedisPrefix), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown vector store %q", cfg.Type)
}

func openChatHistory(ctx context.Context, cfg config.ChatHistoryConfig, logger observability.Logger) (mcpbridge.ChatHistoryStorage, func() error, error) {
	switch cfg.Type {
	case "memory":
		return mcpbridge.NewInMemoryChatHistoryStorage(), func() error { return nil }, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create chat history directory: %w", err)
		}
		db, err := sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		storage, err := mcpbridge.NewSQLiteChatHistoryStorage(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return storage, storage.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown chat history storage %q", cfg.Type)
}

// newMCPClient opens the transport for server and returns a client that has
// not connected yet, so notification handlers can still be added.
func newMCPClient(ctx context.Context, server config.MCPServerConfig, version string, logger observability.Logger) (*mcp.Client, error) {
	logger = logger.WithFields(map[string]interface{}{"mcp_server": server.Name})

	var transport mcp.Transport
	switch {
	case server.Command != "":
		t, err := mcp.NewCommandTransport(ctx, logger, server.Command, server.Args, server.Env)
		if err != nil {
			return nil, err
		}
		transport = t
	case server.URL != "":
		opts := []mcp.SSEClientOption{mcp.WithSSELogger(logger)}
		if server.Token != "" {
			opts = append(opts, mcp.WithBearerToken(server.Token))
		}
		t, err := mcp.DialSSE(ctx, server.URL, opts...)
		if err != nil {
			return nil, err
		}
		transport = t
	default:
		return nil, fmt.Errorf("mcp server %q has neither command nor url", server.Name)
	}

	return mcp.NewClient(transport,
		mcp.WithClientInfo(config.AppName, version),
		mcp.WithClientLogger(logger),
	), nil
}
