// Package config loads mcpbridge settings. Values are layered: built-in
// defaults, then a YAML file, then a .env file, then MCPBRIDGE_* environment
// variables. API keys that are still empty are looked up in the OS keyring.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the config directory and the keyring service.
const AppName = "mcpbridge"

// Config is the complete application configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	ChatHistory ChatHistoryConfig `yaml:"chat_history"`
	RAG         RAGConfig         `yaml:"rag"`
	MCPServers  []MCPServerConfig `yaml:"mcp_servers,omitempty" validate:"dive"`
}

// LoggingConfig selects the log level and logging backend.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MCPBRIDGE_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"MCPBRIDGE_LOG_FORMAT" validate:"oneof=logrus zap slog zerolog charm"`
}

// ServerConfig drives `mcpbridge serve`.
type ServerConfig struct {
	Name         string        `yaml:"name" env:"MCPBRIDGE_SERVER_NAME" validate:"required"`
	Version      string        `yaml:"version" env:"MCPBRIDGE_SERVER_VERSION" validate:"required"`
	Transport    string        `yaml:"transport" env:"MCPBRIDGE_SERVER_TRANSPORT" validate:"oneof=stdio sse"`
	Addr         string        `yaml:"addr" env:"MCPBRIDGE_SERVER_ADDR" validate:"required_if=Transport sse"`
	PromptsDir   string        `yaml:"prompts_dir" env:"MCPBRIDGE_PROMPTS_DIR"`
	ResourcesDir string        `yaml:"resources_dir" env:"MCPBRIDGE_RESOURCES_DIR"`
	JWTSecret    string        `yaml:"jwt_secret" env:"MCPBRIDGE_JWT_SECRET"`
	KeepAlive    time.Duration `yaml:"keep_alive" env:"MCPBRIDGE_SERVER_KEEP_ALIVE"`
	MaxFrameSize int           `yaml:"max_frame_size" env:"MCPBRIDGE_MAX_FRAME_SIZE" validate:"gte=0"`
}

// LLMConfig selects the chat model provider and its sampling settings.
type LLMConfig struct {
	Provider      string  `yaml:"provider" env:"MCPBRIDGE_LLM_PROVIDER" validate:"oneof=openai anthropic bedrock noop"`
	Model         string  `yaml:"model" env:"MCPBRIDGE_LLM_MODEL"`
	APIKey        string  `yaml:"api_key" env:"MCPBRIDGE_LLM_API_KEY"`
	BaseURL       string  `yaml:"base_url" env:"MCPBRIDGE_LLM_BASE_URL" validate:"omitempty,url"`
	AWSRegion     string  `yaml:"aws_region" env:"MCPBRIDGE_AWS_REGION"`
	MaxTokens     int64   `yaml:"max_tokens" env:"MCPBRIDGE_LLM_MAX_TOKENS" validate:"gt=0"`
	Temperature   float64 `yaml:"temperature" env:"MCPBRIDGE_LLM_TEMPERATURE" validate:"gte=0,lte=2"`
	TopP          float64 `yaml:"top_p" env:"MCPBRIDGE_LLM_TOP_P" validate:"gte=0,lte=1"`
	TopK          int64   `yaml:"top_k" env:"MCPBRIDGE_LLM_TOP_K" validate:"gte=0"`
	MaxToolRounds int     `yaml:"max_tool_rounds" env:"MCPBRIDGE_LLM_MAX_TOOL_ROUNDS" validate:"gte=0"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string  `yaml:"provider" env:"MCPBRIDGE_EMBEDDING_PROVIDER" validate:"oneof=openai bedrock"`
	Model     string  `yaml:"model" env:"MCPBRIDGE_EMBEDDING_MODEL" validate:"required"`
	BaseURL   string  `yaml:"base_url" env:"MCPBRIDGE_EMBEDDING_BASE_URL" validate:"omitempty,url"`
	APIKey    string  `yaml:"api_key" env:"MCPBRIDGE_EMBEDDING_API_KEY"`
	RateLimit float64 `yaml:"rate_limit" env:"MCPBRIDGE_EMBEDDING_RATE_LIMIT" validate:"gte=0"`
	Burst     int     `yaml:"burst" env:"MCPBRIDGE_EMBEDDING_BURST" validate:"gte=0"`
}

// VectorStoreConfig selects where embedded documents are kept.
type VectorStoreConfig struct {
	Type        string `yaml:"type" env:"MCPBRIDGE_VECTOR_STORE" validate:"oneof=memory pgvector redis"`
	Path        string `yaml:"path" env:"MCPBRIDGE_VECTOR_STORE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"MCPBRIDGE_POSTGRES_DSN" validate:"required_if=Type pgvector"`
	Table       string `yaml:"table" env:"MCPBRIDGE_PGVECTOR_TABLE"`
	Dimensions  int    `yaml:"dimensions" env:"MCPBRIDGE_PGVECTOR_DIMENSIONS" validate:"gte=0"`
	RedisAddr   string `yaml:"redis_addr" env:"MCPBRIDGE_REDIS_ADDR" validate:"required_if=Type redis"`
	RedisPrefix string `yaml:"redis_prefix" env:"MCPBRIDGE_REDIS_PREFIX"`
}

// ChatHistoryConfig selects where chat sessions are kept.
type ChatHistoryConfig struct {
	Type string `yaml:"type" env:"MCPBRIDGE_CHAT_HISTORY" validate:"oneof=memory sqlite"`
	Path string `yaml:"path" env:"MCPBRIDGE_CHAT_HISTORY_PATH" validate:"required_if=Type sqlite"`
}

// RAGConfig tunes retrieval and ingestion for `mcpbridge chat`.
type RAGConfig struct {
	TopK              int      `yaml:"top_k" env:"MCPBRIDGE_RAG_TOP_K" validate:"gt=0"`
	Threshold         float64  `yaml:"threshold" env:"MCPBRIDGE_RAG_THRESHOLD" validate:"gte=0,lte=1"`
	MemoryWindow      int      `yaml:"memory_window" env:"MCPBRIDGE_RAG_MEMORY_WINDOW" validate:"gte=0"`
	IngestConcurrency int      `yaml:"ingest_concurrency" env:"MCPBRIDGE_INGEST_CONCURRENCY" validate:"gt=0"`
	Sources           []string `yaml:"sources,omitempty"`
}

// MCPServerConfig describes an external MCP server the chat loop connects to.
// Exactly one of Command and URL is set.
type MCPServerConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Command string   `yaml:"command" validate:"required_without=URL,excluded_with=URL"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	URL     string   `yaml:"url" validate:"omitempty,url"`
	Token   string   `yaml:"token"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "logrus"},
		Server: ServerConfig{
			Name:      AppName,
			Version:   "0.1.0",
			Transport: "stdio",
			Addr:      ":8080",
			KeepAlive: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      "openai",
			AWSRegion:     "us-east-1",
			MaxTokens:     1000,
			Temperature:   0.5,
			TopP:          0.5,
			TopK:          40,
			MaxToolRounds: 5,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			BaseURL:  "https://api.openai.com",
		},
		VectorStore: VectorStoreConfig{
			Type:        "memory",
			Path:        filepath.Join(xdg.DataHome, AppName, "vectors.json"),
			Table:       "documents",
			Dimensions:  1536,
			RedisPrefix: "mcpbridge:doc:",
		},
		ChatHistory: ChatHistoryConfig{Type: "memory"},
		RAG: RAGConfig{
			TopK:              4,
			MemoryWindow:      10,
			IngestConcurrency: 4,
		},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/mcpbridge/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

type loadOptions struct {
	dotEnv   string
	keyring  bool
	validate bool
}

// LoadOption adjusts Load.
type LoadOption func(*loadOptions)

// WithDotEnv reads environment variables from path. The default is ".env"; an
// empty path disables the layer. Variables already set are not overridden.
func WithDotEnv(path string) LoadOption {
	return func(o *loadOptions) { o.dotEnv = path }
}

// WithoutKeyring skips the keyring lookup for empty API keys.
func WithoutKeyring() LoadOption {
	return func(o *loadOptions) { o.keyring = false }
}

// Load builds the configuration. An empty path means DefaultPath, which may be
// absent; an explicit path must exist.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{dotEnv: ".env", keyring: true, validate: true}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if o.dotEnv != "" {
		if err := godotenv.Load(o.dotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.dotEnv, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if o.keyring {
		if err := cfg.resolveSecrets(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes c as YAML to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
