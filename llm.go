package mcpbridge

import (
	"context"
)

// Request defaults.
const (
	DefaultMaxToken      = 1000
	DefaultTopP          = 0.5
	DefaultTemperature   = 0.5
	DefaultTopK          = 40
	DefaultMaxToolRounds = 5
)

// LLMRequestConfig holds sampling parameters and the tools offered to the model.
type LLMRequestConfig struct {
	maxToken      int64
	topP          float64
	temperature   float64
	topK          int64
	maxToolRounds int
	allowedTools  []string
	toolsProvider *ToolsProvider
}

// RequestOption configures an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// WithMaxToken caps the tokens generated per model call.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) { c.maxToken = maxToken }
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) { c.topP = topP }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) { c.temperature = temperature }
}

// WithTopK sets top-k sampling. Providers without top-k ignore it.
func WithTopK(topK int64) RequestOption {
	return func(c *LLMRequestConfig) { c.topK = topK }
}

// WithMaxToolRounds bounds how many times the model may call tools before the
// provider stops the loop.
func WithMaxToolRounds(rounds int) RequestOption {
	return func(c *LLMRequestConfig) { c.maxToolRounds = rounds }
}

// WithAllowedTools restricts the tools offered to the model. An empty list
// offers every tool.
func WithAllowedTools(names []string) RequestOption {
	return func(c *LLMRequestConfig) { c.allowedTools = names }
}

// UseToolsProvider sets where tools are listed and executed.
func UseToolsProvider(p *ToolsProvider) RequestOption {
	return func(c *LLMRequestConfig) { c.toolsProvider = p }
}

// NewRequestConfig builds a config from the defaults and opts.
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	c := LLMRequestConfig{
		maxToken:      DefaultMaxToken,
		topP:          DefaultTopP,
		temperature:   DefaultTemperature,
		topK:          DefaultTopK,
		maxToolRounds: DefaultMaxToolRounds,
		toolsProvider: NewToolsProvider(nil),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.toolsProvider == nil {
		c.toolsProvider = NewToolsProvider(nil)
	}
	return c
}

// Accessors for providers outside this package.
func (c LLMRequestConfig) MaxToken() int64      { return c.maxToken }
func (c LLMRequestConfig) TopP() float64        { return c.topP }
func (c LLMRequestConfig) Temperature() float64 { return c.temperature }
func (c LLMRequestConfig) TopK() int64          { return c.topK }
func (c LLMRequestConfig) MaxToolRounds() int   { return c.maxToolRounds }

func (c LLMRequestConfig) tools() *ToolsProvider {
	if c.toolsProvider == nil {
		return NewToolsProvider(nil)
	}
	return c.toolsProvider
}

// LLMRequest pairs a provider with a request config.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates a request runner.
//
//	provider := mcpbridge.NewOpenAILLMProvider(mcpbridge.OpenAIProviderConfig{
//	    Client: mcpbridge.NewOpenAIClient(apiKey),
//	})
//	llm := mcpbridge.NewLLMRequest(mcpbridge.NewRequestConfig(mcpbridge.WithMaxToken(2000)), provider)
//	resp, err := llm.Generate(ctx, []mcpbridge.LLMMessage{{Role: mcpbridge.UserRole, Text: "Hi"}})
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate returns the complete response for messages.
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}

// GenerateStream returns a channel of response chunks. The channel is closed
// after the chunk with Done set.
func (r *LLMRequest) GenerateStream(ctx context.Context, messages []LLMMessage) (<-chan StreamingLLMResponse, error) {
	return r.provider.GetStreamingResponse(ctx, messages, r.requestConfig)
}
