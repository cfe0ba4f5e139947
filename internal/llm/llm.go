package llm

import (
	"context"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

// Request is a single prompt sent to a completion provider.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON-only response when it supports it.
	JSON bool
}

// Response carries the completion text and the token usage reported by the
// provider. TotalTokens is zero when the provider does not report usage.
type Response struct {
	Text        string
	TotalTokens int
}

// Completer is the one capability the research pipeline needs from a
// language model.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type Config struct {
	Provider         string
	Model            string
	BaseURL          string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	Timeout          time.Duration
	RetryAttempts    int
}

const defaultMaxTokens = 2048

// defaultModels holds a lightweight model per provider, used when no model
// is configured.
var defaultModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
	"anthropic":  "claude-3-5-haiku-latest",
	"gemini":     "gemini-2.5-flash",
}

// DefaultModel returns the model used for providerName when none is set.
// An empty name means openai.
func DefaultModel(providerName string) string {
	name := strings.ToLower(strings.TrimSpace(providerName))
	if name == "" {
		name = "openai"
	}
	return defaultModels[name]
}

func NewProvider(cfg Config) (Completer, error) {
	model := defaultIfEmpty(strings.TrimSpace(cfg.Model), DefaultModel(cfg.Provider))
	var completer Completer
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		return LocalProvider{}, nil
	case "", "openai":
		completer = NewOpenAIProvider(OpenAIConfig{
			Name:    "openai",
			APIKey:  cfg.OpenAIAPIKey,
			Model:   model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "openrouter":
		completer = NewOpenAIProvider(OpenAIConfig{
			Name:    "openrouter",
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			Timeout: cfg.Timeout,
		})
	case "anthropic":
		completer = NewAnthropicProvider(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "gemini":
		completer = NewGeminiProvider(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
	if cfg.RetryAttempts > 1 {
		policy := provider.DefaultRetryPolicy()
		policy.Attempts = cfg.RetryAttempts
		completer = WithRetry(completer, policy)
	}
	return completer, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
