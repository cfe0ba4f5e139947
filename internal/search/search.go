// Package search wraps the external web search APIs used for retrieval.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

// Document is one ranked search hit. RawContent is empty when the provider
// returned only a Snippet.
type Document struct {
	URL        string
	Title      string
	Snippet    string
	RawContent string
}

type Query struct {
	Text       string
	MaxResults int
}

// Provider returns documents in the provider's relevance order.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

type Config struct {
	Provider      string
	TavilyAPIKey  string
	BraveAPIKey   string
	Depth         string
	Timeout       time.Duration
	RatePerSecond float64
	RetryAttempts int
}

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported search provider: %s", e.Provider)
}

const defaultMaxResults = 5

func NewProvider(cfg Config) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "tavily":
		p = NewTavily(cfg.TavilyAPIKey, cfg.Depth, client)
	case "brave":
		p = NewBrave(cfg.BraveAPIKey, client)
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
	if cfg.RetryAttempts > 1 {
		policy := provider.DefaultRetryPolicy()
		policy.Attempts = cfg.RetryAttempts
		p = WithRetry(p, policy)
	}
	if cfg.RatePerSecond > 0 {
		p = WithRateLimit(p, rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1))
	}
	return p, nil
}

type rateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit makes every Search wait for a token from limiter. The limiter
// is shared by all callers of the returned provider.
func WithRateLimit(next Provider, limiter *rate.Limiter) Provider {
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Search(ctx context.Context, q Query) ([]Document, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Search(ctx, q)
}

type retrying struct {
	next   Provider
	policy provider.RetryPolicy
}

func WithRetry(next Provider, policy provider.RetryPolicy) Provider {
	return &retrying{next: next, policy: policy}
}

func (r *retrying) Search(ctx context.Context, q Query) ([]Document, error) {
	return provider.Retry(ctx, r.policy, func(ctx context.Context) ([]Document, error) {
		return r.next.Search(ctx, q)
	})
}

func maxResults(q Query) int {
	if q.MaxResults > 0 {
		return q.MaxResults
	}
	return defaultMaxResults
}
