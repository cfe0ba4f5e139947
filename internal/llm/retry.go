package llm

import (
	"context"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

type retryingCompleter struct {
	next   Completer
	policy provider.RetryPolicy
}

// WithRetry retries rate limits, timeouts and 5xx failures of next with
// exponential backoff. Other errors are returned after the first attempt.
func WithRetry(next Completer, policy provider.RetryPolicy) Completer {
	return &retryingCompleter{next: next, policy: policy}
}

func (r *retryingCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	return provider.Retry(ctx, r.policy, func(ctx context.Context) (Response, error) {
		return r.next.Complete(ctx, req)
	})
}
