package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a transient provider failure is retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, InitialDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		exp.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// hintedBackOff waits at least as long as the last failure asked for.
type hintedBackOff struct {
	backoff.BackOffContext
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOffContext.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. A provider asking to wait longer
// than MaxDelay is not retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	b := &hintedBackOff{BackOffContext: policy.backOff(ctx)}
	return backoff.RetryWithData(func() (T, error) {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !IsRetryable(err) {
			return value, backoff.Permanent(err)
		}
		delay := RetryDelay(err)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			return value, backoff.Permanent(err)
		}
		b.hint = delay
		return value, err
	}, b)
}
