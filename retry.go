package conductor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"
)

// defaultRetryAfter applies when a 429 arrives without a Retry-After header.
const defaultRetryAfter = 60 * time.Second

// retryAdapter wraps an Adapter and retries transient upstream failures
// (429, 5xx, timeouts, connection errors) with exponential backoff.
type retryAdapter struct {
	inner       Adapter
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryAdapter.
type RetryOption func(*retryAdapter)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryAdapter) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles: base, 2×base, 4×base, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryAdapter) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN, final failures after exhausting attempts at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryAdapter) { r.logger = l }
}

// WithRetry wraps a with automatic retry on transient upstream errors.
// Delays use exponential backoff with jitter; a server-sent Retry-After is
// honored as a floor. Client errors (4xx other than 429) never retry.
//
//	xl = conductor.WithRetry(model.XL(client))
//	xl = conductor.WithRetry(model.XL(client), conductor.RetryMaxAttempts(5))
func WithRetry(a Adapter, opts ...RetryOption) Adapter {
	r := &retryAdapter{
		inner:       a,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

func (r *retryAdapter) Describe() ModelSpec { return r.inner.Describe() }

func (r *retryAdapter) Generate(ctx context.Context, req ChatRequest) (Envelope, error) {
	return retryCall(ctx, r.maxAttempts, r.baseDelay, r.inner.Describe().ID, r.logger, func() (Envelope, error) {
		return r.inner.Generate(ctx, req)
	})
}

// isTransient reports whether err is worth retrying: rate limiting (429),
// server-side failures (5xx), or timeout/connection errors.
func isTransient(err error) bool {
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status == 429 || he.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP. A 429
// without a header falls back to defaultRetryAfter.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if !errors.As(err, &e) {
		return 0
	}
	if e.RetryAfter == 0 && e.Status == 429 {
		return defaultRetryAfter
	}
	return e.RetryAfter
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// retryCall calls fn up to maxAttempts times, sleeping between transient
// failures. Non-transient errors and context cancellation return immediately.
func retryCall[T any](ctx context.Context, maxAttempts int, base time.Duration, name string, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) || ctx.Err() != nil {
			return result, err
		}
		last = err
		logger.Warn("retrying transient error",
			"model", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", maxAttempts)
		if i < maxAttempts-1 {
			delay := retryDelay(base, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	logger.Error("all retry attempts exhausted",
		"model", name,
		"attempts", maxAttempts,
		"error", last)
	return zero, last
}

var _ Adapter = (*retryAdapter)(nil)
