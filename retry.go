package maestro

import (
	"context"
	"errors"
	"log/slog"
)

// retryDecider wraps a Decider and retries transient failures: request
// timeouts and HTTP 5xx responses. Anything else (4xx, safety blocks,
// invalid decisions) passes through on the first failure.
type retryDecider struct {
	inner       Decider
	maxAttempts int
	logger      *slog.Logger
}

// RetryOption configures a retryDecider.
type RetryOption func(*retryDecider)

// RetryMaxAttempts sets the total number of attempts (default: 2, i.e.
// one retry).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryDecider) { r.maxAttempts = n }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN and final failures at ERROR. If not set, a no-op logger is used.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryDecider) { r.logger = l }
}

// WithRetry wraps d with an immediate retry on transient failures. The
// retry fires with no backoff: a decision call blocks an interactive
// client, so one fast second attempt beats a polite slow one. Compose with
// any Decider:
//
//	decider := maestro.WithRetry(gemini.New(apiKey, model))
//	decider := maestro.WithRetry(gemini.New(apiKey, model), maestro.RetryMaxAttempts(3))
func WithRetry(d Decider, opts ...RetryOption) Decider {
	r := &retryDecider{
		inner:       d,
		maxAttempts: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner decider.
func (r *retryDecider) Name() string { return r.inner.Name() }

// Decide implements Decider with retry.
func (r *retryDecider) Decide(ctx context.Context, p Prompt) (Decision, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		d, err := r.inner.Decide(ctx, p)
		if err == nil || !isTransient(err) {
			return d, err
		}
		last = err
		if i < r.maxAttempts-1 {
			r.logger.Warn("retrying transient decider error",
				"decider", r.inner.Name(),
				"intent", p.Intent.String(),
				"status", statusOf(err),
				"attempt", i+1,
				"max_attempts", r.maxAttempts)
		}
	}
	r.logger.Error("all decider attempts exhausted",
		"decider", r.inner.Name(),
		"intent", p.Intent.String(),
		"attempts", r.maxAttempts,
		"error", last)
	return Decision{}, last
}

// isTransient reports whether err is a timeout or a 5xx API error.
func isTransient(err error) bool {
	var api *ErrDeciderAPI
	if errors.As(err, &api) {
		return api.Transient()
	}
	var de *ErrDecider
	if errors.As(err, &de) {
		return de.Timeout
	}
	return false
}

// statusOf extracts the HTTP status code from an ErrDeciderAPI, or 0.
func statusOf(err error) int {
	var api *ErrDeciderAPI
	if errors.As(err, &api) {
		return api.Status
	}
	return 0
}

var _ Decider = (*retryDecider)(nil)
