package llm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/davidmey/tern/errors"
)

// DefaultRetryAttempts bounds rate-limit retries per model call.
const DefaultRetryAttempts = 3

// RetryClient wraps a Client with bounded rate-limit retries. Delay comes
// from the server when provided, otherwise doubles from DefaultBackoff.
// Exhausted retries surface as a transport error for the current turn; the
// session stays usable.
type RetryClient struct {
	Inner    Client
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

// DefaultBackoff is the first retry delay when the server gives none.
const DefaultBackoff = 2 * time.Second

func NewRetryClient(inner Client, logger *slog.Logger) *RetryClient {
	return &RetryClient{
		Inner:    inner,
		Attempts: DefaultRetryAttempts,
		Backoff:  DefaultBackoff,
		Logger:   logger,
	}
}

func (r *RetryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	backoff := r.Backoff
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		resp, err := r.Inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var rle *RateLimitError
		if !stderrors.As(err, &rle) {
			return nil, errors.WithKind(errors.KindTransport, err)
		}
		if attempt == r.Attempts {
			break
		}

		delay := rle.RetryAfter
		if delay <= 0 {
			delay = backoff
			backoff *= 2
		}
		if r.Logger != nil {
			r.Logger.Warn("model transport rate limited",
				"attempt", attempt, "retry_in", delay)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, errors.WithKind(errors.KindTransport,
		errors.Wrapf(lastErr, "rate limit retries exhausted after %d attempts", r.Attempts))
}

// CountTokens passes through to the wrapped client when it supports remote
// counting. No retry: the budget estimator has its own fallback.
func (r *RetryClient) CountTokens(ctx context.Context, req Request) (int, error) {
	counter, ok := r.Inner.(TokenCounter)
	if !ok {
		return 0, errors.New("transport does not support remote token counting")
	}
	return counter.CountTokens(ctx, req)
}
