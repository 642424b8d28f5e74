package llm

import (
	"context"
	"time"

	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"go.uber.org/zap"
)

// RetryingProvider wraps a Provider with the PROVIDER retry policy from
// spec.md §7: "Retried up to 3 times with backoff; on exhaustion,
// propagates out as a failed step."
type RetryingProvider struct {
	inner Provider
	log   *logger.Logger
}

// WithRetry wraps inner in the standard backoff policy.
func WithRetry(inner Provider, log *logger.Logger) *RetryingProvider {
	return &RetryingProvider{
		inner: inner,
		log:   log.WithFields(zap.String("component", "llm_retry"), zap.String("provider", inner.Name())),
	}
}

func (r *RetryingProvider) Name() string { return r.inner.Name() }

// Complete retries on errkind.Provider-classified failures with exponential
// backoff (200ms, 400ms, 800ms), honoring ctx cancellation between attempts.
func (r *RetryingProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt <= constants.ProviderMaxRetries; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !errkind.Is(err, errkind.Provider) || attempt == constants.ProviderMaxRetries {
			return nil, err
		}

		r.log.Warn("llm provider call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}
