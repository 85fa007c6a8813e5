package executor

import (
	"context"
	"time"

	"cryptoMegaBot/internal/ports"
)

// RetryConfig configures the retry wrapper: retry Transient/RateLimited up
// to MaxRetries times, sleeping BaseDelay*attempt before each retry.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second}
}

// withRetry runs op, retrying on Transient/RateLimited classifications.
// Permanent/AuthFailed/Cancelled are never retried. Cancellation is checked
// before every sleep and forwarded immediately.
func withRetry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ports.ErrCancelled
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := ports.Classify(err)
		if kind != ports.KindTransient && kind != ports.KindRateLimited {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return zero, ports.ErrCancelled
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
