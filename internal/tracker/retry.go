package tracker

import (
	"context"
	"strings"
	"time"
)

// RetryOptions configures retry behavior for tracker calls.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryOptions returns sensible defaults for forge APIs.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// WithRetry executes an operation with exponential backoff. Only transient
// failures are retried; 4xx client errors surface immediately.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryableError(lastErr) || attempt >= opts.MaxRetries {
			return result, lastErr
		}

		delay := opts.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, lastErr
}

// WithRetryVoid is WithRetry for operations without a return value.
func WithRetryVoid(ctx context.Context, op func() error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}

// isRetryableError reports whether an error is transient: rate limits,
// server errors, or network failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	for _, status := range []string{"status 429", "status 500", "status 502", "status 503", "status 504"} {
		if strings.Contains(errStr, status) {
			return true
		}
	}
	for _, netErr := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"context deadline exceeded",
		"dial tcp",
	} {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}
	return false
}
