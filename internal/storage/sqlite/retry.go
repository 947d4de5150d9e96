package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newWriteRetryBackoff returns a fresh backoff policy for write contention.
// Backoff instances are stateful, so every operation gets its own.
func newWriteRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// isRetryableError reports whether an error is transient lock contention.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "interrupted")
}

// withRetry runs op with exponential backoff on transient lock errors.
// Non-retryable errors abort immediately.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		if err := op(); err != nil {
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newWriteRetryBackoff(), ctx))
}
