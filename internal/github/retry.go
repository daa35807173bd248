package github

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Retry settings for idempotent reads. Writes are never retried: once a write
// reaches GitHub it completes or fails there.
var (
	readMaxRetries   = 3
	readInitialDelay = 500 * time.Millisecond
)

// RetryRead runs fn, retrying transient network failures with exponential
// backoff. It gives up early when ctx is done.
func RetryRead(ctx context.Context, fn func() error) error {
	return retryWithBackoffCustom(ctx, readMaxRetries, readInitialDelay, fn)
}

func retryWithBackoffCustom(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying github read")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
			delay *= 2
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			return lastErr
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("transient github read failure")
	}

	return lastErr
}

// isRetryableError reports whether err looks like a transient network
// failure rather than an answer from GitHub.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := AsTrackerError(err); ok && te.Status != 0 {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"eof",
		"timeout",
		"connection refused",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
