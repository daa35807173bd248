package github

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error should not retry",
			err:      nil,
			expected: false,
		},
		{
			name:     "EOF error should retry",
			err:      errors.New("Post \"https://api.github.com/graphql\": EOF"),
			expected: true,
		},
		{
			name:     "timeout error should retry",
			err:      errors.New("request timeout after 30s"),
			expected: true,
		},
		{
			name:     "connection refused should retry",
			err:      errors.New("dial tcp: connection refused"),
			expected: true,
		},
		{
			name:     "connection reset should retry",
			err:      errors.New("read tcp: connection reset by peer"),
			expected: true,
		},
		{
			name:     "broken pipe should retry",
			err:      errors.New("write tcp: broken pipe"),
			expected: true,
		},
		{
			name:     "temporary failure should retry",
			err:      errors.New("temporary failure in name resolution"),
			expected: true,
		},
		{
			name:     "network unreachable should retry",
			err:      errors.New("network is unreachable"),
			expected: true,
		},
		{
			name:     "no such host should retry",
			err:      errors.New("dial tcp: lookup api.github.com: no such host"),
			expected: true,
		},
		{
			name:     "authentication error should not retry",
			err:      errors.New("HTTP 401: Bad credentials"),
			expected: false,
		},
		{
			name:     "not found error should not retry",
			err:      errors.New("HTTP 404: Not Found"),
			expected: false,
		},
		{
			name:     "permission denied should not retry",
			err:      errors.New("permission denied"),
			expected: false,
		},
		{
			name:     "case insensitive EOF",
			err:      errors.New("connection closed: eof"),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoffCustom_Success(t *testing.T) {
	attempts := 0
	err := retryWithBackoffCustom(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		return nil // Success on first attempt
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithBackoffCustom_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := retryWithBackoffCustom(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("EOF") // Retryable error
		}
		return nil // Success on 3rd attempt
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoffCustom_NonRetryableError(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("HTTP 401: Bad credentials")

	err := retryWithBackoffCustom(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		return expectedErr // Non-retryable error
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected 401 error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryWithBackoffCustom_ExhaustedRetries(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("EOF")

	err := retryWithBackoffCustom(context.Background(), 2, 10*time.Millisecond, func() error {
		attempts++
		return expectedErr // Always fail with retryable error
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if !strings.Contains(err.Error(), "EOF") {
		t.Errorf("Expected EOF error, got %v", err)
	}

	// Should attempt 3 times total (initial + 2 retries)
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoffCustom_ExponentialBackoff(t *testing.T) {
	attempts := 0
	startTime := time.Now()

	err := retryWithBackoffCustom(context.Background(), 2, 50*time.Millisecond, func() error {
		attempts++
		return errors.New("timeout") // Retryable error
	})

	duration := time.Since(startTime)

	if err == nil {
		t.Error("Expected error, got nil")
	}

	// Should wait: 50ms + 100ms = 150ms minimum
	// Allow some tolerance for execution time
	if duration < 150*time.Millisecond {
		t.Errorf("Expected at least 150ms delay, got %v", duration)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryRead_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryWithBackoffCustom(ctx, 5, time.Hour, func() error {
		attempts++
		cancel()
		return errors.New("EOF")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("err=%v attempts=%d, want EOF after a single attempt", err, attempts)
	}
}

func TestIsRetryableError_RemoteAnswersAreFinal(t *testing.T) {
	if isRetryableError(&TrackerError{Status: 502, Message: "timeout upstream"}) {
		t.Fatal("an answer from GitHub should not be retried")
	}
	if !isRetryableError(&TrackerError{Message: "dial tcp: connection refused"}) {
		t.Fatal("unreachable GitHub should be retried")
	}
}
