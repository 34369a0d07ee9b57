package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		name     string
		config   RetryConfig
		attempt  int
		expected time.Duration
	}{
		{
			name:     "linear first retry",
			config:   retryConfigFor(ErrorClassServer),
			attempt:  1,
			expected: 1 * time.Second,
		},
		{
			name:     "linear second retry",
			config:   retryConfigFor(ErrorClassServer),
			attempt:  2,
			expected: 2 * time.Second,
		},
		{
			name:     "linear third retry",
			config:   retryConfigFor(ErrorClassNetwork),
			attempt:  3,
			expected: 3 * time.Second,
		},
		{
			name:     "exponential first retry",
			config:   retryConfigFor(ErrorClassRateLimit),
			attempt:  1,
			expected: 15 * time.Second,
		},
		{
			name:     "exponential second retry",
			config:   retryConfigFor(ErrorClassRateLimit),
			attempt:  2,
			expected: 30 * time.Second,
		},
		{
			name:     "exponential capped at max",
			config:   retryConfigFor(ErrorClassRateLimit),
			attempt:  3,
			expected: 60 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffFor(tt.config, tt.attempt); got != tt.expected {
				t.Errorf("backoffFor(attempt=%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassValidation, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_NoRetryOnValidation(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		return &APIError{StatusCode: 400, ErrorClass: ErrorClassValidation, Message: "bad filter"}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("validation failure must not be reported as retry exhaustion")
	}
}

func TestRetryWithBackoff_ExhaustsServerRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff sleep test in short mode")
	}

	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		return &APIError{StatusCode: 502, ErrorClass: ErrorClassServer, Message: "bad gateway"}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted in chain", err)
	}
	// Initial attempt plus three retries.
	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("exhausted error must preserve the API error class, got %v", err)
	}
}

func TestRetryWithBackoff_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, func() error {
			return &APIError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "unavailable"}
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("err = %v, want ErrContextCancelled in chain", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retryWithBackoff did not return after cancellation")
	}
}
