package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lighter_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// backoffStrategy selects how the backoff grows across attempts.
type backoffStrategy int

const (
	backoffLinear backoffStrategy = iota
	backoffExponential
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseBackoff is the backoff for the first retry.
	BaseBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// Strategy is how the backoff grows.
	Strategy backoffStrategy
}

// retryConfigFor returns the retry configuration for an error class.
// Upstream throttling backs off exponentially from a long base, since the
// quota window needs room to recover; transient server and network faults
// back off linearly.
func retryConfigFor(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassRateLimit:
		return RetryConfig{
			MaxRetries:  3,
			BaseBackoff: 15 * time.Second,
			MaxBackoff:  60 * time.Second,
			Strategy:    backoffExponential,
		}
	case ErrorClassServer, ErrorClassNetwork:
		return RetryConfig{
			MaxRetries:  3,
			BaseBackoff: 1 * time.Second,
			MaxBackoff:  10 * time.Second,
			Strategy:    backoffLinear,
		}
	default:
		return RetryConfig{}
	}
}

// backoffFor returns the backoff before retry number attempt (1-based).
func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	var d time.Duration
	switch cfg.Strategy {
	case backoffExponential:
		d = cfg.BaseBackoff
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	default:
		d = time.Duration(attempt) * cfg.BaseBackoff
	}
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}

// retryWithBackoff executes fn with class-dependent backoff retry logic.
// It respects context cancellation and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		// Cancellation is the caller's signal, not an upstream fault.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		lastErr = err
		errorClass := Classify(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		config := retryConfigFor(errorClass)
		if attempt >= config.MaxRetries {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("max_retries", config.MaxRetries).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt+1, lastErr)
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		// Add jitter (±20% randomness)
		backoff := backoffFor(config, attempt+1)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}
}
