package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/lighter-tools/lighter-history/pkg/client"
)

// Error taxonomy for fetch outcomes. All but ErrValidation are captured
// per task and reported through FetchResult.Status; they never abort
// sibling tasks. Validation errors reject the whole request before any
// task starts.
var (
	// ErrValidation indicates a malformed request (bad shape, bad filter,
	// invalid account). Never retried.
	ErrValidation = errors.New("validation error")

	// ErrRateLimitExceeded indicates upstream throttling persisted past the
	// backoff ceiling.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUpstreamUnavailable indicates a network or server fault persisted
	// past the retry ceiling.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTruncatedFetch indicates the defensive page-count bound was hit.
	// Data fetched before the bound is retained.
	ErrTruncatedFetch = errors.New("fetch truncated at page bound")

	// ErrCancelled indicates a caller-initiated abort.
	ErrCancelled = errors.New("fetch cancelled")

	// ErrNoMorePages signals normal page stream exhaustion.
	ErrNoMorePages = errors.New("no more pages")
)

// taxonomyError maps a task-level failure onto the fetch error taxonomy,
// preserving the cause in the chain.
func taxonomyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, client.ErrContextCancelled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if errors.Is(err, ErrTruncatedFetch) {
		return err
	}

	switch client.Classify(err) {
	case client.ErrorClassRateLimit:
		return fmt.Errorf("%w: %w", ErrRateLimitExceeded, err)
	case client.ErrorClassServer, client.ErrorClassNetwork:
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case client.ErrorClassValidation:
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return err
}
