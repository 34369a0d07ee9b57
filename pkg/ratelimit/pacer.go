// Package ratelimit implements request pacing for the Lighter history API.
// Each data type consumes a separate upstream quota, so the pacer keeps an
// independent timer per stream class and enforces a minimum interval between
// consecutive requests of the same class, regardless of which account the
// request is for.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pacer operations.
var (
	pacerAcquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_pacer_acquires_total",
		Help: "Total pacer slot acquisitions by stream class",
	}, []string{"stream"})

	pacerWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lighter_pacer_wait_seconds",
		Help:    "Time spent waiting for a pacer slot by stream class",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3.5, 5, 10},
	}, []string{"stream"})
)

// DefaultInterval is used for stream classes without a configured interval.
const DefaultInterval = 1 * time.Second

// Clock abstracts time for testability. Production code uses the system
// clock; tests inject a fake to drive waits deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real-time clock.
func SystemClock() Clock { return systemClock{} }

// stream holds the pacing state for one stream class. The mutex is held only
// for the slot reservation, never across the wait.
type stream struct {
	mu     sync.Mutex
	nextAt time.Time
}

// Pacer serializes requests per stream class with a minimum inter-request
// interval. Concurrent callers of the same class are admitted in arrival
// order; different classes never contend.
type Pacer struct {
	clock     Clock
	logger    zerolog.Logger
	intervals map[string]time.Duration

	mu      sync.Mutex
	streams map[string]*stream
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithClock sets the clock (for testing).
func WithClock(c Clock) Option {
	return func(p *Pacer) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pacer) {
		p.logger = logger
	}
}

// NewPacer creates a pacer with the given per-class intervals. Classes not
// present in the map fall back to DefaultInterval.
func NewPacer(intervals map[string]time.Duration, opts ...Option) *Pacer {
	p := &Pacer{
		clock:     systemClock{},
		logger:    log.With().Str("component", "pacer").Logger(),
		intervals: make(map[string]time.Duration, len(intervals)),
		streams:   make(map[string]*stream),
	}
	for class, d := range intervals {
		p.intervals[class] = d
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured interval for a stream class.
func (p *Pacer) Interval(class string) time.Duration {
	if d, ok := p.intervals[class]; ok {
		return d
	}
	return DefaultInterval
}

// Acquire blocks until the caller may issue the next request on the given
// stream class, i.e. until at least Interval(class) has elapsed since the
// previously admitted request of the same class. It never fails except when
// ctx is cancelled, in which case the reserved slot is forfeited.
func (p *Pacer) Acquire(ctx context.Context, class string) error {
	s := p.stream(class)

	s.mu.Lock()
	now := p.clock.Now()
	slot := s.nextAt
	if slot.Before(now) {
		slot = now
	}
	s.nextAt = slot.Add(p.Interval(class))
	s.mu.Unlock()

	wait := slot.Sub(now)
	pacerAcquiresTotal.WithLabelValues(class).Inc()
	pacerWaitSeconds.WithLabelValues(class).Observe(wait.Seconds())

	if wait <= 0 {
		return nil
	}

	p.logger.Debug().
		Str("stream", class).
		Dur("wait", wait).
		Msg("Waiting for pacer slot")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(wait):
		return nil
	}
}

// stream returns the state for a class, creating it on first use.
func (p *Pacer) stream(class string) *stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.streams[class]
	if !ok {
		s = &stream{}
		p.streams[class] = s
	}
	return s
}
