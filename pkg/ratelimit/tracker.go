package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for throttle tracking.
var (
	zohoRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zoho_rate_limit_remaining",
		Help: "Last observed X-RATELIMIT-REMAINING value",
	})

	zohoRateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_rate_limit_hits_total",
		Help: "Total number of 429 responses recorded",
	})

	zohoRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_rate_limit_waits_total",
		Help: "Total number of requests delayed by a shared throttle block",
	})

	zohoRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoho_rate_limit_wait_seconds",
		Help:    "Time spent waiting on a shared throttle block",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// HeaderRemaining is the provider header carrying the remaining request budget.
const HeaderRemaining = "X-RATELIMIT-REMAINING"

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Store holds the shared throttle state. Nil means a private MemoryStore.
	Store Store

	// RequestsPerSecond paces requests proactively. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size used with RequestsPerSecond.
	Burst int
}

// DefaultTrackerConfig returns a process-local tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		RequestsPerSecond: 10,
		Burst:             10,
	}
}

// Tracker gates outbound requests on the shared throttle state and a local
// token bucket.
type Tracker struct {
	store   Store
	limiter *rate.Limiter
	logger  zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewTracker creates a new throttle tracker.
func NewTracker(cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Tracker{
		store:   store,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		sleep:   Sleep,
	}
}

// State returns the current shared throttle state.
func (t *Tracker) State(ctx context.Context) (*ThrottleState, error) {
	return t.store.Get(ctx)
}

// Wait blocks until a request may be sent: first until any shared block
// from a previous 429 has expired, then until the token bucket admits it.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("get throttle state: %w", err)
	}

	if wait := state.TimeUntilUnblocked(t.now()); wait > 0 {
		t.logger.Warn().
			Dur("wait_duration", wait).
			Time("blocked_until", state.BlockedUntil).
			Msg("Provider throttle active - delaying request")

		zohoRateLimitWaitsTotal.Inc()
		zohoRateLimitWaitSeconds.Observe(wait.Seconds())

		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for request slot: %w", err)
		}
	}

	return nil
}

// RecordRateLimit blocks all clients sharing the store for retryAfterSeconds.
func (t *Tracker) RecordRateLimit(ctx context.Context, retryAfterSeconds int) error {
	zohoRateLimitHitsTotal.Inc()

	until := t.now().Add(time.Duration(retryAfterSeconds) * time.Second)
	if err := t.store.Block(ctx, until); err != nil {
		return fmt.Errorf("record rate limit: %w", err)
	}

	t.logger.Warn().
		Int("retry_after_seconds", retryAfterSeconds).
		Time("blocked_until", until).
		Msg("Provider rate limit hit")

	return nil
}

// UpdateFromHeaders records the remaining request budget reported by the
// provider. Responses without the header are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	if err := t.store.SetRemaining(ctx, remain); err != nil {
		return fmt.Errorf("store remaining: %w", err)
	}

	zohoRateLimitRemaining.Set(float64(remain))

	t.logger.Debug().
		Int("remaining", remain).
		Msg("Provider rate limit budget updated")

	return nil
}
