package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/Sternrassler/zoho-mcp/pkg/ratelimit"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of reattempts after the initial call.
	MaxRetries int

	// InitialBackoff is the wait before the first reattempt of an ordinary failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential schedule.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration:
// 3 retries waiting 1s, 2s, 4s (capped at 10s).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retrier reattempts an operation after retryable failures.
//
// Ordinary failures (5xx, network) wait on an exponential schedule without
// jitter. A RateLimitError waits exactly its RetryAfterSeconds and leaves the
// schedule where it was. Every reattempt counts against MaxRetries. Auth
// failures and other 4xx responses are returned immediately.
type Retrier struct {
	cfg    RetryConfig
	sleep  func(context.Context, time.Duration) error
	logger zerolog.Logger
}

// NewRetrier creates a retrier. Zero fields in cfg fall back to
// DefaultRetryConfig, except MaxRetries where zero disables retries.
func NewRetrier(cfg RetryConfig) *Retrier {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}

	return &Retrier{
		cfg:    cfg,
		sleep:  ratelimit.Sleep,
		logger: logging.NewLogger("retry"),
	}
}

// SetSleepFunc replaces the wait between attempts (for testing).
func (r *Retrier) SetSleepFunc(fn func(context.Context, time.Duration) error) {
	r.sleep = fn
}

// newSchedule returns a fresh capped exponential schedule.
func (r *Retrier) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.Multiplier = r.cfg.BackoffMultiplier
	b.MaxInterval = r.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxRetries reattempts are used up. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	schedule := r.newSchedule()

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		errorClass := ClassifyError(err)
		if ctx.Err() != nil || !shouldRetry(errorClass) {
			return err
		}

		if attempt >= r.cfg.MaxRetries {
			zohoRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			r.logger.Error().
				Err(err).
				Str("error_class", string(errorClass)).
				Int("max_retries", r.cfg.MaxRetries).
				Msg("Retry attempts exhausted")
			return err
		}

		var wait time.Duration
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			wait = rateErr.RetryAfter()
		} else {
			wait = schedule.NextBackOff()
		}

		zohoRetriesTotal.WithLabelValues(string(errorClass)).Inc()
		zohoRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		r.logger.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			r.logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w (last error: %v)", ErrContextCancelled, sleepErr, err)
		}
	}
}
