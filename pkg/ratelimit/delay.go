package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxInterPageDelay caps the delay between consecutive page requests.
	MaxInterPageDelay = 10 * time.Second

	// InterPageGrowth is the per-request growth factor of the inter-page delay.
	InterPageGrowth = 1.5

	// DefaultRetryAfterSeconds is used when a 429 carries no usable Retry-After.
	DefaultRetryAfterSeconds = 60
)

// InterPageDelay returns the wait before the request with the given index
// within one pagination run: zero for the first request, then
// base × 1.5^(index-1), capped at MaxInterPageDelay.
func InterPageDelay(base time.Duration, index int) time.Duration {
	if index <= 0 || base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(InterPageGrowth, float64(index-1))
	if d >= float64(MaxInterPageDelay) {
		return MaxInterPageDelay
	}
	return time.Duration(d)
}

// ParseRetryAfter converts a Retry-After header value into whole seconds.
// Both the delta-seconds and HTTP-date forms are accepted. Missing or
// unparseable values yield DefaultRetryAfterSeconds; dates in the past
// yield 0.
func ParseRetryAfter(value string, now time.Time) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfterSeconds
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return DefaultRetryAfterSeconds
		}
		return secs
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return 0
		}
		return int(math.Ceil(d.Seconds()))
	}

	return DefaultRetryAfterSeconds
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() if the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
