// Package ratelimit implements provider throttling policy: inter-page delays,
// Retry-After parsing, and a shared throttle state that lets every client
// backed by the same Store respect a 429 observed by any one of them.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix roots every throttle key. A namespaced store inserts its
// namespace after the prefix: zoho:rate_limit:<namespace>:blocked_until.
const RedisKeyPrefix = "zoho:rate_limit"

// Redis keys for throttle state storage without a namespace.
const (
	RedisKeyBlockedUntil = RedisKeyPrefix + ":blocked_until"
	RedisKeyRemaining    = RedisKeyPrefix + ":remaining"
	RedisKeyLastUpdate   = RedisKeyPrefix + ":last_update"
)

// RemainingUnknown marks a state for which no X-RATELIMIT-REMAINING header
// has been observed yet.
const RemainingUnknown = -1

// ThrottleState is the provider throttle state shared between client instances.
type ThrottleState struct {
	// BlockedUntil is the earliest time the next request may be sent.
	// Set from the Retry-After of the most recent 429.
	BlockedUntil time.Time `json:"blocked_until"`

	// Remaining is the last observed X-RATELIMIT-REMAINING value,
	// or RemainingUnknown.
	Remaining int `json:"remaining"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsBlocked reports whether requests must wait at now.
func (s *ThrottleState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns the remaining block duration at now.
// Returns 0 if the block has already expired.
func (s *ThrottleState) TimeUntilUnblocked(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// defaultState is returned by stores that hold no data yet.
func defaultState() *ThrottleState {
	return &ThrottleState{Remaining: RemainingUnknown}
}
