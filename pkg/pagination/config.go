package pagination

import (
	"fmt"
	"time"
)

// Config holds pagination limits. It is read-only during a run.
type Config struct {
	// DefaultPageSize is used when a call does not set PerPage.
	DefaultPageSize int

	// MaxPageSize caps any requested page size.
	MaxPageSize int

	// RateLimitDelay is the base of the inter-page delay.
	RateLimitDelay time.Duration

	// MaxRetries bounds reattempts of a single page fetch. Zero disables
	// the retrier.
	MaxRetries int

	// UsePageTokens sends next_page_token instead of a page number.
	UsePageTokens bool

	// MaxRecordsPerBatch caps the records returned by one run.
	MaxRecordsPerBatch int

	// MaxPageFetches is the loop-safety ceiling: the run stops once the
	// request count exceeds it, even if the provider reports more records.
	MaxPageFetches int
}

// DefaultConfig returns the default pagination limits.
func DefaultConfig() Config {
	return Config{
		DefaultPageSize:    200,
		MaxPageSize:        200,
		RateLimitDelay:     100 * time.Millisecond,
		MaxRetries:         3,
		UsePageTokens:      false,
		MaxRecordsPerBatch: 1000,
		MaxPageFetches:     100,
	}
}

// Validate checks the limits for consistency.
func (c Config) Validate() error {
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("default_page_size must be > 0 (got %d)", c.DefaultPageSize)
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("max_page_size must be > 0 (got %d)", c.MaxPageSize)
	}
	if c.RateLimitDelay < 0 {
		return fmt.Errorf("rate_limit_delay must be >= 0 (got %s)", c.RateLimitDelay)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.MaxRecordsPerBatch <= 0 {
		return fmt.Errorf("max_records_per_batch must be > 0 (got %d)", c.MaxRecordsPerBatch)
	}
	if c.MaxPageFetches <= 0 {
		return fmt.Errorf("max_page_fetches must be > 0 (got %d)", c.MaxPageFetches)
	}
	return nil
}
