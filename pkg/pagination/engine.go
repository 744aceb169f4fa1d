package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/Sternrassler/zoho-mcp/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination runs.
var (
	zohoPaginationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_pagination_runs_total",
		Help: "Total pagination runs by result",
	}, []string{"result"})

	zohoPaginationPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_pagination_pages_total",
		Help: "Total pages fetched by pagination runs",
	})

	zohoPaginationRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoho_pagination_records",
		Help:    "Records returned per pagination run",
		Buckets: []float64{0, 10, 50, 100, 200, 500, 1000, 5000},
	})

	zohoPaginationFetchLimitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_pagination_fetch_limit_total",
		Help: "Total runs stopped by the page fetch ceiling",
	})
)

// Retrier reattempts a single page fetch.
type Retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine holds the configuration shared by pagination runs.
type Engine struct {
	cfg     Config
	retrier Retrier
	sleep   func(context.Context, time.Duration) error
	logger  zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetrier wraps every page fetch in r when Config.MaxRetries > 0.
func WithRetrier(r Retrier) EngineOption {
	return func(e *Engine) {
		e.retrier = r
	}
}

// WithSleepFunc replaces the inter-page wait (for testing).
func WithSleepFunc(fn func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a pagination engine.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pagination config: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		sleep:  ratelimit.Sleep,
		logger: logging.NewLogger("pagination"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Collect fetches pages sequentially until the provider runs out of records,
// an empty page arrives, the record cap is reached, or the request count
// exceeds MaxPageFetches. Any page error aborts the run.
func Collect[T any](ctx context.Context, e *Engine, fetch FetchFunc[T], opts Options) (*Result[T], error) {
	cfg := e.cfg

	pageSize := opts.PerPage
	if pageSize <= 0 {
		pageSize = cfg.DefaultPageSize
	}
	pageSize = min(pageSize, cfg.MaxPageSize)

	maxRecords := opts.MaxRecords
	if maxRecords <= 0 {
		maxRecords = cfg.MaxRecordsPerBatch
	}
	maxRecords = min(maxRecords, cfg.MaxRecordsPerBatch)

	currentPage := opts.Page
	if currentPage <= 0 {
		currentPage = 1
	}

	var (
		accumulated       = make([]T, 0, min(maxRecords, pageSize))
		requestCount      = 0
		nextPageToken     = opts.PageToken
		hasMore           = true
		fetchLimitReached = false
	)

	logger := e.logger.With().Str("run_id", uuid.NewString()).Logger()
	start := time.Now()

	logger.Debug().
		Int("page_size", pageSize).
		Int("max_records", maxRecords).
		Bool("page_tokens", cfg.UsePageTokens).
		Msg("Starting pagination run")

	for hasMore && len(accumulated) < maxRecords {
		if err := e.sleep(ctx, ratelimit.InterPageDelay(cfg.RateLimitDelay, requestCount)); err != nil {
			zohoPaginationRunsTotal.WithLabelValues("cancelled").Inc()
			return nil, fmt.Errorf("wait before request %d: %w", requestCount, err)
		}

		params := Params{PerPage: pageSize}
		if cfg.UsePageTokens {
			params.PageToken = nextPageToken
		} else {
			params.Page = currentPage
		}

		page, err := fetchOne(ctx, e, fetch, params)
		if err != nil {
			zohoPaginationRunsTotal.WithLabelValues("error").Inc()
			logger.Error().
				Err(err).
				Int("request_index", requestCount).
				Int("page", params.Page).
				Int("records", len(accumulated)).
				Msg("Page fetch failed - discarding run")
			return nil, &PageError{RequestIndex: requestCount, Params: params, Err: err}
		}
		zohoPaginationPagesTotal.Inc()

		if !cfg.UsePageTokens {
			currentPage++
		}

		if page == nil || len(page.Items) == 0 {
			hasMore = false
		} else {
			items := page.Items
			truncated := false
			if remaining := maxRecords - len(accumulated); len(items) > remaining {
				items = items[:remaining]
				truncated = true
			}
			accumulated = append(accumulated, items...)
			hasMore = page.MoreRecords || truncated
			nextPageToken = page.NextPageToken
		}

		requestCount++

		logger.Debug().
			Int("request_index", requestCount-1).
			Int("page", params.Page).
			Int("records", len(accumulated)).
			Bool("has_more", hasMore).
			Msg("Page fetched")

		if requestCount > cfg.MaxPageFetches {
			if hasMore {
				fetchLimitReached = true
				zohoPaginationFetchLimitTotal.Inc()
				logger.Warn().
					Int("requests", requestCount).
					Int("records", len(accumulated)).
					Msg("Page fetch ceiling reached - provider still reports more records")
			}
			break
		}
	}

	total := len(accumulated)
	result := &Result[T]{
		Data:              accumulated,
		TotalRecords:      total,
		HasMore:           total == maxRecords && hasMore,
		NextPageToken:     nextPageToken,
		CurrentPage:       currentPage,
		TotalPages:        (total + pageSize - 1) / pageSize,
		FetchLimitReached: fetchLimitReached,
	}

	zohoPaginationRunsTotal.WithLabelValues("success").Inc()
	zohoPaginationRecords.Observe(float64(total))
	logger.Info().
		Int("records", total).
		Int("requests", requestCount).
		Bool("has_more", result.HasMore).
		Dur("duration", time.Since(start)).
		Msg("Pagination run complete")

	return result, nil
}

// fetchOne fetches a single page, through the retrier when one is configured.
func fetchOne[T any](ctx context.Context, e *Engine, fetch FetchFunc[T], params Params) (*Page[T], error) {
	if e.retrier == nil || e.cfg.MaxRetries == 0 {
		return fetch(ctx, params)
	}

	var page *Page[T]
	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		p, err := fetch(ctx, params)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}
