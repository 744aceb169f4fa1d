// Package metrics exposes the Prometheus metrics of the Zoho client.
// All metrics are defined in their respective packages (client, oauth,
// ratelimit, pagination) via promauto; this package imports those packages
// so that serving Handler always exposes the complete set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// registered for their promauto metrics
	_ "github.com/Sternrassler/zoho-mcp/pkg/client"
	_ "github.com/Sternrassler/zoho-mcp/pkg/oauth"
	_ "github.com/Sternrassler/zoho-mcp/pkg/pagination"
	_ "github.com/Sternrassler/zoho-mcp/pkg/ratelimit"
)

// Registry is the default Prometheus registry used by the Zoho client.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Names lists every metric the client registers.
var Names = []string{
	// pkg/client
	"zoho_requests_total",
	"zoho_request_duration_seconds",
	"zoho_errors_total",
	"zoho_auth_replays_total",
	"zoho_retries_total",
	"zoho_retry_backoff_seconds",
	"zoho_retry_exhausted_total",

	// pkg/oauth
	"zoho_token_refreshes_total",
	"zoho_token_refresh_duration_seconds",
	"zoho_token_cache_hits_total",

	// pkg/ratelimit
	"zoho_rate_limit_remaining",
	"zoho_rate_limit_hits_total",
	"zoho_rate_limit_waits_total",
	"zoho_rate_limit_wait_seconds",

	// pkg/pagination
	"zoho_pagination_runs_total",
	"zoho_pagination_pages_total",
	"zoho_pagination_records",
	"zoho_pagination_fetch_limit_total",
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - zoho_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - zoho_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - zoho_errors_total{class} (Counter): Errors by class (client, server, rate_limit, auth, network)
//   - zoho_auth_replays_total (Counter): Requests replayed after a 401 and token refresh
//
// Retry Metrics (pkg/client):
//   - zoho_retries_total{error_class} (Counter): Retry attempts by error class
//   - zoho_retry_backoff_seconds{error_class} (Histogram): Wait before each retry
//   - zoho_retry_exhausted_total{error_class} (Counter): Operations that used up MaxRetries
//
// Token Metrics (pkg/oauth):
//   - zoho_token_refreshes_total{result} (Counter): Token endpoint refreshes by result
//   - zoho_token_refresh_duration_seconds (Histogram): Token endpoint latency
//   - zoho_token_cache_hits_total (Counter): Access tokens served from cache
//
// Throttle Metrics (pkg/ratelimit):
//   - zoho_rate_limit_remaining (Gauge): Last X-RATELIMIT-REMAINING value
//   - zoho_rate_limit_hits_total (Counter): 429 responses recorded
//   - zoho_rate_limit_waits_total (Counter): Requests delayed by a shared block
//   - zoho_rate_limit_wait_seconds (Histogram): Time spent in a shared block
//
// Pagination Metrics (pkg/pagination):
//   - zoho_pagination_runs_total{result} (Counter): Runs by result (success, error, cancelled)
//   - zoho_pagination_pages_total (Counter): Pages fetched
//   - zoho_pagination_records (Histogram): Records returned per run
//   - zoho_pagination_fetch_limit_total (Counter): Runs stopped by MaxPageFetches
//
// Example Prometheus Queries:
//
//	# Token refresh failure rate
//	sum(rate(zoho_token_refreshes_total{result="error"}[5m]))
//
//	# Throttle pressure
//	zoho_rate_limit_remaining < 50
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(zoho_request_duration_seconds_bucket[5m]))
//
//	# Truncated listings
//	rate(zoho_pagination_fetch_limit_total[1h])
