// Package client provides the authenticated HTTP transport for the Zoho REST
// APIs: token injection, a single refresh-and-replay on 401, typed errors for
// throttling and provider failures, and an opt-in retry wrapper.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/Sternrassler/zoho-mcp/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	zohoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_requests_total",
		Help: "Total provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	zohoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zoho_request_duration_seconds",
		Help:    "Provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	zohoErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})

	zohoAuthReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_auth_replays_total",
		Help: "Total requests replayed after a 401 and token refresh",
	})

	zohoRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	zohoRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zoho_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	zohoRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 401 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassAuth represents rejected credentials or tokens.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCancelled represents a cancelled caller context.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassInvalid represents undecodable responses and requests that
	// cannot be replayed. The same input fails the same way again.
	ErrorClassInvalid ErrorClass = "invalid"
)

// Authenticator supplies access tokens to the transport.
type Authenticator interface {
	// GetValidAccessToken returns a token that is not about to expire.
	GetValidAccessToken(ctx context.Context) (string, error)

	// RefreshAfterReject returns a replacement for a token the provider
	// rejected with 401.
	RefreshAfterReject(ctx context.Context, rejected string) (string, error)
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the authenticated provider client.
type Client struct {
	httpClient *http.Client
	auth       Authenticator
	tracker    *ratelimit.Tracker
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
	now        func() time.Time
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API host, e.g. https://www.zohoapis.com.
	BaseURL string

	// Auth supplies access tokens. Required.
	Auth Authenticator

	// Tracker gates requests on shared throttle state. Optional.
	Tracker *ratelimit.Tracker

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout is the per-request ceiling, including reading the body.
	Timeout time.Duration
}

// DefaultConfig returns a configuration with a 30s request timeout.
func DefaultConfig(baseURL string, auth Authenticator) Config {
	return Config{
		BaseURL:   baseURL,
		Auth:      auth,
		UserAgent: "zoho-mcp/1.0",
		Timeout:   30 * time.Second,
	}
}

// New creates a new provider client.
func New(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		auth:    cfg.Auth,
		tracker: cfg.Tracker,
		baseURL: base,
		config:  cfg,
		logger:  logging.NewLogger("zoho-client"),
		now:     time.Now,
	}, nil
}

// outcomeKind tags the classification of one provider response.
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeAuthExpired
	outcomeRateLimited
	outcomeFailed
)

// outcome is the classified result of one response.
type outcome struct {
	kind       outcomeKind
	status     int
	retryAfter int
	code       string
	message    string
}

// classify maps a response to an outcome. It has no side effects.
func classify(status int, header http.Header, body []byte, now time.Time) outcome {
	switch {
	case status >= 200 && status <= 299:
		return outcome{kind: outcomeOK, status: status}
	case status == http.StatusUnauthorized:
		code, msg := parseProviderPayload(body)
		return outcome{kind: outcomeAuthExpired, status: status, code: code, message: msg}
	case status == http.StatusTooManyRequests:
		return outcome{
			kind:       outcomeRateLimited,
			status:     status,
			retryAfter: ratelimit.ParseRetryAfter(header.Get("Retry-After"), now),
		}
	default:
		code, msg := parseProviderPayload(body)
		return outcome{kind: outcomeFailed, status: status, code: code, message: msg}
	}
}

// Do sends req with a valid access token. A 401 triggers one token refresh
// and one replay. op prefixes every returned error.
func (c *Client) Do(req *http.Request, op string) (*Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		zohoRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.tracker != nil {
		if err := c.tracker.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	token, err := c.auth.GetValidAccessToken(ctx)
	if err != nil {
		zohoErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.send(req, token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := classify(resp.StatusCode, resp.Header, resp.Body, c.now())

	if out.kind == outcomeAuthExpired {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("code", out.code).
			Msg("Access token rejected - refreshing and replaying request")
		zohoAuthReplaysTotal.Inc()

		token, err = c.auth.RefreshAfterReject(ctx, token)
		if err != nil {
			zohoErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		replay, err := replayRequest(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		resp, err = c.send(replay, token, endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = classify(resp.StatusCode, resp.Header, resp.Body, c.now())
	}

	switch out.kind {
	case outcomeOK:
		return resp, nil

	case outcomeAuthExpired:
		zohoErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
		c.logger.Error().
			Str("endpoint", endpoint).
			Msg("Request still unauthorized after token refresh")
		return nil, &AuthenticationError{
			Op:         op,
			StatusCode: out.status,
			Code:       out.code,
			Body:       resp.Body,
		}

	case outcomeRateLimited:
		zohoErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		if c.tracker != nil {
			if err := c.tracker.RecordRateLimit(ctx, out.retryAfter); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record rate limit")
			}
		}
		return nil, &RateLimitError{
			Op:                op,
			RetryAfterSeconds: out.retryAfter,
			Body:              resp.Body,
		}

	default:
		class := classForStatus(out.status)
		zohoErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", out.status).
			Str("error_class", string(class)).
			Msg("Provider request error")
		return nil, &ProviderAPIError{
			Op:         op,
			StatusCode: out.status,
			ErrorClass: class,
			Code:       out.code,
			Message:    out.message,
			Body:       resp.Body,
		}
	}
}

// send executes one HTTP exchange and reads the whole body.
func (c *Client) send(req *http.Request, token, endpoint string) (*Response, error) {
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		zohoErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		zohoRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		zohoErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	zohoRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(req.Context(), resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// replayRequest clones req for a second attempt, rewinding its body.
func replayRequest(req *http.Request) (*http.Request, error) {
	replay := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	replay.Body = body
	return replay, nil
}

// endpointLabel bounds metric cardinality by keeping the first three path
// segments, e.g. /crm/v2/Leads/search -> /crm/v2/Leads.
func endpointLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}

// URL resolves path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// Get performs a GET request to a provider endpoint.
func (c *Client) Get(ctx context.Context, path string, query url.Values, op string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req, op)
}

// GetJSON performs a GET request and decodes a JSON body into v.
// A 204 No Content leaves v untouched.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, op string, v any) error {
	resp, err := c.Get(ctx, path, query, op)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrDecodeResponse, err)
	}
	return nil
}

// IsRetryable reports whether a retry wrapper should reattempt after err.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return shouldRetry(ClassifyError(err))
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
