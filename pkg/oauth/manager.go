// Package oauth owns the OAuth access/refresh token pair for one credential.
// It hands out access tokens that are valid for at least the configured skew,
// and coalesces concurrent refreshes into a single request to the provider.
package oauth

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
	"sync"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for token lifecycle operations.
var (
	zohoTokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoho_token_refreshes_total",
		Help: "Total token refresh requests by result",
	}, []string{"result"})

	zohoTokenRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoho_token_refresh_duration_seconds",
		Help:    "Token refresh request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})

	zohoTokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoho_token_cache_hits_total",
		Help: "Total access token requests served from the cache",
	})
)

var (
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// token is known.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrTokenLifetimeTooShort is returned when the provider issues a token
	// that would already be inside the expiry safety margin.
	ErrTokenLifetimeTooShort = errors.New("issued token expires within the safety margin")
)

// AuthScheme is the Authorization header scheme expected by the provider.
const AuthScheme = "Zoho-oauthtoken"

const (
	tokenPath    = "/oauth/v2/token"
	revokePath   = "/oauth/v2/token/revoke"
	userInfoPath = "/oauth/user/info"
)

// State is the token lifecycle state of a Manager.
type State string

const (
	// StateUnauthenticated means no access token is cached.
	StateUnauthenticated State = "unauthenticated"

	// StateAuthenticated means the cached token is fresh.
	StateAuthenticated State = "authenticated"

	// StateStale means the cached token is inside the expiry margin and will
	// be refreshed on next use.
	StateStale State = "stale"
)

// Config holds the token manager configuration.
type Config struct {
	Credential Credential

	// AccountsURL overrides the data center's accounts host (for testing).
	AccountsURL string

	// HTTPClient is used for all token endpoint calls.
	HTTPClient *http.Client

	// Skew is the safety margin before expiry at which a token is considered stale.
	Skew time.Duration

	// RefreshTimeout bounds a shared refresh independently of any one caller.
	RefreshTimeout time.Duration
}

// DefaultConfig returns a configuration with a 60s skew and 30s timeouts.
func DefaultConfig(cred Credential) Config {
	return Config{
		Credential:     cred,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		Skew:           60 * time.Second,
		RefreshTimeout: 30 * time.Second,
	}
}

// Manager produces valid access tokens for one credential.
type Manager struct {
	cfg         Config
	oauth       *oauth2.Config
	accountsURL string
	httpClient  *http.Client
	logger      zerolog.Logger

	cache TokenCache
	group singleflight.Group

	mu           sync.Mutex
	refreshToken string
	apiDomain    string

	now func() time.Time
}

// New creates a new token manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Credential.Validate(); err != nil {
		return nil, err
	}
	if cfg.Skew < 0 {
		return nil, fmt.Errorf("skew must be >= 0 (got %s)", cfg.Skew)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}

	accountsURL := cfg.AccountsURL
	if accountsURL == "" {
		dc, err := LookupDataCenter(cfg.Credential.DataCenter)
		if err != nil {
			return nil, err
		}
		accountsURL = dc.AccountsURL
	}
	accountsURL = strings.TrimRight(accountsURL, "/")

	return &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.Credential.ClientID,
			ClientSecret: cfg.Credential.ClientSecret,
			Scopes:       cfg.Credential.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   accountsURL + "/oauth/v2/auth",
				TokenURL:  accountsURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		accountsURL:  accountsURL,
		httpClient:   cfg.HTTPClient,
		logger:       logging.NewLogger("oauth"),
		refreshToken: cfg.Credential.RefreshToken,
		now:          time.Now,
	}, nil
}

// GetValidAccessToken returns a token valid for at least the configured skew,
// refreshing it if necessary. Concurrent callers that find the cache stale
// share a single refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cache.Get(); ok && tok.FreshAt(m.now(), m.cfg.Skew) {
		zohoTokenCacheHitsTotal.Inc()
		return tok.Value, nil
	}
	return m.sharedRefresh(ctx)
}

// RefreshAfterReject is called when the provider rejected token with a 401.
// The cache is invalidated only if it still holds the rejected token, so a
// burst of 401s for the same token yields one refresh.
func (m *Manager) RefreshAfterReject(ctx context.Context, rejected string) (string, error) {
	if m.cache.ClearIf(rejected) {
		m.logger.Warn().Msg("Access token rejected by provider - refreshing")
	}
	return m.GetValidAccessToken(ctx)
}

// sharedRefresh runs at most one refresh at a time. The flight is detached
// from the first caller's cancellation; each caller still stops waiting when
// its own context ends.
func (m *Manager) sharedRefresh(ctx context.Context) (string, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		// a flight that finished just before this one started may have
		// already replaced the token
		if tok, ok := m.cache.Get(); ok && tok.FreshAt(m.now(), m.cfg.Skew) {
			return tok.Value, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()

		if _, err := m.refresh(fctx, ""); err != nil {
			return "", err
		}

		tok, ok := m.cache.Get()
		if !ok || !tok.FreshAt(m.now(), m.cfg.Skew) {
			return "", ErrTokenLifetimeTooShort
		}
		return tok.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Refresh exchanges refreshToken (or the manager's current refresh token
// when empty) for a new access token and caches it. On failure the cache is
// cleared. Refresh never retries.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return m.refresh(ctx, refreshToken)
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		refreshToken = m.currentRefreshToken()
	}
	if refreshToken == "" {
		m.cache.Clear()
		return nil, ErrNoRefreshToken
	}

	start := time.Now()
	src := m.oauth.TokenSource(m.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	zohoTokenRefreshDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		m.cache.Clear()
		zohoTokenRefreshesTotal.WithLabelValues("failure").Inc()
		m.logger.Error().Err(err).Msg("Access token refresh failed")
		return nil, wrapTokenError("refresh access token", err)
	}

	resp := m.store(tok)
	zohoTokenRefreshesTotal.WithLabelValues("success").Inc()
	m.logger.Info().
		Int("expires_in", resp.ExpiresIn).
		Str("api_domain", resp.APIDomain).
		Msg("Access token refreshed")

	return resp, nil
}

// ExchangeCode performs the one-time authorization-code grant. A refresh
// token in the response replaces the manager's current one.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := m.oauth.Exchange(m.withHTTPClient(ctx), code, opts...)
	if err != nil {
		m.logger.Error().Err(err).Msg("Authorization code exchange failed")
		return nil, wrapTokenError("exchange authorization code", err)
	}

	resp := m.store(tok)
	m.logger.Info().
		Bool("refresh_token_issued", resp.RefreshToken != "").
		Msg("Authorization code exchanged")

	return resp, nil
}

// Revoke revokes a refresh or access token at the provider. Revoking the
// currently cached token also clears the cache.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token is required")
	}

	u := m.accountsURL + revokePath + "?" + url.Values{"token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}

	body, err := m.doAccounts(req, "revoke token")
	if err != nil {
		return err
	}

	// the revoke endpoint answers 200 with {"status":"error"} for unknown tokens
	var status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &status) == nil && (status.Status == "error" || status.Error != "") {
		return &client.AuthenticationError{Op: "revoke token", StatusCode: http.StatusOK, Code: status.Error, Body: body}
	}

	m.cache.ClearIf(token)
	if token == m.currentRefreshToken() {
		m.setRefreshToken("")
		m.cache.Clear()
	}

	m.logger.Info().Msg("Token revoked")
	return nil
}

// UserInfo is the identity behind an access token.
type UserInfo struct {
	ZUID        int64  `json:"ZUID"`
	Email       string `json:"Email"`
	FirstName   string `json:"First_Name"`
	LastName    string `json:"Last_Name"`
	DisplayName string `json:"Display_Name"`
}

// Validate checks token against the provider's user-info endpoint. An empty
// token validates the manager's current access token.
func (m *Manager) Validate(ctx context.Context, token string) (*UserInfo, error) {
	if token == "" {
		var err error
		if token, err = m.GetValidAccessToken(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.accountsURL+userInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create validate request: %w", err)
	}
	req.Header.Set("Authorization", AuthScheme+" "+token)

	body, err := m.doAccounts(req, "validate token")
	if err != nil {
		return nil, err
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("validate token: decode user info: %w", err)
	}
	return &info, nil
}

// State reports the lifecycle state of the cached token.
func (m *Manager) State() State {
	tok, ok := m.cache.Get()
	switch {
	case !ok:
		return StateUnauthenticated
	case tok.FreshAt(m.now(), m.cfg.Skew):
		return StateAuthenticated
	default:
		return StateStale
	}
}

// Expiry returns the expiry of the cached token, or the zero time.
func (m *Manager) Expiry() time.Time {
	tok, _ := m.cache.Get()
	return tok.ExpiresAt
}

// APIDomain returns the api_domain reported by the last token response.
func (m *Manager) APIDomain() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiDomain
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	value, err := m.GetValidAccessToken(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: value,
		TokenType:   AuthScheme,
		Expiry:      m.Expiry(),
	}, nil
}

// store caches tok and records the refresh token and API domain it carries.
func (m *Manager) store(tok *oauth2.Token) *TokenResponse {
	now := m.now()

	expiresIn := extraSeconds(tok.Extra("expires_in"))
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int(tok.Expiry.Sub(now).Round(time.Second).Seconds())
	}

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   expiresIn,
	}
	if s, ok := tok.Extra("api_domain").(string); ok {
		resp.APIDomain = s
	}
	if s, ok := tok.Extra("scope").(string); ok {
		resp.Scope = s
	}
	// the refresh grant echoes the request token back through x/oauth2;
	// only a newly issued one is reported
	if rt, ok := tok.Extra("refresh_token").(string); ok && rt != "" {
		resp.RefreshToken = rt
	}

	m.cache.Set(AccessToken{
		Value:     tok.AccessToken,
		ExpiresAt: now.Add(time.Duration(expiresIn) * time.Second),
	})

	m.mu.Lock()
	if resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}
	if resp.APIDomain != "" {
		m.apiDomain = resp.APIDomain
	}
	m.mu.Unlock()

	return resp
}

func (m *Manager) currentRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

func (m *Manager) setRefreshToken(rt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = rt
}

func (m *Manager) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// doAccounts sends an administrative request to the accounts host and
// returns the body of a 2xx response.
func (m *Manager) doAccounts(req *http.Request, op string) ([]byte, error) {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(body, &payload)
		code := payload.Error
		if code == "" {
			code = payload.Code
		}
		return nil, &client.AuthenticationError{Op: op, StatusCode: resp.StatusCode, Code: code, Body: body}
	}
	return body, nil
}

// wrapTokenError converts x/oauth2 errors into AuthenticationError. Network
// failures are returned wrapped but unclassified.
func wrapTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ae := &client.AuthenticationError{Op: op, Code: re.ErrorCode, Body: re.Body, Err: err}
		if re.Response != nil {
			ae.StatusCode = re.Response.StatusCode
		}
		return ae
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return &client.AuthenticationError{Op: op, Err: err}
}

// extraSeconds decodes a numeric token response field.
func extraSeconds(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
