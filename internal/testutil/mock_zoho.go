// Package testutil provides testing utilities for the Zoho API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockZoho is a configurable fake of the accounts and API hosts.
// It serves the OAuth endpoints itself and routes everything else to
// handlers registered per path.
type MockZoho struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	TokenRequestCount int
	LastRequestHeader http.Header
	LastTokenForm     url.Values

	// Token endpoint behavior
	tokenSeq       int
	currentToken   string
	tokenExpiresIn int
	tokenDelay     time.Duration
	tokenError     string
}

// NewMockZoho creates a new mock server issuing one-hour tokens.
func NewMockZoho() *MockZoho {
	mock := &MockZoho{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		tokenExpiresIn: 3600,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/oauth/v2/token":
			mock.tokenHandler(w, r)
		case "/oauth/v2/token/revoke":
			writeJSON(w, http.StatusOK, `{"status":"success"}`)
		case "/oauth/user/info":
			mock.userInfoHandler(w, r)
		default:
			writeJSON(w, http.StatusNotFound, `{"code":"INVALID_URL_PATTERN","message":"Please check if the URL trying to access is a correct one","status":"error"}`)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockZoho) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockZoho) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockZoho) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequestCount = 0
	m.LastRequestHeader = nil
	m.LastTokenForm = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockZoho) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockZoho) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetTokenExpiresIn sets the expires_in value of issued tokens.
func (m *MockZoho) SetTokenExpiresIn(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenExpiresIn = seconds
}

// SetTokenDelay delays every token endpoint response.
func (m *MockZoho) SetTokenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenDelay = d
}

// SetTokenError makes the token endpoint reject requests with the given
// OAuth error code. An empty code restores normal behavior.
func (m *MockZoho) SetTokenError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenError = code
}

// CurrentToken returns the most recently issued access token.
func (m *MockZoho) CurrentToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentToken
}

// IsCurrentToken reports whether r carries the most recently issued token.
func (m *MockZoho) IsCurrentToken(r *http.Request) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentToken != "" && r.Header.Get("Authorization") == "Zoho-oauthtoken "+m.currentToken
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockZoho) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequestCount returns the number of token endpoint calls.
func (m *MockZoho) GetTokenRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequestCount
}

// GetLastTokenForm returns the form of the last token endpoint call.
func (m *MockZoho) GetLastTokenForm() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastTokenForm
}

func (m *MockZoho) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_request"}`)
		return
	}

	m.mu.Lock()
	m.TokenRequestCount++
	m.LastTokenForm = r.PostForm
	delay := m.tokenDelay
	tokenErr := m.tokenError
	expiresIn := m.tokenExpiresIn
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if tokenErr != "" {
		writeJSON(w, http.StatusBadRequest, fmt.Sprintf(`{"error":%q}`, tokenErr))
		return
	}

	grant := r.PostForm.Get("grant_type")
	if grant != "refresh_token" && grant != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, `{"error":"unsupported_grant_type"}`)
		return
	}

	m.mu.Lock()
	m.tokenSeq++
	m.currentToken = fmt.Sprintf("access-%d", m.tokenSeq)
	token := m.currentToken
	m.mu.Unlock()

	resp := map[string]any{
		"access_token": token,
		"api_domain":   "https://www.zohoapis.com",
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if grant == "authorization_code" {
		resp["refresh_token"] = "refresh-from-code"
	}

	body, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, string(body))
}

func (m *MockZoho) userInfoHandler(w http.ResponseWriter, r *http.Request) {
	if !m.IsCurrentToken(r) {
		writeJSON(w, http.StatusUnauthorized, `{"code":"INVALID_OAUTHTOKEN","message":"invalid oauth token"}`)
		return
	}
	writeJSON(w, http.StatusOK, `{"ZUID":1001,"Email":"owner@example.com","First_Name":"Ada","Last_Name":"Lovelace","Display_Name":"Ada Lovelace"}`)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// NewJSONResponse creates a standard 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":          "application/json;charset=UTF-8",
			"X-RATELIMIT-REMAINING": "99",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
// An empty retryAfter omits the Retry-After header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{
		"Content-Type": "application/json;charset=UTF-8",
	}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"code":"TOO_MANY_REQUESTS","message":"You have made too many requests","status":"error"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"code":"INTERNAL_ERROR","message":"Internal server error","status":"error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response for an expired token.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"code":"INVALID_TOKEN","message":"invalid oauth token","status":"error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// CRMPage renders a CRM list response body.
func CRMPage(records []map[string]any, page, perPage int, more bool, nextPageToken string) string {
	info := map[string]any{
		"page":         page,
		"per_page":     perPage,
		"count":        len(records),
		"more_records": more,
	}
	if nextPageToken != "" {
		info["next_page_token"] = nextPageToken
	}
	body, _ := json.Marshal(map[string]any{"data": records, "info": info})
	return string(body)
}

// BooksPage renders a Books list response body with the records under key.
func BooksPage(key string, records []map[string]any, page, perPage int, hasMore bool) string {
	body, _ := json.Marshal(map[string]any{
		"code":    0,
		"message": "success",
		key:       records,
		"page_context": map[string]any{
			"page":          page,
			"per_page":      perPage,
			"has_more_page": hasMore,
		},
	})
	return string(body)
}

// Records builds n records with sequential ids starting at start.
func Records(start, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": fmt.Sprintf("%d", start+i)}
	}
	return out
}

// BearerToken extracts the token from a Zoho-oauthtoken Authorization header.
func BearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Zoho-oauthtoken ")
}
