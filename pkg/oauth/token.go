package oauth

import (
	"sync"
	"time"
)

// TokenResponse is the provider's answer to a token exchange or refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	APIDomain    string `json:"api_domain,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// AccessToken is a cached bearer token and its absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// FreshAt reports whether the token is still usable at now with the given
// safety margin before expiry.
func (t AccessToken) FreshAt(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// TokenCache holds at most one access token. Safe for concurrent use.
type TokenCache struct {
	mu    sync.RWMutex
	token AccessToken
}

// Get returns the cached token and whether one is present.
func (c *TokenCache) Get() (AccessToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token.Value != ""
}

// Set replaces the cached token.
func (c *TokenCache) Set(t AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
}

// Clear drops the cached token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = AccessToken{}
}

// ClearIf drops the cached token only if its value equals value.
// It reports whether the cache was cleared.
func (c *TokenCache) ClearIf(value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == "" || c.token.Value != value {
		return false
	}
	c.token = AccessToken{}
	return true
}
