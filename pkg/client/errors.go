package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the client.
var (
	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrBodyNotReplayable is returned when a request must be replayed after a
	// token refresh but its body cannot be re-read.
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")

	// ErrDecodeResponse marks a 2xx body that could not be decoded.
	ErrDecodeResponse = errors.New("decode response")
)

// AuthenticationError reports a token exchange, refresh or validation that
// the provider rejected, or a request that was still unauthorized after one
// refresh-and-replay.
type AuthenticationError struct {
	// Op describes the attempted operation.
	Op string

	// StatusCode is the HTTP status of the rejecting response (0 if unknown).
	StatusCode int

	// Code is the provider error code (e.g. "invalid_code", "INVALID_TOKEN").
	Code string

	// Body is the raw provider payload.
	Body []byte

	Err error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("authentication failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RateLimitError reports a 429 response. RetryAfterSeconds comes from the
// Retry-After header, or the default when the header is absent.
type RateLimitError struct {
	Op                string
	RetryAfterSeconds int
	Body              []byte
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: rate limited, retry after %ds", e.Op, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// RetryAfter returns the server-requested wait as a duration.
func (e *RateLimitError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSeconds) * time.Second
}

// ProviderAPIError represents any other non-2xx response from the provider.
type ProviderAPIError struct {
	Op         string
	StatusCode int
	ErrorClass ErrorClass

	// Code and Message are extracted from the provider payload when present.
	Code    string
	Message string

	// Body is the raw provider payload.
	Body []byte
}

// Error implements the error interface.
func (e *ProviderAPIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	prefix := e.Op
	if prefix == "" {
		prefix = "provider request"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: provider %s error (status %d): %s: %s",
			prefix, e.ErrorClass, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s: provider %s error (status %d): %s",
		prefix, e.ErrorClass, e.StatusCode, msg)
}

// providerPayload covers both the CRM error shape
// ({"code":"INVALID_DATA","message":"...","status":"error"}) and the Books
// shape ({"code":1002,"message":"..."}), plus the OAuth {"error":"..."} form.
type providerPayload struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// parseProviderPayload extracts a code and message from an error body.
// Unknown or non-JSON bodies yield empty strings.
func parseProviderPayload(body []byte) (code, message string) {
	var p providerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", ""
	}
	code = strings.Trim(string(p.Code), `"`)
	if code == "" {
		code = p.Error
	}
	return code, p.Message
}

// ClassifyError categorizes an error for observability and retry decisions.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return ErrorClassAuth
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return ErrorClassRateLimit
	}

	var apiErr *ProviderAPIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorClass != "" {
			return apiErr.ErrorClass
		}
		return classForStatus(apiErr.StatusCode)
	}

	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}

	if errors.Is(err, ErrDecodeResponse) || errors.Is(err, ErrBodyNotReplayable) {
		return ErrorClassInvalid
	}

	// deadlines, resets and DNS failures
	return ErrorClassNetwork
}

// classForStatus maps a non-2xx status code to an error class.
func classForStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassAuth
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error class should be retried.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are not retried
		return false
	case ErrorClassAuth:
		// the transport already did its single refresh-and-replay
		return false
	case ErrorClassCancelled:
		return false
	case ErrorClassInvalid:
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
