// Package mcpserver exposes CRM and Books listing over the Model Context
// Protocol so an assistant can page through records with one tool call.
package mcpserver

import "errors"

var (
	// ErrMissingAuth is returned when no token state provider is given.
	ErrMissingAuth = errors.New("mcpserver: auth service is required")

	// ErrNoDataService is returned when neither CRM nor Books is configured.
	ErrNoDataService = errors.New("mcpserver: a CRM or Books service is required")

	// ErrBooksNotConfigured is returned by Books tools when no organization is set.
	ErrBooksNotConfigured = errors.New("books is not configured (set organization_id)")

	// ErrCRMNotConfigured is returned by CRM tools when CRM is disabled.
	ErrCRMNotConfigured = errors.New("crm is not configured")
)
