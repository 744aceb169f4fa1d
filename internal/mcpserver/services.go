package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/books"
	"github.com/Sternrassler/zoho-mcp/pkg/crm"
	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
)

// CRMService is the subset of *crm.Client the tools call.
type CRMService interface {
	ListAll(ctx context.Context, module string, opts crm.ListOptions) (*pagination.Result[json.RawMessage], error)
	SearchAll(ctx context.Context, module, criteria string, opts crm.ListOptions) (*pagination.Result[json.RawMessage], error)
	GetRecord(ctx context.Context, module, id string) (json.RawMessage, error)
}

// BooksService is the subset of *books.Client the tools call.
type BooksService interface {
	ListAll(ctx context.Context, resource string, opts books.ListOptions) (*pagination.Result[json.RawMessage], error)
	SearchAll(ctx context.Context, resource, criteria string, opts books.ListOptions) (*pagination.Result[json.RawMessage], error)
	GetRecord(ctx context.Context, resource, id string) (json.RawMessage, error)
}

// AuthService reports token state without triggering a refresh.
type AuthService interface {
	State() oauth.State
	Expiry() time.Time
	APIDomain() string
}

var (
	_ CRMService   = (*crm.Client)(nil)
	_ BooksService = (*books.Client)(nil)
	_ AuthService  = (*oauth.Manager)(nil)
)

// Services aggregates what the server needs. Auth and at least one of CRM
// or Books are required.
type Services struct {
	CRM   CRMService
	Books BooksService
	Auth  AuthService
}

// Validate ensures the required services are set.
func (s *Services) Validate() error {
	if s.Auth == nil {
		return ErrMissingAuth
	}
	if s.CRM == nil && s.Books == nil {
		return ErrNoDataService
	}
	return nil
}
