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

type mockCRM struct {
	result *pagination.Result[json.RawMessage]
	record json.RawMessage
	err    error

	lastModule   string
	lastCriteria string
	lastOpts     crm.ListOptions
}

func (m *mockCRM) ListAll(_ context.Context, module string, opts crm.ListOptions) (*pagination.Result[json.RawMessage], error) {
	m.lastModule = module
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockCRM) SearchAll(_ context.Context, module, criteria string, opts crm.ListOptions) (*pagination.Result[json.RawMessage], error) {
	m.lastModule = module
	m.lastCriteria = criteria
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockCRM) GetRecord(_ context.Context, module, _ string) (json.RawMessage, error) {
	m.lastModule = module
	return m.record, m.err
}

type mockBooks struct {
	result *pagination.Result[json.RawMessage]
	err    error

	lastResource string
	lastText     string
	lastOpts     books.ListOptions
}

func (m *mockBooks) ListAll(_ context.Context, resource string, opts books.ListOptions) (*pagination.Result[json.RawMessage], error) {
	m.lastResource = resource
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockBooks) SearchAll(_ context.Context, resource, text string, opts books.ListOptions) (*pagination.Result[json.RawMessage], error) {
	m.lastResource = resource
	m.lastText = text
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockBooks) GetRecord(context.Context, string, string) (json.RawMessage, error) {
	return nil, m.err
}

type mockAuth struct {
	state  oauth.State
	expiry time.Time
	domain string
}

func (m *mockAuth) State() oauth.State { return m.state }
func (m *mockAuth) Expiry() time.Time  { return m.expiry }
func (m *mockAuth) APIDomain() string  { return m.domain }

func rawRecords(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		out[i] = json.RawMessage(`{"id":"` + id + `"}`)
	}
	return out
}
