package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/books"
	"github.com/Sternrassler/zoho-mcp/pkg/crm"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PageInput is the pagination part shared by the list and search tools.
type PageInput struct {
	Page       int    `json:"page,omitempty" jsonschema:"first page number to fetch (default 1)"`
	PerPage    int    `json:"per_page,omitempty" jsonschema:"records per request, capped at 200"`
	PageToken  string `json:"page_token,omitempty" jsonschema:"CRM continuation token from a previous call"`
	MaxRecords int    `json:"max_records,omitempty" jsonschema:"stop after this many records (default and cap from server config)"`
}

func (p PageInput) options() pagination.Options {
	return pagination.Options{
		Page:       p.Page,
		PerPage:    p.PerPage,
		PageToken:  p.PageToken,
		MaxRecords: p.MaxRecords,
	}
}

// CRMListInput is the input schema for crm_list_records.
type CRMListInput struct {
	Module    string   `json:"module" jsonschema:"CRM module API name, e.g. Leads, Contacts, Deals"`
	Fields    []string `json:"fields,omitempty" jsonschema:"field API names to return"`
	SortBy    string   `json:"sort_by,omitempty" jsonschema:"field to sort by"`
	SortOrder string   `json:"sort_order,omitempty" jsonschema:"asc or desc"`
	PageInput
}

// CRMSearchInput is the input schema for crm_search_records.
type CRMSearchInput struct {
	Module   string `json:"module" jsonschema:"CRM module API name"`
	Criteria string `json:"criteria" jsonschema:"search criteria, e.g. (Last_Name:equals:Smith)"`
	PageInput
}

// CRMGetInput is the input schema for crm_get_record.
type CRMGetInput struct {
	Module string `json:"module" jsonschema:"CRM module API name"`
	ID     string `json:"id" jsonschema:"record id"`
}

// BooksListInput is the input schema for books_list.
type BooksListInput struct {
	Resource   string            `json:"resource" jsonschema:"Books resource, e.g. invoices, contacts, items, bills"`
	Filters    map[string]string `json:"filters,omitempty" jsonschema:"extra query filters, e.g. {\"status\":\"unpaid\"}"`
	SortColumn string            `json:"sort_column,omitempty" jsonschema:"column to sort by"`
	SortOrder  string            `json:"sort_order,omitempty" jsonschema:"asc or desc"`
	PageInput
}

// BooksSearchInput is the input schema for books_search.
type BooksSearchInput struct {
	Resource string            `json:"resource" jsonschema:"Books resource"`
	Text     string            `json:"text" jsonschema:"free text matched by the Books search_text parameter"`
	Filters  map[string]string `json:"filters,omitempty" jsonschema:"extra query filters"`
	PageInput
}

// ListOutput is the output schema of the list and search tools.
type ListOutput struct {
	Records           []map[string]any `json:"records"`
	Count             int              `json:"count"`
	HasMore           bool             `json:"has_more"`
	NextPageToken     string           `json:"next_page_token,omitempty"`
	CurrentPage       int              `json:"current_page"`
	TotalPages        int              `json:"total_pages"`
	FetchLimitReached bool             `json:"fetch_limit_reached"`
}

// RecordOutput is the output schema of crm_get_record.
type RecordOutput struct {
	Record map[string]any `json:"record"`
}

// AuthStatusInput is the (empty) input schema for auth_status.
type AuthStatusInput struct{}

// AuthStatusOutput is the output schema for auth_status.
type AuthStatusOutput struct {
	State            string `json:"state"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining"`
	APIDomain        string `json:"api_domain,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	if s.services.CRM != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "crm_list_records",
			Description: "List records of a Zoho CRM module, following pagination up to max_records",
		}, s.handleCRMList)

		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "crm_search_records",
			Description: "Search records of a Zoho CRM module with a criteria expression",
		}, s.handleCRMSearch)

		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "crm_get_record",
			Description: "Fetch a single Zoho CRM record by id",
		}, s.handleCRMGet)
	}

	if s.services.Books != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "books_list",
			Description: "List Zoho Books resources (invoices, contacts, items...) of the configured organization",
		}, s.handleBooksList)

		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "books_search",
			Description: "Search Zoho Books resources by text",
		}, s.handleBooksSearch)
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "auth_status",
		Description: "Report the OAuth token state without refreshing it",
	}, s.handleAuthStatus)
}

func (s *Server) handleCRMList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CRMListInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.services.CRM == nil {
		return nil, ListOutput{}, ErrCRMNotConfigured
	}

	result, err := s.services.CRM.ListAll(ctx, input.Module, crm.ListOptions{
		Options:   input.options(),
		Fields:    input.Fields,
		SortBy:    input.SortBy,
		SortOrder: input.SortOrder,
	})
	if err != nil {
		return nil, ListOutput{}, err
	}
	return s.listResult("crm_list_records", result)
}

func (s *Server) handleCRMSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CRMSearchInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.services.CRM == nil {
		return nil, ListOutput{}, ErrCRMNotConfigured
	}

	result, err := s.services.CRM.SearchAll(ctx, input.Module, input.Criteria, crm.ListOptions{
		Options: input.options(),
	})
	if err != nil {
		return nil, ListOutput{}, err
	}
	return s.listResult("crm_search_records", result)
}

func (s *Server) handleCRMGet(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CRMGetInput,
) (*mcp.CallToolResult, RecordOutput, error) {
	if s.services.CRM == nil {
		return nil, RecordOutput{}, ErrCRMNotConfigured
	}

	raw, err := s.services.CRM.GetRecord(ctx, input.Module, input.ID)
	if err != nil {
		return nil, RecordOutput{}, err
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, RecordOutput{}, fmt.Errorf("decode record: %w", err)
	}
	return nil, RecordOutput{Record: record}, nil
}

func (s *Server) handleBooksList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BooksListInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.services.Books == nil {
		return nil, ListOutput{}, ErrBooksNotConfigured
	}

	result, err := s.services.Books.ListAll(ctx, input.Resource, books.ListOptions{
		Options:    input.options(),
		Filters:    input.Filters,
		SortColumn: input.SortColumn,
		SortOrder:  input.SortOrder,
	})
	if err != nil {
		return nil, ListOutput{}, err
	}
	return s.listResult("books_list", result)
}

func (s *Server) handleBooksSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BooksSearchInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.services.Books == nil {
		return nil, ListOutput{}, ErrBooksNotConfigured
	}

	result, err := s.services.Books.SearchAll(ctx, input.Resource, input.Text, books.ListOptions{
		Options: input.options(),
		Filters: input.Filters,
	})
	if err != nil {
		return nil, ListOutput{}, err
	}
	return s.listResult("books_search", result)
}

func (s *Server) handleAuthStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ AuthStatusInput,
) (*mcp.CallToolResult, AuthStatusOutput, error) {
	out := AuthStatusOutput{
		State:     string(s.services.Auth.State()),
		APIDomain: s.services.Auth.APIDomain(),
	}

	if expiry := s.services.Auth.Expiry(); !expiry.IsZero() {
		out.ExpiresAt = expiry.UTC().Format(time.RFC3339)
		if remaining := expiry.Sub(s.now()); remaining > 0 {
			out.SecondsRemaining = int(remaining.Seconds())
		}
	}
	return nil, out, nil
}

// listResult converts a pagination result into the tool output.
func (s *Server) listResult(tool string, result *pagination.Result[json.RawMessage]) (*mcp.CallToolResult, ListOutput, error) {
	records := make([]map[string]any, 0, len(result.Data))
	for i, raw := range result.Data {
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, ListOutput{}, fmt.Errorf("decode record %d: %w", i, err)
		}
		records = append(records, record)
	}

	s.logger.Debug().
		Str("tool", tool).
		Int("records", len(records)).
		Bool("has_more", result.HasMore).
		Bool("fetch_limit_reached", result.FetchLimitReached).
		Msg("Tool call complete")

	return nil, ListOutput{
		Records:           records,
		Count:             result.TotalRecords,
		HasMore:           result.HasMore,
		NextPageToken:     result.NextPageToken,
		CurrentPage:       result.CurrentPage,
		TotalPages:        result.TotalPages,
		FetchLimitReached: result.FetchLimitReached,
	}, nil
}
