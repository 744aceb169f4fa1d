// Package crm lists, searches and reads CRM module records.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
)

// APIPrefix is the CRM REST API root.
const APIPrefix = "/crm/v2"

// ErrRecordNotFound is returned by GetRecord when the provider has no such record.
var ErrRecordNotFound = errors.New("record not found")

// ListOptions are the per-call options of ListAll and SearchAll.
type ListOptions struct {
	pagination.Options

	// Fields restricts the returned fields (CRM "fields" parameter).
	Fields []string `json:"fields,omitempty"`

	// SortBy and SortOrder ("asc" or "desc") order list results.
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if len(o.Fields) > 0 {
		v.Set("fields", strings.Join(o.Fields, ","))
	}
	if o.SortBy != "" {
		v.Set("sort_by", o.SortBy)
	}
	if o.SortOrder != "" {
		v.Set("sort_order", o.SortOrder)
	}
	return v
}

// listResponse is the CRM list and search envelope.
type listResponse struct {
	Data []json.RawMessage `json:"data"`
	Info struct {
		Page          int    `json:"page"`
		PerPage       int    `json:"per_page"`
		Count         int    `json:"count"`
		MoreRecords   bool   `json:"more_records"`
		NextPageToken string `json:"next_page_token"`
	} `json:"info"`
}

// Client reads CRM records through the authenticated transport.
type Client struct {
	api    *client.Client
	engine *pagination.Engine
}

// New creates a CRM client. A retrier bounded by cfg.MaxRetries wraps each
// page fetch.
func New(api *client.Client, cfg pagination.Config) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}

	retryCfg := client.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries

	engine, err := pagination.NewEngine(cfg, pagination.WithRetrier(client.NewRetrier(retryCfg)))
	if err != nil {
		return nil, err
	}

	return &Client{api: api, engine: engine}, nil
}

// NewWithEngine creates a CRM client that paginates with engine.
func NewWithEngine(api *client.Client, engine *pagination.Engine) *Client {
	return &Client{api: api, engine: engine}
}

func modulePath(module string, rest ...string) (string, error) {
	module = strings.TrimSpace(module)
	if module == "" {
		return "", fmt.Errorf("module name is required")
	}
	parts := []string{APIPrefix, url.PathEscape(module)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/"), nil
}

// ListPage fetches one page of records from module.
func (c *Client) ListPage(ctx context.Context, module string, params pagination.Params, opts ListOptions) (*pagination.Page[json.RawMessage], error) {
	path, err := modulePath(module)
	if err != nil {
		return nil, err
	}
	return c.fetchPage(ctx, path, params, opts.values(), "Failed to get records from "+module)
}

// ListAll returns all records of module, bounded by the pagination limits.
func (c *Client) ListAll(ctx context.Context, module string, opts ListOptions) (*pagination.Result[json.RawMessage], error) {
	if _, err := modulePath(module); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, params pagination.Params) (*pagination.Page[json.RawMessage], error) {
		return c.ListPage(ctx, module, params, opts)
	}
	return pagination.Collect(ctx, c.engine, fetch, opts.Options)
}

// SearchPage fetches one page of records of module matching criteria,
// e.g. "(Last_Name:equals:Smith)".
func (c *Client) SearchPage(ctx context.Context, module, criteria string, params pagination.Params) (*pagination.Page[json.RawMessage], error) {
	if strings.TrimSpace(criteria) == "" {
		return nil, fmt.Errorf("search criteria is required")
	}
	path, err := modulePath(module, "search")
	if err != nil {
		return nil, err
	}
	extra := url.Values{"criteria": {criteria}}
	return c.fetchPage(ctx, path, params, extra, "Failed to search records in "+module)
}

// SearchAll returns all records of module matching criteria.
func (c *Client) SearchAll(ctx context.Context, module, criteria string, opts ListOptions) (*pagination.Result[json.RawMessage], error) {
	if strings.TrimSpace(criteria) == "" {
		return nil, fmt.Errorf("search criteria is required")
	}
	fetch := func(ctx context.Context, params pagination.Params) (*pagination.Page[json.RawMessage], error) {
		return c.SearchPage(ctx, module, criteria, params)
	}
	return pagination.Collect(ctx, c.engine, fetch, opts.Options)
}

// GetRecord returns a single record by id.
func (c *Client) GetRecord(ctx context.Context, module, id string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("record id is required")
	}
	path, err := modulePath(module, id)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	op := fmt.Sprintf("Failed to get record %s from %s", id, module)
	if err := c.api.GetJSON(ctx, path, nil, op, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrRecordNotFound)
	}
	return resp.Data[0], nil
}

// fetchPage performs one list-style request. A 204 yields an empty page.
func (c *Client) fetchPage(ctx context.Context, path string, params pagination.Params, extra url.Values, op string) (*pagination.Page[json.RawMessage], error) {
	query := params.Values()
	for k, vs := range extra {
		query[k] = vs
	}

	var resp listResponse
	if err := c.api.GetJSON(ctx, path, query, op, &resp); err != nil {
		return nil, err
	}

	return &pagination.Page[json.RawMessage]{
		Items:         resp.Data,
		MoreRecords:   resp.Info.MoreRecords,
		NextPageToken: resp.Info.NextPageToken,
	}, nil
}
