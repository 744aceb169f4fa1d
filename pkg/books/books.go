// Package books lists, searches and reads Books resources for one organization.
package books

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
)

// APIPrefix is the Books REST API root.
const APIPrefix = "/books/v3"

var (
	// ErrRecordNotFound is returned by GetRecord when the response holds no record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrAmbiguousRecords is returned when a response has no field named
	// after the resource and more than one non-empty array to choose from.
	ErrAmbiguousRecords = errors.New("ambiguous record array")
)

// ListOptions are the per-call options of ListAll and SearchAll.
type ListOptions struct {
	pagination.Options

	// Filters are passed through as query parameters, e.g.
	// {"status": "unpaid", "customer_name_contains": "Acme"}.
	Filters map[string]string `json:"filters,omitempty"`

	SortColumn string `json:"sort_column,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	for k, val := range o.Filters {
		v.Set(k, val)
	}
	if o.SortColumn != "" {
		v.Set("sort_column", o.SortColumn)
	}
	switch strings.ToLower(o.SortOrder) {
	case "asc", "a":
		v.Set("sort_order", "A")
	case "desc", "d":
		v.Set("sort_order", "D")
	}
	return v
}

// envelope fields that never hold records.
var envelopeKeys = map[string]bool{
	"code":         true,
	"message":      true,
	"page_context": true,
}

type pageContext struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	HasMorePage bool `json:"has_more_page"`
}

// apiStatus is the code/message pair every Books response carries.
type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client reads Books resources through the authenticated transport.
type Client struct {
	api            *client.Client
	engine         *pagination.Engine
	organizationID string
}

// New creates a Books client for organizationID. Books pages by number only,
// so UsePageTokens is forced off.
func New(api *client.Client, cfg pagination.Config, organizationID string) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if organizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	cfg.UsePageTokens = false

	retryCfg := client.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries

	engine, err := pagination.NewEngine(cfg, pagination.WithRetrier(client.NewRetrier(retryCfg)))
	if err != nil {
		return nil, err
	}

	return &Client{api: api, engine: engine, organizationID: organizationID}, nil
}

// OrganizationID returns the organization this client is bound to.
func (c *Client) OrganizationID() string {
	return c.organizationID
}

func resourcePath(resource string, rest ...string) (string, error) {
	resource = strings.Trim(strings.TrimSpace(resource), "/")
	if resource == "" {
		return "", fmt.Errorf("resource name is required")
	}
	parts := []string{APIPrefix}
	for _, seg := range strings.Split(resource, "/") {
		parts = append(parts, url.PathEscape(seg))
	}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/"), nil
}

// ListPage fetches one page of resource.
func (c *Client) ListPage(ctx context.Context, resource string, params pagination.Params, opts ListOptions) (*pagination.Page[json.RawMessage], error) {
	p, err := resourcePath(resource)
	if err != nil {
		return nil, err
	}
	return c.fetchPage(ctx, p, params, opts.values(), "Failed to get records from "+resource)
}

// ListAll returns all records of resource, bounded by the pagination limits.
func (c *Client) ListAll(ctx context.Context, resource string, opts ListOptions) (*pagination.Result[json.RawMessage], error) {
	if _, err := resourcePath(resource); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, params pagination.Params) (*pagination.Page[json.RawMessage], error) {
		return c.ListPage(ctx, resource, params, opts)
	}
	return pagination.Collect(ctx, c.engine, fetch, opts.Options)
}

// SearchAll returns all records of resource matching criteria, sent as the
// Books search_text parameter alongside any filters in opts.
func (c *Client) SearchAll(ctx context.Context, resource, criteria string, opts ListOptions) (*pagination.Result[json.RawMessage], error) {
	if strings.TrimSpace(criteria) == "" {
		return nil, fmt.Errorf("search criteria is required")
	}
	p, err := resourcePath(resource)
	if err != nil {
		return nil, err
	}

	extra := opts.values()
	extra.Set("search_text", criteria)

	fetch := func(ctx context.Context, params pagination.Params) (*pagination.Page[json.RawMessage], error) {
		return c.fetchPage(ctx, p, params, extra, "Failed to search records in "+resource)
	}
	return pagination.Collect(ctx, c.engine, fetch, opts.Options)
}

// GetRecord returns a single record of resource by id.
func (c *Client) GetRecord(ctx context.Context, resource, id string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("record id is required")
	}
	p, err := resourcePath(resource, id)
	if err != nil {
		return nil, err
	}

	op := fmt.Sprintf("Failed to get record %s from %s", id, resource)
	fields, err := c.get(ctx, p, url.Values{}, op)
	if err != nil {
		return nil, err
	}

	rec, err := extractRecord(fields, path.Base(strings.Trim(strings.TrimSpace(resource), "/")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (c *Client) fetchPage(ctx context.Context, p string, params pagination.Params, extra url.Values, op string) (*pagination.Page[json.RawMessage], error) {
	query := params.Values()
	for k, vs := range extra {
		query[k] = vs
	}

	fields, err := c.get(ctx, p, query, op)
	if err != nil {
		return nil, err
	}

	items, err := extractItems(fields, path.Base(p))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var pc pageContext
	if raw, ok := fields["page_context"]; ok {
		if err := json.Unmarshal(raw, &pc); err != nil {
			return nil, fmt.Errorf("%s: %w: page_context: %w", op, client.ErrDecodeResponse, err)
		}
	}

	return &pagination.Page[json.RawMessage]{
		Items:       items,
		MoreRecords: pc.HasMorePage,
	}, nil
}

// get sends one request bound to the organization and returns the top-level
// JSON fields. A non-zero Books code in a 2xx body is a provider error.
func (c *Client) get(ctx context.Context, p string, query url.Values, op string) (map[string]json.RawMessage, error) {
	query.Set("organization_id", c.organizationID)

	fields := map[string]json.RawMessage{}
	if err := c.api.GetJSON(ctx, p, query, op, &fields); err != nil {
		return nil, err
	}

	var status apiStatus
	if raw, ok := fields["code"]; ok {
		_ = json.Unmarshal(raw, &status.Code)
		if m, ok := fields["message"]; ok {
			_ = json.Unmarshal(m, &status.Message)
		}
	}
	if status.Code != 0 {
		return nil, &client.ProviderAPIError{
			Op:         op,
			StatusCode: http.StatusOK,
			ErrorClass: client.ErrorClassClient,
			Code:       fmt.Sprintf("%d", status.Code),
			Message:    status.Message,
		}
	}
	return fields, nil
}

// extractItems finds the record array: the field named after the resource,
// else the only non-empty array outside the envelope. Keys are visited in
// sorted order and null fields never match.
func extractItems(fields map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	if raw, ok := fields[key]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", client.ErrDecodeResponse, key, err)
		}
		return items, nil
	}

	var (
		items []json.RawMessage
		found []string
	)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if envelopeKeys[k] || isNull(fields[k]) {
			continue
		}
		var candidate []json.RawMessage
		if json.Unmarshal(fields[k], &candidate) != nil || len(candidate) == 0 {
			continue
		}
		items = candidate
		found = append(found, k)
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("%w: %w: %s", client.ErrDecodeResponse, ErrAmbiguousRecords, strings.Join(found, ", "))
	}
	return items, nil
}

// extractRecord finds the single record object: the singular of the
// resource name (invoices -> invoice), else the only object outside the
// envelope.
func extractRecord(fields map[string]json.RawMessage, resource string) (json.RawMessage, error) {
	if raw, ok := fields[strings.TrimSuffix(resource, "s")]; ok && isObject(raw) {
		return raw, nil
	}

	var (
		rec   json.RawMessage
		found []string
	)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if envelopeKeys[k] || !isObject(fields[k]) {
			continue
		}
		rec = fields[k]
		found = append(found, k)
	}
	switch len(found) {
	case 0:
		return nil, ErrRecordNotFound
	case 1:
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: %w: %s", client.ErrDecodeResponse, ErrAmbiguousRecords, strings.Join(found, ", "))
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
}
