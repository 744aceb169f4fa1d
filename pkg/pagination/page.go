package pagination

import (
	"context"
	"net/url"
	"strconv"
)

// Page is one provider response.
type Page[T any] struct {
	Items         []T
	MoreRecords   bool
	NextPageToken string
}

// Params are the paging parameters of one request. Page is zero in
// page-token mode.
type Params struct {
	Page      int
	PerPage   int
	PageToken string
}

// Values encodes the parameters the way the provider expects them.
// Unset fields are omitted.
func (p Params) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.PageToken != "" {
		v.Set("page_token", p.PageToken)
	}
	return v
}

// FetchFunc fetches a single page.
type FetchFunc[T any] func(ctx context.Context, params Params) (*Page[T], error)

// Options are per-call overrides. Zero values mean unset.
type Options struct {
	Page       int    `json:"page,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
	PageToken  string `json:"page_token,omitempty"`
	MaxRecords int    `json:"max_records,omitempty"`
}

// Result is the materialized outcome of one run.
type Result[T any] struct {
	Data         []T `json:"data"`
	TotalRecords int `json:"total_records"`

	// HasMore is set when the run stopped at MaxRecords with records left
	// behind: the last page reported more, or the cap cut it short. A cap
	// that cut the provider's final page still counts, since those records
	// were not returned.
	HasMore       bool   `json:"has_more"`
	NextPageToken string `json:"next_page_token,omitempty"`
	CurrentPage   int    `json:"current_page"`
	TotalPages    int    `json:"total_pages"`

	// FetchLimitReached is set when the run stopped at MaxPageFetches while
	// the provider still reported more records.
	FetchLimitReached bool `json:"fetch_limit_reached,omitempty"`
}
