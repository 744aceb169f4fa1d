package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher serves pages from a function and records every call.
type scriptedFetcher struct {
	mu     sync.Mutex
	calls  []Params
	pageFn func(call int, params Params) (*Page[int], error)
}

func (s *scriptedFetcher) fetch(_ context.Context, params Params) (*Page[int], error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, params)
	s.mu.Unlock()
	return s.pageFn(call, params)
}

func (s *scriptedFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// items returns n sequential ints starting at start.
func items(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) (*Engine, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]EngineOption{WithSleepFunc(rec.sleep)}, opts...)
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	return e, rec
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "zero page size", mutate: func(c *Config) { c.DefaultPageSize = 0 }, wantErr: "default_page_size"},
		{name: "zero max page size", mutate: func(c *Config) { c.MaxPageSize = 0 }, wantErr: "max_page_size"},
		{name: "negative delay", mutate: func(c *Config) { c.RateLimitDelay = -time.Millisecond }, wantErr: "rate_limit_delay"},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "zero batch", mutate: func(c *Config) { c.MaxRecordsPerBatch = 0 }, wantErr: "max_records_per_batch"},
		{name: "zero fetch ceiling", mutate: func(c *Config) { c.MaxPageFetches = 0 }, wantErr: "max_page_fetches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = NewEngine(cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 200, cfg.DefaultPageSize)
	assert.Equal(t, 200, cfg.MaxPageSize)
	assert.Equal(t, 100*time.Millisecond, cfg.RateLimitDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.False(t, cfg.UsePageTokens)
	assert.Equal(t, 1000, cfg.MaxRecordsPerBatch)
	assert.Equal(t, 100, cfg.MaxPageFetches)
}

func TestCollect_NormalTermination(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: items(call*20, 20), MoreRecords: call < 4}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{PerPage: 20, MaxRecords: 1000})
	require.NoError(t, err)

	assert.Equal(t, 5, f.Calls())
	assert.Len(t, res.Data, 100)
	assert.Equal(t, 100, res.TotalRecords)
	assert.False(t, res.HasMore)
	assert.False(t, res.FetchLimitReached)
	assert.Equal(t, 5, res.TotalPages)
	assert.Equal(t, 6, res.CurrentPage)
}

func TestCollect_EmptyPageTerminates(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		if call == 1 {
			// more=true must not keep the loop alive
			return &Page[int]{MoreRecords: true}, nil
		}
		return &Page[int]{Items: items(0, 20), MoreRecords: true}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, f.Calls())
	assert.Len(t, res.Data, 20)
	assert.False(t, res.HasMore)
}

func TestCollect_NilPageTerminates(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(int, Params) (*Page[int], error) {
		return nil, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls())
	assert.Empty(t, res.Data)
	assert.NotNil(t, res.Data)
	assert.Equal(t, 0, res.TotalPages)
}

func TestCollect_SafetyCeiling(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: []int{call}, MoreRecords: true}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)

	assert.LessOrEqual(t, f.Calls(), 101)
	assert.Equal(t, 101, f.Calls())
	assert.True(t, res.FetchLimitReached)
	assert.Len(t, res.Data, 101)
}

func TestCollect_SafetyCeilingConfigurable(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: []int{call}, MoreRecords: true}, nil
	}}
	cfg := DefaultConfig()
	cfg.MaxPageFetches = 5
	e, _ := newTestEngine(t, cfg)

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, f.Calls())
	assert.True(t, res.FetchLimitReached)
}

func TestCollect_MaxRecordsCap(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: items(call*20, 20), MoreRecords: true}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{PerPage: 20, MaxRecords: 50})
	require.NoError(t, err)

	assert.Len(t, res.Data, 50)
	assert.Equal(t, 50, res.TotalRecords)
	assert.True(t, res.HasMore)
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, items(0, 50), res.Data)
}

func TestCollect_TruncatedLastPageReportsMore(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: items(0, 20), MoreRecords: false}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{MaxRecords: 15})
	require.NoError(t, err)
	assert.Len(t, res.Data, 15)
	assert.True(t, res.HasMore, "items were dropped, so more records exist")
}

func TestCollect_MaxRecordsNeverExceedsBatch(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: items(call*200, 200), MoreRecords: true}, nil
	}}
	cfg := DefaultConfig()
	cfg.MaxRecordsPerBatch = 300
	e, _ := newTestEngine(t, cfg)

	res, err := Collect(context.Background(), e, f.fetch, Options{MaxRecords: 5000})
	require.NoError(t, err)
	assert.Len(t, res.Data, 300)
	assert.True(t, res.HasMore)
}

func TestCollect_PageSizeCapped(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(int, Params) (*Page[int], error) {
		return &Page[int]{Items: []int{1}}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	_, err := Collect(context.Background(), e, f.fetch, Options{PerPage: 500})
	require.NoError(t, err)
	assert.Equal(t, 200, f.calls[0].PerPage)
}

func TestCollect_OrderPreserved(t *testing.T) {
	pages := [][]int{{5, 3, 9}, {1, 1, 2}, {8}}
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: pages[call], MoreRecords: call < len(pages)-1}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 9, 1, 1, 2, 8}, res.Data)
}

func TestCollect_PageNumbers(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: []int{call}, MoreRecords: call < 2}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{Page: 3})
	require.NoError(t, err)

	require.Len(t, f.calls, 3)
	for i, p := range f.calls {
		assert.Equal(t, 3+i, p.Page)
		assert.Empty(t, p.PageToken)
	}
	assert.Equal(t, 6, res.CurrentPage)
}

func TestCollect_PageTokens(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		next := ""
		if call < 2 {
			next = fmt.Sprintf("tok-%d", call+1)
		}
		return &Page[int]{Items: []int{call}, MoreRecords: call < 2, NextPageToken: next}, nil
	}}
	cfg := DefaultConfig()
	cfg.UsePageTokens = true
	e, _ := newTestEngine(t, cfg)

	res, err := Collect(context.Background(), e, f.fetch, Options{PageToken: "tok-0"})
	require.NoError(t, err)

	require.Len(t, f.calls, 3)
	assert.Equal(t, []string{"tok-0", "tok-1", "tok-2"},
		[]string{f.calls[0].PageToken, f.calls[1].PageToken, f.calls[2].PageToken})
	for _, p := range f.calls {
		assert.Zero(t, p.Page, "page number must be omitted in token mode")
	}
	assert.Equal(t, 1, res.CurrentPage)
	assert.Empty(t, res.NextPageToken)
}

func TestCollect_InterPageDelays(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: []int{call}, MoreRecords: call < 3}, nil
	}}
	e, rec := newTestEngine(t, DefaultConfig())

	_, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0, 100 * time.Millisecond, 150 * time.Millisecond, 225 * time.Millisecond}, rec.waits)
}

func TestCollect_ErrorAbortsAndDiscards(t *testing.T) {
	boom := &client.ProviderAPIError{StatusCode: 400, ErrorClass: client.ErrorClassClient, Op: "Failed to get records from Leads"}
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		if call == 2 {
			return nil, boom
		}
		return &Page[int]{Items: items(call*10, 10), MoreRecords: true}, nil
	}}
	e, _ := newTestEngine(t, DefaultConfig())

	res, err := Collect(context.Background(), e, f.fetch, Options{PerPage: 10})
	assert.Nil(t, res, "partial results must not be returned")

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 2, pageErr.RequestIndex)
	assert.Equal(t, 3, pageErr.Params.Page)
	assert.Equal(t, 10, pageErr.Params.PerPage)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "request 2, page 3, per_page 10")
	assert.Contains(t, err.Error(), "Failed to get records from Leads")
	assert.Equal(t, 3, f.Calls(), "client errors are not retried")
}

func TestCollect_RetryWrapsSinglePage(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		if call == 1 {
			return nil, &client.RateLimitError{RetryAfterSeconds: 5}
		}
		return &Page[int]{Items: []int{p.Page}, MoreRecords: p.Page < 3}, nil
	}}

	retrier := client.NewRetrier(client.DefaultRetryConfig())
	var retryWaits []time.Duration
	retrier.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		retryWaits = append(retryWaits, d)
		return nil
	})

	e, _ := newTestEngine(t, DefaultConfig(), WithRetrier(retrier))

	res, err := Collect(context.Background(), e, f.fetch, Options{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, res.Data)
	assert.Equal(t, []time.Duration{5 * time.Second}, retryWaits)

	// page 1 once, page 2 twice with identical params, page 3 once
	require.Len(t, f.calls, 4)
	assert.Equal(t, f.calls[1], f.calls[2])
	assert.Equal(t, 1, f.calls[0].Page)
	assert.Equal(t, 3, f.calls[3].Page)
}

func TestCollect_RetryDisabledWithZeroMaxRetries(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return nil, &client.ProviderAPIError{StatusCode: 500, ErrorClass: client.ErrorClassServer}
	}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	e, _ := newTestEngine(t, cfg, WithRetrier(client.NewRetrier(client.DefaultRetryConfig())))

	_, err := Collect(context.Background(), e, f.fetch, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, f.Calls())
}

func TestCollect_Cancelled(t *testing.T) {
	f := &scriptedFetcher{pageFn: func(call int, p Params) (*Page[int], error) {
		return &Page[int]{Items: []int{call}, MoreRecords: true}, nil
	}}
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Collect(ctx, e, f.fetch, Options{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, f.Calls())
}

func TestParams_Values(t *testing.T) {
	assert.Equal(t, "page=2&per_page=50", Params{Page: 2, PerPage: 50}.Values().Encode())
	assert.Equal(t, "page_token=abc&per_page=200", Params{PerPage: 200, PageToken: "abc"}.Values().Encode())
}
