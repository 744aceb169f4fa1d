package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Sternrassler/zoho-mcp/internal/testutil"
	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

// newTestCRM wires a real token manager and transport against the mock.
func newTestCRM(t *testing.T, mock *testutil.MockZoho, cfg pagination.Config) *Client {
	t.Helper()

	authCfg := oauth.DefaultConfig(oauth.Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-1",
		DataCenter:   "com",
	})
	authCfg.AccountsURL = mock.URL()
	auth, err := oauth.New(authCfg)
	require.NoError(t, err)

	api, err := client.New(client.DefaultConfig(mock.URL(), auth))
	require.NoError(t, err)

	retryCfg := client.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retrier := client.NewRetrier(retryCfg)
	retrier.SetSleepFunc(noSleep)

	engine, err := pagination.NewEngine(cfg,
		pagination.WithRetrier(retrier),
		pagination.WithSleepFunc(noSleep),
	)
	require.NoError(t, err)

	return NewWithEngine(api, engine)
}

func ids(t *testing.T, records []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(records))
	for _, raw := range records {
		var rec struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &rec))
		out = append(out, rec.ID)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, pagination.DefaultConfig())
	require.Error(t, err)

	mock := testutil.NewMockZoho()
	defer mock.Close()

	cfg := pagination.DefaultConfig()
	cfg.MaxPageFetches = 0
	api, err := client.New(client.DefaultConfig(mock.URL(), stubAuth{}))
	require.NoError(t, err)
	_, err = New(api, cfg)
	assert.ErrorContains(t, err, "max_page_fetches")
}

type stubAuth struct{}

func (stubAuth) GetValidAccessToken(context.Context) (string, error) { return "static", nil }
func (stubAuth) RefreshAfterReject(context.Context, string) (string, error) {
	return "static", nil
}

func TestListAll_PageNumbers(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	var pages []string
	mock.SetHandler("/crm/v2/Leads", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pages = append(pages, q.Get("page"))
		assert.Equal(t, "2", q.Get("per_page"))
		assert.Equal(t, "Last_Name,Email", q.Get("fields"))
		assert.Equal(t, "desc", q.Get("sort_order"))

		page, _ := strconv.Atoi(q.Get("page"))
		more := page < 3
		n := 2
		if page == 3 {
			n = 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testutil.CRMPage(testutil.Records((page-1)*2+1, n), page, 2, more, "")))
	})

	cfg := pagination.DefaultConfig()
	c := newTestCRM(t, mock, cfg)

	result, err := c.ListAll(context.Background(), "Leads", ListOptions{
		Options:   pagination.Options{PerPage: 2},
		Fields:    []string{"Last_Name", "Email"},
		SortBy:    "Created_Time",
		SortOrder: "desc",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, pages)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(t, result.Data))
	assert.Equal(t, 5, result.TotalRecords)
	assert.False(t, result.HasMore)
	assert.Equal(t, 4, result.CurrentPage)
	assert.Equal(t, 3, result.TotalPages)
}

func TestListAll_PageTokens(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	var tokens []string
	mock.SetHandler("/crm/v2/Contacts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tokens = append(tokens, q.Get("page_token"))
		assert.Empty(t, q.Get("page"))

		var body string
		switch q.Get("page_token") {
		case "":
			body = testutil.CRMPage(testutil.Records(1, 2), 1, 2, true, "tok-2")
		case "tok-2":
			body = testutil.CRMPage(testutil.Records(3, 2), 2, 2, false, "")
		default:
			t.Errorf("unexpected page_token %q", q.Get("page_token"))
		}
		_, _ = w.Write([]byte(body))
	})

	cfg := pagination.DefaultConfig()
	cfg.UsePageTokens = true
	c := newTestCRM(t, mock, cfg)

	result, err := c.ListAll(context.Background(), "Contacts", ListOptions{
		Options: pagination.Options{PerPage: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "tok-2"}, tokens)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(t, result.Data))
	assert.Empty(t, result.NextPageToken)
}

func TestListAll_MaxRecordsTruncates(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetResponse("/crm/v2/Deals", testutil.NewJSONResponse(
		testutil.CRMPage(testutil.Records(1, 5), 1, 5, false, ""),
	))

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	result, err := c.ListAll(context.Background(), "Deals", ListOptions{
		Options: pagination.Options{PerPage: 5, MaxRecords: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(t, result.Data))
	assert.True(t, result.HasMore)
}

func TestListAll_NoContentIsEmpty(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetResponse("/crm/v2/Leads", testutil.MockResponse{StatusCode: http.StatusNoContent})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	result, err := c.ListAll(context.Background(), "Leads", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Data)
	assert.False(t, result.HasMore)
}

func TestListAll_ReplaysAfterExpiredToken(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	rejected := false
	mock.SetHandler("/crm/v2/Leads", func(w http.ResponseWriter, r *http.Request) {
		if !rejected {
			rejected = true
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"INVALID_TOKEN","message":"invalid oauth token","status":"error"}`))
			return
		}
		assert.True(t, mock.IsCurrentToken(r), "replay must carry the refreshed token")
		_, _ = w.Write([]byte(testutil.CRMPage(testutil.Records(1, 1), 1, 200, false, "")))
	})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	result, err := c.ListAll(context.Background(), "Leads", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Data, 1)
	assert.Equal(t, 2, mock.GetTokenRequestCount())
}

func TestListAll_RetriesServerError(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	calls := 0
	mock.SetHandler("/crm/v2/Leads", func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"boom","status":"error"}`))
			return
		}
		_, _ = w.Write([]byte(testutil.CRMPage(testutil.Records(1, 2), 1, 200, false, "")))
	})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	result, err := c.ListAll(context.Background(), "Leads", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, result.Data, 2)
}

func TestListAll_ClientErrorAborts(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetResponse("/crm/v2/Nope", testutil.MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"code":"INVALID_MODULE","message":"the module name given seems to be invalid","status":"error"}`,
	})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	_, err := c.ListAll(context.Background(), "Nope", ListOptions{})
	require.Error(t, err)

	var pageErr *pagination.PageError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 0, pageErr.RequestIndex)

	var apiErr *client.ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_MODULE", apiErr.Code)
	assert.Contains(t, err.Error(), "Failed to get records from Nope")
	assert.Equal(t, 1, mock.GetRequestCount()-mock.GetTokenRequestCount())
}

func TestSearchAll_SendsCriteria(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetHandler("/crm/v2/Leads/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "(Last_Name:equals:Smith)", r.URL.Query().Get("criteria"))
		_, _ = w.Write([]byte(testutil.CRMPage(testutil.Records(7, 1), 1, 200, false, "")))
	})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	result, err := c.SearchAll(context.Background(), "Leads", "(Last_Name:equals:Smith)", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids(t, result.Data))

	_, err = c.SearchAll(context.Background(), "Leads", "  ", ListOptions{})
	assert.ErrorContains(t, err, "criteria")
}

func TestGetRecord(t *testing.T) {
	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetResponse("/crm/v2/Leads/42", testutil.NewJSONResponse(
		`{"data":[{"id":"42","Last_Name":"Smith"}]}`,
	))
	mock.SetResponse("/crm/v2/Leads/43", testutil.MockResponse{StatusCode: http.StatusNoContent})

	c := newTestCRM(t, mock, pagination.DefaultConfig())

	rec, err := c.GetRecord(context.Background(), "Leads", "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","Last_Name":"Smith"}`, string(rec))

	_, err = c.GetRecord(context.Background(), "Leads", "43")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = c.GetRecord(context.Background(), "Leads", "")
	assert.ErrorContains(t, err, "record id")

	_, err = c.GetRecord(context.Background(), "", "1")
	assert.ErrorContains(t, err, "module name")
}
