package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/zoho-mcp/internal/testutil"
	"github.com/Sternrassler/zoho-mcp/pkg/config"
	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
	"github.com/spf13/cobra"
)

type fixedState oauth.State

func (s fixedState) State() oauth.State { return oauth.State(s) }

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(fixedState(oauth.StateAuthenticated))(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %q", body["status"])
	}
	if body["auth_state"] != "authenticated" {
		t.Errorf("Expected auth_state authenticated, got %q", body["auth_state"])
	}
}

func TestWriteRecords(t *testing.T) {
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	result := &pagination.Result[json.RawMessage]{
		Data: []json.RawMessage{
			json.RawMessage("{\n  \"id\": \"1\"\n}"),
			json.RawMessage(`{"id":"2"}`),
		},
		TotalRecords:      2,
		HasMore:           true,
		NextPageToken:     "tok",
		FetchLimitReached: true,
	}

	if err := writeRecords(cmd, result); err != nil {
		t.Fatalf("writeRecords() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[0] != `{"id":"1"}` {
		t.Errorf("unexpected records output %q", stdout.String())
	}
	for _, want := range []string{"2 records", "has_more=true", "next_page_token=tok", "page fetch limit"} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("summary %q missing %q", stderr.String(), want)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearZohoEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvClientID, config.EnvClientSecret, config.EnvRefreshToken,
		config.EnvDataCenter, config.EnvOrganizationID, config.EnvRedisURL, config.EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func TestListCommand_CRM(t *testing.T) {
	clearZohoEnv(t)

	mock := testutil.NewMockZoho()
	defer mock.Close()

	mock.SetResponse("/crm/v2/Leads", testutil.NewJSONResponse(
		testutil.CRMPage(testutil.Records(1, 3), 1, 200, false, ""),
	))

	path := writeConfig(t, `
[profiles.test]
client_id     = "id"
client_secret = "secret"
refresh_token = "refresh"

[profiles.test.pagination]
rate_limit_delay = "0s"
`)
	t.Setenv(config.EnvClientID, "env-id")

	// the token endpoint lives on the mock, not the data center host
	origNewAuth := newAuthFunc
	newAuthFunc = func(p *config.Profile) (*oauth.Manager, error) {
		cfg := oauth.DefaultConfig(p.Credential())
		cfg.AccountsURL = mock.URL()
		return oauth.New(cfg)
	}
	defer func() { newAuthFunc = origNewAuth }()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"list", "crm", "Leads", "--config", path, "--profile", "test", "--api-url", mock.URL()})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("list error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %q", stdout.String())
	}
	if got := mock.GetLastTokenForm().Get("client_id"); got != "env-id" {
		t.Errorf("token request client_id = %q, want env-id", got)
	}
	if !strings.Contains(stderr.String(), "3 records") {
		t.Errorf("summary missing, got %q", stderr.String())
	}
}

func TestListCommand_MissingRefreshToken(t *testing.T) {
	clearZohoEnv(t)

	path := writeConfig(t, `
[profiles.test]
client_id     = "id"
client_secret = "secret"
`)

	rootCmd.SetArgs([]string{"list", "crm", "Leads", "--config", path, "--profile", "test"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "exchange-code") {
		t.Errorf("expected refresh token hint, got %v", err)
	}
}
