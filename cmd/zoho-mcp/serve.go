package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/zoho-mcp/internal/mcpserver"
	"github.com/Sternrassler/zoho-mcp/pkg/metrics"
	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server.

By default the server speaks JSON-RPC over stdio. Use --http to serve the
streamable HTTP transport instead. --metrics-addr starts a side listener with
/metrics (Prometheus) and /health.

Examples:
  # Stdio mode, for desktop assistants
  zoho-mcp serve --profile prod

  # HTTP mode with metrics
  zoho-mcp serve --http :8080 --metrics-addr :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http", "", "serve MCP over HTTP on this address instead of stdio")
	serveCmd.Flags().String("metrics-addr", "", "address for /metrics and /health (disabled when empty)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	services := &mcpserver.Services{
		CRM:  a.crm,
		Auth: a.auth,
	}
	if a.books != nil {
		services.Books = a.books
	}

	server, err := mcpserver.New(services)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go func() {
			if err := serveMetrics(ctx, addr, a.auth); err != nil {
				a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
	}

	if addr, _ := cmd.Flags().GetString("http"); addr != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}
	return server.Run(ctx)
}

// serveMetrics runs the /metrics and /health listener until ctx is done.
func serveMetrics(ctx context.Context, addr string, auth tokenStater) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler(auth))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background()) //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// tokenStater is the part of the token manager the health check reads.
type tokenStater interface {
	State() oauth.State
}

func healthHandler(auth tokenStater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"status":     "ok",
			"auth_state": string(auth.State()),
		})
	}
}
