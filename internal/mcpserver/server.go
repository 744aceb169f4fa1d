package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Server is the MCP server for Zoho CRM and Books.
type Server struct {
	services *Services
	server   *mcp.Server
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates an MCP server over services.
func New(services *Services) (*Server, error) {
	if services == nil {
		return nil, ErrMissingAuth
	}
	if err := services.Validate(); err != nil {
		return nil, fmt.Errorf("validating services: %w", err)
	}

	impl := &mcp.Implementation{
		Name:    "zoho-mcp",
		Version: Version,
	}

	s := &Server{
		services: services,
		server:   mcp.NewServer(impl, nil),
		logger:   logging.NewLogger("mcp"),
		now:      time.Now,
	}

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("transport", "stdio").Msg("MCP server starting")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves MCP over streamable HTTP on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	s.logger.Info().Str("transport", "http").Str("addr", addr).Msg("MCP server starting")

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
