// Command zoho-mcp serves Zoho CRM and Books data to MCP clients and offers
// a few token and listing helpers for the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "zoho-mcp",
	Short:         "Zoho CRM and Books over the Model Context Protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `zoho-mcp exposes paginated, rate-limited Zoho CRM and Books reads as MCP
tools. Credentials come from a TOML profile (default ~/.zoho-mcp/config.toml)
and the ZOHO_* environment variables, which take precedence.`,
}

func init() {
	rootCmd.Version = version

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ~/.zoho-mcp/config.toml)")
	flags.String("profile", "", "profile name in the config file")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.Bool("pretty", false, "human-readable logs on stderr")
	flags.String("api-url", "", "override the data center API host")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(exchangeCodeCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
