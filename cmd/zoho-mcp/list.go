package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/zoho-mcp/pkg/books"
	"github.com/Sternrassler/zoho-mcp/pkg/crm"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <crm|books> <module-or-resource>",
	Short: "Fetch all records of a CRM module or Books resource",
	Long: `Fetch records with the same pagination the MCP tools use and print them
as JSON lines, one record per line. A summary goes to stderr.

Examples:
  zoho-mcp list crm Leads --max-records 500
  zoho-mcp list crm Contacts --search "(Email:ends_with:example.com)"
  zoho-mcp list books invoices --filter status=unpaid`,
	Args: cobra.ExactArgs(2),
	RunE: runList,
}

func init() {
	flags := listCmd.Flags()
	flags.Int("max-records", 0, "stop after this many records (0 = profile default)")
	flags.Int("per-page", 0, "records per request (0 = profile default)")
	flags.Int("page", 0, "first page to fetch")
	flags.String("page-token", "", "CRM continuation token")
	flags.String("search", "", "CRM criteria or Books search text")
	flags.StringSlice("fields", nil, "CRM fields to return")
	flags.StringToString("filter", nil, "Books query filters (key=value)")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	flags := cmd.Flags()
	maxRecords, _ := flags.GetInt("max-records")
	perPage, _ := flags.GetInt("per-page")
	page, _ := flags.GetInt("page")
	pageToken, _ := flags.GetString("page-token")
	search, _ := flags.GetString("search")

	opts := pagination.Options{
		Page:       page,
		PerPage:    perPage,
		PageToken:  pageToken,
		MaxRecords: maxRecords,
	}

	ctx := cmd.Context()
	target := args[1]

	var result *pagination.Result[json.RawMessage]
	switch strings.ToLower(args[0]) {
	case "crm":
		fields, _ := flags.GetStringSlice("fields")
		listOpts := crm.ListOptions{Options: opts, Fields: fields}
		if search != "" {
			result, err = a.crm.SearchAll(ctx, target, search, listOpts)
		} else {
			result, err = a.crm.ListAll(ctx, target, listOpts)
		}
	case "books":
		if a.books == nil {
			return fmt.Errorf("profile %s has no organization_id", a.profile.Name)
		}
		filters, _ := flags.GetStringToString("filter")
		listOpts := books.ListOptions{Options: opts, Filters: filters}
		if search != "" {
			result, err = a.books.SearchAll(ctx, target, search, listOpts)
		} else {
			result, err = a.books.ListAll(ctx, target, listOpts)
		}
	default:
		return fmt.Errorf("unknown service %q (want crm or books)", args[0])
	}
	if err != nil {
		return err
	}

	return writeRecords(cmd, result)
}

// writeRecords prints one compact JSON record per line and a summary on stderr.
func writeRecords(cmd *cobra.Command, result *pagination.Result[json.RawMessage]) error {
	out := cmd.OutOrStdout()
	for _, raw := range result.Data {
		if _, err := fmt.Fprintf(out, "%s\n", compact(raw)); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%d records, has_more=%t", result.TotalRecords, result.HasMore)
	if result.NextPageToken != "" {
		summary += ", next_page_token=" + result.NextPageToken
	}
	if result.FetchLimitReached {
		summary += ", stopped at page fetch limit"
	}
	fmt.Fprintln(cmd.ErrOrStderr(), summary)
	return nil
}

func compact(raw json.RawMessage) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || enc.Encode(v) != nil {
		return string(raw)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
