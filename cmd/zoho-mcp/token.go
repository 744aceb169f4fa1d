package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Refresh the access token and print its state",
	Long: `Refresh the access token of the selected profile and print the token
state as JSON. With --validate the token is also checked against the
accounts user info endpoint. The access token itself is only printed with
--show.`,
	RunE: runToken,
}

var exchangeCodeCmd = &cobra.Command{
	Use:   "exchange-code <grant-code>",
	Short: "Exchange a one-time grant code for a refresh token",
	Long: `Exchange a grant code from the Zoho API console (self client) or an
authorization redirect for a refresh token. Store the printed refresh_token
in the profile or in ZOHO_REFRESH_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: runExchangeCode,
}

func init() {
	tokenCmd.Flags().Bool("show", false, "include the access token in the output")
	tokenCmd.Flags().Bool("validate", false, "check the token against the user info endpoint")
	exchangeCodeCmd.Flags().String("redirect-uri", "", "redirect URI registered for the client (empty for self clients)")
}

type tokenOutput struct {
	State       string `json:"state"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	APIDomain   string `json:"api_domain,omitempty"`
	Email       string `json:"email,omitempty"`
}

func runToken(cmd *cobra.Command, _ []string) error {
	profile, _, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	auth, err := newAuthFunc(profile)
	if err != nil {
		return err
	}

	token, err := auth.GetValidAccessToken(cmd.Context())
	if err != nil {
		return err
	}

	out := tokenOutput{
		State:     string(auth.State()),
		ExpiresAt: auth.Expiry().UTC().Format(time.RFC3339),
		APIDomain: auth.APIDomain(),
	}
	if show, _ := cmd.Flags().GetBool("show"); show {
		out.AccessToken = token
	}
	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		info, err := auth.Validate(cmd.Context(), token)
		if err != nil {
			return err
		}
		out.Email = info.Email
	}

	return printJSON(cmd, out)
}

func runExchangeCode(cmd *cobra.Command, args []string) error {
	profile, _, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	if err := profile.Credential().Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	auth, err := newAuthFunc(profile)
	if err != nil {
		return err
	}

	redirectURI, _ := cmd.Flags().GetString("redirect-uri")
	resp, err := auth.ExchangeCode(cmd.Context(), args[0], redirectURI)
	if err != nil {
		return err
	}

	return printJSON(cmd, resp)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
