package oauth

import (
	"errors"
	"fmt"
)

// Credential is the OAuth client registration plus a long-lived refresh token.
// It is immutable for the lifetime of a Manager.
type Credential struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	DataCenter   string
	Scopes       []string
}

// Validate checks that the fields needed for any token exchange are set.
// RefreshToken may be empty when the manager will be seeded by ExchangeCode.
func (c Credential) Validate() error {
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client secret is required")
	}
	if _, err := LookupDataCenter(c.DataCenter); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	return nil
}
