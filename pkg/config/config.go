// Package config loads named connection profiles from a TOML file and
// applies environment overrides.
//
// Example file:
//
//	default_profile = "prod"
//
//	[profiles.prod]
//	client_id       = "1000.XXXX"
//	client_secret   = "secret"
//	refresh_token   = "1000.refresh"
//	data_center     = "eu"
//	organization_id = "20061234"
//	redis_url       = "redis://localhost:6379/0"
//
//	[profiles.prod.pagination]
//	max_records_per_batch = 5000
//	rate_limit_delay      = "250ms"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/Sternrassler/zoho-mcp/pkg/pagination"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override profile values.
const (
	EnvClientID       = "ZOHO_CLIENT_ID"
	EnvClientSecret   = "ZOHO_CLIENT_SECRET"
	EnvRefreshToken   = "ZOHO_REFRESH_TOKEN"
	EnvDataCenter     = "ZOHO_DATA_CENTER"
	EnvOrganizationID = "ZOHO_ORGANIZATION_ID"
	EnvRedisURL       = "REDIS_URL"
	EnvLogLevel       = "LOG_LEVEL"
)

// DefaultProfileName is used when neither the caller nor the file names one.
const DefaultProfileName = "default"

// ErrProfileNotFound is returned when a named profile is missing from the file.
var ErrProfileNotFound = errors.New("profile not found")

// File is the on-disk configuration.
type File struct {
	DefaultProfile string             `toml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Profile holds everything needed to talk to one Zoho account.
type Profile struct {
	Name string `toml:"-"`

	ClientID       string   `toml:"client_id"`
	ClientSecret   string   `toml:"client_secret"`
	RefreshToken   string   `toml:"refresh_token"`
	DataCenter     string   `toml:"data_center"`
	Scopes         []string `toml:"scopes"`
	OrganizationID string   `toml:"organization_id"`
	RedisURL       string   `toml:"redis_url"`
	LogLevel       string   `toml:"log_level"`

	Pagination PaginationOverrides `toml:"pagination"`
}

// PaginationOverrides replaces individual pagination defaults. Unset
// fields keep the value from pagination.DefaultConfig.
type PaginationOverrides struct {
	DefaultPageSize    *int    `toml:"default_page_size"`
	MaxPageSize        *int    `toml:"max_page_size"`
	RateLimitDelay     *string `toml:"rate_limit_delay"`
	MaxRetries         *int    `toml:"max_retries"`
	UsePageTokens      *bool   `toml:"use_page_tokens"`
	MaxRecordsPerBatch *int    `toml:"max_records_per_batch"`
	MaxPageFetches     *int    `toml:"max_page_fetches"`
}

// DefaultPath returns ~/.zoho-mcp/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".zoho-mcp", "config.toml"), nil
}

// Load reads the configuration file at path. A missing file yields an
// empty configuration.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Profiles: map[string]Profile{}}, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML configuration data.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	return &f, nil
}

// ProfileNames returns the profile names in sorted order.
func (f *File) ProfileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile selects a profile and applies environment overrides from getenv.
// An empty name selects the file's default_profile, then "default". Only an
// explicitly named profile must exist in the file; the implicit one may come
// entirely from the environment.
func (f *File) Profile(name string, getenv func(string) string) (*Profile, error) {
	explicit := name != ""
	if name == "" {
		name = f.DefaultProfile
		explicit = name != ""
	}
	if name == "" {
		name = DefaultProfileName
	}

	p, ok := f.Profiles[name]
	if !ok && explicit {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrProfileNotFound, name, strings.Join(f.ProfileNames(), ", "))
	}
	p.Name = name

	if getenv == nil {
		getenv = os.Getenv
	}
	p.applyEnv(getenv)

	if p.DataCenter == "" {
		p.DataCenter = oauth.DefaultDataCenter
	}
	return &p, nil
}

// Resolve loads path and returns the selected profile with overrides applied.
func Resolve(path, name string) (*Profile, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return f.Profile(name, os.Getenv)
}

func (p *Profile) applyEnv(getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&p.ClientID, EnvClientID)
	override(&p.ClientSecret, EnvClientSecret)
	override(&p.RefreshToken, EnvRefreshToken)
	override(&p.DataCenter, EnvDataCenter)
	override(&p.OrganizationID, EnvOrganizationID)
	override(&p.RedisURL, EnvRedisURL)
	override(&p.LogLevel, EnvLogLevel)
}

// Credential returns the OAuth credential of the profile.
func (p *Profile) Credential() oauth.Credential {
	return oauth.Credential{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RefreshToken: p.RefreshToken,
		DataCenter:   p.DataCenter,
		Scopes:       p.Scopes,
	}
}

// ThrottleNamespace scopes shared throttle state to this profile's data
// center and client, so profiles sharing one Redis throttle independently.
func (p *Profile) ThrottleNamespace() string {
	return p.DataCenter + ":" + p.ClientID
}

// ResolveDataCenter resolves the profile's data center hosts.
func (p *Profile) ResolveDataCenter() (oauth.DataCenter, error) {
	return oauth.LookupDataCenter(p.DataCenter)
}

// PaginationConfig returns pagination.DefaultConfig with the profile's
// overrides applied and validated.
func (p *Profile) PaginationConfig() (pagination.Config, error) {
	cfg := pagination.DefaultConfig()
	o := p.Pagination

	if o.DefaultPageSize != nil {
		cfg.DefaultPageSize = *o.DefaultPageSize
	}
	if o.MaxPageSize != nil {
		cfg.MaxPageSize = *o.MaxPageSize
	}
	if o.RateLimitDelay != nil {
		d, err := time.ParseDuration(*o.RateLimitDelay)
		if err != nil {
			return cfg, fmt.Errorf("profile %s: rate_limit_delay: %w", p.Name, err)
		}
		cfg.RateLimitDelay = d
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.UsePageTokens != nil {
		cfg.UsePageTokens = *o.UsePageTokens
	}
	if o.MaxRecordsPerBatch != nil {
		cfg.MaxRecordsPerBatch = *o.MaxRecordsPerBatch
	}
	if o.MaxPageFetches != nil {
		cfg.MaxPageFetches = *o.MaxPageFetches
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return cfg, nil
}

// Validate checks that the profile can authenticate.
func (p *Profile) Validate() error {
	if err := p.Credential().Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if _, err := p.PaginationConfig(); err != nil {
		return err
	}
	return nil
}
