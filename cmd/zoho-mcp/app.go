package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/zoho-mcp/pkg/books"
	"github.com/Sternrassler/zoho-mcp/pkg/client"
	"github.com/Sternrassler/zoho-mcp/pkg/config"
	"github.com/Sternrassler/zoho-mcp/pkg/crm"
	"github.com/Sternrassler/zoho-mcp/pkg/logging"
	"github.com/Sternrassler/zoho-mcp/pkg/oauth"
	"github.com/Sternrassler/zoho-mcp/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the wired components for one profile.
type app struct {
	profile *config.Profile
	logger  zerolog.Logger

	auth  *oauth.Manager
	api   *client.Client
	crm   *crm.Client
	books *books.Client

	redis *redis.Client
}

// loadProfile resolves the profile named by the persistent flags and sets
// up logging from it.
func loadProfile(cmd *cobra.Command) (*config.Profile, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, zerolog.Nop(), err
		}
	}
	name, _ := cmd.Flags().GetString("profile")

	profile, err := config.Resolve(path, name)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	levelName := profile.LogLevel
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		levelName = flagLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	pretty, _ := cmd.Flags().GetBool("pretty")

	logger := logging.Setup(logging.Config{
		Level:   level,
		Pretty:  pretty,
		Output:  os.Stderr,
		Service: "zoho-mcp",
	})

	return profile, logger, nil
}

// newAuthFunc creates the token manager of a profile.
var newAuthFunc = func(profile *config.Profile) (*oauth.Manager, error) {
	return oauth.New(oauth.DefaultConfig(profile.Credential()))
}

// newApp wires the full client stack for the selected profile.
func newApp(cmd *cobra.Command) (*app, error) {
	profile, logger, err := loadProfile(cmd)
	if err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if profile.RefreshToken == "" {
		return nil, fmt.Errorf("profile %s: %w (run exchange-code first or set %s)", profile.Name, oauth.ErrNoRefreshToken, config.EnvRefreshToken)
	}

	a := &app{profile: profile, logger: logger}

	trackerCfg := ratelimit.DefaultTrackerConfig()
	if profile.RedisURL != "" {
		a.redis, err = connectRedis(cmd.Context(), profile.RedisURL)
		if err != nil {
			return nil, err
		}
		trackerCfg.Store = ratelimit.NewRedisStore(a.redis, profile.ThrottleNamespace())
		logger.Info().Msg("Sharing throttle state through Redis")
	}
	tracker := ratelimit.NewTracker(trackerCfg, logging.NewLogger("ratelimit"))

	if a.auth, err = newAuthFunc(profile); err != nil {
		return nil, err
	}

	apiURL, _ := cmd.Flags().GetString("api-url")
	if apiURL == "" {
		dc, err := profile.ResolveDataCenter()
		if err != nil {
			return nil, err
		}
		apiURL = dc.APIURL
	}

	clientCfg := client.DefaultConfig(apiURL, a.auth)
	clientCfg.Tracker = tracker
	clientCfg.UserAgent = "zoho-mcp/" + version
	if a.api, err = client.New(clientCfg); err != nil {
		return nil, err
	}

	pageCfg, err := profile.PaginationConfig()
	if err != nil {
		return nil, err
	}

	if a.crm, err = crm.New(a.api, pageCfg); err != nil {
		return nil, err
	}
	if profile.OrganizationID != "" {
		if a.books, err = books.New(a.api, pageCfg, profile.OrganizationID); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Close releases the Redis connection, if any.
func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// connectRedis accepts either a redis:// URL or a bare host:port.
func connectRedis(ctx context.Context, target string) (*redis.Client, error) {
	opts := &redis.Options{Addr: target}
	if strings.Contains(target, "://") {
		var err error
		if opts, err = redis.ParseURL(target); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
