package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// blockScript raises blocked_until to ARGV[1] (unix ms) only if it is later
// than the stored value, so concurrent writers never shorten a block.
var blockScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local nxt = tonumber(ARGV[1])
if nxt > cur then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
end
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// RedisStore shares throttle state across processes through Redis.
// Stores with the same namespace share one throttle; different namespaces
// never block each other.
type RedisStore struct {
	redis *redis.Client
	keys  redisKeys
	now   func() time.Time
}

type redisKeys struct {
	blockedUntil string
	remaining    string
	lastUpdate   string
}

func keysFor(namespace string) redisKeys {
	root := RedisKeyPrefix
	if namespace != "" {
		root += ":" + namespace
	}
	return redisKeys{
		blockedUntil: root + ":blocked_until",
		remaining:    root + ":remaining",
		lastUpdate:   root + ":last_update",
	}
}

// NewRedisStore creates a Redis-backed store under namespace, typically the
// data center and client id of the credential it throttles. An empty
// namespace uses the bare RedisKey* keys.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		redis: client,
		keys:  keysFor(namespace),
		now:   time.Now,
	}
}

// Get retrieves the current throttle state from Redis.
// Returns an unblocked state if no data exists.
func (r *RedisStore) Get(ctx context.Context) (*ThrottleState, error) {
	pipe := r.redis.Pipeline()
	blockedCmd := pipe.Get(ctx, r.keys.blockedUntil)
	remainingCmd := pipe.Get(ctx, r.keys.remaining)
	lastUpdateCmd := pipe.Get(ctx, r.keys.lastUpdate)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get throttle state: %w", err)
	}

	state := defaultState()

	blockedMs, err := blockedCmd.Int64()
	switch {
	case err == nil:
		state.BlockedUntil = time.UnixMilli(blockedMs)
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("parse blocked until: %w", err)
	}

	remaining, err := remainingCmd.Int()
	switch {
	case err == nil:
		state.Remaining = remaining
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("parse remaining: %w", err)
	}

	lastUpdateStr, err := lastUpdateCmd.Result()
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("get last update: %w", err)
	}

	return state, nil
}

// Block implements Store.
func (r *RedisStore) Block(ctx context.Context, until time.Time) error {
	now := r.now()

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// the key expires one second after the block ends
	ttl := until.Sub(now) + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}

	err = blockScript.Run(ctx, r.redis,
		[]string{r.keys.blockedUntil, r.keys.lastUpdate},
		until.UnixMilli(), string(lastUpdateJSON), ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("store throttle block in redis: %w", err)
	}
	return nil
}

// SetRemaining implements Store.
func (r *RedisStore) SetRemaining(ctx context.Context, remaining int) error {
	lastUpdateJSON, err := json.Marshal(r.now())
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, r.keys.remaining, remaining, 0)
	pipe.Set(ctx, r.keys.lastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store remaining in redis: %w", err)
	}
	return nil
}
