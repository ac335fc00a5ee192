// redis.go -- go-redis client for session records and rate limiting.
//
// Records are stored under "session:<hash>" with a mandatory TTL, so expiry is
// enforced by Redis itself. The store only ever sees hashed identifiers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the shared client's connection pool.
// Zero values keep go-redis defaults.
type RedisOptions struct {
	PoolSize    int
	PoolTimeout time.Duration
}

// NewRedisClient parses redisURL, applies pool options and pings once.
// The returned client is shared by RedisStore and RedisRateLimiter.
func NewRedisClient(ctx context.Context, redisURL string, opts RedisOptions) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	// Pool exhaustion must surface as an error after PoolTimeout, never a hang.
	if opts.PoolTimeout > 0 {
		opt.PoolTimeout = opts.PoolTimeout
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for session record operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a store over an existing client. Safe for concurrent use.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// recordEnvelope is the CBOR shape stored in Redis. Exactly one variant is set.
type recordEnvelope struct {
	Kind       string             `cbor:"1,keyasint"`
	Pending    *PendingSession    `cbor:"2,keyasint,omitempty"`
	Authorized *AuthorizedSession `cbor:"3,keyasint,omitempty"`
}

func sessionKey(key string) string {
	return "session:" + key
}

func encodeRecord(rec SessionRecord) ([]byte, error) {
	env := recordEnvelope{}
	switch r := rec.(type) {
	case *PendingSession:
		env.Kind, env.Pending = kindPending, r
	case *AuthorizedSession:
		env.Kind, env.Authorized = kindAuthorized, r
	default:
		return nil, fmt.Errorf("encoding session: unsupported record %T", rec)
	}
	return cbor.Marshal(env)
}

func decodeRecord(raw []byte) (SessionRecord, error) {
	var env recordEnvelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	switch {
	case env.Kind == kindPending && env.Pending != nil:
		return env.Pending, nil
	case env.Kind == kindAuthorized && env.Authorized != nil:
		return env.Authorized, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrSessionCorrupt, env.Kind)
}

// Put upserts rec under key with the given TTL. Existing values are overwritten.
func (s *RedisStore) Put(ctx context.Context, key string, rec SessionRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrMissingTTL
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, sessionKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: storing session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the record under key, or ErrSessionNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: fetching session: %v", ErrStoreUnavailable, err)
	}
	return decodeRecord(raw)
}

// Take atomically fetches and deletes the record under key (GETDEL).
// Of any number of concurrent callers, at most one receives the record.
func (s *RedisStore) Take(ctx context.Context, key string) (SessionRecord, error) {
	raw, err := s.rdb.GetDel(ctx, sessionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: taking session: %v", ErrStoreUnavailable, err)
	}
	return decodeRecord(raw)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, sessionKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: deleting session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// allowScript increments the window counter and starts the window on first hit.
const allowScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`

var allowLua = redis.NewScript(allowScript)

// RedisRateLimiter is a fixed-window counter limiter.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a limiter over an existing client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records an attempt for key and returns ErrRateLimitExceeded once the
// count within policy.Window passes policy.MaxAttempts. A zero policy allows all.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}
	n, err := allowLua.Run(ctx, l.rdb, []string{"ratelimit:" + key}, policy.Window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: rate limit: %v", ErrStoreUnavailable, err)
	}
	if n > int64(policy.MaxAttempts) {
		return ErrRateLimitExceeded
	}
	return nil
}
