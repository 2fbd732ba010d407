package store

import (
	"context"
	"strings"
	"time"
)

// RedisClient is the subset of Redis operations the store needs. The
// method shapes match github.com/redis/go-redis/v9, so a *redis.Client can
// be adapted with a thin wrapper without this package importing the
// driver.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisIntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) RedisBoolCmd
}

// RedisStatusCmd is the result of a Redis write.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd is the result of a Redis read.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisIntCmd is the result of a Redis delete.
type RedisIntCmd interface {
	Err() error
}

// RedisBoolCmd is the result of a Redis expire.
type RedisBoolCmd interface {
	Err() error
}

// RedisStore keeps detached session snapshots in Redis, one key per
// session with a TTL. Expiry is handled entirely by Redis; there is no
// cleanup loop.
type RedisStore struct {
	client RedisClient
	prefix string
	closed bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
}

// WithRedisPrefix sets the session key prefix. Default: "djhtmx:session:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(c *redisStoreConfig) { c.prefix = prefix }
}

// NewRedisStore creates a Redis-backed store over an existing client.
// Closing the store does not close the client; it may be shared.
func NewRedisStore(client RedisClient, opts ...RedisStoreOption) *RedisStore {
	cfg := &redisStoreConfig{prefix: "djhtmx:session:"}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Save stores a snapshot with a TTL derived from the expiry. An already
// expired snapshot is deleted instead.
func (r *RedisStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if r.closed {
		return ErrClosed
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sessionID)
	}
	return r.client.Set(ctx, r.key(sessionID), data, ttl).Err()
}

// Load returns a snapshot, or (nil, nil) when the key is gone.
func (r *RedisStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		// go-redis reports a missing key as redis.Nil; match by message
		// since the driver is not imported here.
		if strings.Contains(err.Error(), "redis: nil") {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Delete removes a session key.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if r.closed {
		return ErrClosed
	}
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

// Touch resets the key's TTL from the new expiry.
func (r *RedisStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if r.closed {
		return ErrClosed
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sessionID)
	}
	return r.client.Expire(ctx, r.key(sessionID), ttl).Err()
}

// Close marks the store closed without touching the shared client.
func (r *RedisStore) Close() error {
	r.closed = true
	return nil
}
