package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache stores resolved queries, including misses.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, r *Result) error
}

// cacheKey returns SHA-256 hex of the normalized query.
func cacheKey(text string) string {
	h := sha256.Sum256([]byte(strings.ToLower(normalize(text))))
	return fmt.Sprintf("%x", h)
}

// RedisCache keeps results in Redis under "geocode:<hash>" with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client. ttl <= 0 means no expiry.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "geocode:"}
}

// DialRedisCache connects to addr and pings it.
func DialRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "geocode: ping redis %s", addr)
	}
	return NewRedisCache(client, ttl), nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "geocode: redis get")
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, eris.Wrap(err, "geocode: decode cached result")
	}

	keyPrefix := key
	if len(keyPrefix) > 12 {
		keyPrefix = keyPrefix[:12]
	}
	zap.L().Debug("geocode cache hit", zap.String("key", keyPrefix), zap.Bool("matched", r.Matched))
	return &r, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, r *Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "geocode: encode result")
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "geocode: redis set")
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
