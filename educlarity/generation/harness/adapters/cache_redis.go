package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

const defaultRedisPrefix = "educlarity:gateway:"

// RedisCache shares structured generation results across gateway instances.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisCache wraps an existing client. An empty prefix uses the default namespace.
func NewRedisCache(client *redis.Client, prefix string, logger zerolog.Logger) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger}
}

// Get returns the cached value. Backend errors are logged and reported as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return nil, false
	}
	return val, true
}

// Set stores value with the given TTL. ttlSeconds <= 0 means no expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

var _ ports.Cache = (*RedisCache)(nil)
