// Package redis backs the KV capability with a Redis server, for deployments
// where embedding-cache hits should survive a process restart.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.KV, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORYD_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a KV from a Redis-compatible URL. Exported so the
// pubsub plugin and tests can reuse the client setup.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.KV, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisKV{client: client}, nil
}

type redisKV struct {
	client *goredis.Client
}

func (c *redisKV) Available() bool { return true }

func (c *redisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *redisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.client.Set(ctx, key, val, ttl).Err()
}

func (c *redisKV) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *redisKV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

var _ registrycache.KV = (*redisKV)(nil)
