// Package redis publishes research capsule requests over Redis pub/sub.
package redis

import (
	"context"
	"fmt"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	registrypubsub "github.com/mranderson01901234/5.0-sub004/internal/registry/pubsub"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrypubsub.Register(registrypubsub.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrypubsub.PubSub, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis pubsub: MEMORYD_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis pubsub: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis pubsub: ping failed: %w", err)
	}
	return &redisPubSub{client: client}, nil
}

type redisPubSub struct {
	client *goredis.Client
}

func (p *redisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *redisPubSub) Close() error {
	return p.client.Close()
}

var _ registrypubsub.PubSub = (*redisPubSub)(nil)
