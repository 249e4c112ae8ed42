package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
)

func TestPublish(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.RedisURL = "redis://" + srv.Addr()
	bus, err := load(config.WithContext(ctx, &cfg))
	require.NoError(t, err)
	defer bus.Close()

	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, "memoryd.research")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "memoryd.research", []byte(`{"userId":"alice"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, `{"userId":"alice"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestLoadRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	assert.Error(t, err)
}
