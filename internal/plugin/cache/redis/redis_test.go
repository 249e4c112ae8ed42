package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKVRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	kv, err := LoadFromURL(ctx, "redis://"+srv.Addr())
	require.NoError(t, err)
	assert.True(t, kv.Available())

	_, found, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), val)

	ok, err := kv.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, kv.Del(ctx, "k"))
	_, found, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is not an error.
	assert.NoError(t, kv.Del(ctx, "k"))
}

func TestRedisKVTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	kv, err := LoadFromURL(ctx, "redis://"+srv.Addr())
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	srv.FastForward(2 * time.Minute)

	_, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadFromURLBadAddress(t *testing.T) {
	_, err := LoadFromURL(context.Background(), "redis://127.0.0.1:1")
	assert.Error(t, err)
}
