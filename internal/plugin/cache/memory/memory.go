// Package memory is the default in-process KV cache, backed by ristretto.
// It serves the embedding and profile caches when no Redis is configured.
package memory

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
)

const (
	numCounters = 1 << 20
	maxCost     = 64 << 20 // 64 MB of cached values
	bufferItems = 64
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.KV, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &memoryKV{cache: c}, nil
}

type memoryKV struct {
	cache *ristretto.Cache[string, []byte]
}

func (m *memoryKV) Available() bool { return true }

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := m.cache.Get(key)
	return val, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.cache.SetWithTTL(key, val, int64(len(val)), ttl)
	return nil
}

func (m *memoryKV) Del(_ context.Context, key string) error {
	m.cache.Del(key)
	return nil
}

func (m *memoryKV) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.cache.Get(key)
	return ok, nil
}

var _ registrycache.KV = (*memoryKV)(nil)
