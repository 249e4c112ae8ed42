// Package noop is the cache used when caching is disabled: every read is a
// miss and every write is dropped.
package noop

import (
	"context"
	"time"

	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrycache.KV, error) {
			return KV{}, nil
		},
	})
}

// KV discards writes and misses every read.
type KV struct{}

func (KV) Available() bool { return false }

func (KV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (KV) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (KV) Del(context.Context, string) error { return nil }

func (KV) Exists(context.Context, string) (bool, error) { return false, nil }

var _ registrycache.KV = KV{}
