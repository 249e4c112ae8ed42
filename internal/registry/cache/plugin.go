package cache

import (
	"context"
	"fmt"
	"time"
)

// KV is the best-effort key/value capability behind the embedding and profile
// caches. A miss is always recoverable; implementations never surface cache
// trouble to callers beyond the returned error, which callers log and ignore.
type KV interface {
	// Available reports whether the backend actually stores anything.
	Available() bool
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value with a TTL. ttl <= 0 means the backend default.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Del removes the key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Loader creates a KV from config.
type Loader func(ctx context.Context) (KV, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
