package pubsub

import (
	"context"
	"fmt"
)

// PubSub publishes opaque payloads on named channels. The research pipeline
// consumes them out of process; this core only publishes.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Loader creates a PubSub from config.
type Loader func(ctx context.Context) (PubSub, error)

// Plugin represents a pubsub plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a pubsub plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered pubsub plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named pubsub plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown pubsub %q; valid: %v", name, Names())
}
