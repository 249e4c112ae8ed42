package complete

import (
	"context"
	"fmt"
)

// Completer is the text-completion capability used for thread summaries.
type Completer interface {
	// Complete returns the model's completion for a system+user prompt pair,
	// bounded at maxTokens output tokens.
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
	// ModelName returns the model identifier used for completion.
	ModelName() string
}

// Loader creates a Completer from config.
type Loader func(ctx context.Context) (Completer, error)

// Plugin represents a completion plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a completion plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered completion plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named completion plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown completer %q; valid: %v", name, Names())
}
