package noop

import (
	"context"

	registrypubsub "github.com/mranderson01901234/5.0-sub004/internal/registry/pubsub"
)

func init() {
	registrypubsub.Register(registrypubsub.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrypubsub.PubSub, error) {
			return PubSub{}, nil
		},
	})
}

// PubSub drops every publish. Research capsule publishing is optional; with
// no bus configured the research handler degrades to a no-op.
type PubSub struct{}

func (PubSub) Publish(context.Context, string, []byte) error { return nil }

func (PubSub) Close() error { return nil }

var _ registrypubsub.PubSub = PubSub{}
