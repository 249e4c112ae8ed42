package disabled

import (
	"context"
	"fmt"

	registrycomplete "github.com/mranderson01901234/5.0-sub004/internal/registry/complete"
)

func init() {
	registrycomplete.Register(registrycomplete.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrycomplete.Completer, error) {
			return &disabledCompleter{}, nil
		},
	})
}

type disabledCompleter struct{}

func (d *disabledCompleter) Complete(context.Context, string, string, int) (string, error) {
	return "", fmt.Errorf("text completion is disabled")
}

func (d *disabledCompleter) ModelName() string { return "none" }

var _ registrycomplete.Completer = (*disabledCompleter)(nil)
