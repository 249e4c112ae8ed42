package route

import (
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a plugin's routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType says which listener a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain routes serve the API listener.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes serve health, readiness and metrics. They
	// mount on the main listener when no management port is configured.
	RouteTypeManagement
)

// Plugin is one registered route loader. Order fixes the mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func loaders(t RouteType) []RouterLoader {
	ordered := make([]Plugin, len(plugins))
	copy(ordered, plugins)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var out []RouterLoader
	for _, p := range ordered {
		if p.Type == t {
			out = append(out, p.Loader)
		}
	}
	return out
}

// MainRouteLoaders returns the API route loaders in mount order.
func MainRouteLoaders() []RouterLoader { return loaders(RouteTypeMain) }

// ManagementRouteLoaders returns the management route loaders in mount order.
func ManagementRouteLoaders() []RouterLoader { return loaders(RouteTypeManagement) }
