package route

import (
	"cmp"
	"slices"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts routes on r.
type RouterLoader func(r gin.IRouter) error

// RouteType says whether routes are subject to the maintenance gate.
type RouteType int

const (
	// RouteTypeMain routes serve chat data and are gated while the memory
	// migration runs.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) are never gated.
	RouteTypeManagement
)

// Plugin represents a route plugin with an order for deterministic mount sequence.
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
	sorted := slices.Clone(plugins)
	slices.SortStableFunc(sorted, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	var out []RouterLoader
	for _, p := range sorted {
		if p.Type == t {
			out = append(out, p.Loader)
		}
	}
	return out
}

// MainRouteLoaders returns loaders for RouteTypeMain plugins, sorted by order.
func MainRouteLoaders() []RouterLoader { return loaders(RouteTypeMain) }

// ManagementRouteLoaders returns loaders for RouteTypeManagement plugins, sorted by order.
func ManagementRouteLoaders() []RouterLoader { return loaders(RouteTypeManagement) }
