// Package pillar exposes the node's pillar data to other plugins.
package pillar

import (
	"context"

	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
	"github.com/vk/grainload/modules/grains"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the pillar execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "pillar", func() plugin.Unit { return New() })
}

// New returns a fresh pillar unit.
func New() *plugin.Native {
	n := plugin.NewNative("pillar")
	n.Define("get", func(_ context.Context, args ...any) (any, error) {
		return grains.Get(n.Shared(), n.Shared().Pillar, args)
	})
	n.Define("items", func(context.Context, ...any) (any, error) {
		return n.Shared().Pillar, nil
	})
	n.Define("ls", func(context.Context, ...any) (any, error) {
		return grains.Keys(n.Shared().Pillar), nil
	})
	return n
}
