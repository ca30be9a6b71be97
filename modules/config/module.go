// Package config is the execution module reading merged configuration:
// options first, then grains, then pillar.
package config

import (
	"context"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
	"github.com/vk/grainload/modules/utils/data"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the config execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "config", func() plugin.Unit { return New() })
}

// New returns a fresh config unit.
func New() *plugin.Native {
	n := plugin.NewNative("config")
	n.Define("get", func(_ context.Context, args ...any) (any, error) {
		a, err := plugin.BindArgs(args, "key", "default", "delimiter")
		if err != nil {
			return nil, err
		}
		c := n.Shared()
		key := a.String("key", "")
		delim := a.String("delimiter", config.Delimiter(c.Opts))
		for _, tree := range []map[string]any{c.Opts, c.Grains, c.Pillar} {
			if v, ok := data.Traverse(tree, key, delim); ok {
				return v, nil
			}
		}
		if def, ok := a["default"]; ok {
			return def, nil
		}
		return "", nil
	})
	return n
}
