// Package grains exposes the node's grains to other plugins.
package grains

import (
	"context"
	"sort"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
	"github.com/vk/grainload/modules/utils/data"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the grains execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "grains", func() plugin.Unit { return New() })
}

// New returns a fresh grains unit.
func New() *plugin.Native {
	n := plugin.NewNative("grains")
	n.Define("get", func(_ context.Context, args ...any) (any, error) {
		return Get(n.Shared(), n.Shared().Grains, args)
	})
	n.Define("items", func(context.Context, ...any) (any, error) {
		return n.Shared().Grains, nil
	})
	n.Define("ls", func(context.Context, ...any) (any, error) {
		return Keys(n.Shared().Grains), nil
	})
	n.Define("setval", func(_ context.Context, args ...any) (any, error) {
		a, err := plugin.BindArgs(args, "key", "val")
		if err != nil {
			return nil, err
		}
		key := a.String("key", "")
		n.Shared().Grains[key] = a["val"]
		return map[string]any{key: a["val"]}, nil
	})
	return n
}

// Get implements get(key, default="", delimiter) over tree. The delimiter
// defaults to the configured target delimiter.
func Get(c *plugin.Context, tree map[string]any, args []any) (any, error) {
	a, err := plugin.BindArgs(args, "key", "default", "delimiter")
	if err != nil {
		return nil, err
	}
	def, ok := a["default"]
	if !ok {
		def = ""
	}
	v, found := data.Traverse(tree, a.String("key", ""), a.String("delimiter", config.Delimiter(c.Opts)))
	if !found {
		return def, nil
	}
	return v, nil
}

// Keys returns the top-level keys of tree, sorted.
func Keys(tree map[string]any) []any {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
