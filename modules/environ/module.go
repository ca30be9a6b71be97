// Package environ provides the execution module for reading the process
// environment.
package environ

import (
	"context"
	"os"
	"strings"

	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the environ execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "environ", func() plugin.Unit { return New() })
}

// New returns a fresh environ unit.
func New() *plugin.Native {
	return plugin.NewNative("environ").
		Define("get", get).
		Define("items", items).
		Define("has_value", hasValue)
}

// Items returns the process environment as a map.
func Items() map[string]any {
	env := make(map[string]any)
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if ok {
			env[k] = v
		}
	}
	return env
}

// get(key, default="")
func get(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "key", "default")
	if err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(a.String("key", "")); ok {
		return v, nil
	}
	return a.String("default", ""), nil
}

func items(context.Context, ...any) (any, error) {
	return Items(), nil
}

// has_value(key, value=null) reports whether key is set and, when value is
// given, whether it holds exactly value.
func hasValue(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "key", "value")
	if err != nil {
		return nil, err
	}
	v, ok := os.LookupEnv(a.String("key", ""))
	if !ok {
		return false, nil
	}
	if !a.Has("value") {
		return true, nil
	}
	return v == a.String("value", ""), nil
}
