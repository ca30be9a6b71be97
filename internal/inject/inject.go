// Package inject binds a registry's shared context into loaded plugin units
// and renders it as the evaluation namespace of HCL plugins.
package inject

import (
	"context"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
)

// Injector binds one shared context into every unit it is handed.
type Injector struct {
	shared *plugin.Context
}

// New returns an injector for shared. A "salt" pack entry defaults to self.
func New(shared *plugin.Context, self plugin.Dispatcher) *Injector {
	shared.Self = self
	if _, ok := shared.Pack["salt"]; !ok && self != nil {
		shared.Pack["salt"] = self
	}
	return &Injector{shared: shared}
}

// Shared returns the bound context.
func (i *Injector) Shared() *plugin.Context {
	return i.shared
}

// Bind injects the shared context into unit. Binding the same unit again is
// harmless and picks up pack or option changes.
func (i *Injector) Bind(ctx context.Context, unit plugin.Unit) {
	b, ok := unit.(plugin.Binder)
	if !ok {
		return
	}
	b.Bind(i.shared)
	ctxlog.FromContext(ctx).Debug("Context injected.", "module", unit.Name(), "unit", unit.Tag())
}

// Refresh replaces the options in place and rebinds units, so already loaded
// functions observe the new values without a reload.
func (i *Injector) Refresh(ctx context.Context, opts map[string]any, units ...plugin.Unit) {
	i.shared.SetOpts(opts)
	for _, u := range units {
		i.Bind(ctx, u)
	}
}
