// Package virtual decides the public name of an imported unit: its file
// name, a replacement name from its availability hook, or nothing at all.
package virtual

import (
	"context"
	"fmt"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
)

// Result is the outcome of resolving one unit.
type Result struct {
	Name     string
	Aliases  []string
	Disabled bool
	// Err explains a disabled result.
	Err *plugin.VirtualError
}

// Resolve runs the unit's availability hook with the shared context already
// bound. Hook errors and panics disable the unit; they are logged and never
// returned. With enabled false the hook is skipped.
func Resolve(ctx context.Context, unit plugin.Unit, shared *plugin.Context, enabled bool) Result {
	logger := ctxlog.FromContext(ctx).With("module", unit.Name(), "unit", unit.Tag())
	res := Result{Name: unit.Name()}

	if enabled {
		if hook, ok := unit.(plugin.VirtualResolver); ok {
			vr, err := runHook(hook, shared)
			switch {
			case err != nil:
				res.Disabled = true
				res.Err = &plugin.VirtualError{Module: unit.Name(), Err: err}
			case !vr.Enabled:
				res.Disabled = true
				res.Err = &plugin.VirtualError{Module: unit.Name(), Reason: vr.Reason}
			case vr.Name != "":
				res.Name = vr.Name
			}
		}
	}

	if res.Disabled {
		logger.Debug("Module disabled by virtual hook.", "error", res.Err)
		return res
	}

	if ap, ok := unit.(plugin.AliasProvider); ok {
		seen := map[string]bool{res.Name: true}
		for _, alias := range ap.VirtualAliases() {
			if alias == "" || seen[alias] {
				continue
			}
			seen[alias] = true
			res.Aliases = append(res.Aliases, alias)
		}
	}

	if res.Name != unit.Name() || len(res.Aliases) > 0 {
		logger.Debug("Virtual name resolved.", "name", res.Name, "aliases", res.Aliases)
	}
	return res
}

func runHook(hook plugin.VirtualResolver, shared *plugin.Context) (vr plugin.VirtualResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("virtual hook panicked: %v", r)
		}
	}()
	return hook.Virtual(shared)
}
