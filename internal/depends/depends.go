// Package depends gates individual plugin functions on external
// requirements at registration time.
package depends

import (
	"context"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
)

// DefaultCapabilities are the library names every process provides.
var DefaultCapabilities = []string{"hcl", "cty", "yaml", "cue", "fsnotify", "doublestar"}

// ModuleChecker reports modules already registered by a loader.
type ModuleChecker interface {
	HasModule(name string) bool
}

// Gate checks requirements. The zero value provides nothing.
type Gate struct {
	provided map[string]bool
	lookPath func(string) (string, error)
}

// New returns a gate providing DefaultCapabilities plus extra.
func New(extra ...string) *Gate {
	g := &Gate{provided: map[string]bool{}, lookPath: exec.LookPath}
	g.Provide(DefaultCapabilities...)
	g.Provide(extra...)
	return g
}

// Provide adds capability names.
func (g *Gate) Provide(names ...string) {
	if g.provided == nil {
		g.provided = map[string]bool{}
	}
	for _, n := range names {
		if n != "" {
			g.provided[n] = true
		}
	}
}

// Apply returns funcs with every gated function either removed or replaced
// by its fallback. funcs is keyed by defined name and is not modified.
// names are the module names the unit is published under; a "mod.fn"
// requirement naming one of them refers to funcs. Excluded functions are
// returned as errors for diagnostics only.
func (g *Gate) Apply(ctx context.Context, unit plugin.Unit, names []string, shared *plugin.Context, modules ModuleChecker, funcs map[string]plugin.Func) (map[string]plugin.Func, []*plugin.DependencyError) {
	dd, ok := unit.(plugin.DependencyDeclarer)
	if !ok {
		return funcs, nil
	}
	deps := dd.Dependencies()
	if len(deps) == 0 {
		return funcs, nil
	}

	if len(names) == 0 {
		names = []string{unit.Name()}
	}
	logger := ctxlog.FromContext(ctx).With("module", names[0], "unit", unit.Tag())
	out := maps.Clone(funcs)
	var excluded []*plugin.DependencyError

	for _, dep := range deps {
		if _, ok := funcs[dep.Func]; !ok {
			continue
		}
		unmet := g.firstUnmet(unit, names, shared, modules, funcs, dep.Requires)
		if unmet == "" {
			continue
		}
		depErr := &plugin.DependencyError{Func: dep.Func, Requirement: unmet}

		if fb, ok := funcs[dep.Fallback]; ok && dep.Fallback != "" {
			out[dep.Func] = fb
			logger.Debug("Dependency unmet, using fallback.", "function", dep.Func, "fallback", dep.Fallback, "requirement", unmet)
			continue
		}
		delete(out, dep.Func)
		excluded = append(excluded, depErr)
		logger.Debug("Dependency unmet, function excluded.", "error", depErr)
	}
	return out, excluded
}

func (g *Gate) firstUnmet(unit plugin.Unit, names []string, shared *plugin.Context, modules ModuleChecker, funcs map[string]plugin.Func, reqs []string) string {
	for _, req := range reqs {
		if !g.met(unit, names, shared, modules, funcs, req) {
			return req
		}
	}
	return ""
}

func (g *Gate) met(unit plugin.Unit, names []string, shared *plugin.Context, modules ModuleChecker, funcs map[string]plugin.Func, req string) bool {
	if kind, arg, ok := strings.Cut(req, ":"); ok && !strings.Contains(kind, ".") {
		switch kind {
		case "bin":
			lookPath := g.lookPath
			if lookPath == nil {
				lookPath = exec.LookPath
			}
			_, err := lookPath(arg)
			return err == nil
		case "env":
			return os.Getenv(arg) != ""
		case "file":
			_, err := os.Stat(arg)
			return err == nil
		}
		return false
	}

	if mod, fn, ok := strings.Cut(req, "."); ok {
		if slices.Contains(names, mod) {
			_, defined := funcs[fn]
			return defined
		}
		return shared != nil && shared.Available(req)
	}

	if g.provided[req] {
		return true
	}
	if lt, ok := unit.(interface{ HasLibrary(string) bool }); ok && lt.HasLibrary(req) {
		return true
	}
	return modules != nil && modules.HasModule(req)
}
