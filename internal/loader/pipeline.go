package loader

import (
	"context"
	"strings"

	"github.com/vk/grainload/internal/compiler"
	"github.com/vk/grainload/internal/locator"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/virtual"
)

// loadModule runs the import pipeline for one candidate and registers its
// functions. It reports whether anything was registered. Every failure is
// recorded and logged, never returned.
func (l *Loader) loadModule(cand *locator.Candidate) bool {
	name := cand.Name
	l.attempted[name] = true
	logger := l.logger.With("module", name, "path", cand.Path())

	if l.disabled[name] {
		l.exclude(name, "disabled by configuration")
		return false
	}

	l.states[name] = StateLocated
	unit, err := l.compiler.Import(l.ctx, cand, compiler.Options{
		RegistryTag: l.tag,
		Dispatchers: l.Context().Dispatchers(),
	})
	if err != nil {
		l.states[name] = StateImportFailed
		l.missing[name] = err.Error()
		logger.Error("Failed to import module.", "error", err)
		return false
	}
	l.states[name] = StateImported

	shared := l.Context()
	l.injector.Bind(l.ctx, unit)

	res := virtual.Resolve(l.ctx, unit, shared, l.virtualEnable)
	if res.Disabled {
		l.states[name] = StateVirtualDisabled
		l.missing[name] = res.Err.Error()
		return false
	}
	if res.Name != name && l.disabled[res.Name] {
		l.exclude(name, "disabled by configuration as "+res.Name)
		return false
	}

	moduleNames := append([]string{res.Name}, res.Aliases...)
	public := l.exports(l.ctx, unit, moduleNames, shared)

	rec := &moduleRecord{name: res.Name, file: name, unit: unit}
	for _, p := range public {
		rec.funcs = append(rec.funcs, p.name)
	}
	for _, m := range moduleNames {
		if prev, ok := l.modules[m]; ok && prev.unit != unit {
			logger.Debug("Module name collision, most recent wins.", "name", m, "previous", prev.unit.Tag())
			l.unregister(m, prev)
		}
		l.modules[m] = rec
	}

	for _, p := range public {
		f := &Function{
			Key:        res.Name + "." + p.name,
			Module:     res.Name,
			Name:       p.name,
			Unit:       unit.Tag(),
			Path:       unit.Path(),
			Generation: l.generation,
			fn:         p.fn,
		}
		for _, alias := range res.Aliases {
			f.Aliases = append(f.Aliases, alias+"."+p.name)
		}
		for _, m := range moduleNames {
			l.funcs[m+"."+p.name] = f
		}
	}

	l.units = append(l.units, unit)
	l.states[name] = StateRegistered
	if res.Name != name {
		l.states[res.Name] = StateRegistered
	}
	if path := unit.Path(); path != "" {
		l.files[path] = res.Name
	}
	if lt, ok := unit.(plugin.LibraryTracker); ok {
		for _, lib := range lt.Libraries() {
			l.files[lib] = res.Name
		}
	}

	logger.Debug("Module registered.", "name", res.Name, "aliases", res.Aliases, "functions", len(public), "unit", unit.Tag())
	return len(public) > 0
}

type exported struct {
	name string
	fn   plugin.Func
}

// exports applies, in order, the reserved-name filter, the dependency gate,
// the unit's load list and its function renames.
func (l *Loader) exports(ctx context.Context, unit plugin.Unit, names []string, shared *plugin.Context) []exported {
	defined := unit.Exports()
	funcs := make(map[string]plugin.Func, len(defined))
	for _, name := range defined {
		if _, reserved := plugin.ReservedNames[name]; reserved || strings.HasPrefix(name, "_") {
			continue
		}
		if fn, ok := unit.Func(name); ok {
			funcs[name] = fn
		}
	}

	gated, _ := l.gate.Apply(ctx, unit, names, shared, l, funcs)

	var allow map[string]bool
	if ll, ok := unit.(plugin.LoadLister); ok {
		if list := ll.LoadList(); list != nil {
			allow = make(map[string]bool, len(list))
			for _, n := range list {
				allow[n] = true
			}
		}
	}
	var renames map[string]string
	if fa, ok := unit.(plugin.FuncAliaser); ok {
		renames = fa.FuncAliases()
	}

	var out []exported
	for _, name := range defined {
		fn, ok := gated[name]
		if !ok {
			continue
		}
		if allow != nil && !allow[name] {
			continue
		}
		public := name
		if r, ok := renames[name]; ok && r != "" {
			public = r
		}
		out = append(out, exported{name: public, fn: fn})
	}
	return out
}

// exclude records a module removed by the disabled-module list.
func (l *Loader) exclude(name, reason string) {
	l.states[name] = StateExcluded
	l.missing[name] = reason
	l.logger.Debug("Module excluded.", "module", name, "reason", reason)
}

// unregister drops the keys a previous unit holds under module name m.
func (l *Loader) unregister(m string, prev *moduleRecord) {
	for _, fn := range prev.funcs {
		key := m + "." + fn
		if f, ok := l.funcs[key]; ok && f.Unit == prev.unit.Tag() {
			delete(l.funcs, key)
		}
	}
}
