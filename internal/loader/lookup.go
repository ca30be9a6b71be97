package loader

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/vk/grainload/internal/plugin"
)

func splitKey(key any) (string, string, error) {
	s, ok := key.(string)
	if !ok || s == "" {
		return "", "", &plugin.KeyLookupError{Key: key}
	}
	mod, fn, ok := strings.Cut(s, ".")
	if !ok || mod == "" || fn == "" {
		return "", "", &plugin.KeyLookupError{Key: key}
	}
	return mod, fn, nil
}

func notFound(key string) error {
	return fmt.Errorf("%s: %w", key, plugin.ErrNotFound)
}

// Get returns the function registered under key ("module.function"),
// loading what is needed to find it. Malformed keys return a
// *plugin.KeyLookupError; well-formed keys nothing provides return
// plugin.ErrNotFound.
func (l *Loader) Get(key any) (*Function, error) {
	mod, _, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	k := key.(string)

	if f, ok := l.funcs[k]; ok {
		return f, nil
	}
	if l.whitelist != nil && !l.whitelist[mod] {
		return nil, notFound(k)
	}
	if _, ok := l.missing[mod]; ok || l.disabled[mod] {
		return nil, notFound(k)
	}

	found := func() bool {
		_, ok := l.funcs[k]
		return ok
	}
	if l.search(mod, found) {
		return l.funcs[k], nil
	}
	return nil, notFound(k)
}

// search loads candidates until found reports true: the candidate named mod
// first, then every other candidate not yet attempted, since a virtual name
// may differ from a file name. When nothing matches the directories are
// rescanned once and the search repeated.
func (l *Loader) search(mod string, found func() bool) bool {
	for rescanned := false; ; rescanned = true {
		if cand, ok := l.mapping.Get(mod); ok && l.eligible(mod) {
			l.loadModule(cand)
			if found() {
				return true
			}
		}
		for _, name := range l.mapping.Names() {
			if !l.eligible(name) {
				continue
			}
			cand, ok := l.mapping.Get(name)
			if !ok {
				continue
			}
			l.loadModule(cand)
			if found() {
				return true
			}
		}
		if rescanned {
			return false
		}
		l.rescan()
	}
}

// eligible reports whether candidate name may still be loaded in this
// generation.
func (l *Loader) eligible(name string) bool {
	if l.attempted[name] {
		return false
	}
	return l.whitelist == nil || l.whitelist[name]
}

// rescan refreshes the candidate mapping without dropping loaded units.
func (l *Loader) rescan() {
	l.mapping = l.locate()
	l.logger.Debug("Search directories rescanned.", "candidates", l.mapping.Len())
}

// Contains reports whether Get would succeed. It never fails, even for keys
// that are not strings.
func (l *Loader) Contains(key any) bool {
	_, err := l.Get(key)
	return err == nil
}

// Has implements plugin.Dispatcher.
func (l *Loader) Has(key string) bool {
	return l.Contains(key)
}

// Call implements plugin.Dispatcher.
func (l *Loader) Call(ctx context.Context, key string, args ...any) (any, error) {
	f, err := l.Get(key)
	if err != nil {
		return nil, err
	}
	return f.Call(ctx, args...)
}

// HasModule reports whether name is already registered. It never loads.
func (l *Loader) HasModule(name string) bool {
	_, ok := l.modules[name]
	return ok
}

// loadAll loads every eligible candidate.
func (l *Loader) loadAll() {
	for _, name := range l.mapping.Names() {
		if !l.eligible(name) {
			continue
		}
		if cand, ok := l.mapping.Get(name); ok {
			l.loadModule(cand)
		}
	}
}

// Keys returns every registered key, alias keys included, sorted. It loads
// every candidate first.
func (l *Loader) Keys() []string {
	l.loadAll()
	keys := make([]string, 0, len(l.funcs))
	for k := range l.funcs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of registered keys after a full load.
func (l *Loader) Len() int {
	l.loadAll()
	return len(l.funcs)
}

// All returns every registered function by key after a full load.
func (l *Loader) All() map[string]*Function {
	l.loadAll()
	return maps.Clone(l.funcs)
}

// Module returns every function registered under one module name.
func (l *Loader) Module(name string) (*ModuleView, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, &plugin.KeyLookupError{Key: name}
	}
	if _, ok := l.modules[name]; !ok {
		if l.whitelist != nil && !l.whitelist[name] {
			return nil, notFound(name)
		}
		if _, ok := l.missing[name]; ok {
			return nil, notFound(name)
		}
		if !l.search(name, func() bool { return l.HasModule(name) }) {
			return nil, notFound(name)
		}
	}

	view := &ModuleView{name: name, funcs: map[string]*Function{}}
	for _, fn := range l.modules[name].funcs {
		if f, ok := l.funcs[name+"."+fn]; ok {
			view.funcs[fn] = f
		}
	}
	return view, nil
}
