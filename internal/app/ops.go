package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/loader"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/state"
	"github.com/vk/grainload/internal/watch"
)

func (a *App) lookup(tag string) (*loader.Loader, error) {
	l, ok := a.registries[tag]
	if !ok {
		return nil, fmt.Errorf("unknown registry tag %q", tag)
	}
	return l, nil
}

// Call runs key on the registry for tag.
func (a *App) Call(ctx context.Context, tag, key string, args ...any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, err := a.lookup(tag)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Calling function.", "tag", tag, "key", key, "args", len(args))
	return l.Call(ctx, key, args...)
}

// Functions returns every key the registry for tag provides, loading all
// of its plugins.
func (a *App) Functions(tag string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, err := a.lookup(tag)
	if err != nil {
		return nil, err
	}
	return l.Keys(), nil
}

// Modules returns the module names loaded into the registry for tag,
// aliases included.
func (a *App) Modules(tag string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, err := a.lookup(tag)
	if err != nil {
		return nil, err
	}
	return l.Modules(), nil
}

// Missing maps module names of the registry for tag that failed to load to
// the reason.
func (a *App) Missing(tag string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, err := a.lookup(tag)
	if err != nil {
		return nil, err
	}
	return l.Missing(), nil
}

// Match evaluates tgt with the matcher called kind, "compound" by default.
func (a *App) Match(ctx context.Context, tgt, kind string) (bool, error) {
	if kind == "" {
		kind = "compound"
	}
	res, err := a.Call(ctx, TagMatchers, kind+".match", tgt)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("matcher %s returned %T, not bool", kind, res)
	}
	return b, nil
}

// State runs a state function with named arguments.
func (a *App) State(ctx context.Context, key string, kwargs map[string]any) (*state.Result, error) {
	res, err := a.Call(ctx, TagStates, key, plugin.Kwargs(kwargs))
	if err != nil {
		return nil, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state %s returned %T, not a result", key, res)
	}
	return state.FromMap(m)
}

// ClearFor clears every registry with a search directory containing one of
// paths and returns their tags.
func (a *App) ClearFor(ctx context.Context, paths []string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var cleared []string
	for _, tag := range a.Tags() {
		l := a.registries[tag]
		if !affects(l.Dirs(), paths) {
			continue
		}
		stale := changedModules(l.Files(), paths)
		l.Clear()
		cleared = append(cleared, tag)
		ctxlog.FromContext(ctx).Debug("Registry cleared.", "tag", tag, "modules", stale)
	}
	sort.Strings(cleared)
	ctxlog.FromContext(ctx).Info("Registries reloaded.", "tags", cleared, "changed", len(paths))
	return cleared
}

// changedModules names the loaded modules whose source or library files are
// among paths.
func changedModules(files map[string]string, paths []string) []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range paths {
		name, ok := files[p]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func affects(dirs, paths []string) bool {
	for _, d := range dirs {
		for _, p := range paths {
			if watch.Within(d, p) {
				return true
			}
		}
	}
	return false
}

// watchDirs is the union of every registry's search directories.
func (a *App) watchDirs() []string {
	var dirs []string
	for _, tag := range a.Tags() {
		dirs = append(dirs, a.registries[tag].Dirs()...)
	}
	return dirs
}
