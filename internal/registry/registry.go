package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/grainload/internal/plugin"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the built-in plugin factories of a single application
// instance, grouped by tag.
type Registry struct {
	builtins map[string]map[string]plugin.Builtin
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{builtins: make(map[string]map[string]plugin.Builtin)}
}

// Load registers every module into a new Registry.
func Load(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterBuiltin adds a factory for the plugin called name under tag.
// Registering the same tag and name twice is a programming error.
func (r *Registry) RegisterBuiltin(tag, name string, factory func() plugin.Unit) {
	byName, ok := r.builtins[tag]
	if !ok {
		byName = make(map[string]plugin.Builtin)
		r.builtins[tag] = byName
	}
	if _, exists := byName[name]; exists {
		panic(fmt.Sprintf("builtin '%s' already registered for tag '%s'", name, tag))
	}
	slog.Debug("Registering builtin.", "tag", tag, "name", name)
	byName[name] = plugin.Builtin{Tag: tag, Name: name, New: factory}
}

// Builtins returns the factories registered under tag, sorted by name.
func (r *Registry) Builtins(tag string) []plugin.Builtin {
	byName := r.builtins[tag]
	out := make([]plugin.Builtin, 0, len(byName))
	for _, b := range byName {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tags lists every tag with at least one builtin, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.builtins))
	for t := range r.builtins {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
