package loader

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/grainload/internal/plugin"
)

// Function is one registered callable. The same pointer is handed out for
// its primary key and every alias key until the next Clear.
type Function struct {
	// Key is the primary "module.function" key.
	Key string
	// Module is the resolved public module name.
	Module string
	// Name is the public function name.
	Name string
	// Unit is the import tag of the owning unit.
	Unit string
	// Path is the owning unit's source path, empty for built-ins.
	Path       string
	Generation uint64
	// Aliases are the other keys the function is reachable under.
	Aliases []string

	fn plugin.Func
}

// Call invokes the function.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.fn(ctx, args...)
}

// ModuleView exposes every registered function of one module.
type ModuleView struct {
	name  string
	funcs map[string]*Function
}

// Name is the module name the view was requested under.
func (m *ModuleView) Name() string { return m.name }

// Functions lists the public function names, sorted.
func (m *ModuleView) Functions() []string {
	names := make([]string, 0, len(m.funcs))
	for n := range m.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Func returns one function by public name.
func (m *ModuleView) Func(name string) (*Function, bool) {
	f, ok := m.funcs[name]
	return f, ok
}

// Call invokes one function by public name.
func (m *ModuleView) Call(ctx context.Context, name string, args ...any) (any, error) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", m.name, name, plugin.ErrNotFound)
	}
	return f.Call(ctx, args...)
}
