// Package loader is the lazy registry: a string-keyed collection of plugin
// functions populated on demand from search directories and built-ins.
//
// A Loader is not safe for concurrent use. Callers sharing one across
// goroutines serialize access themselves.
package loader

import (
	"context"
	"log/slog"
	"maps"
	"sort"

	"github.com/google/uuid"

	"github.com/vk/grainload/internal/compiler"
	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/depends"
	"github.com/vk/grainload/internal/inject"
	"github.com/vk/grainload/internal/locator"
	"github.com/vk/grainload/internal/plugin"
)

// Config holds registry construction parameters.
type Config struct {
	// Dirs are the search directories in precedence order.
	Dirs []string
	// Tag names the plugin kind, such as "module" or "states".
	Tag string
	// Opts is the options mapping. It is shared, not copied.
	Opts map[string]any
	// Pack holds named objects injected into every unit.
	Pack map[string]any
	// Whitelist, when non-empty, limits loading to the listed modules.
	Whitelist []string
	// Disabled excludes modules; opts["disable_modules"] is added to it.
	Disabled []string
	// VirtualEnable runs availability hooks. Nil reads
	// opts["virtual_enable"], defaulting to true.
	VirtualEnable *bool
	// OptimizationOrder is the tier preference. Nil reads
	// opts["optimization_order"].
	OptimizationOrder []compiler.Tier
	Builtins          []plugin.Builtin
	// Requirements are extra capability names for dependency checks.
	Requirements []string
}

type moduleRecord struct {
	name  string
	file  string
	unit  plugin.Unit
	funcs []string
}

// Loader is the lazy registry.
type Loader struct {
	id            string
	tag           string
	dirs          []string
	builtins      []plugin.Builtin
	whitelist     map[string]bool
	disabled      map[string]bool
	virtualEnable bool

	compiler *compiler.Compiler
	gate     *depends.Gate
	injector *inject.Injector
	ctx      context.Context
	logger   *slog.Logger

	generation uint64
	mapping    *locator.Mapping
	attempted  map[string]bool
	funcs      map[string]*Function
	modules    map[string]*moduleRecord
	units      []plugin.Unit
	missing    map[string]string
	states     map[string]State
	files      map[string]string
}

var _ plugin.Dispatcher = (*Loader)(nil)

// New validates cfg and returns an empty registry. Nothing is imported until
// the first lookup.
func New(ctx context.Context, cfg Config) (*Loader, error) {
	if cfg.Tag == "" {
		cfg.Tag = "module"
	}
	if cfg.Opts == nil {
		cfg.Opts = map[string]any{}
	}
	if cfg.Pack == nil {
		cfg.Pack = map[string]any{}
	}

	if d, ok := cfg.Opts["target_delimiter"]; ok {
		s, _ := d.(string)
		if err := config.ValidateDelimiter(s); err != nil {
			return nil, err
		}
	}
	order := cfg.OptimizationOrder
	if order == nil {
		var err error
		if order, err = config.TierOrder(cfg.Opts["optimization_order"]); err != nil {
			return nil, err
		}
	}
	comp, err := compiler.New(order)
	if err != nil {
		return nil, &config.ValidationError{Field: "optimization_order", Reason: "bad tier order", Err: err}
	}

	virtualEnable := true
	if cfg.VirtualEnable != nil {
		virtualEnable = *cfg.VirtualEnable
	} else if v, ok := cfg.Opts["virtual_enable"].(bool); ok {
		virtualEnable = v
	}

	id := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("tag", cfg.Tag, "registry", id)

	l := &Loader{
		id:            id,
		tag:           cfg.Tag,
		dirs:          append([]string{}, cfg.Dirs...),
		builtins:      append([]plugin.Builtin{}, cfg.Builtins...),
		whitelist:     nameSet(cfg.Whitelist),
		disabled:      nameSet(append(append([]string{}, cfg.Disabled...), locator.StringList(cfg.Opts["disable_modules"])...)),
		virtualEnable: virtualEnable,
		compiler:      comp,
		gate:          depends.New(cfg.Requirements...),
		ctx:           ctxlog.WithLogger(ctx, logger),
		logger:        logger,
	}
	shared := plugin.NewContext(cfg.Tag, cfg.Opts, cfg.Pack)
	l.injector = inject.New(shared, l)
	l.reset()

	logger.Debug("Registry created.", "dirs", l.dirs, "builtins", len(l.builtins), "virtual_enable", virtualEnable)
	return l, nil
}

func nameSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// reset starts a new generation and rescans the search directories.
func (l *Loader) reset() {
	l.generation++
	l.attempted = map[string]bool{}
	l.funcs = map[string]*Function{}
	l.modules = map[string]*moduleRecord{}
	l.units = nil
	l.missing = map[string]string{}
	l.states = map[string]State{}
	l.files = map[string]string{}
	l.mapping = l.locate()
}

func (l *Loader) locate() *locator.Mapping {
	return locator.Locate(l.ctx, l.dirs, l.builtins)
}

// Clear drops every loaded unit and function and rescans the directories.
// The shared context and pack survive; functions handed out earlier keep
// working against their own generation.
func (l *Loader) Clear() {
	prev := l.generation
	l.reset()
	l.logger.Info("Registry cleared.", "previous_generation", prev, "generation", l.generation)
}

// ID is the registry instance id.
func (l *Loader) ID() string { return l.id }

// Tag is the plugin kind.
func (l *Loader) Tag() string { return l.tag }

// Dirs are the search directories.
func (l *Loader) Dirs() []string { return append([]string{}, l.dirs...) }

// Generation increases with every Clear.
func (l *Loader) Generation() uint64 { return l.generation }

// Context is the shared context injected into every unit.
func (l *Loader) Context() *plugin.Context { return l.injector.Shared() }

// Pack is the shared pack mapping. Entries added to it are visible to loaded
// units on their next call.
func (l *Loader) Pack() map[string]any { return l.injector.Shared().Pack }

// Refresh replaces the options in place for every loaded unit.
func (l *Loader) Refresh(opts map[string]any) {
	l.injector.Refresh(l.ctx, opts, l.units...)
	l.logger.Debug("Options refreshed.", "units", len(l.units))
}

// Missing maps module names that failed to load to the reason.
func (l *Loader) Missing() map[string]string {
	return maps.Clone(l.missing)
}

// State reports the load state of a module name in the current generation.
func (l *Loader) State(name string) State {
	if s, ok := l.states[name]; ok {
		return s
	}
	if _, ok := l.mapping.Get(name); ok {
		return StateLocated
	}
	return StateUnseen
}

// Files maps every loaded source and library path to its module name.
func (l *Loader) Files() map[string]string {
	return maps.Clone(l.files)
}

// Modules lists the registered module names, aliases included, sorted.
func (l *Loader) Modules() []string {
	names := make([]string, 0, len(l.modules))
	for n := range l.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
