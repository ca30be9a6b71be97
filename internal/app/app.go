package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/loader"
	"github.com/vk/grainload/internal/locator"
	"github.com/vk/grainload/internal/registry"
)

// Plugin kinds, in construction order. Later kinds get the earlier
// registries injected into their pack.
const (
	TagUtils    = "utils"
	TagModule   = "module"
	TagStates   = "states"
	TagMatchers = "matchers"
)

// kind describes how one registry finds its plugins.
type kind struct {
	tag     string
	ext     string
	dirsKey string
	pack    []string // tags injected into the pack
}

var kinds = []kind{
	{tag: TagUtils, ext: "utils", dirsKey: "utils_dirs"},
	{tag: TagModule, ext: "modules", dirsKey: "module_dirs", pack: []string{TagUtils}},
	{tag: TagStates, ext: "states", dirsKey: "states_dirs", pack: []string{TagUtils, TagModule}},
	{tag: TagMatchers, ext: "matchers", dirsKey: "matchers_dirs", pack: []string{TagUtils, TagModule}},
}

// packName is the pack entry a registry of tag is injected as.
func packName(tag string) string {
	if tag == TagModule {
		return "salt"
	}
	return tag
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *Config
	opts   map[string]any

	catalog    *registry.Registry
	mu         sync.Mutex
	registries map[string]*loader.Loader

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads the options
// file and builds one registry per plugin kind, each with its own isolated
// logger. Nothing is imported until the first lookup.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	opts, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load options: %w", err)
	}
	applyFlags(opts, appConfig)
	logger.Debug("Options loaded.", "path", appConfig.ConfigPath, "id", opts["id"])

	if len(modules) == 0 {
		modules = coreModules
	}
	catalog := registry.Load(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules), "tags", catalog.Tags())

	a := &App{
		outW:       outW,
		logger:     logger,
		ctx:        ctx,
		config:     appConfig,
		opts:       opts,
		catalog:    catalog,
		registries: map[string]*loader.Loader{},
	}
	for _, k := range kinds {
		if err := a.addRegistry(k); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// applyFlags folds command line directories and the dry-run flag into the
// options.
func applyFlags(opts map[string]any, cfg *Config) {
	appendDirs := func(key string, dirs []string) {
		if len(dirs) == 0 {
			return
		}
		opts[key] = append(locator.StringList(opts[key]), dirs...)
	}
	appendDirs("module_dirs", cfg.ModuleDirs)
	appendDirs("states_dirs", cfg.StateDirs)
	appendDirs("matchers_dirs", cfg.MatcherDirs)
	appendDirs("utils_dirs", cfg.UtilsDirs)
	if cfg.Test {
		opts["test"] = true
	}
}

func (a *App) addRegistry(k kind) error {
	pack := map[string]any{}
	for _, tag := range k.pack {
		pack[packName(tag)] = a.registries[tag]
	}
	cfg := loader.Config{
		Dirs:     locator.SearchDirs(a.opts, k.ext, k.dirsKey),
		Tag:      k.tag,
		Opts:     a.opts,
		Pack:     pack,
		Builtins: a.catalog.Builtins(k.tag),
	}
	if k.tag == TagModule {
		cfg.Whitelist = locator.StringList(a.opts["whitelist_modules"])
	}
	l, err := loader.New(a.ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s registry: %w", k.tag, err)
	}
	a.registries[k.tag] = l
	a.logger.Debug("Registry created.", "tag", k.tag, "dirs", cfg.Dirs, "builtins", len(cfg.Builtins))
	return nil
}

// Registry returns the registry for tag. This is primarily for testing;
// callers outside the package go through the locked methods.
func (a *App) Registry(tag string) *loader.Loader {
	return a.registries[tag]
}

// Opts returns the shared options mapping.
func (a *App) Opts() map[string]any {
	return a.opts
}

// Context returns the application context carrying its logger.
func (a *App) Context() context.Context {
	return a.ctx
}

// Tags lists the registry tags in construction order.
func (a *App) Tags() []string {
	tags := make([]string, 0, len(kinds))
	for _, k := range kinds {
		tags = append(tags, k.tag)
	}
	return tags
}
