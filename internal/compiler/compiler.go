// Package compiler turns located plugin candidates into executable units,
// selecting among source and artifact forms and giving every import its own
// evaluation namespace and globally unique tag.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/fsutil"
	"github.com/vk/grainload/internal/inject"
	"github.com/vk/grainload/internal/locator"
	"github.com/vk/grainload/internal/plugin"
)

// importSeq numbers imports process-wide so tags never repeat.
var importSeq atomic.Uint64

// Compiler imports plugins. It keeps the memory-tier parse cache and is not
// safe for concurrent use.
type Compiler struct {
	order []Tier
	cache map[string]*cachedFile
}

// New returns a compiler using order; nil selects DefaultOrder.
func New(order []Tier) (*Compiler, error) {
	if order == nil {
		order = DefaultOrder
	}
	if err := ValidateOrder(order); err != nil {
		return nil, err
	}
	return &Compiler{
		order: append([]Tier{}, order...),
		cache: map[string]*cachedFile{},
	}, nil
}

// Options carry per-registry import settings.
type Options struct {
	// RegistryTag prefixes unit tags.
	RegistryTag string
	// Dispatchers are the pack entries plugins may call as functions.
	Dispatchers []string
}

// NextTag returns a fresh import-count tag.
func NextTag(registryTag, name string) string {
	return fmt.Sprintf("%s.%s.%d", registryTag, name, importSeq.Add(1))
}

// Import builds a unit for cand. All failures are returned as
// *plugin.ImportError.
func (c *Compiler) Import(ctx context.Context, cand *locator.Candidate, opts Options) (plugin.Unit, error) {
	tag := NextTag(opts.RegistryTag, cand.Name)
	logger := ctxlog.FromContext(ctx).With("module", cand.Name, "unit", tag)

	if cand.Builtin != nil {
		unit, err := instantiate(cand.Builtin)
		if err != nil {
			return nil, &plugin.ImportError{Path: cand.Path(), Err: err}
		}
		if t, ok := unit.(plugin.Tagger); ok {
			t.SetTag(tag)
		}
		logger.Debug("Built-in plugin instantiated.")
		return unit, nil
	}

	ch, err := c.pick(cand.Source, cand.Artifact)
	if err != nil {
		return nil, &plugin.ImportError{Path: cand.Path(), Err: err}
	}
	file, cached, err := c.load(ch)
	if err != nil {
		return nil, &plugin.ImportError{Path: ch.path, Err: err}
	}

	spec, diags := decodeRoot(file.Body)
	if diags.HasErrors() {
		return nil, &plugin.ImportError{Path: ch.path, Err: diags}
	}

	unit := newHCLUnit(cand.Name, ch.path, tag, spec)
	if cand.Kind == locator.KindPackage {
		if err := c.loadLibraries(unit, cand.Root, ""); err != nil {
			return nil, &plugin.ImportError{Path: ch.path, Err: err}
		}
	}
	unit.seal()

	if err := checkCalls(unit, opts.Dispatchers); err != nil {
		return nil, &plugin.ImportError{Path: ch.path, Err: err}
	}

	logger.Debug("Plugin imported.", "path", ch.path, "tier", ch.tier, "memory_hit", cached, "functions", len(unit.order), "libraries", len(unit.libPaths))
	return unit, nil
}

func instantiate(b *plugin.Builtin) (unit plugin.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("built-in factory panicked: %v", r)
		}
	}()
	unit = b.New()
	if unit == nil {
		return nil, errors.New("built-in factory returned nil")
	}
	return unit, nil
}

// loadLibraries registers every library under dir: sibling files are
// namespaced by file name, subpackages by directory name, recursively.
func (c *Compiler) loadLibraries(unit *hclUnit, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	forms := map[string]*[2]string{}
	var names []string
	form := func(name string) *[2]string {
		f, ok := forms[name]
		if !ok {
			f = &[2]string{}
			forms[name] = f
			names = append(names, name)
		}
		return f
	}

	var subdirs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		full := filepath.Join(dir, name)
		switch {
		case fsutil.IsDir(full):
			subdirs = append(subdirs, name)
		case strings.HasSuffix(name, locator.ArtifactExt):
			form(strings.TrimSuffix(name, locator.ArtifactExt))[1] = full
		case strings.HasSuffix(name, locator.SourceExt):
			form(strings.TrimSuffix(name, locator.SourceExt))[0] = full
		}
	}

	for _, name := range names {
		if prefix == "" && name == locator.PackageInit {
			continue
		}
		ns := prefix + name
		if name == locator.PackageInit {
			ns = strings.TrimSuffix(prefix, "::")
		}
		f := forms[name]
		if err := c.loadLibrary(unit, ns, f[0], f[1]); err != nil {
			return err
		}
	}

	sort.Strings(subdirs)
	for _, sub := range subdirs {
		root := filepath.Join(dir, sub)
		if !fsutil.IsFile(filepath.Join(root, locator.PackageInit+locator.SourceExt)) &&
			!fsutil.IsFile(filepath.Join(root, locator.PackageInit+locator.ArtifactExt)) {
			continue
		}
		if err := c.loadLibraries(unit, root, prefix+sub+"::"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) loadLibrary(unit *hclUnit, namespace, source, artifact string) error {
	ch, err := c.pick(source, artifact)
	if err != nil {
		return err
	}
	file, _, err := c.load(ch)
	if err != nil {
		return fmt.Errorf("library %s: %w", namespace, err)
	}
	defs, diags := decodeLibrary(file.Body)
	if diags.HasErrors() {
		return fmt.Errorf("library %s: %w", namespace, diags)
	}
	unit.addLibrary(namespace, ch.path, defs)
	return nil
}

// checkCalls rejects units calling functions that nothing defines, such as a
// library the package no longer ships.
func checkCalls(unit *hclUnit, dispatchers []string) error {
	known := map[string]bool{}
	for name := range unit.evalCtx.Functions {
		known[name] = true
	}
	for _, name := range inject.FunctionNames {
		known[name] = true
	}
	for _, name := range dispatchers {
		known[name] = true
	}

	var exprs []hcl.Expression
	for _, def := range unit.spec.funcs {
		exprs = append(exprs, def.result)
	}
	for _, def := range unit.libDefs {
		exprs = append(exprs, def.result)
	}
	if v := unit.spec.virtual; v != nil {
		exprs = append(exprs, v.enabled, v.name, v.reason)
	}

	var missing []string
	for _, name := range calledFunctions(exprs...) {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("call to undefined function(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
