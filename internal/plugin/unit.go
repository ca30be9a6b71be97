// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file models a single imported plugin (a ModuleUnit) and the optional
// capabilities the loader checks for at load time.
package plugin

import "context"

// Func is the uniform signature of every callable exposed by a plugin.
type Func func(ctx context.Context, args ...any) (any, error)

// ReservedNames are function names a unit may define but never exports.
var ReservedNames = map[string]struct{}{
	"virtual": {},
}

// Unit is one imported source file, package or built-in instance.
type Unit interface {
	// Name is the base name derived from the file or directory.
	Name() string
	// Path is the source path, empty for built-ins.
	Path() string
	// Tag is the import-count tag, unique for the unit's lifetime.
	Tag() string
	// Exports lists the defined function names in declaration order.
	Exports() []string
	// Func returns the callable registered under a defined name.
	Func(name string) (Func, bool)
}

// VirtualResolver is implemented by units with an availability hook.
type VirtualResolver interface {
	Virtual(c *Context) (VirtualResult, error)
}

// AliasProvider is implemented by units declaring extra public names.
type AliasProvider interface {
	VirtualAliases() []string
}

// LoadLister is implemented by units restricting their exports. A nil list
// means every defined function is exported.
type LoadLister interface {
	LoadList() []string
}

// FuncAliaser is implemented by units renaming functions on export. The map
// goes from defined name to public name.
type FuncAliaser interface {
	FuncAliases() map[string]string
}

// DependencyDeclarer is implemented by units gating functions on external
// requirements.
type DependencyDeclarer interface {
	Dependencies() []Dependency
}

// Binder is implemented by units that keep a reference to the shared context.
type Binder interface {
	Bind(c *Context)
}

// LibraryTracker is implemented by units owning library files.
type LibraryTracker interface {
	Libraries() []string
}

// Tagger is implemented by units whose tag is assigned by the importer.
type Tagger interface {
	SetTag(tag string)
}

// VirtualResult is what an availability hook reports.
type VirtualResult struct {
	// Enabled reports whether the unit should be registered at all.
	Enabled bool
	// Name replaces the file-derived name when non-empty.
	Name string
	// Reason explains a disabled result.
	Reason string
}

// Enable is the result for a unit registered under its file-derived name.
func Enable() VirtualResult { return VirtualResult{Enabled: true} }

// Rename registers the unit under name instead of its file-derived name.
func Rename(name string) VirtualResult { return VirtualResult{Enabled: true, Name: name} }

// Disable hides the unit.
func Disable(reason string) VirtualResult { return VirtualResult{Reason: reason} }

// Dependency gates a single function on external requirements.
type Dependency struct {
	Func     string
	Requires []string
	Fallback string
}
