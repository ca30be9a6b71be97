// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file provides the Unit implementation compiled-in Go plugins embed.
package plugin

// Builtin is a compiled-in plugin factory. New is called once per import so
// every generation gets a fresh instance.
type Builtin struct {
	Tag  string
	Name string
	New  func() Unit
}

// Native is a Unit backed by Go functions. Built-in plugins embed it and
// define their functions with Define.
type Native struct {
	name    string
	tag     string
	order   []string
	funcs   map[string]Func
	aliases []string
	renames map[string]string
	deps    []Dependency
	shared  *Context
}

// NewNative returns an empty native unit called name.
func NewNative(name string) *Native {
	return &Native{name: name, funcs: map[string]Func{}}
}

// Define registers fn under name. Redefinition replaces the callable but
// keeps the original declaration order.
func (n *Native) Define(name string, fn Func) *Native {
	if _, ok := n.funcs[name]; !ok {
		n.order = append(n.order, name)
	}
	n.funcs[name] = fn
	return n
}

// WithAliases declares extra public names for the unit.
func (n *Native) WithAliases(aliases ...string) *Native {
	n.aliases = append(n.aliases, aliases...)
	return n
}

// WithFuncAlias exports defined under public.
func (n *Native) WithFuncAlias(defined, public string) *Native {
	if n.renames == nil {
		n.renames = map[string]string{}
	}
	n.renames[defined] = public
	return n
}

// WithDependency gates a function on requirements.
func (n *Native) WithDependency(dep Dependency) *Native {
	n.deps = append(n.deps, dep)
	return n
}

func (n *Native) Name() string      { return n.name }
func (n *Native) Path() string      { return "" }
func (n *Native) Tag() string       { return n.tag }
func (n *Native) SetTag(tag string) { n.tag = tag }
func (n *Native) Exports() []string { return append([]string{}, n.order...) }

func (n *Native) Func(name string) (Func, bool) {
	fn, ok := n.funcs[name]
	return fn, ok
}

func (n *Native) VirtualAliases() []string       { return n.aliases }
func (n *Native) FuncAliases() map[string]string { return n.renames }
func (n *Native) Dependencies() []Dependency     { return n.deps }
func (n *Native) Bind(c *Context)                { n.shared = c }

// Shared is the context bound by the injector.
func (n *Native) Shared() *Context { return n.shared }
