// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file models the namespace injected into every loaded unit. One Context
// exists per registry and is shared by pointer with every unit of every
// generation, so a write made through one unit is visible to all others.
package plugin

import (
	"context"
	"fmt"
	"maps"
	"sort"
)

// Dispatcher is a keyed collection of callables, such as a registry.
type Dispatcher interface {
	Call(ctx context.Context, key string, args ...any) (any, error)
	Has(key string) bool
}

// Context is the shared execution namespace of a registry.
type Context struct {
	Opts    map[string]any
	Grains  map[string]any
	Pillar  map[string]any
	Scratch map[string]any
	Pack    map[string]any
	Tag     string
	Self    Dispatcher
}

// NewContext builds a Context from an options mapping. Grains and pillar are
// taken from opts when present so that both views share the same maps.
func NewContext(tag string, opts map[string]any, pack map[string]any) *Context {
	if opts == nil {
		opts = map[string]any{}
	}
	if pack == nil {
		pack = map[string]any{}
	}
	c := &Context{
		Opts:    opts,
		Scratch: map[string]any{},
		Pack:    pack,
		Tag:     tag,
	}
	c.syncViews()
	return c
}

// SetOpts replaces the options in place, so every holder of the Opts map
// observes the new values. The grains and pillar views keep their identity
// and are refilled, so every context built over the same options sees them
// change too. opts may be c.Opts itself.
func (c *Context) SetOpts(opts map[string]any) {
	next := maps.Clone(opts)
	grains, _ := next["grains"].(map[string]any)
	pillar, _ := next["pillar"].(map[string]any)
	grains, pillar = maps.Clone(grains), maps.Clone(pillar)

	clear(c.Opts)
	maps.Copy(c.Opts, next)
	c.Opts["grains"] = refill(c.Grains, grains)
	c.Opts["pillar"] = refill(c.Pillar, pillar)
	c.syncViews()
}

func refill(view, src map[string]any) map[string]any {
	if view == nil {
		view = map[string]any{}
	}
	clear(view)
	maps.Copy(view, src)
	return view
}

func (c *Context) syncViews() {
	c.Grains = ensureMap(c.Opts, "grains")
	c.Pillar = ensureMap(c.Opts, "pillar")
}

func ensureMap(opts map[string]any, key string) map[string]any {
	if m, ok := opts[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	opts[key] = m
	return m
}

// ID is the node identifier from the options.
func (c *Context) ID() string {
	id, _ := c.Opts["id"].(string)
	return id
}

// TestMode reports whether the dry-run flag is set in the options.
func (c *Context) TestMode() bool {
	v, _ := c.Opts["test"].(bool)
	return v
}

// OptString returns a string option or def.
func (c *Context) OptString(key, def string) string {
	if v, ok := c.Opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Dispatcher returns the pack entry called name when it dispatches calls.
func (c *Context) Dispatcher(name string) (Dispatcher, bool) {
	d, ok := c.Pack[name].(Dispatcher)
	return d, ok
}

// Dispatchers returns the names of every pack entry that dispatches calls.
func (c *Context) Dispatchers() []string {
	var names []string
	for name, v := range c.Pack {
		if _, ok := v.(Dispatcher); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Salt calls key through the "salt" pack entry.
func (c *Context) Salt(ctx context.Context, key string, args ...any) (any, error) {
	d, ok := c.Dispatcher("salt")
	if !ok {
		return nil, fmt.Errorf("no execution module dispatcher injected for %q", key)
	}
	return d.Call(ctx, key, args...)
}

// Available reports whether any dispatcher in the pack, or the owning
// registry, can serve key.
func (c *Context) Available(key string) bool {
	if c.Self != nil && c.Self.Has(key) {
		return true
	}
	for _, name := range c.Dispatchers() {
		d, _ := c.Dispatcher(name)
		if d != nil && d.Has(key) {
			return true
		}
	}
	return false
}
