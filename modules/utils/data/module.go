package data

import (
	"context"

	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// Tag is the plugin kind this package registers under.
const Tag = "utils"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the data utils builtin.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin(Tag, "data", func() plugin.Unit { return NewUnit() })
}

// NewUnit returns a fresh data utils unit.
func NewUnit() *plugin.Native {
	return plugin.NewNative("data").
		Define("subdict_match", subdictMatch).
		Define("traverse", traverse)
}

// subdictMatch(data, expr, delimiter=":", regex_match=false, exact_match=false)
func subdictMatch(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "data", "expr", "delimiter", "regex_match", "exact_match")
	if err != nil {
		return nil, err
	}
	return SubdictMatch(a["data"], a.String("expr", ""), MatchOptions{
		Delimiter: a.String("delimiter", DefaultDelimiter),
		Regex:     a.Bool("regex_match", false),
		Exact:     a.Bool("exact_match", false),
	}), nil
}

// traverse(data, key, default=null, delimiter=":")
func traverse(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "data", "key", "default", "delimiter")
	if err != nil {
		return nil, err
	}
	if v, ok := Traverse(a["data"], a.String("key", ""), a.String("delimiter", DefaultDelimiter)); ok {
		return v, nil
	}
	return a["default"], nil
}
