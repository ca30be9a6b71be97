package inject

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/ctyconv"
	"github.com/vk/grainload/internal/plugin"
)

// FunctionNames are the context functions every namespace defines, on top
// of one function per dispatcher in the pack.
var FunctionNames = []string{"call", "self", "available", "context_get", "context_set"}

// Stdlib returns the cty standard function table exposed to plugins.
func Stdlib() map[string]function.Function {
	return map[string]function.Function{
		"abs":           stdlib.AbsoluteFunc,
		"can_index":     stdlib.HasIndexFunc,
		"chomp":         stdlib.ChompFunc,
		"coalesce":      stdlib.CoalesceFunc,
		"compact":       stdlib.CompactFunc,
		"concat":        stdlib.ConcatFunc,
		"contains":      stdlib.ContainsFunc,
		"csvdecode":     stdlib.CSVDecodeFunc,
		"distinct":      stdlib.DistinctFunc,
		"element":       stdlib.ElementFunc,
		"flatten":       stdlib.FlattenFunc,
		"floor":         stdlib.FloorFunc,
		"ceil":          stdlib.CeilFunc,
		"format":        stdlib.FormatFunc,
		"formatlist":    stdlib.FormatListFunc,
		"indent":        stdlib.IndentFunc,
		"index":         stdlib.IndexFunc,
		"int":           stdlib.IntFunc,
		"join":          stdlib.JoinFunc,
		"jsondecode":    stdlib.JSONDecodeFunc,
		"jsonencode":    stdlib.JSONEncodeFunc,
		"keys":          stdlib.KeysFunc,
		"length":        stdlib.LengthFunc,
		"lookup":        stdlib.LookupFunc,
		"lower":         stdlib.LowerFunc,
		"max":           stdlib.MaxFunc,
		"merge":         stdlib.MergeFunc,
		"min":           stdlib.MinFunc,
		"parseint":      stdlib.ParseIntFunc,
		"range":         stdlib.RangeFunc,
		"regex":         stdlib.RegexFunc,
		"regexall":      stdlib.RegexAllFunc,
		"regex_replace": stdlib.RegexReplaceFunc,
		"replace":       stdlib.ReplaceFunc,
		"reverse":       stdlib.ReverseListFunc,
		"slice":         stdlib.SliceFunc,
		"sort":          stdlib.SortFunc,
		"split":         stdlib.SplitFunc,
		"strlen":        stdlib.StrlenFunc,
		"substr":        stdlib.SubstrFunc,
		"title":         stdlib.TitleFunc,
		"trim":          stdlib.TrimFunc,
		"trimprefix":    stdlib.TrimPrefixFunc,
		"trimspace":     stdlib.TrimSpaceFunc,
		"trimsuffix":    stdlib.TrimSuffixFunc,
		"upper":         stdlib.UpperFunc,
		"values":        stdlib.ValuesFunc,
		"zipmap":        stdlib.ZipmapFunc,
	}
}

var anyParam = function.Parameter{
	Name:             "args",
	Type:             cty.DynamicPseudoType,
	AllowNull:        true,
	AllowDynamicType: true,
}

// Functions returns the context functions bound to c. callCtx yields the
// context of the Go call currently evaluating, for logging and dispatch.
func Functions(c *plugin.Context, callCtx func() context.Context) map[string]function.Function {
	funcs := map[string]function.Function{
		"call": function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: "dispatcher", Type: cty.String},
				{Name: "key", Type: cty.String},
			},
			VarParam: &anyParam,
			Type:     function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				name := args[0].AsString()
				d, ok := c.Dispatcher(name)
				if !ok {
					return cty.NilVal, fmt.Errorf("no dispatcher %q injected", name)
				}
				return dispatch(callCtx(), d, args[1].AsString(), args[2:])
			},
		}),
		"self": function.New(&function.Spec{
			Params:   []function.Parameter{{Name: "key", Type: cty.String}},
			VarParam: &anyParam,
			Type:     function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				if c.Self == nil {
					return cty.NilVal, fmt.Errorf("no owning registry bound")
				}
				return dispatch(callCtx(), c.Self, args[0].AsString(), args[1:])
			},
		}),
		"available": function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: "dispatcher", Type: cty.String},
				{Name: "key", Type: cty.String},
			},
			Type: function.StaticReturnType(cty.Bool),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				name, key := args[0].AsString(), args[1].AsString()
				if name == "" || name == "*" {
					return cty.BoolVal(c.Available(key)), nil
				}
				d, ok := c.Dispatcher(name)
				return cty.BoolVal(ok && d.Has(key)), nil
			},
		}),
		"context_get": function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: "key", Type: cty.String},
				{Name: "default", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
			},
			Type: function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				v, ok := c.Scratch[args[0].AsString()]
				if !ok {
					return args[1], nil
				}
				return ctyconv.ToCty(v)
			},
		}),
		"context_set": function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: "key", Type: cty.String},
				{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
			},
			Type: function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				v, err := ctyconv.ToNative(args[1])
				if err != nil {
					return cty.NilVal, err
				}
				c.Scratch[args[0].AsString()] = v
				return args[1], nil
			},
		}),
	}

	for _, name := range c.Dispatchers() {
		funcs[name] = dispatcherFunc(c, name, callCtx)
	}
	return funcs
}

// dispatcherFunc returns the variadic function forwarding to the pack entry
// called name. The entry is looked up on every call so pack changes apply.
func dispatcherFunc(c *plugin.Context, name string, callCtx func() context.Context) function.Function {
	return function.New(&function.Spec{
		Params:   []function.Parameter{{Name: "key", Type: cty.String}},
		VarParam: &anyParam,
		Type:     function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			d, ok := c.Dispatcher(name)
			if !ok {
				return cty.NilVal, fmt.Errorf("dispatcher %q no longer injected", name)
			}
			return dispatch(callCtx(), d, args[0].AsString(), args[1:])
		},
	})
}

func dispatch(ctx context.Context, d plugin.Dispatcher, key string, args []cty.Value) (cty.Value, error) {
	native, err := ctyconv.ToNativeSlice(args)
	if err != nil {
		return cty.NilVal, err
	}
	res, err := d.Call(ctx, key, native...)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyconv.ToCty(res)
}

// Variables renders the shared context as evaluation variables.
func Variables(ctx context.Context, c *plugin.Context) map[string]cty.Value {
	pack := map[string]cty.Value{}
	for name, v := range c.Pack {
		if _, ok := v.(plugin.Dispatcher); ok {
			continue
		}
		pack[name] = toCty(ctx, "pack."+name, v)
	}
	return map[string]cty.Value{
		"opts":    toCty(ctx, "opts", c.Opts),
		"grains":  toCty(ctx, "grains", c.Grains),
		"pillar":  toCty(ctx, "pillar", c.Pillar),
		"context": toCty(ctx, "context", c.Scratch),
		"pack":    cty.ObjectVal(pack),
	}
}

func toCty(ctx context.Context, name string, v any) cty.Value {
	out, err := ctyconv.ToCty(v)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Namespace value not representable, injecting null.", "variable", name, "error", err)
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return out
}
