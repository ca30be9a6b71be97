package compiler

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/vk/grainload/internal/ctyconv"
	"github.com/vk/grainload/internal/inject"
	"github.com/vk/grainload/internal/plugin"
)

// hclUnit is a plugin imported from HCL sources. Each import owns a fresh
// evaluation context; only parsed syntax is ever shared between imports.
type hclUnit struct {
	name string
	path string
	tag  string

	order []string
	own   map[string]function.Function
	libs  map[string]function.Function

	libDefs    []*funcDef
	libPaths   []string
	namespaces map[string]bool

	spec *fileSpec

	evalCtx *hcl.EvalContext
	shared  *plugin.Context
	callCtx context.Context
}

var (
	_ plugin.Unit               = (*hclUnit)(nil)
	_ plugin.VirtualResolver    = (*hclUnit)(nil)
	_ plugin.AliasProvider      = (*hclUnit)(nil)
	_ plugin.LoadLister         = (*hclUnit)(nil)
	_ plugin.FuncAliaser        = (*hclUnit)(nil)
	_ plugin.DependencyDeclarer = (*hclUnit)(nil)
	_ plugin.Binder             = (*hclUnit)(nil)
	_ plugin.LibraryTracker     = (*hclUnit)(nil)
)

func newHCLUnit(name, path, tag string, spec *fileSpec) *hclUnit {
	u := &hclUnit{
		name:       name,
		path:       path,
		tag:        tag,
		own:        map[string]function.Function{},
		libs:       map[string]function.Function{},
		namespaces: map[string]bool{},
		spec:       spec,
		callCtx:    context.Background(),
	}
	u.evalCtx = &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: inject.Stdlib(),
	}
	for _, def := range spec.funcs {
		u.order = append(u.order, def.name)
		u.own[def.name] = u.makeFunction(def)
	}
	return u
}

// addLibrary registers a library's functions under its namespace.
func (u *hclUnit) addLibrary(namespace, path string, defs []*funcDef) {
	u.namespaces[namespace] = true
	u.libPaths = append(u.libPaths, path)
	u.libDefs = append(u.libDefs, defs...)
	for _, def := range defs {
		u.libs[namespace+"::"+def.name] = u.makeFunction(def)
	}
}

// seal publishes own and library functions into the evaluation context.
func (u *hclUnit) seal() {
	maps.Copy(u.evalCtx.Functions, u.libs)
	maps.Copy(u.evalCtx.Functions, u.own)
}

// makeFunction turns a function block into a cty function evaluated against
// this unit's context. The return type is dynamic so the body is evaluated
// exactly once per call.
func (u *hclUnit) makeFunction(def *funcDef) function.Function {
	spec := &function.Spec{Type: function.StaticReturnType(cty.DynamicPseudoType)}
	for _, p := range def.params {
		spec.Params = append(spec.Params, function.Parameter{
			Name:             p,
			Type:             cty.DynamicPseudoType,
			AllowNull:        true,
			AllowDynamicType: true,
		})
	}
	if def.varParam != "" {
		spec.VarParam = &function.Parameter{
			Name:             def.varParam,
			Type:             cty.DynamicPseudoType,
			AllowNull:        true,
			AllowDynamicType: true,
		}
	}
	spec.Impl = func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		child := u.evalCtx.NewChild()
		child.Variables = make(map[string]cty.Value, len(args))
		for i, p := range def.params {
			child.Variables[p] = args[i]
		}
		if def.varParam != "" {
			child.Variables[def.varParam] = cty.TupleVal(args[len(def.params):])
		}
		val, diags := def.result.Value(child)
		if diags.HasErrors() {
			return cty.DynamicVal, diags
		}
		return val, nil
	}
	return function.New(spec)
}

func (u *hclUnit) Name() string      { return u.name }
func (u *hclUnit) Path() string      { return u.path }
func (u *hclUnit) Tag() string       { return u.tag }
func (u *hclUnit) Exports() []string { return append([]string{}, u.order...) }

func (u *hclUnit) Func(name string) (plugin.Func, bool) {
	fn, ok := u.own[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, args ...any) (any, error) {
		prev := u.enter(ctx)
		defer func() { u.callCtx = prev }()

		args, err := bindKeywords(fn, args)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", u.name, name, err)
		}
		cargs, err := ctyconv.ToCtySlice(args)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", u.name, name, err)
		}
		val, err := fn.Call(cargs)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", u.name, name, err)
		}
		return ctyconv.ToNative(val)
	}, true
}

// bindKeywords folds a trailing plugin.Kwargs into positional arguments by
// parameter name. Parameters neither passed nor named are null.
func bindKeywords(fn function.Function, args []any) ([]any, error) {
	n := len(args)
	if n == 0 {
		return args, nil
	}
	kw, ok := args[n-1].(plugin.Kwargs)
	if !ok {
		return args, nil
	}
	out := append([]any{}, args[:n-1]...)
	params := fn.Params()
	used := 0
	for i := len(out); i < len(params); i++ {
		v, ok := kw[params[i].Name]
		if ok {
			used++
		}
		out = append(out, v)
	}
	if used != len(kw) {
		for k := range kw {
			if !slices.ContainsFunc(params, func(p function.Parameter) bool { return p.Name == k }) {
				return nil, fmt.Errorf("unexpected keyword argument %q", k)
			}
		}
		return nil, fmt.Errorf("keyword argument repeats a positional one")
	}
	return out, nil
}

// enter refreshes the namespace variables for a call and records its
// context for nested dispatch. It returns the previous call context.
func (u *hclUnit) enter(ctx context.Context) context.Context {
	prev := u.callCtx
	u.callCtx = ctx
	if u.shared != nil {
		vars := inject.Variables(ctx, u.shared)
		clear(u.evalCtx.Variables)
		maps.Copy(u.evalCtx.Variables, vars)
	}
	return prev
}

// Bind installs the shared context and its dispatch functions. Own and
// library functions always shadow context functions of the same name.
func (u *hclUnit) Bind(c *plugin.Context) {
	u.shared = c
	for name, fn := range inject.Functions(c, func() context.Context { return u.callCtx }) {
		u.evalCtx.Functions[name] = fn
	}
	u.seal()
	u.enter(u.callCtx)
}

// Virtual evaluates the virtual block. Omitted attributes default to an
// enabled unit under its file name.
func (u *hclUnit) Virtual(c *plugin.Context) (plugin.VirtualResult, error) {
	v := u.spec.virtual
	if v == nil {
		return plugin.Enable(), nil
	}
	if u.shared != c {
		u.Bind(c)
	}
	u.enter(u.callCtx)

	res := plugin.Enable()
	if v.enabled != nil {
		val, diags := v.enabled.Value(u.evalCtx)
		if diags.HasErrors() {
			return plugin.VirtualResult{}, diags
		}
		b, err := convert.Convert(val, cty.Bool)
		if err != nil || b.IsNull() || !b.IsKnown() {
			return plugin.VirtualResult{}, fmt.Errorf("virtual.enabled must be a bool, got %s", val.Type().FriendlyName())
		}
		res.Enabled = b.True()
	}

	if v.reason != nil && !res.Enabled {
		reason, err := u.evalString(v.reason)
		if err != nil {
			return plugin.VirtualResult{}, err
		}
		res.Reason = reason
	}
	if v.name != nil && res.Enabled {
		name, err := u.evalString(v.name)
		if err != nil {
			return plugin.VirtualResult{}, err
		}
		res.Name = name
	}
	return res, nil
}

func (u *hclUnit) evalString(expr hcl.Expression) (string, error) {
	val, diags := expr.Value(u.evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	if s.IsNull() {
		return "", nil
	}
	return s.AsString(), nil
}

func (u *hclUnit) VirtualAliases() []string          { return u.spec.aliases }
func (u *hclUnit) FuncAliases() map[string]string    { return u.spec.funcAlias }
func (u *hclUnit) Dependencies() []plugin.Dependency { return u.spec.deps }
func (u *hclUnit) Libraries() []string               { return append([]string{}, u.libPaths...) }

// LoadList is nil when the plugin declares no load attribute.
func (u *hclUnit) LoadList() []string {
	if !u.spec.hasLoad {
		return nil
	}
	return u.spec.load
}

// HasLibrary reports whether the plugin owns a library namespace.
func (u *hclUnit) HasLibrary(namespace string) bool {
	return u.namespaces[namespace]
}
