package compiler

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/grainload/internal/plugin"
)

var rootSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "virtual_aliases"},
		{Name: "load"},
		{Name: "func_alias"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "function", LabelNames: []string{"name"}},
		{Type: "virtual"},
		{Type: "depends", LabelNames: []string{"function"}},
	},
}

var librarySchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "function", LabelNames: []string{"name"}},
	},
}

var funcBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "params", Required: true},
		{Name: "variadic_param"},
		{Name: "result", Required: true},
	},
}

var virtualSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "enabled"},
		{Name: "name"},
		{Name: "reason"},
	},
}

// funcDef is one decoded function block.
type funcDef struct {
	name     string
	params   []string
	varParam string
	result   hcl.Expression
}

// virtualDef holds the availability hook expressions; nil ones were omitted.
type virtualDef struct {
	enabled hcl.Expression
	name    hcl.Expression
	reason  hcl.Expression
}

// dependsBlock is the decoded body of a depends block.
type dependsBlock struct {
	Requires []string `hcl:"requires,optional"`
	Fallback string   `hcl:"fallback,optional"`
}

// fileSpec is everything a plugin entry file declares.
type fileSpec struct {
	funcs     []*funcDef
	aliases   []string
	load      []string
	hasLoad   bool
	funcAlias map[string]string
	virtual   *virtualDef
	deps      []plugin.Dependency
}

func decodeRoot(body hcl.Body) (*fileSpec, hcl.Diagnostics) {
	content, diags := body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	spec := &fileSpec{}
	if attr, ok := content.Attributes["virtual_aliases"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &spec.aliases)...)
	}
	if attr, ok := content.Attributes["load"]; ok {
		spec.hasLoad = true
		spec.load = []string{}
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &spec.load)...)
	}
	if attr, ok := content.Attributes["func_alias"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &spec.funcAlias)...)
	}

	funcs, funcDiags := decodeFunctions(content.Blocks)
	diags = append(diags, funcDiags...)
	spec.funcs = funcs

	for _, block := range content.Blocks {
		switch block.Type {
		case "virtual":
			if spec.virtual != nil {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate virtual block",
					Detail:   "A plugin may declare at most one virtual block.",
					Subject:  block.DefRange.Ptr(),
				})
				continue
			}
			vc, vDiags := block.Body.Content(virtualSchema)
			diags = append(diags, vDiags...)
			spec.virtual = &virtualDef{}
			if a, ok := vc.Attributes["enabled"]; ok {
				spec.virtual.enabled = a.Expr
			}
			if a, ok := vc.Attributes["name"]; ok {
				spec.virtual.name = a.Expr
			}
			if a, ok := vc.Attributes["reason"]; ok {
				spec.virtual.reason = a.Expr
			}
		case "depends":
			var d dependsBlock
			diags = append(diags, gohcl.DecodeBody(block.Body, nil, &d)...)
			spec.deps = append(spec.deps, plugin.Dependency{
				Func:     block.Labels[0],
				Requires: d.Requires,
				Fallback: d.Fallback,
			})
		}
	}

	return spec, diags
}

func decodeLibrary(body hcl.Body) ([]*funcDef, hcl.Diagnostics) {
	content, diags := body.Content(librarySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	funcs, funcDiags := decodeFunctions(content.Blocks)
	return funcs, append(diags, funcDiags...)
}

// decodeFunctions decodes every function block, keeping declaration order.
func decodeFunctions(blocks hcl.Blocks) ([]*funcDef, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	var funcs []*funcDef
	seen := map[string]bool{}

Blocks:
	for _, block := range blocks {
		if block.Type != "function" {
			continue
		}
		name := block.Labels[0]
		if seen[name] {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate function",
				Detail:   fmt.Sprintf("Function %q is defined more than once.", name),
				Subject:  block.LabelRanges[0].Ptr(),
			})
			continue
		}
		seen[name] = true

		content, contentDiags := block.Body.Content(funcBodySchema)
		diags = append(diags, contentDiags...)
		if contentDiags.HasErrors() {
			continue
		}

		def := &funcDef{name: name, result: content.Attributes["result"].Expr}
		paramExprs, paramDiags := hcl.ExprList(content.Attributes["params"].Expr)
		diags = append(diags, paramDiags...)
		if paramDiags.HasErrors() {
			continue
		}
		for _, paramExpr := range paramExprs {
			param := hcl.ExprAsKeyword(paramExpr)
			if param == "" {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid param element",
					Detail:   "Each parameter name must be an identifier.",
					Subject:  paramExpr.Range().Ptr(),
				})
				continue Blocks
			}
			def.params = append(def.params, param)
		}
		if attr, ok := content.Attributes["variadic_param"]; ok {
			def.varParam = hcl.ExprAsKeyword(attr.Expr)
			if def.varParam == "" {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid variadic_param",
					Detail:   "The variadic parameter name must be an identifier.",
					Subject:  attr.Expr.Range().Ptr(),
				})
				continue
			}
		}
		funcs = append(funcs, def)
	}
	return funcs, diags
}
