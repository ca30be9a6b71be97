// Package matchers provides the built-in target matchers. Each one is a
// plugin under the "matchers" tag exposing a single match function that
// decides whether the local node is addressed by a target expression.
package matchers

import (
	"context"
	"fmt"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// Tag is the plugin kind this package registers under.
const Tag = "matchers"

// Module implements the registry.Module interface for this package.
type Module struct{}

// matchFunc decides one target against the bound context.
type matchFunc func(ctx context.Context, c *plugin.Context, args plugin.Args) bool

type matcher struct {
	name    string
	aliases []string
	params  []string
	fn      matchFunc
}

var all = []matcher{
	{name: "glob", params: []string{"tgt"}, fn: matchGlob},
	{name: "pcre", params: []string{"tgt"}, fn: matchPCRE},
	{name: "list", params: []string{"tgt"}, fn: matchList},
	{name: "ipcidr", aliases: []string{"subnet"}, params: []string{"tgt"}, fn: matchIPCIDR},
	{name: "grain", params: []string{"tgt", "delimiter"}, fn: matchGrain},
	{name: "grain_pcre", params: []string{"tgt", "delimiter"}, fn: matchGrainPCRE},
	{name: "pillar", params: []string{"tgt", "delimiter"}, fn: matchPillar},
	{name: "pillar_pcre", params: []string{"tgt", "delimiter"}, fn: matchPillarPCRE},
	{name: "pillar_exact", params: []string{"tgt", "delimiter"}, fn: matchPillarExact},
	{name: "compound", params: []string{"tgt"}, fn: matchCompound},
	{name: "nodegroup", params: []string{"tgt", "nodegroups"}, fn: matchNodegroup},
}

// Register registers every matcher builtin.
func (m *Module) Register(r *registry.Registry) {
	for _, mt := range all {
		r.RegisterBuiltin(Tag, mt.name, mt.factory)
	}
}

func (mt matcher) factory() plugin.Unit {
	n := plugin.NewNative(mt.name).WithAliases(mt.aliases...)
	n.Define("match", func(ctx context.Context, args ...any) (any, error) {
		a, err := plugin.BindArgs(args, mt.params...)
		if err != nil {
			return nil, fmt.Errorf("%s.match: %w", mt.name, err)
		}
		c := n.Shared()
		if c == nil {
			return nil, fmt.Errorf("%s.match: no context bound", mt.name)
		}
		return mt.fn(ctx, c, a), nil
	})
	return n
}

// targetString returns tgt when it is a string.
func targetString(a plugin.Args) (string, bool) {
	s, ok := a["tgt"].(string)
	return s, ok
}

func delimiter(c *plugin.Context, a plugin.Args) string {
	return a.String("delimiter", config.Delimiter(c.Opts))
}
