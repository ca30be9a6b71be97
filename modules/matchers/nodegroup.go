package matchers

import (
	"context"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/nodegroup"
	"github.com/vk/grainload/internal/plugin"
)

// matchNodegroup expands a named group and hands the result to the compound
// matcher of the same registry. nodegroups defaults to the options.
func matchNodegroup(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	tgt, ok := targetString(a)
	if !ok {
		return false
	}
	groups, _ := a["nodegroups"].(map[string]any)
	if groups == nil {
		groups, _ = c.Opts["nodegroups"].(map[string]any)
	}
	if _, ok := groups[tgt]; !ok {
		return false
	}

	expr, err := nodegroup.Expand(tgt, groups)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Nodegroup expansion failed.", "group", tgt, "error", err)
		return false
	}
	if expr == "" {
		return false
	}
	return submatch(ctx, c, "compound", expr) == "true"
}
