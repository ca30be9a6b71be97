package matchers

import (
	"context"
	"strings"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/modules/utils/data"
)

func matchGrain(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	return subdict(ctx, "grains", c.Grains, delimiter(c, a), a, data.MatchOptions{})
}

func matchGrainPCRE(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	return subdict(ctx, "grains PCRE", c.Grains, delimiter(c, a), a, data.MatchOptions{Regex: true})
}

func matchPillar(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	return subdict(ctx, "pillar", c.Pillar, delimiter(c, a), a, data.MatchOptions{})
}

func matchPillarPCRE(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	return subdict(ctx, "pillar PCRE", c.Pillar, delimiter(c, a), a, data.MatchOptions{Regex: true})
}

// matchPillarExact always defaults to ":" rather than the configured
// target delimiter.
func matchPillarExact(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	return subdict(ctx, "pillar exact", c.Pillar, a.String("delimiter", data.DefaultDelimiter), a, data.MatchOptions{Exact: true})
}

func subdict(ctx context.Context, kind string, tree map[string]any, delim string, a plugin.Args, o data.MatchOptions) bool {
	logger := ctxlog.FromContext(ctx)
	tgt, ok := targetString(a)
	if !ok {
		return false
	}
	logger.Debug("Matching "+kind+" target.", "target", tgt)
	if !strings.Contains(tgt, delim) {
		logger.Error("Got insufficient arguments for "+kind+" match statement.", "target", tgt, "delimiter", delim)
		return false
	}
	o.Delimiter = delim
	return data.SubdictMatch(tree, tgt, o)
}
