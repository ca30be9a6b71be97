package matchers

import (
	"context"
	"regexp"
	"strings"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/modules/utils/data"
)

// matchGlob applies shell wildcards to the whole id. Slashes and braces are
// ordinary characters.
func matchGlob(_ context.Context, c *plugin.Context, a plugin.Args) bool {
	tgt, ok := targetString(a)
	if !ok {
		return false
	}
	return data.Fnmatch(c.ID(), tgt)
}

// matchPCRE anchors the expression at the start of the id only.
func matchPCRE(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	tgt, ok := targetString(a)
	if !ok {
		return false
	}
	re, err := regexp.Compile("^(?:" + tgt + ")")
	if err != nil {
		ctxlog.FromContext(ctx).Error("Invalid PCRE target.", "target", tgt, "error", err)
		return false
	}
	return re.MatchString(c.ID())
}

// matchList accepts a comma separated string or a list of ids.
func matchList(_ context.Context, c *plugin.Context, a plugin.Args) bool {
	id := c.ID()
	switch tgt := a["tgt"].(type) {
	case string:
		return strings.Contains(tgt, ","+id+",") ||
			strings.HasPrefix(tgt, id+",") ||
			strings.HasSuffix(tgt, ","+id) ||
			tgt == id
	case []any:
		for _, item := range tgt {
			if plugin.ToString(item) == id {
				return true
			}
		}
	case []string:
		for _, item := range tgt {
			if item == id {
				return true
			}
		}
	}
	return false
}
