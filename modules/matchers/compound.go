package matchers

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/nodegroup"
	"github.com/vk/grainload/internal/plugin"
)

// engines maps a target prefix letter to the matcher evaluating it. N is
// expanded in place and R has no matcher.
var engines = map[string]string{
	"G": "grain",
	"P": "grain_pcre",
	"I": "pillar",
	"J": "pillar_pcre",
	"L": "list",
	"S": "ipcidr",
	"E": "pcre",
}

// targetPattern splits "G@os:Linux" or "G|@os|Linux" into engine, optional
// delimiter and pattern. Only the data engines take a delimiter.
var targetPattern = regexp.MustCompile(`^(?:([GPIJ])([^@])?@|([LNSER])@)?(.+)$`)

type target struct {
	engine    string
	delimiter string
	pattern   string
}

func parseTarget(word string) target {
	m := targetPattern.FindStringSubmatch(word)
	if m == nil {
		return target{pattern: word}
	}
	t := target{engine: m[1], delimiter: m[2], pattern: m[4]}
	if t.engine == "" {
		t.engine = m[3]
	}
	return t
}

var operators = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
	"(":   "(",
	")":   ")",
}

// matchCompound evaluates an expression of typed targets and bare globs
// joined by and, or, not and parentheses. Every target is decided by the
// matcher registered for its engine in the same registry, and the boolean
// expression is then evaluated as an HCL expression.
func matchCompound(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	logger := ctxlog.FromContext(ctx)

	var words []string
	switch tgt := a["tgt"].(type) {
	case string:
		words = strings.Fields(tgt)
	case []string:
		words = append(words, tgt...)
	case []any:
		for _, w := range tgt {
			words = append(words, plugin.ToString(w))
		}
	default:
		logger.Error("Compound target received that is neither string nor list.", "target", a["tgt"])
		return false
	}
	logger.Debug("Matching compound target.", "id", c.ID(), "target", a["tgt"])

	groups, _ := c.Opts["nodegroups"].(map[string]any)
	var results []string
	for len(words) > 0 {
		word := words[0]
		words = words[1:]

		if _, ok := operators[word]; ok {
			if len(results) == 0 {
				if word != "(" && word != "not" {
					logger.Error("Invalid beginning operator.", "operator", word)
					return false
				}
				results = append(results, word)
				continue
			}
			last := results[len(results)-1]
			if last == "(" && (word == "and" || word == "or") {
				logger.Error("Invalid beginning operator after \"(\".", "operator", word)
				return false
			}
			if word == "not" && last != "and" && last != "or" && last != "(" {
				results = append(results, "and")
			}
			results = append(results, word)
			continue
		}

		t := parseTarget(word)
		switch {
		case t.engine == "N":
			expr, err := nodegroup.Expand(t.pattern, groups)
			if err != nil {
				var rec *nodegroup.RecursiveExpansionError
				if errors.As(err, &rec) {
					logger.Error("Nodegroup expansion failed.", "group", t.pattern, "error", err)
					return false
				}
				logger.Debug("Skipping unknown nodegroup.", "group", t.pattern, "error", err)
				continue
			}
			words = append(strings.Fields(expr), words...)
			continue
		case t.engine != "":
			name, ok := engines[t.engine]
			if !ok {
				logger.Error("Unrecognized target engine.", "engine", t.engine, "target", word)
				return false
			}
			args := []any{t.pattern}
			if t.delimiter != "" {
				args = append(args, plugin.Kwargs{"delimiter": t.delimiter})
			}
			results = append(results, submatch(ctx, c, name, args...))
		default:
			results = append(results, submatch(ctx, c, "glob", t.pattern))
		}
	}

	expr := strings.Join(results, " ")
	ok, err := evaluate(results)
	if err != nil {
		logger.Error("Invalid compound target.", "target", a["tgt"], "results", expr, "error", err)
		return false
	}
	logger.Debug("Compound target evaluated.", "id", c.ID(), "results", expr, "match", ok)
	return ok
}

// submatch returns "true" or "false" for one target.
func submatch(ctx context.Context, c *plugin.Context, matcher string, args ...any) string {
	if c.Self == nil {
		return "false"
	}
	res, err := c.Self.Call(ctx, matcher+".match", args...)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Matcher call failed.", "matcher", matcher, "error", err)
		return "false"
	}
	if b, ok := res.(bool); ok && b {
		return "true"
	}
	return "false"
}

func evaluate(results []string) (bool, error) {
	if len(results) == 0 {
		return false, errors.New("empty expression")
	}
	tokens := make([]string, len(results))
	for i, r := range results {
		if op, ok := operators[r]; ok {
			tokens[i] = op
			continue
		}
		tokens[i] = r
	}

	expr, diags := hclsyntax.ParseExpression([]byte(strings.Join(tokens, " ")), "compound", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return false, diags
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return false, diags
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Bool {
		return false, errors.New("expression is not boolean")
	}
	return val.True(), nil
}
