// Package nodegroup expands named target groups into compound match
// expressions.
package nodegroup

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownGroup is returned for a group name with no definition.
var ErrUnknownGroup = errors.New("unknown nodegroup")

// RecursiveExpansionError reports a group that references itself, directly
// or through other groups.
type RecursiveExpansionError struct {
	Chain []string
}

func (e *RecursiveExpansionError) Error() string {
	return fmt.Sprintf("recursive nodegroup expansion: %s", strings.Join(e.Chain, " -> "))
}

var (
	operators   = map[string]bool{"and": true, "or": true, "not": true, "(": true, ")": true}
	typedTarget = regexp.MustCompile(`^[A-Z]@`)
	regexChars  = "([{\\?}])"
)

// Expand returns the compound expression for group. A definition made only
// of plain names becomes a list target, or a regex target when a name holds
// regex characters. Referenced groups are expanded in place, in
// parentheses, and simplified the same way. A reference to an undefined
// group is dropped together with the operator binding it, so the rest of
// the definition still applies. Only an undefined group itself is an error.
func Expand(group string, defs map[string]any) (string, error) {
	words, expanded, err := expand(group, defs, nil)
	if err != nil {
		return "", err
	}
	if expanded {
		return strings.Join(words, " "), nil
	}

	plain, err := definition(group, defs)
	if err != nil {
		return "", err
	}
	return strings.Join(simplify(plain), " "), nil
}

func expand(group string, defs map[string]any, chain []string) ([]string, bool, error) {
	for _, seen := range chain {
		if seen == group {
			return nil, false, &RecursiveExpansionError{Chain: append(append([]string{}, chain...), group)}
		}
	}
	words, err := definition(group, defs)
	if err != nil {
		return nil, false, err
	}
	chain = append(chain, group)

	var out []string
	expanded, dangling := false, false
	for _, w := range words {
		if dangling && (w == "and" || w == "or") {
			dangling = false
			continue
		}
		dangling = false
		if len(w) >= 3 && strings.HasPrefix(w, "N@") {
			expanded = true
			if _, ok := defs[w[2:]]; !ok {
				out, dangling = dropReference(out)
				continue
			}
			sub, _, err := expand(w[2:], defs, chain)
			if err != nil {
				return nil, false, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, w)
	}
	if !expanded {
		out = simplify(out)
	}
	if len(out) > 0 {
		out = append(append([]string{"("}, out...), ")")
	}
	return out, expanded, nil
}

// dropReference removes the operators left bound to a skipped reference at
// the end of out. It reports whether the operator following the reference
// must be dropped instead.
func dropReference(out []string) ([]string, bool) {
	if n := len(out); n > 0 && out[n-1] == "not" {
		out = out[:n-1]
	}
	if n := len(out); n > 0 && (out[n-1] == "and" || out[n-1] == "or") {
		return out[:n-1], false
	}
	return out, true
}

func definition(group string, defs map[string]any) ([]string, error) {
	raw, ok := defs[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v), nil
	case []string:
		return v, nil
	case []any:
		words := make([]string, 0, len(v))
		for _, item := range v {
			words = append(words, fmt.Sprint(item))
		}
		return words, nil
	default:
		return nil, fmt.Errorf("nodegroup %q: unsupported definition type %T", group, raw)
	}
}

// simplify turns a definition without operators, typed targets or globs
// into a single list or regex target.
func simplify(words []string) []string {
	for _, w := range words {
		if operators[w] || strings.Contains(w, "*") || typedTarget.MatchString(w) {
			return words
		}
	}
	for _, w := range words {
		if strings.ContainsAny(w, regexChars) {
			return []string{"E@" + strings.Join(words, ",")}
		}
	}
	return []string{"L@" + strings.Join(words, ",")}
}
