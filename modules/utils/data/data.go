// Package data holds the nested-data helpers shared by matchers and
// execution modules: delimiter-path traversal and subdict matching over
// grains and pillar style trees.
package data

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/grainload/internal/plugin"
)

// DefaultDelimiter separates path segments when none is given.
const DefaultDelimiter = ":"

// Traverse walks data along key, split on delimiter. Map segments are
// looked up by name; list segments are an index, or a key looked up in the
// first map member holding it. It reports false when the path is absent.
func Traverse(data any, key, delimiter string) (any, bool) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return TraversePath(data, strings.Split(key, delimiter))
}

// TraversePath is Traverse with the path already split.
func TraversePath(data any, path []string) (any, bool) {
	ptr := data
	for _, each := range path {
		switch node := ptr.(type) {
		case map[string]any:
			v, ok := node[each]
			if !ok {
				return nil, false
			}
			ptr = v
		case []any:
			if v, ok := embedded(node, each); ok {
				ptr = v
				continue
			}
			idx, err := strconv.Atoi(each)
			if err != nil {
				return nil, false
			}
			if idx < 0 {
				idx += len(node)
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			ptr = node[idx]
		default:
			return nil, false
		}
	}
	return ptr, true
}

func embedded(list []any, key string) (any, bool) {
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if v, ok := m[key]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// MatchOptions selects how leaf values are compared.
type MatchOptions struct {
	Delimiter string
	// Regex compares with a case-insensitive regular expression anchored at
	// the start of the value.
	Regex bool
	// Exact compares string forms for equality.
	Exact bool
}

// SubdictMatch reports whether expr, of the form "key:...:pattern", matches
// data. Every split point is tried, longest key first, so patterns
// containing the delimiter still match. The value found may be a scalar, a list (any
// member matches) or a map (the remaining pattern names a key, or matches
// deeper). A "*:" prefix on the remaining pattern searches every value
// below the key.
func SubdictMatch(data any, expr string, o MatchOptions) bool {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	splits := strings.Split(expr, o.Delimiter)
	if len(splits) == 1 {
		return false
	}
	for idx := len(splits) - 1; idx > 0; idx-- {
		key := strings.Join(splits[:idx], o.Delimiter)
		pattern := strings.Join(splits[idx:], o.Delimiter)
		if key == "*" {
			pattern = expr
		}
		found, ok := Traverse(data, key, o.Delimiter)
		if !ok {
			continue
		}
		switch v := found.(type) {
		case map[string]any:
			if len(v) > 0 && dictMatch(v, pattern, o) {
				return true
			}
		case []any:
			for _, member := range v {
				if m, ok := member.(map[string]any); ok && dictMatch(m, pattern, o) {
					return true
				}
				if matchValue(member, pattern, o) {
					return true
				}
			}
		default:
			if matchValue(v, pattern, o) {
				return true
			}
		}
	}
	return false
}

func dictMatch(target map[string]any, pattern string, o MatchOptions) bool {
	wildcard := strings.HasPrefix(pattern, "*"+o.Delimiter)
	if wildcard {
		pattern = pattern[1+len(o.Delimiter):]
	}
	if pattern == "*" {
		return true
	}
	if _, ok := target[pattern]; ok {
		return true
	}
	if SubdictMatch(target, pattern, o) {
		return true
	}
	if !wildcard {
		return false
	}
	for _, v := range target {
		switch t := v.(type) {
		case map[string]any:
			if dictMatch(t, pattern, o) {
				return true
			}
		case []any:
			for _, item := range t {
				if matchValue(item, pattern, o) {
					return true
				}
			}
		default:
			if matchValue(t, pattern, o) {
				return true
			}
		}
	}
	return false
}

func matchValue(target any, pattern string, o MatchOptions) bool {
	s := plugin.ToString(target)
	switch {
	case o.Regex:
		re, err := regexp.Compile("^(?:" + strings.ToLower(pattern) + ")")
		if err != nil {
			return false
		}
		return re.MatchString(strings.ToLower(s))
	case o.Exact:
		return s == pattern
	default:
		return Fnmatch(strings.ToLower(s), strings.ToLower(pattern))
	}
}
