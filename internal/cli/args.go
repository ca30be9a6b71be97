package cli

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/grainload/internal/plugin"
)

// parseArgs splits command line arguments into positional values and
// key=value pairs. Values are decoded as YAML scalars or flow collections,
// so "3" is an int, "true" a bool and "[a, b]" a list. A value that does
// not decode stays a string, and so does a number YAML would rewrite, such
// as "0.10", "007" or "1e3".
func parseArgs(raw []string) ([]any, plugin.Kwargs) {
	var pos []any
	kw := plugin.Kwargs{}
	for _, arg := range raw {
		if k, v, ok := strings.Cut(arg, "="); ok && isIdent(k) {
			kw[k] = decodeValue(v)
			continue
		}
		pos = append(pos, decodeValue(arg))
	}
	return pos, kw
}

func decodeValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	switch n := v.(type) {
	case int:
		if strconv.Itoa(n) != strings.TrimPrefix(s, "+") {
			return s
		}
	case float64:
		if strconv.FormatFloat(n, 'f', -1, 64) != strings.TrimPrefix(s, "+") {
			return s
		}
	}
	return v
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// callArgs appends kw to pos when it holds anything.
func callArgs(pos []any, kw plugin.Kwargs) []any {
	if len(kw) > 0 {
		return append(pos, kw)
	}
	return pos
}
