package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/plugin"
)

func tree() map[string]any {
	return map[string]any{
		"os":     "Ubuntu",
		"ipv4":   []any{"127.0.0.1", "192.168.0.1"},
		"kernel": map[string]any{"release": "6.1.0-amd64", "name": "Linux"},
		"roles":  []any{"web", map[string]any{"db": "primary"}},
		"mac":    "aa:bb:cc",
		"deep": map[string]any{
			"nested": map[string]any{"leaf": "value", "list": []any{"x", "y"}},
		},
		"count": 3,
	}
}

func TestTraverse(t *testing.T) {
	testCases := []struct {
		name   string
		key    string
		want   any
		wantOK bool
	}{
		{"top level", "os", "Ubuntu", true},
		{"nested map", "kernel:name", "Linux", true},
		{"list index", "ipv4:1", "192.168.0.1", true},
		{"negative index", "ipv4:-1", "192.168.0.1", true},
		{"embedded map in list", "roles:db", "primary", true},
		{"index out of range", "ipv4:5", nil, false},
		{"missing key", "kernel:version", nil, false},
		{"through scalar", "os:name", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Traverse(tree(), tc.key, ":")

			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSubdictMatch(t *testing.T) {
	testCases := []struct {
		name string
		expr string
		opts MatchOptions
		want bool
	}{
		{"glob on scalar", "os:ubu*", MatchOptions{}, true},
		{"glob is case insensitive", "os:UBUNTU", MatchOptions{}, true},
		{"glob mismatch", "os:Debian", MatchOptions{}, false},
		{"list member", "ipv4:192.168.0.1", MatchOptions{}, true},
		{"list member glob", "ipv4:10.*", MatchOptions{}, false},
		{"nested value", "kernel:release:6.1*", MatchOptions{}, true},
		{"dict key", "kernel:release", MatchOptions{}, true},
		{"dict star", "kernel:*", MatchOptions{}, true},
		{"wildcard search", "kernel:*:linux", MatchOptions{}, true},
		{"wildcard search in list", "deep:nested:*:y", MatchOptions{}, true},
		{"wildcard search miss", "deep:nested:*:z", MatchOptions{}, false},
		{"pattern with delimiter", "mac:aa:bb:*", MatchOptions{}, true},
		{"number", "count:3", MatchOptions{}, true},
		{"no delimiter", "os", MatchOptions{}, false},
		{"regex anchored at start", "os:ubun", MatchOptions{Regex: true}, true},
		{"regex rejects infix", "os:buntu", MatchOptions{Regex: true}, false},
		{"regex list member", `ipv4:192\.168\..*`, MatchOptions{Regex: true}, true},
		{"invalid regex", "os:(", MatchOptions{Regex: true}, false},
		{"exact", "os:Ubuntu", MatchOptions{Exact: true}, true},
		{"exact rejects glob", "os:Ubu*", MatchOptions{Exact: true}, false},
		{"custom delimiter", "kernel|name|linux", MatchOptions{Delimiter: "|"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SubdictMatch(tree(), tc.expr, tc.opts))
		})
	}
}

func TestFnmatch(t *testing.T) {
	testCases := []struct {
		name, pattern string
		want          bool
	}{
		{"web01", "web*", true},
		{"web01", "web0?", true},
		{"web01", "web0[12]", true},
		{"web03", "web0[!12]", true},
		{"web01", "web0[!12]", false},
		{"a/b:c", "a*c", true},
		{"x[", "x[", true},
		{"web.01", "web?01", true},
		{"webX01", "web.01", false},
	}

	for _, tc := range testCases {
		t.Run(tc.pattern+"~"+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Fnmatch(tc.name, tc.pattern))
		})
	}
}

func TestUnit(t *testing.T) {
	// --- Arrange ---
	u := NewUnit()
	ctx := context.Background()
	match, ok := u.Func("subdict_match")
	require.True(t, ok)
	trav, ok := u.Func("traverse")
	require.True(t, ok)

	// --- Act & Assert ---
	got, err := match(ctx, tree(), "kernel:name:lin*")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = match(ctx, tree(), "os", plugin.Kwargs{"exact_match": true})
	require.NoError(t, err)
	assert.Equal(t, false, got)

	got, err = trav(ctx, tree(), "deep:nested:leaf")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	got, err = trav(ctx, tree(), "deep/missing", "fallback", "/")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}
