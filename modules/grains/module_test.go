package grains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/loader"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

func TestModule(t *testing.T) {
	// --- Arrange ---
	opts := map[string]any{
		"grains": map[string]any{
			"os":     "Ubuntu",
			"kernel": map[string]any{"name": "Linux"},
		},
		"target_delimiter": "|",
	}
	l, err := loader.New(context.Background(), loader.Config{
		Opts:     opts,
		Builtins: registry.Load(&Module{}).Builtins("module"),
	})
	require.NoError(t, err)
	ctx := context.Background()
	call := func(key string, args ...any) any {
		t.Helper()
		v, err := l.Call(ctx, key, args...)
		require.NoError(t, err)
		return v
	}

	// --- Act & Assert ---
	assert.Equal(t, "Ubuntu", call("grains.get", "os"))
	assert.Equal(t, "Linux", call("grains.get", "kernel|name"))
	assert.Equal(t, "Linux", call("grains.get", "kernel/name", nil, "/"))
	assert.Equal(t, "", call("grains.get", "absent"))
	assert.Equal(t, "fallback", call("grains.get", "absent", plugin.Kwargs{"default": "fallback"}))
	assert.Equal(t, []any{"kernel", "os"}, call("grains.ls"))

	assert.Equal(t, map[string]any{"role": "web"}, call("grains.setval", "role", "web"))
	assert.Equal(t, "web", call("grains.get", "role"))
	assert.Equal(t, "web", opts["grains"].(map[string]any)["role"])
	assert.Len(t, call("grains.items"), 3)
}
