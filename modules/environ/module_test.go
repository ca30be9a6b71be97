package environ

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/plugin"
)

func call(t *testing.T, fn string, args ...any) any {
	t.Helper()
	f, ok := New().Func(fn)
	require.True(t, ok, "function %q missing", fn)
	out, err := f(context.Background(), args...)
	require.NoError(t, err)
	return out
}

func TestEnviron(t *testing.T) {
	t.Setenv("GRAINLOAD_ENVIRON_TEST", "on")

	assert.Equal(t, "on", call(t, "get", "GRAINLOAD_ENVIRON_TEST"))
	assert.Equal(t, "dflt", call(t, "get", "GRAINLOAD_ENVIRON_UNSET", "dflt"))
	assert.Equal(t, "", call(t, "get", "GRAINLOAD_ENVIRON_UNSET"))

	assert.Equal(t, true, call(t, "has_value", "GRAINLOAD_ENVIRON_TEST"))
	assert.Equal(t, true, call(t, "has_value", "GRAINLOAD_ENVIRON_TEST", plugin.Kwargs{"value": "on"}))
	assert.Equal(t, false, call(t, "has_value", "GRAINLOAD_ENVIRON_TEST", "off"))
	assert.Equal(t, false, call(t, "has_value", "GRAINLOAD_ENVIRON_UNSET"))

	env, ok := call(t, "items").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "on", env["GRAINLOAD_ENVIRON_TEST"])
}
