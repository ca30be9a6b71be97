package grains

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore(t *testing.T) {
	g := Core(context.Background())

	for _, key := range []string{"id", "host", "kernel", "os", "osarch", "cpuarch", "num_cpus", "ipv4", "ipv6", "path", "pid"} {
		assert.Contains(t, g, key)
	}
	assert.Equal(t, runtime.NumCPU(), g["num_cpus"])
	assert.Equal(t, os.Getpid(), g["pid"])
	if runtime.GOOS == "linux" {
		assert.Equal(t, "Linux", g["kernel"])
	}
	_, ok := g["ipv4"].([]any)
	require.True(t, ok, "ipv4 is a list")
}

func TestMerge_ConfiguredWins(t *testing.T) {
	core := map[string]any{"id": "host", "kernel": "Linux"}
	configured := map[string]any{"id": "minion", "roles": []any{"web"}}

	got := Merge(core, configured)

	assert.Equal(t, map[string]any{"id": "minion", "kernel": "Linux", "roles": []any{"web"}}, got)
	assert.Equal(t, "host", core["id"], "inputs are not modified")
}
