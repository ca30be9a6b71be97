package sysctl

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/loader"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
	"github.com/vk/grainload/internal/state"
	execsysctl "github.com/vk/grainload/modules/sysctl"
)

type fixture struct {
	root   string
	conf   string
	opts   map[string]any
	states *loader.Loader
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newFixture wires a states registry to an execution registry over a fake
// proc tree holding vm.swappiness = 10.
func newFixture(t *testing.T, test bool) *fixture {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("sysctl is only available on Linux")
	}
	f := &fixture{root: t.TempDir(), conf: filepath.Join(t.TempDir(), "sysctl.conf")}
	writeFile(t, filepath.Join(f.root, "vm", "swappiness"), "10\n")
	writeFile(t, filepath.Join(f.root, "net", "ipv4", "tcp_rmem"), "4096\t87380\t6291456\n")
	f.opts = map[string]any{
		"sysctl_proc_root": f.root,
		"sysctl_config":    f.conf,
		"test":             test,
	}

	ctx := context.Background()
	cat := registry.Load(&execsysctl.Module{}, &Module{})
	mods, err := loader.New(ctx, loader.Config{Tag: "module", Opts: f.opts, Builtins: cat.Builtins("module")})
	require.NoError(t, err)
	f.states, err = loader.New(ctx, loader.Config{
		Tag:      Tag,
		Opts:     f.opts,
		Pack:     map[string]any{"salt": mods},
		Builtins: cat.Builtins(Tag),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) present(t *testing.T, args ...any) *state.Result {
	t.Helper()
	raw, err := f.states.Call(context.Background(), "sysctl.present", args...)
	require.NoError(t, err)
	m, ok := raw.(map[string]any)
	require.True(t, ok, "present returned %T", raw)
	res, err := state.FromMap(m)
	require.NoError(t, err)
	return res
}

func TestPresent_DryRunPendingChange(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t, true)
	writeFile(t, f.conf, "# nothing yet\n")

	// --- Act ---
	res := f.present(t, "vm.swappiness", 20)

	// --- Assert ---
	assert.Nil(t, res.Result)
	assert.Equal(t, "Sysctl option vm.swappiness set to be changed to 20", res.Comment)
	assert.Empty(t, res.Changes)

	data, err := os.ReadFile(f.conf)
	require.NoError(t, err)
	assert.Equal(t, "# nothing yet\n", string(data), "dry run must not write")
}

func TestPresent_DryRunDecisions(t *testing.T) {
	testCases := []struct {
		name        string
		conf        *string
		param       string
		value       string
		wantResult  *bool
		wantComment string
	}{
		{
			name:        "config missing",
			param:       "vm.swappiness",
			value:       "20",
			wantComment: "Sysctl option vm.swappiness might be changed, we failed to check config file at %CONF%. The file is either unreadable, or missing.",
		},
		{
			name:        "running but not configured",
			conf:        ptr("# empty\n"),
			param:       "vm.swappiness",
			value:       "10",
			wantComment: "Sysctl value is currently set on the running system but not in a config file. Sysctl option vm.swappiness set to be changed to 10 in config file.",
		},
		{
			name:        "running multi value ignores spacing",
			conf:        ptr("# empty\n"),
			param:       "net.ipv4.tcp_rmem",
			value:       "4096 87380 6291456",
			wantComment: "Sysctl value is currently set on the running system but not in a config file. Sysctl option net.ipv4.tcp_rmem set to be changed to 4096 87380 6291456 in config file.",
		},
		{
			name:        "configured but not running",
			conf:        ptr("kernel.absent = 1\n"),
			param:       "kernel.absent",
			value:       "1",
			wantComment: "Sysctl value kernel.absent is present in configuration file but is not present in the running config. The value kernel.absent is set to be changed to 1",
		},
		{
			name:        "configured and running",
			conf:        ptr("vm.swappiness = 10\n"),
			param:       "vm.swappiness",
			value:       "10",
			wantResult:  ptr(true),
			wantComment: "Sysctl value vm.swappiness = 10 is already set",
		},
		{
			name:        "configured and running with another value",
			conf:        ptr("vm.swappiness = 10\n"),
			param:       "vm.swappiness",
			value:       "30",
			wantComment: "Sysctl option vm.swappiness would be changed to 30",
		},
		{
			name:        "set nowhere",
			conf:        ptr("# empty\n"),
			param:       "kernel.other",
			value:       "1",
			wantComment: "Sysctl option kernel.other would be changed to 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			f := newFixture(t, true)
			if tc.conf != nil {
				writeFile(t, f.conf, *tc.conf)
			}

			// --- Act ---
			res := f.present(t, tc.param, tc.value)

			// --- Assert ---
			assert.Equal(t, tc.wantResult, res.Result)
			want := tc.wantComment
			if tc.conf == nil {
				want = strings.ReplaceAll(want, "%CONF%", f.conf)
			}
			assert.Equal(t, want, res.Comment)
		})
	}
}

func TestPresent_Apply(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t, false)

	// --- Act ---
	first := f.present(t, "vm.swappiness", "20")
	second := f.present(t, "vm.swappiness", "20")

	// --- Assert ---
	require.NotNil(t, first.Result)
	assert.True(t, *first.Result)
	assert.Equal(t, map[string]any{"vm.swappiness": "20"}, first.Changes)
	assert.Equal(t, "Updated sysctl value vm.swappiness = 20", first.Comment)

	require.NotNil(t, second.Result)
	assert.True(t, *second.Result)
	assert.Empty(t, second.Changes)
	assert.Equal(t, "Sysctl value vm.swappiness = 20 is already set", second.Comment)

	running, err := execsysctl.Get(f.root, "vm.swappiness")
	require.NoError(t, err)
	assert.Equal(t, "20", running)
}

func TestPresent_ApplyFailures(t *testing.T) {
	f := newFixture(t, false)

	failed := f.present(t, "kernel.absent", "1")
	require.NotNil(t, failed.Result)
	assert.False(t, *failed.Result)
	assert.Contains(t, failed.Comment, "Failed to set kernel.absent to 1")

	ignored := f.present(t, "kernel.absent", "1", nil, true)
	require.NotNil(t, ignored.Result)
	assert.True(t, *ignored.Result)
	assert.Equal(t, "Sysctl value kernel.absent = 1 was ignored", ignored.Comment)
}

func TestPresent_ExplicitConfig(t *testing.T) {
	f := newFixture(t, false)
	other := filepath.Join(t.TempDir(), "other.conf")

	res := f.present(t, "vm.swappiness", "15", plugin.Kwargs{"config": other})

	require.NotNil(t, res.Result)
	assert.True(t, *res.Result)
	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vm.swappiness = 15\n")
	_, err = os.Stat(f.conf)
	assert.True(t, os.IsNotExist(err))
}

func TestVirtual_RequiresExecutionModule(t *testing.T) {
	// --- Arrange ---
	l, err := loader.New(context.Background(), loader.Config{
		Tag:      Tag,
		Builtins: registry.Load(&Module{}).Builtins(Tag),
	})
	require.NoError(t, err)

	// --- Act ---
	_, err = l.Get("sysctl.present")

	// --- Assert ---
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	assert.Contains(t, l.Missing()["sysctl"], "sysctl module could not be loaded")
}

func ptr[T any](v T) *T { return &v }
