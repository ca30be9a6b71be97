package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/plugin"
)

const constTemplate = `
function "test" {
  params = []
  result = %d
}
`

func writePlugin(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newLoader(t *testing.T, cfg Config) *Loader {
	t.Helper()
	if cfg.Opts == nil {
		cfg.Opts = map[string]any{"id": "minion", "grains": map[string]any{"kernel": "Linux"}}
	}
	l, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return l
}

func callKey(t *testing.T, l *Loader, key string, args ...any) any {
	t.Helper()
	f, err := l.Get(key)
	require.NoError(t, err)
	out, err := f.Call(context.Background(), args...)
	require.NoError(t, err)
	return out
}

func TestGet_SameFunctionUntilClear(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "foo.hcl"), fmt.Sprintf(constTemplate, 1))
	l := newLoader(t, Config{Dirs: []string{dir}})

	// --- Act ---
	first, err := l.Get("foo.test")
	require.NoError(t, err)
	second, err := l.Get("foo.test")
	require.NoError(t, err)

	// --- Assert ---
	assert.Same(t, first, second)
	assert.Equal(t, "foo.test", first.Key)
	assert.Equal(t, uint64(1), first.Generation)

	l.Clear()
	third, err := l.Get("foo.test")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.NotEqual(t, first.Unit, third.Unit, "reimport gets a fresh tag")
	assert.Equal(t, uint64(2), third.Generation)
}

func TestEndToEnd_FileAppearsAfterClear(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.False(t, l.Contains("foo.test"))

	writePlugin(t, filepath.Join(dir, "foo.hcl"), fmt.Sprintf(constTemplate, 1))
	l.Clear()

	assert.True(t, l.Contains("foo.test"))
	assert.Equal(t, 1, callKey(t, l, "foo.test"))
}

func TestHotReload(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	path := filepath.Join(dir, "loadertest.hcl")
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.False(t, l.Contains("loadertest.test"))

	var handedOut []*Function
	for count := 1; count <= 3; count++ {
		// --- Act ---
		writePlugin(t, path, fmt.Sprintf(constTemplate, count))
		l.Clear()

		// --- Assert ---
		f, err := l.Get("loadertest.test")
		require.NoError(t, err)
		out, err := f.Call(context.Background())
		require.NoError(t, err)
		assert.Equal(t, count, out)
		handedOut = append(handedOut, f)
	}

	for i, f := range handedOut {
		out, err := f.Call(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i+1, out, "earlier functions keep their own generation")
	}

	// Removed files stay loaded until the next clear.
	require.NoError(t, os.Remove(path))
	assert.Equal(t, 3, callKey(t, l, "loadertest.test"))
	l.Clear()
	assert.False(t, l.Contains("loadertest.test"))
}

const selectiveTemplate = `
load       = ["test", "test_alias"]
func_alias = { test_alias = "working_alias" }

depends "test3" {
  requires = ["non_existantmodulename"]
}

depends "test4" {
  requires = ["non_existantmodulename"]
  fallback = "test"
}

function "test" {
  params = []
  result = 1
}

function "test_alias" {
  params = []
  result = true
}

function "test2" {
  params = []
  result = true
}

function "test3" {
  params = []
  result = true
}

function "test4" {
  params = []
  result = true
}
`

func TestLoadListAndFuncAlias(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "loadertest.hcl"), selectiveTemplate)
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.True(t, l.Contains("loadertest.test"))
	assert.True(t, l.Contains("loadertest.working_alias"))
	assert.False(t, l.Contains("loadertest.test_alias"), "renamed on export")
	assert.False(t, l.Contains("loadertest.test2"), "not in the load list")
	assert.False(t, l.Contains("loadertest.test3"))
	assert.False(t, l.Contains("loadertest.test4"))
	assert.Equal(t, true, callKey(t, l, "loadertest.working_alias"))
}

func TestDependsGateAndFallback(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "lazyloadertest.hcl"), `
depends "not_loaded" {
  requires = ["bin:definitely-not-a-real-binary-4711"]
}

depends "loaded" {
  requires = ["yaml", "lazyloadertest.helper"]
}

depends "with_fallback" {
  requires = ["env:GRAINLOAD_NEVER_SET_4711"]
  fallback = "helper"
}

function "helper" {
  params = []
  result = "helper"
}

function "loaded" {
  params = []
  result = "loaded"
}

function "not_loaded" {
  params = []
  result = "not_loaded"
}

function "with_fallback" {
  params = []
  result = "original"
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})

	// --- Act & Assert ---
	assert.Equal(t, "loaded", callKey(t, l, "lazyloadertest.loaded"))
	assert.False(t, l.Contains("lazyloadertest.not_loaded"))
	assert.Equal(t, "helper", callKey(t, l, "lazyloadertest.with_fallback"))
}

func TestPackageBeatsFile(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.False(t, l.Contains("foo.test"))

	writePlugin(t, filepath.Join(dir, "foo.hcl"), fmt.Sprintf(constTemplate, 3))
	l.Clear()
	assert.Equal(t, 3, callKey(t, l, "foo.test"))

	writePlugin(t, filepath.Join(dir, "foo", "init.hcl"), fmt.Sprintf(constTemplate, 4))
	l.Clear()
	assert.Equal(t, 4, callKey(t, l, "foo.test"))
}

func TestGet_BadKeys(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "foo.hcl"), fmt.Sprintf(constTemplate, 1))
	l := newLoader(t, Config{Dirs: []string{dir}})

	for _, key := range []any{nil, 123, "", "nodot", ".test", "foo."} {
		_, err := l.Get(key)
		var keyErr *plugin.KeyLookupError
		assert.True(t, errors.As(err, &keyErr), "key %#v: got %v", key, err)
		assert.False(t, l.Contains(key))
	}

	_, err := l.Get("foo.absent")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	_, err = l.Get("nothing.test")
	assert.True(t, plugin.IsNotFound(err))
}

func TestDeepLibrariesReloadIndependently(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	root := filepath.Join(dir, "loadertestsubmoddeep")
	writePlugin(t, filepath.Join(root, "init.hcl"), `
function "top" {
  params = []
  result = top_lib::test()
}

function "mid" {
  params = []
  result = top_lib::mid_lib::test()
}

function "bot" {
  params = []
  result = top_lib::mid_lib::bot_lib::test()
}
`)
	libs := []string{"top_lib", "mid_lib", "bot_lib"}
	libPaths := map[string]string{}
	counts := map[string]int{}
	libDir := root
	for _, lib := range libs {
		libDir = filepath.Join(libDir, lib)
		libPaths[lib] = filepath.Join(libDir, "init.hcl")
	}
	updateLib := func(lib string) {
		counts[lib]++
		writePlugin(t, libPaths[lib], fmt.Sprintf(constTemplate, counts[lib]))
	}
	for _, lib := range libs {
		updateLib(lib)
	}

	l := newLoader(t, Config{Dirs: []string{dir}})
	verify := func() {
		t.Helper()
		for lib, fn := range map[string]string{"top_lib": "top", "mid_lib": "mid", "bot_lib": "bot"} {
			assert.Equal(t, counts[lib], callKey(t, l, "loadertestsubmoddeep."+fn), lib)
		}
	}
	verify()

	// --- Act & Assert ---
	for _, lib := range libs {
		for range 3 {
			updateLib(lib)
			l.Clear()
			verify()
		}
	}

	files := l.Files()
	for _, path := range libPaths {
		assert.Equal(t, "loadertestsubmoddeep", files[path])
	}
}

func TestMissingLibraryFailsImport(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	root := filepath.Join(dir, "loadertestsubmod")
	writePlugin(t, filepath.Join(root, "init.hcl"), `
function "test" {
  params = []
  result = [1, lib::test()]
}
`)
	libPath := filepath.Join(root, "lib.hcl")
	writePlugin(t, libPath, fmt.Sprintf(constTemplate, 1))
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.Equal(t, []any{1, 1}, callKey(t, l, "loadertestsubmod.test"))

	// --- Act ---
	require.NoError(t, os.Remove(libPath))
	l.Clear()

	// --- Assert ---
	assert.False(t, l.Contains("loadertestsubmod.test"))
	assert.Equal(t, StateImportFailed, l.State("loadertestsubmod"))
	assert.Contains(t, l.Missing()["loadertestsubmod"], "lib::test")
}

const virtualOffTemplate = `
virtual {
  enabled = grains.kernel == "Plan9"
  reason  = "only on Plan 9"
}

function "ping" {
  params = []
  result = true
}
`

func TestVirtual_DisabledModuleIsMissing(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "test_virtual.hcl"), virtualOffTemplate)
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.False(t, l.Contains("test_virtual.ping"))
	assert.Equal(t, StateVirtualDisabled, l.State("test_virtual"))
	assert.Contains(t, l.Missing()["test_virtual"], "only on Plan 9")
}

func TestVirtual_EnableFalseSkipsHook(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "test_virtual.hcl"), virtualOffTemplate)
	off := false
	l := newLoader(t, Config{Dirs: []string{dir}, VirtualEnable: &off})

	assert.Equal(t, true, callKey(t, l, "test_virtual.ping"))
}

func TestVirtual_HookSeesOptionChanges(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "test_virtual.hcl"), virtualOffTemplate)
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.False(t, l.Contains("test_virtual.ping"))

	l.Refresh(map[string]any{"id": "minion", "grains": map[string]any{"kernel": "Plan9"}})
	l.Clear()

	assert.True(t, l.Contains("test_virtual.ping"))
}

func TestVirtual_Rename(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "linux_sysctl.hcl"), `
virtual {
  name = "sysctl"
}

function "show" {
  params = []
  result = "shown"
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.Equal(t, "shown", callKey(t, l, "sysctl.show"))
	assert.False(t, l.Contains("linux_sysctl.show"))
	assert.Equal(t, StateRegistered, l.State("linux_sysctl"))
}

func TestVirtualAliases(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "loadertest.hcl"), `
virtual_aliases = ["loadertest2", "loadertest3"]

function "test" {
  params = []
  result = true
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})

	// --- Act & Assert ---
	var entries []*Function
	for _, mod := range []string{"loadertest", "loadertest2", "loadertest3"} {
		assert.Equal(t, true, callKey(t, l, mod+".test"))

		view, err := l.Module(mod)
		require.NoError(t, err)
		out, err := view.Call(context.Background(), "test")
		require.NoError(t, err)
		assert.Equal(t, true, out)

		f, err := l.Get(mod + ".test")
		require.NoError(t, err)
		entries = append(entries, f)
	}
	assert.Same(t, entries[0], entries[1])
	assert.Same(t, entries[0], entries[2])
	assert.Equal(t, []string{"loadertest2.test", "loadertest3.test"}, entries[0].Aliases)
}

func writeStandardModules(t *testing.T, dir string) {
	t.Helper()
	writePlugin(t, filepath.Join(dir, "test.hcl"), `
function "ping" {
  params = []
  result = true
}

function "echo" {
  params = [text]
  result = text
}
`)
	writePlugin(t, filepath.Join(dir, "pillar.hcl"), `
function "get" {
  params = [key]
  result = lookup(pillar, key, "")
}

function "items" {
  params = []
  result = pillar
}
`)
	writePlugin(t, filepath.Join(dir, "grains.hcl"), `
function "get" {
  params = [key]
  result = lookup(grains, key, "")
}
`)
}

func TestWhitelist(t *testing.T) {
	dir := t.TempDir()
	writeStandardModules(t, dir)
	l := newLoader(t, Config{Dirs: []string{dir}, Whitelist: []string{"test", "pillar"}})

	assert.True(t, l.Contains("test.ping"))
	assert.True(t, l.Contains("pillar.get"))
	assert.False(t, l.Contains("grains.get"))
	assert.NotContains(t, l.Keys(), "grains.get")
}

func TestDisableModules(t *testing.T) {
	dir := t.TempDir()
	writeStandardModules(t, dir)
	l := newLoader(t, Config{
		Dirs: []string{dir},
		Opts: map[string]any{"id": "minion", "disable_modules": []any{"pillar"}},
	})

	assert.False(t, l.Contains("pillar.items"))
	assert.True(t, l.Contains("test.ping"))
	l.Len()
	assert.Equal(t, StateExcluded, l.State("pillar"))
}

func TestGet_LoadsOnlyWhatIsNeeded(t *testing.T) {
	dir := t.TempDir()
	writeStandardModules(t, dir)
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.Empty(t, l.funcs)

	assert.True(t, l.Contains("test.ping"))
	for key := range l.funcs {
		assert.Regexp(t, `^test\.`, key)
	}

	assert.Equal(t, 5, l.Len())
	assert.Equal(t, []string{"grains.get", "pillar.get", "pillar.items", "test.echo", "test.ping"}, l.Keys())
	assert.Len(t, l.All(), 5)
}

func TestSharedContextAcrossModules(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "writer.hcl"), `
function "set" {
  params = [value]
  result = context_set("foo", value)
}
`)
	writePlugin(t, filepath.Join(dir, "reader.hcl"), `
function "get" {
  params = []
  result = context_get("foo", "unset")
}

function "snapshot" {
  params = []
  result = lookup(context, "foo", "unset")
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})
	assert.Equal(t, "unset", callKey(t, l, "reader.get"))

	// --- Act ---
	callKey(t, l, "writer.set", "bar")

	// --- Assert ---
	assert.Equal(t, "bar", callKey(t, l, "reader.get"))
	assert.Equal(t, "bar", callKey(t, l, "reader.snapshot"))
	assert.Equal(t, "bar", l.Context().Scratch["foo"])

	l.Clear()
	assert.Equal(t, "bar", callKey(t, l, "reader.get"), "the scratch map survives a clear")
}

func TestPackAndOptionsInjection(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "test.hcl"), `
function "foo" {
  params = []
  result = pack.foo
}

function "id" {
  params = []
  result = opts.id
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})
	idFunc, err := l.Get("test.id")
	require.NoError(t, err)

	l.Pack()["foo"] = "bar"
	assert.Equal(t, "bar", callKey(t, l, "test.foo"))

	l.Refresh(map[string]any{"id": "renamed"})
	out, err := idFunc.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renamed", out, "loaded units observe new options without reload")
}

func TestCrossModuleDispatch(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "a.hcl"), `
function "double" {
  params = [n]
  result = salt("b.id", n) * 2
}

function "via_self" {
  params = [n]
  result = self("b.id", n)
}
`)
	writePlugin(t, filepath.Join(dir, "b.hcl"), `
function "id" {
  params = [n]
  result = n
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.Equal(t, 42, callKey(t, l, "a.double", 21))
	assert.Equal(t, "x", callKey(t, l, "a.via_self", "x"))
}

func TestBuiltinsAreShadowedByFiles(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "shadowed.hcl"), fmt.Sprintf(constTemplate, 2))
	builtin := func(name string) plugin.Builtin {
		return plugin.Builtin{Tag: "module", Name: name, New: func() plugin.Unit {
			return plugin.NewNative(name).Define("test", func(context.Context, ...any) (any, error) {
				return "native", nil
			})
		}}
	}
	l := newLoader(t, Config{
		Dirs:     []string{dir},
		Builtins: []plugin.Builtin{builtin("native"), builtin("shadowed")},
	})

	// --- Act & Assert ---
	assert.Equal(t, "native", callKey(t, l, "native.test"))
	assert.Equal(t, 2, callKey(t, l, "shadowed.test"))
	f, err := l.Get("native.test")
	require.NoError(t, err)
	assert.Empty(t, f.Path)
	assert.Regexp(t, `^module\.native\.\d+$`, f.Unit)
}

func TestVirtualNameCollision_MostRecentWins(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a_impl", "b_impl"} {
		writePlugin(t, filepath.Join(dir, name+".hcl"), fmt.Sprintf(`
virtual {
  name = "shared"
}

function "test" {
  params = []
  result = %d
}
`, i+1))
	}
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.Equal(t, []string{"shared.test"}, l.Keys())
	assert.Equal(t, 2, callKey(t, l, "shared.test"))
}

func TestModuleView(t *testing.T) {
	dir := t.TempDir()
	writeStandardModules(t, dir)
	l := newLoader(t, Config{Dirs: []string{dir}})

	view, err := l.Module("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "ping"}, view.Functions())
	out, err := view.Call(context.Background(), "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = view.Call(context.Background(), "absent")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	_, err = l.Module("absent")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestNew_ValidatesConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"blank delimiter", Config{Opts: map[string]any{"target_delimiter": " "}}},
		{"empty delimiter", Config{Opts: map[string]any{"target_delimiter": ""}}},
		{"duplicate tier", Config{Opts: map[string]any{"optimization_order": []any{0, 0}}}},
		{"unknown tier", Config{Opts: map[string]any{"optimization_order": []any{7}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(context.Background(), tc.cfg)

			var vErr *config.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
		})
	}
}

func TestImportFailureIsCachedUntilClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.hcl")
	writePlugin(t, path, "function \"test\" {\n")
	l := newLoader(t, Config{Dirs: []string{dir}})

	assert.False(t, l.Contains("broken.test"))
	assert.Equal(t, StateImportFailed, l.State("broken"))

	writePlugin(t, path, fmt.Sprintf(constTemplate, 7))
	assert.False(t, l.Contains("broken.test"), "failure is terminal until clear")

	l.Clear()
	assert.Equal(t, 7, callKey(t, l, "broken.test"))
	assert.Equal(t, StateRegistered, l.State("broken"))
	assert.Equal(t, StateUnseen, l.State("never"))
}

func TestRefresh_SiblingRegistriesSeeNewGrains(t *testing.T) {
	// --- Arrange ---
	opts := map[string]any{"id": "minion", "grains": map[string]any{"kernel": "Linux"}}
	kernel := `
function "kernel" {
  params = []
  result = grains.kernel
}
`
	dirA, dirB := t.TempDir(), t.TempDir()
	writePlugin(t, filepath.Join(dirA, "a.hcl"), kernel)
	writePlugin(t, filepath.Join(dirB, "b.hcl"), kernel)
	a := newLoader(t, Config{Dirs: []string{dirA}, Tag: "module", Opts: opts})
	b := newLoader(t, Config{Dirs: []string{dirB}, Tag: "states", Opts: opts})
	require.Equal(t, "Linux", callKey(t, b, "b.kernel"))

	// --- Act ---
	a.Refresh(map[string]any{"id": "minion", "grains": map[string]any{"kernel": "Plan9"}})

	// --- Assert ---
	assert.Equal(t, "Plan9", callKey(t, a, "a.kernel"))
	assert.Equal(t, "Plan9", callKey(t, b, "b.kernel"))
	assert.Equal(t, "Plan9", b.Context().Grains["kernel"])
}

func TestRefresh_WithLiveOptions(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writePlugin(t, filepath.Join(dir, "who.hcl"), `
function "id" {
  params = []
  result = "${opts.id}/${grains.kernel}"
}
`)
	l := newLoader(t, Config{Dirs: []string{dir}})

	// --- Act ---
	l.Refresh(l.Context().Opts)

	// --- Assert ---
	assert.Equal(t, "minion/Linux", callKey(t, l, "who.id"))
	assert.Equal(t, "minion", l.Context().Opts["id"])
}
