package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/grainload/internal/plugin"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// execute runs the root command against a fresh plugin root and options
// file, returning stdout and the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "srv")
	writeFile(t, filepath.Join(root, "modules", "math.hcl"), `
function "add" {
  params = [a, b]
  result = a + b
}
`)
	optsPath := filepath.Join(dir, "minion.yaml")
	writeFile(t, optsPath, "id: web01\ngrains:\n  os: Linux\n")

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--config", optsPath, "--module-dir", root}, args...))

	err := cmd.Execute()
	if testing.Verbose() {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"call", "list", "match", "state", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "o", output.Shorthand)
	assert.Equal(t, "yaml", output.DefValue)

	level := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, level)
	assert.Equal(t, "warn", level.DefValue)
}

func TestCall(t *testing.T) {
	t.Run("builtin", func(t *testing.T) {
		out, err := execute(t, "call", "test.ping")

		require.NoError(t, err)
		assert.Equal(t, "true\n", out)
	})

	t.Run("plugin with typed args", func(t *testing.T) {
		out, err := execute(t, "-o", "json", "call", "math.add", "2", "b=3")

		require.NoError(t, err)
		var got float64
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, float64(5), got)
	})

	t.Run("grain lookup", func(t *testing.T) {
		out, err := execute(t, "call", "grains.get", "os")

		require.NoError(t, err)
		assert.Equal(t, "Linux\n", out)
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := execute(t, "call", "nothere.fn")

		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.ErrorIs(t, err, plugin.ErrNotFound)
	})

	t.Run("malformed key", func(t *testing.T) {
		_, err := execute(t, "call", "nodot")

		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestList(t *testing.T) {
	out, err := execute(t, "-o", "json", "list", "--tag", "matchers")

	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.Contains(t, keys, "compound.match")
	assert.Contains(t, keys, "glob.match")
}

func TestList_Modules(t *testing.T) {
	out, err := execute(t, "-o", "json", "list", "--modules")

	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, "math")
	assert.Contains(t, names, "test")
	assert.NotContains(t, names, "math.add")
}

func TestList_UnknownTag(t *testing.T) {
	_, err := execute(t, "list", "--tag", "beacons")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMatch(t *testing.T) {
	out, err := execute(t, "match", "G@os:Linux and web*")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = execute(t, "match", "--type", "glob", "db*")
	assert.Equal(t, "false\n", out)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestState_UnknownFunction(t *testing.T) {
	_, err := execute(t, "state", "nothere.present", "x")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestState_TooManyPositionals(t *testing.T) {
	_, err := execute(t, "state", "sysctl.present", "a", "b")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidOutput(t *testing.T) {
	_, err := execute(t, "-o", "xml", "call", "test.ping")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "call", "test.ping")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseArgs(t *testing.T) {
	pos, kw := parseArgs([]string{"3", "true", "plain text", "[a, b]", "name=vm.swappiness", "value=20", "a.b=c"})

	assert.Equal(t, []any{3, true, "plain text", []any{"a", "b"}, "a.b=c"}, pos)
	assert.Equal(t, plugin.Kwargs{"name": "vm.swappiness", "value": 20}, kw)
}

func TestParseArgs_KeepsNumbersYAMLWouldRewrite(t *testing.T) {
	pos, kw := parseArgs([]string{"0.10", "007", "1e3", "0x1F", "0.5", "-4", "version=1.10"})

	assert.Equal(t, []any{"0.10", "007", "1e3", "0x1F", 0.5, -4}, pos)
	assert.Equal(t, plugin.Kwargs{"version": "1.10"}, kw)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", assert.AnError)))
}
