package inject

import (
	"context"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/grainload/internal/ctyconv"
	"github.com/vk/grainload/internal/plugin"
)

// fakeDispatcher serves a fixed table of Go functions.
type fakeDispatcher map[string]plugin.Func

func (f fakeDispatcher) Call(ctx context.Context, key string, args ...any) (any, error) {
	fn, ok := f[key]
	if !ok {
		return nil, plugin.ErrNotFound
	}
	return fn(ctx, args...)
}

func (f fakeDispatcher) Has(key string) bool {
	_, ok := f[key]
	return ok
}

func eval(t *testing.T, c *plugin.Context, src string) any {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.Pos{Line: 1, Column: 1})
	require.False(t, diags.HasErrors(), diags.Error())

	ctx := context.Background()
	funcs := Stdlib()
	for name, fn := range Functions(c, func() context.Context { return ctx }) {
		funcs[name] = fn
	}
	val, diags := expr.Value(&hcl.EvalContext{Variables: Variables(ctx, c), Functions: funcs})
	require.False(t, diags.HasErrors(), diags.Error())
	out, err := ctyconv.ToNative(val)
	require.NoError(t, err)
	return out
}

func TestNew_InstallsSelfAsSalt(t *testing.T) {
	self := fakeDispatcher{}
	c := plugin.NewContext("module", nil, nil)

	New(c, self)

	assert.Equal(t, self, c.Pack["salt"])
	assert.Equal(t, self, c.Self)
}

func TestNew_KeepsExplicitSalt(t *testing.T) {
	salt := fakeDispatcher{"test.ping": func(context.Context, ...any) (any, error) { return true, nil }}
	c := plugin.NewContext("states", nil, map[string]any{"salt": salt})

	New(c, fakeDispatcher{})

	assert.Equal(t, salt, c.Pack["salt"])
}

func TestFunctions_DispatchAndScratch(t *testing.T) {
	// --- Arrange ---
	salt := fakeDispatcher{
		"test.echo": func(_ context.Context, args ...any) (any, error) { return args[0], nil },
	}
	c := plugin.NewContext("module", map[string]any{"id": "minion1"}, map[string]any{"salt": salt, "motd": "hi"})

	// --- Act & Assert ---
	assert.Equal(t, "x", eval(t, c, `salt("test.echo", "x")`))
	assert.Equal(t, true, eval(t, c, `available("salt", "test.echo")`))
	assert.Equal(t, false, eval(t, c, `available("salt", "test.nope")`))
	assert.Equal(t, 5, eval(t, c, `context_set("count", 5)`))
	assert.Equal(t, 5, c.Scratch["count"])
	assert.Equal(t, 5, eval(t, c, `context_get("count", 0)`))
	assert.Equal(t, "none", eval(t, c, `context_get("missing", "none")`))
	assert.Equal(t, "minion1", eval(t, c, `opts.id`))
	assert.Equal(t, "hi", eval(t, c, `pack.motd`))
}

func TestRefresh_UpdatesOptsInPlace(t *testing.T) {
	opts := map[string]any{"id": "a", "grains": map[string]any{"os": "Linux"}}
	c := plugin.NewContext("module", opts, nil)
	i := New(c, fakeDispatcher{})
	held := c.Opts

	i.Refresh(context.Background(), map[string]any{"id": "b", "grains": map[string]any{"os": "FreeBSD"}})

	assert.Equal(t, "b", held["id"])
	assert.Equal(t, "FreeBSD", c.Grains["os"])
	assert.Equal(t, cty.StringVal("b"), Variables(context.Background(), c)["opts"].GetAttr("id"))
}
