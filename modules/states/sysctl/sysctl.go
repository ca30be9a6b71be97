// Package sysctl is the state module keeping a kernel parameter set on the
// running system and recorded in its configuration file. It drives the
// sysctl execution module through the "salt" dispatcher.
package sysctl

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
	"github.com/vk/grainload/internal/state"
)

// Tag is the plugin kind this package registers under.
const Tag = "states"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the sysctl state module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin(Tag, "sysctl", func() plugin.Unit { return New() })
}

// Unit is the sysctl state plugin.
type Unit struct {
	*plugin.Native
}

// New returns a fresh sysctl state unit.
func New() *Unit {
	u := &Unit{Native: plugin.NewNative("sysctl")}
	u.Define("present", u.present)
	return u
}

// Virtual implements plugin.VirtualResolver. The state needs the execution
// module.
func (u *Unit) Virtual(c *plugin.Context) (plugin.VirtualResult, error) {
	if d, ok := c.Dispatcher("salt"); ok && d.Has("sysctl.show") {
		return plugin.Enable(), nil
	}
	return plugin.Disable("sysctl module could not be loaded"), nil
}

// present(name, value, config=null, ignore=false)
func (u *Unit) present(ctx context.Context, args ...any) (any, error) {
	c := u.Shared()
	if c == nil {
		return nil, fmt.Errorf("sysctl.present: no context bound")
	}
	a, err := plugin.BindArgs(args, "name", "value", "config", "ignore")
	if err != nil {
		return nil, fmt.Errorf("sysctl.present: %w", err)
	}
	res, err := Present(ctx, c, a.String("name", ""), a.String("value", ""), a.String("config", ""), a.Bool("ignore", false))
	if err != nil {
		return nil, err
	}
	return res.Map(), nil
}

var blanks = regexp.MustCompile(` +|\t+`)

// Present ensures name is value in memory and persisted to conf. In test
// mode nothing is written and the result says what would change.
func Present(ctx context.Context, c *plugin.Context, name, value, conf string, ignore bool) (*state.Result, error) {
	ret := state.New(name)

	if conf == "" {
		if d, ok := c.Dispatcher("salt"); ok && d.Has("sysctl.default_config") {
			v, err := c.Salt(ctx, "sysctl.default_config")
			if err != nil {
				return nil, err
			}
			conf = plugin.ToString(v)
		} else {
			conf = config.DefaultSysctlConfig
		}
	}

	if c.TestMode() {
		return dryRun(ctx, c, ret, name, value, conf)
	}

	update, err := c.Salt(ctx, "sysctl.persist", name, value, conf, ignore)
	if err != nil {
		return ret.Fail(fmt.Sprintf("Failed to set %s to %s: %v", name, value, err)), nil
	}
	switch plugin.ToString(update) {
	case "Updated":
		ret.Changes[name] = value
		ret.Comment = fmt.Sprintf("Updated sysctl value %s = %s", name, value)
	case "Already set":
		ret.Comment = fmt.Sprintf("Sysctl value %s = %s is already set", name, value)
	case "Ignored":
		ret.Comment = fmt.Sprintf("Sysctl value %s = %s was ignored", name, value)
	}
	return ret, nil
}

func dryRun(ctx context.Context, c *plugin.Context, ret *state.Result, name, value, conf string) (*state.Result, error) {
	rawCurrent, err := c.Salt(ctx, "sysctl.show")
	if err != nil {
		return nil, err
	}
	current, _ := rawCurrent.(map[string]any)
	rawConfigured, err := c.Salt(ctx, "sysctl.show", plugin.Kwargs{"config_file": conf})
	if err != nil {
		return nil, err
	}
	configured, ok := rawConfigured.(map[string]any)
	if !ok {
		return ret.Pending(fmt.Sprintf(
			"Sysctl option %s might be changed, we failed to check config file at %s. The file is either unreadable, or missing.",
			name, conf)), nil
	}

	running, inCurrent := current[name]
	_, inConfigured := configured[name]
	switch {
	case inCurrent && !inConfigured:
		if blanks.ReplaceAllString(plugin.ToString(running), " ") != blanks.ReplaceAllString(value, " ") {
			return ret.Pending(fmt.Sprintf("Sysctl option %s set to be changed to %s", name, value)), nil
		}
		return ret.Pending(fmt.Sprintf(
			"Sysctl value is currently set on the running system but not in a config file. Sysctl option %s set to be changed to %s in config file.",
			name, value)), nil
	case inConfigured && !inCurrent:
		return ret.Pending(fmt.Sprintf(
			"Sysctl value %s is present in configuration file but is not present in the running config. The value %s is set to be changed to %s",
			name, name, value)), nil
	case inConfigured && inCurrent:
		now, err := c.Salt(ctx, "sysctl.get", name)
		if err != nil {
			return nil, err
		}
		if strings.Join(strings.Fields(value), " ") == strings.Join(strings.Fields(plugin.ToString(now)), " ") {
			return ret.Succeed(fmt.Sprintf("Sysctl value %s = %s is already set", name, value)), nil
		}
	}
	return ret.Pending(fmt.Sprintf("Sysctl option %s would be changed to %s", name, value)), nil
}
