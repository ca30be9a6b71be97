// Package sysctl is the execution module reading and persisting kernel
// parameters through the proc filesystem and a sysctl configuration file.
package sysctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/vk/grainload/internal/config"
	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/fsutil"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// Persist outcomes.
const (
	Updated    = "Updated"
	AlreadySet = "Already set"
	Ignored    = "Ignored"
)

// ErrUnknownParameter is returned for a name with no proc entry.
var ErrUnknownParameter = errors.New("sysctl does not exist")

// ErrInvalidParameter is returned for a name resolving outside the proc root.
var ErrInvalidParameter = errors.New("invalid sysctl name")

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the sysctl execution module. It is filed as
// linux_sysctl and published as sysctl by its availability hook.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "linux_sysctl", func() plugin.Unit { return New() })
}

// VirtualName is the name the module registers under.
const VirtualName = "sysctl"

// Unit is the sysctl plugin. It is only available on Linux with a readable
// proc root.
type Unit struct {
	*plugin.Native
	goos string
}

// New returns a fresh sysctl unit.
func New() *Unit {
	u := &Unit{Native: plugin.NewNative("linux_sysctl"), goos: runtime.GOOS}
	u.Define("default_config", u.defaultConfig).
		Define("show", u.show).
		Define("get", u.get).
		Define("assign", u.assign).
		Define("persist", u.persist)
	return u
}

// Virtual implements plugin.VirtualResolver.
func (u *Unit) Virtual(c *plugin.Context) (plugin.VirtualResult, error) {
	if u.goos != "linux" {
		return plugin.Disable("sysctl requires Linux, running on " + u.goos), nil
	}
	root := procRoot(c)
	if !fsutil.IsDir(root) {
		return plugin.Disable("proc root " + root + " is missing"), nil
	}
	return plugin.Rename(VirtualName), nil
}

func procRoot(c *plugin.Context) string {
	return c.OptString("sysctl_proc_root", config.DefaultProcRoot)
}

// paramPath maps "net.ipv4.ip_forward" to its proc file. Dots and slashes
// swap, so interface names holding dots survive the round trip.
func paramPath(root, name string) (string, error) {
	path := filepath.Join(root, swap(name, '.', '/'))
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrInvalidParameter)
	}
	return path, nil
}

func paramName(rel string) string {
	return swap(filepath.ToSlash(rel), '/', '.')
}

func swap(s string, a, b rune) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case a:
			return b
		case b:
			return a
		}
		return r
	}, s)
}

func (u *Unit) context() (*plugin.Context, error) {
	c := u.Shared()
	if c == nil {
		return nil, errors.New("sysctl: no context bound")
	}
	return c, nil
}

// defaultConfig()
func (u *Unit) defaultConfig(_ context.Context, _ ...any) (any, error) {
	c, err := u.context()
	if err != nil {
		return nil, err
	}
	return c.OptString("sysctl_config", config.DefaultSysctlConfig), nil
}

// show(config_file=null) lists the running parameters, or the entries of a
// configuration file. A missing or unreadable file yields null.
func (u *Unit) show(ctx context.Context, args ...any) (any, error) {
	c, err := u.context()
	if err != nil {
		return nil, err
	}
	a, err := plugin.BindArgs(args, "config_file")
	if err != nil {
		return nil, err
	}
	if file := a.String("config_file", ""); file != "" {
		entries, err := ReadConfig(file)
		if err != nil {
			ctxlog.FromContext(ctx).Debug("Sysctl config not readable.", "path", file, "error", err)
			return nil, nil
		}
		return entries, nil
	}
	return Running(procRoot(c))
}

// get(name)
func (u *Unit) get(_ context.Context, args ...any) (any, error) {
	c, err := u.context()
	if err != nil {
		return nil, err
	}
	a, err := plugin.BindArgs(args, "name")
	if err != nil {
		return nil, err
	}
	return Get(procRoot(c), a.String("name", ""))
}

// assign(name, value, ignore=false)
func (u *Unit) assign(ctx context.Context, args ...any) (any, error) {
	c, err := u.context()
	if err != nil {
		return nil, err
	}
	a, err := plugin.BindArgs(args, "name", "value", "ignore")
	if err != nil {
		return nil, err
	}
	name := a.String("name", "")
	err = Assign(procRoot(c), name, a.String("value", ""))
	if err != nil {
		if a.Bool("ignore", false) {
			ctxlog.FromContext(ctx).Warn("Ignoring sysctl assignment failure.", "name", name, "error", err)
			return map[string]any{}, nil
		}
		return nil, err
	}
	now, err := Get(procRoot(c), name)
	if err != nil {
		return nil, err
	}
	return map[string]any{name: now}, nil
}

// persist(name, value, config=null, ignore=false)
func (u *Unit) persist(ctx context.Context, args ...any) (any, error) {
	c, err := u.context()
	if err != nil {
		return nil, err
	}
	a, err := plugin.BindArgs(args, "name", "value", "config", "ignore")
	if err != nil {
		return nil, err
	}
	file := a.String("config", "")
	if file == "" {
		file = c.OptString("sysctl_config", config.DefaultSysctlConfig)
	}
	return Persist(ctx, procRoot(c), a.String("name", ""), a.String("value", ""), file, a.Bool("ignore", false))
}

// Running reads every parameter below root.
func Running(root string) (map[string]any, error) {
	out := map[string]any{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			// Write-only and restricted entries are skipped.
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		out[paramName(rel)] = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading sysctl parameters from %s: %w", root, err)
	}
	return out, nil
}

// Get reads one parameter.
func Get(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("sysctl name is required")
	}
	path, err := paramPath(root, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if fsutil.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", name, ErrUnknownParameter)
		}
		return "", fmt.Errorf("reading sysctl %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Assign writes one parameter to the running system.
func Assign(root, name, value string) error {
	path, err := paramPath(root, name)
	if err != nil {
		return err
	}
	if !fsutil.IsFile(path) {
		return fmt.Errorf("%s: %w", name, ErrUnknownParameter)
	}
	if err := os.WriteFile(path, []byte(normalize(value)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to set sysctl %s: %w", name, err)
	}
	return nil
}

// ReadConfig parses "key = value" lines, skipping comments.
func ReadConfig(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]any{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimRight(key, " \t")] = strings.TrimLeft(value, " \t")
	}
	return out, sc.Err()
}

var spaces = regexp.MustCompile(`\s+`)

// normalize collapses whitespace in multi-value parameters to the single
// tab the proc filesystem reports.
func normalize(value string) string {
	return spaces.ReplaceAllString(strings.TrimSpace(value), "\t")
}

const configHeader = "#\n# Kernel sysctl configuration\n#\n"

// Persist makes name = value both running and recorded in file. The file is
// created when missing and the matching line is rewritten in place. With
// ignore set, a parameter the running system rejects is reported as Ignored
// once the file is written.
func Persist(ctx context.Context, root, name, value, file string, ignore bool) (string, error) {
	logger := ctxlog.FromContext(ctx).With("name", name, "config", file)
	if _, err := paramPath(root, name); err != nil {
		return "", err
	}
	value = normalize(value)

	if !fsutil.IsFile(file) {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return "", fmt.Errorf("could not create directory for %s: %w", file, err)
		}
		if err := os.WriteFile(file, []byte(configHeader), 0o644); err != nil {
			return "", fmt.Errorf("could not write to file %s: %w", file, err)
		}
		logger.Debug("Created sysctl config file.")
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("could not read from file %s: %w", file, err)
	}

	var lines []string
	edited := false
	for _, line := range strings.SplitAfter(string(raw), "\n") {
		if line == "" {
			continue
		}
		key, current, ok := strings.Cut(line, "=")
		if strings.HasPrefix(line, "#") || !ok || strings.TrimSpace(key) != name {
			lines = append(lines, line)
			continue
		}
		if normalize(current) == value {
			running, err := Get(root, name)
			if err == nil && running == value {
				return AlreadySet, nil
			}
			if err := Assign(root, name, value); err != nil {
				if ignore {
					logger.Warn("Ignoring sysctl assignment failure.", "error", err)
					return Ignored, nil
				}
				return "", err
			}
			return Updated, nil
		}
		lines = append(lines, fmt.Sprintf("%s = %s\n", name, value))
		edited = true
	}
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines[n-1] += "\n"
	}
	if !edited {
		lines = append(lines, fmt.Sprintf("%s = %s\n", name, value))
	}

	if err := os.WriteFile(file, []byte(strings.Join(lines, "")), 0o644); err != nil {
		return "", fmt.Errorf("could not write to file %s: %w", file, err)
	}
	if err := Assign(root, name, value); err != nil {
		if ignore {
			logger.Warn("Ignoring sysctl assignment failure.", "error", err)
			return Ignored, nil
		}
		return "", err
	}
	logger.Info("Sysctl value persisted.", "value", value)
	return Updated, nil
}
