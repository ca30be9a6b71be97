// Package locator enumerates plugin candidates from an ordered list of search
// directories and the compiled-in built-ins.
package locator

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/fsutil"
	"github.com/vk/grainload/internal/plugin"
)

const (
	// SourceExt is the native plugin source suffix.
	SourceExt = ".hcl"
	// ArtifactExt is the pre-rendered JSON form of a plugin.
	ArtifactExt = ".hcl.json"
	// PackageInit is the base name of a package's entry file.
	PackageInit = "init"
)

// Kind distinguishes the shape a candidate was found in.
type Kind int

const (
	KindFile Kind = iota
	KindPackage
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPackage:
		return "package"
	default:
		return "builtin"
	}
}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Candidate is one importable plugin.
type Candidate struct {
	Name string
	Kind Kind
	// Dir is the search directory the candidate came from.
	Dir string
	// Root is the package directory; empty for single files.
	Root string
	// Source and Artifact are the available on-disk forms.
	Source   string
	Artifact string
	Builtin  *plugin.Builtin
}

// Path identifies the candidate in logs and errors.
func (c *Candidate) Path() string {
	switch {
	case c.Source != "":
		return c.Source
	case c.Artifact != "":
		return c.Artifact
	case c.Builtin != nil:
		return "builtin:" + c.Builtin.Tag + "/" + c.Builtin.Name
	default:
		return c.Name
	}
}

// Mapping is the ordered result of a scan.
type Mapping struct {
	names  []string
	byName map[string]*Candidate
}

// Get returns the winning candidate for name.
func (m *Mapping) Get(name string) (*Candidate, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// Names lists candidate names in scan order.
func (m *Mapping) Names() []string {
	return append([]string{}, m.names...)
}

// Len is the number of candidates.
func (m *Mapping) Len() int { return len(m.names) }

func (m *Mapping) put(c *Candidate) {
	existing, ok := m.byName[c.Name]
	if !ok {
		m.byName[c.Name] = c
		m.names = append(m.names, c.Name)
		return
	}
	if existing.Kind == KindFile && c.Kind == KindPackage {
		m.byName[c.Name] = c
	}
}

// Locate scans dirs in order and appends builtins for names no directory
// provides. Unreadable directories are skipped.
func Locate(ctx context.Context, dirs []string, builtins []plugin.Builtin) *Mapping {
	logger := ctxlog.FromContext(ctx)
	m := &Mapping{byName: map[string]*Candidate{}}

	for _, dir := range fsutil.DedupPaths(dirs) {
		found, err := scanDir(dir)
		if err != nil {
			scanErr := &plugin.ScanError{Dir: dir, Err: err}
			if fsutil.IsNotExist(err) {
				logger.Debug("Search directory missing, skipping.", "error", scanErr)
			} else {
				logger.Warn("Search directory unreadable, skipping.", "error", scanErr)
			}
			continue
		}
		for _, c := range found {
			m.put(c)
		}
	}

	for i := range builtins {
		b := &builtins[i]
		if _, ok := m.byName[b.Name]; ok {
			logger.Debug("Built-in shadowed by on-disk plugin.", "name", b.Name)
			continue
		}
		m.put(&Candidate{Name: b.Name, Kind: KindBuiltin, Builtin: b})
	}

	logger.Debug("Plugin scan finished.", "dirs", len(dirs), "candidates", m.Len())
	return m
}

func scanDir(dir string) ([]*Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var order []string
	byName := map[string]*Candidate{}
	add := func(c *Candidate) {
		existing, ok := byName[c.Name]
		if !ok {
			byName[c.Name] = c
			order = append(order, c.Name)
			return
		}
		switch {
		case existing.Kind == KindFile && c.Kind == KindPackage:
			byName[c.Name] = c
		case existing.Kind == c.Kind:
			if c.Source != "" {
				existing.Source = c.Source
			}
			if c.Artifact != "" {
				existing.Artifact = c.Artifact
			}
		}
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		full := filepath.Join(dir, name)
		if fsutil.IsDir(full) {
			if c := packageCandidate(dir, name); c != nil {
				add(c)
			}
			continue
		}
		if c := fileCandidate(dir, name); c != nil {
			add(c)
		}
	}

	out := make([]*Candidate, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

func packageCandidate(dir, name string) *Candidate {
	if !validName.MatchString(name) {
		return nil
	}
	root := filepath.Join(dir, name)
	c := &Candidate{Name: name, Kind: KindPackage, Dir: dir, Root: root}
	if p := filepath.Join(root, PackageInit+SourceExt); fsutil.IsFile(p) {
		c.Source = p
	}
	if p := filepath.Join(root, PackageInit+ArtifactExt); fsutil.IsFile(p) {
		c.Artifact = p
	}
	if c.Source == "" && c.Artifact == "" {
		return nil
	}
	return c
}

func fileCandidate(dir, name string) *Candidate {
	var base string
	c := &Candidate{Kind: KindFile, Dir: dir}
	switch {
	case strings.HasSuffix(name, ArtifactExt):
		base = strings.TrimSuffix(name, ArtifactExt)
		c.Artifact = filepath.Join(dir, name)
	case strings.HasSuffix(name, SourceExt):
		base = strings.TrimSuffix(name, SourceExt)
		c.Source = filepath.Join(dir, name)
	default:
		return nil
	}
	if !validName.MatchString(base) {
		return nil
	}
	c.Name = base
	return c
}
