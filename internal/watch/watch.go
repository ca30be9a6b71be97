// Package watch reports debounced changes below the plugin search
// directories so registries can be cleared and reloaded.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/fsutil"
)

const defaultDebounce = 300 * time.Millisecond

// DefaultPatterns select plugin sources, artifacts and package libraries.
var DefaultPatterns = []string{"**/*.hcl", "**/*.hcl.json"}

var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Dirs are the roots to watch. A root that does not exist yet is picked
	// up once it is created.
	Dirs []string
	// Patterns are doublestar globs relative to a root. Empty selects
	// DefaultPatterns.
	Patterns []string
	// Ignore extends the built-in ignore patterns.
	Ignore   []string
	Debounce time.Duration
	// OnChange receives the absolute paths changed within one debounce
	// window.
	OnChange func(ctx context.Context, changed []string) error
}

// Watcher monitors the roots and fires OnChange after a quiet period.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	patterns []string
	ignores  []string
	debounce time.Duration
	started  atomic.Bool

	mu      sync.Mutex
	roots   []string
	waiting []string
}

// New validates cfg and registers every directory below the existing
// roots. For a missing root the nearest existing parent is watched instead.
func New(ctx context.Context, cfg Config) (*Watcher, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range append(slices.Clone(patterns), cfg.Ignore...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch: invalid pattern %q", p)
		}
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
	}
	logger := ctxlog.FromContext(ctx)
	for _, dir := range fsutil.DedupPaths(cfg.Dirs) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			logger.Debug("Skipping watch root.", "dir", dir, "error", err)
			continue
		}
		if !fsutil.IsDir(abs) {
			logger.Debug("Watch root missing, waiting for it.", "dir", abs)
			w.waiting = append(w.waiting, abs)
			w.watchParent(ctx, abs)
			continue
		}
		if err := w.addTree(ctx, abs); err != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
		w.roots = append(w.roots, abs)
	}
	return w, nil
}

// Roots are the watched roots as absolute paths.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.roots)
}

// Waiting are the roots not created yet.
func (w *Watcher) Waiting() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.waiting)
}

// Run blocks until ctx is cancelled. It returns nil on cancellation and an
// error when the underlying watcher breaks. Run may only be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}
	logger := ctxlog.FromContext(ctx)

	var (
		mu      sync.Mutex
		pending = map[string]struct{}{}
		timer   *time.Timer
		running atomic.Bool
		fire    func()
	)

	queue := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		pending[path] = struct{}{}
		if timer == nil {
			timer = time.AfterFunc(w.debounce, fire)
		} else {
			timer.Reset(w.debounce)
		}
	}

	fire = func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		logger.Debug("Plugin files changed.", "paths", changed)
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				logger.Error("Change callback failed.", "error", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			logger.Warn("Closing fsnotify watcher failed.", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(ctx, evt.Name)
				for _, path := range w.adoptRoots(ctx) {
					queue(path)
				}
			}
			if w.relevant(evt.Name) {
				queue(evt.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatal(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			logger.Warn("fsnotify error.", "error", err)
		}
	}
}

// isFatal reports resource exhaustion, after which the watcher cannot
// recover.
func isFatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

func (w *Watcher) addTree(ctx context.Context, root string) error {
	logger := ctxlog.FromContext(ctx)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Debug("Skipping inaccessible path.", "path", path, "error", err)
			return nil //nolint:nilerr // inaccessible directories are not watched
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil && rel != "." && w.ignored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", root, err)
	}
	return nil
}

// watchParent watches the nearest existing ancestor of a missing root, so
// its creation, or that of a directory on the way to it, is reported.
func (w *Watcher) watchParent(ctx context.Context, root string) {
	dir := filepath.Dir(root)
	for !fsutil.IsDir(dir) {
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
	if err := w.fsw.Add(dir); err != nil {
		ctxlog.FromContext(ctx).Debug("Watching parent of missing root failed.", "root", root, "dir", dir, "error", err)
	}
}

// adoptRoots starts watching every waiting root that now exists and
// returns the matching files already inside them. Roots still missing
// move their parent watch down to the nearest existing directory.
func (w *Watcher) adoptRoots(ctx context.Context) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.waiting) == 0 {
		return nil
	}

	logger := ctxlog.FromContext(ctx)
	var found, still []string
	for _, root := range w.waiting {
		if !fsutil.IsDir(root) {
			w.watchParent(ctx, root)
			still = append(still, root)
			continue
		}
		if err := w.addTree(ctx, root); err != nil {
			logger.Warn("Watching new root failed.", "dir", root, "error", err)
			still = append(still, root)
			continue
		}
		w.roots = append(w.roots, root)
		found = append(found, w.existing(root)...)
		logger.Info("Watching new plugin directory.", "dir", root)
	}
	w.waiting = still
	return found
}

// existing lists the files below root that match the patterns.
func (w *Watcher) existing(root string) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr // outside root
		}
		rel = filepath.ToSlash(rel)
		if !w.ignored(rel) && Match(w.patterns, rel) {
			out = append(out, path)
		}
		return nil
	})
	return out
}

func (w *Watcher) maybeAddDir(ctx context.Context, path string) {
	if !fsutil.IsDir(path) {
		return
	}
	for _, root := range w.Roots() {
		if within(root, path) {
			if err := w.addTree(ctx, path); err != nil {
				ctxlog.FromContext(ctx).Warn("Watching new directory failed.", "path", path, "error", err)
			}
			return
		}
	}
}

// relevant reports whether path lies below a root, matches a pattern and
// is not ignored. Removed paths cannot be stat'ed, so only names count.
func (w *Watcher) relevant(path string) bool {
	for _, root := range w.Roots() {
		rel, err := filepath.Rel(root, path)
		if err != nil || !within(root, path) {
			continue
		}
		rel = filepath.ToSlash(rel)
		if w.ignored(rel) {
			return false
		}
		return Match(w.patterns, rel)
	}
	return false
}

func (w *Watcher) ignored(rel string) bool {
	return Match(w.ignores, filepath.ToSlash(rel))
}

// Match reports whether rel matches any of patterns.
func Match(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !hasParentPrefix(rel))
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// Within reports whether path lies in dir.
func Within(dir, path string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return within(abs, path)
}
