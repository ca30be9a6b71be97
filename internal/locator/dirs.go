package locator

import (
	"path/filepath"

	"github.com/vk/grainload/internal/fsutil"
)

// SearchDirs builds the ordered directory list for one plugin kind. ext is
// the kind's subdirectory name ("modules", "states"); dirsKey names the
// option holding extra directories for it ("module_dirs" style keys are
// joined with ext, "<kind>_dirs" keys are used as-is). Explicitly configured
// directories come first, the extension_modules cache last.
func SearchDirs(opts map[string]any, ext, dirsKey string) []string {
	var dirs []string
	cli := StringList(opts["module_dirs"])
	for _, d := range cli {
		dirs = append(dirs, filepath.Join(d, ext))
	}
	for _, d := range cli {
		dirs = append(dirs, filepath.Join(d, "_"+ext))
	}
	if dirsKey != "" {
		dirs = append(dirs, StringList(opts[dirsKey])...)
	}
	if root, ok := opts["extension_modules"].(string); ok && root != "" {
		dirs = append(dirs, filepath.Join(root, ext))
	}
	return fsutil.DedupPaths(dirs)
}

// StringList reads a string or a list of strings from a decoded option.
func StringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
