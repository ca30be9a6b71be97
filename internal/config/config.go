// Package config reads the options file shared by every registry. The file
// is YAML, validated against an embedded CUE schema, then completed with
// defaults.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/vk/grainload/internal/compiler"
	"github.com/vk/grainload/internal/grains"
)

//go:embed schema.cue
var schemaSource string

// Defaults applied when the options file leaves a key unset.
const (
	DefaultDelimiter    = ":"
	DefaultSysctlConfig = "/etc/sysctl.conf"
	DefaultProcRoot     = "/proc/sys"
)

// ValidationError reports an option that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid option %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid option %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Load reads and validates the options file at path. A missing file yields
// defaults only.
func Load(ctx context.Context, path string) (map[string]any, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read options file: %w", err)
		}
	}
	opts, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(ctx, opts)
	return opts, nil
}

// Parse decodes YAML options and validates them without applying defaults.
func Parse(data []byte, path string) (map[string]any, error) {
	opts := map[string]any{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, &ValidationError{Field: path, Reason: "not valid YAML", Err: err}
		}
		if opts == nil {
			opts = map[string]any{}
		}
	}
	if err := validateSchema(opts); err != nil {
		return nil, err
	}
	if d, ok := opts["target_delimiter"]; ok {
		s, _ := d.(string)
		if err := ValidateDelimiter(s); err != nil {
			return nil, err
		}
	}
	if v, ok := opts["optimization_order"]; ok {
		if _, err := TierOrder(v); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func validateSchema(opts map[string]any) error {
	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(schemaSource)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile options schema: %w", schemaValue.Err())
	}
	userValue := ctx.Encode(opts)
	if userValue.Err() != nil {
		return &ValidationError{Field: "options", Reason: "cannot be encoded", Err: userValue.Err()}
	}
	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return &ValidationError{Field: "options", Reason: "schema violation", Err: err}
	}
	return nil
}

// ApplyDefaults fills unset keys. Configured grains are merged over the core
// grains.
func ApplyDefaults(ctx context.Context, opts map[string]any) {
	configured, _ := opts["grains"].(map[string]any)
	opts["grains"] = grains.Merge(grains.Core(ctx), configured)

	g := opts["grains"].(map[string]any)
	if _, ok := opts["id"]; !ok {
		opts["id"] = g["id"]
	}
	// The id grain always reports the effective id.
	g["id"] = opts["id"]

	setDefault(opts, "pillar", map[string]any{})
	setDefault(opts, "target_delimiter", DefaultDelimiter)
	setDefault(opts, "virtual_enable", true)
	setDefault(opts, "optimization_order", []any{2, 1, 0})
	setDefault(opts, "sysctl_config", DefaultSysctlConfig)
	setDefault(opts, "sysctl_proc_root", DefaultProcRoot)
	setDefault(opts, "nodegroups", map[string]any{})
	setDefault(opts, "test", false)
}

func setDefault(opts map[string]any, key string, value any) {
	if _, ok := opts[key]; !ok {
		opts[key] = value
	}
}

// ValidateDelimiter rejects empty delimiters and delimiters holding
// whitespace.
func ValidateDelimiter(d string) error {
	if d == "" {
		return &ValidationError{Field: "target_delimiter", Reason: "must not be empty"}
	}
	if strings.IndexFunc(d, unicode.IsSpace) >= 0 {
		return &ValidationError{Field: "target_delimiter", Reason: fmt.Sprintf("%q contains whitespace", d)}
	}
	return nil
}

// Delimiter returns the configured nested-key delimiter.
func Delimiter(opts map[string]any) string {
	if d, ok := opts["target_delimiter"].(string); ok && d != "" {
		return d
	}
	return DefaultDelimiter
}

// TierOrder reads an optimization order option. A nil value selects the
// default order.
func TierOrder(v any) ([]compiler.Tier, error) {
	if v == nil {
		return append([]compiler.Tier{}, compiler.DefaultOrder...), nil
	}
	var order []compiler.Tier
	switch t := v.(type) {
	case []compiler.Tier:
		order = append(order, t...)
	case []int:
		for _, n := range t {
			order = append(order, compiler.Tier(n))
		}
	case []any:
		for _, item := range t {
			n, ok := item.(int)
			if !ok {
				return nil, &ValidationError{Field: "optimization_order", Reason: fmt.Sprintf("entry %v is not an integer", item)}
			}
			order = append(order, compiler.Tier(n))
		}
	default:
		return nil, &ValidationError{Field: "optimization_order", Reason: fmt.Sprintf("unsupported type %T", v)}
	}
	if err := compiler.ValidateOrder(order); err != nil {
		return nil, &ValidationError{Field: "optimization_order", Reason: "bad tier order", Err: err}
	}
	return order, nil
}
