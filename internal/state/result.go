// Package state holds the result every state function returns.
package state

import (
	"fmt"

	"github.com/vk/grainload/internal/plugin"
)

// Result reports one state run. A nil Result.Result means a dry run found
// a pending change.
type Result struct {
	Name    string
	Result  *bool
	Changes map[string]any
	Comment string
}

// New returns a successful, unchanged result for name.
func New(name string) *Result {
	ok := true
	return &Result{Name: name, Result: &ok, Changes: map[string]any{}}
}

// Pending marks a change a dry run would make.
func (r *Result) Pending(comment string) *Result {
	r.Result = nil
	r.Comment = comment
	return r
}

// Fail marks the state failed.
func (r *Result) Fail(comment string) *Result {
	failed := false
	r.Result = &failed
	r.Comment = comment
	return r
}

// Succeed marks the state successful.
func (r *Result) Succeed(comment string) *Result {
	ok := true
	r.Result = &ok
	r.Comment = comment
	return r
}

// Map renders the result for dispatch across registries.
func (r *Result) Map() map[string]any {
	out := map[string]any{
		"name":    r.Name,
		"result":  nil,
		"changes": r.Changes,
		"comment": r.Comment,
	}
	if r.Result != nil {
		out["result"] = *r.Result
	}
	return out
}

// FromMap is the inverse of Map.
func FromMap(m map[string]any) (*Result, error) {
	name, ok := m["name"].(string)
	if !ok {
		return nil, fmt.Errorf("state result has no name")
	}
	r := &Result{Name: name, Comment: plugin.ToString(m["comment"])}
	switch v := m["result"].(type) {
	case nil:
	case bool:
		r.Result = &v
	default:
		return nil, fmt.Errorf("state result %q: result is %T, not bool", name, v)
	}
	r.Changes, _ = m["changes"].(map[string]any)
	if r.Changes == nil {
		r.Changes = map[string]any{}
	}
	return r, nil
}

// Status is a one-word rendering of Result.
func (r *Result) Status() string {
	switch {
	case r.Result == nil:
		return "pending"
	case *r.Result:
		return "ok"
	default:
		return "failed"
	}
}
