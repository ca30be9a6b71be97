// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file binds call arguments to parameter names for Go plugins. Callers
// pass positional values, optionally followed by a Kwargs value for named ones.
package plugin

import (
	"fmt"
	"strconv"
)

// Kwargs carries named arguments as the last element of an argument list.
type Kwargs map[string]any

// Args is a call's arguments bound to parameter names.
type Args map[string]any

// BindArgs maps positional args onto params and merges trailing Kwargs.
// Extra positional arguments are an error.
func BindArgs(args []any, params ...string) (Args, error) {
	out := Args{}
	if n := len(args); n > 0 {
		if kw, ok := args[n-1].(Kwargs); ok {
			for k, v := range kw {
				out[k] = v
			}
			args = args[:n-1]
		}
	}
	if len(args) > len(params) {
		return nil, fmt.Errorf("takes at most %d arguments, got %d", len(params), len(args))
	}
	for i, v := range args {
		out[params[i]] = v
	}
	return out, nil
}

// Has reports whether the argument was supplied and is not nil.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// String returns the named argument rendered as a string, or def.
func (a Args) String(name, def string) string {
	v, ok := a[name]
	if !ok || v == nil {
		return def
	}
	return ToString(v)
}

// Bool returns the named argument as a bool, or def.
func (a Args) Bool(name string, def bool) bool {
	switch v := a[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Int returns the named argument as an int, or def.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// ToString renders scalar values the way they appear in config files.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
