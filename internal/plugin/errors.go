// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file holds the error taxonomy of the loader. Failures local to one
// plugin are logged and recorded; only key lookups reach the caller.
package plugin

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for a well-formed key that no loaded unit provides.
var ErrNotFound = errors.New("function not found")

// ScanError reports a search directory that could not be listed.
type ScanError struct {
	Dir string
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Dir, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ImportError reports a plugin whose source failed to compile or execute.
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// VirtualError reports a unit disabled by its availability hook.
type VirtualError struct {
	Module string
	Reason string
	Err    error
}

func (e *VirtualError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("module %s: virtual hook failed: %v", e.Module, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("module %s disabled: %s", e.Module, e.Reason)
	default:
		return fmt.Sprintf("module %s disabled", e.Module)
	}
}

func (e *VirtualError) Unwrap() error { return e.Err }

// DependencyError reports a function excluded by an unmet requirement.
type DependencyError struct {
	Func        string
	Requirement string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("function %s: requirement %q not available", e.Func, e.Requirement)
}

// KeyLookupError reports a key that cannot name a function at all.
type KeyLookupError struct {
	Key any
}

func (e *KeyLookupError) Error() string {
	return fmt.Sprintf("invalid function key %#v: want non-empty \"module.function\" string", e.Key)
}

// IsNotFound reports whether err means the key resolved to nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
