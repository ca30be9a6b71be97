// Package test provides the diagnostic execution module used to check that
// a node responds and that arguments survive dispatch.
package test

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the test execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "test", func() plugin.Unit { return New() })
}

// New returns a fresh test unit.
func New() *plugin.Native {
	return plugin.NewNative("test").
		Define("ping", ping).
		Define("echo", echo).
		Define("true_", alwaysTrue).
		Define("false_", alwaysFalse).
		Define("arg", arg).
		Define("fib", fib).
		WithFuncAlias("true_", "true").
		WithFuncAlias("false_", "false")
}

func ping(context.Context, ...any) (any, error) { return true, nil }

func alwaysTrue(context.Context, ...any) (any, error) { return true, nil }

func alwaysFalse(context.Context, ...any) (any, error) { return false, nil }

// echo(text)
func echo(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "text")
	if err != nil {
		return nil, err
	}
	return a.String("text", ""), nil
}

// arg returns its positional and named arguments.
func arg(_ context.Context, args ...any) (any, error) {
	positional := []any{}
	kwargs := map[string]any{}
	for i, v := range args {
		if kw, ok := v.(plugin.Kwargs); ok && i == len(args)-1 {
			for k, val := range kw {
				kwargs[k] = val
			}
			continue
		}
		positional = append(positional, v)
	}
	return map[string]any{"args": positional, "kwargs": kwargs}, nil
}

// fib(num) returns the Fibonacci numbers below num and the seconds taken.
func fib(_ context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "num")
	if err != nil {
		return nil, err
	}
	num := a.Int("num", -1)
	if num < 0 {
		return nil, fmt.Errorf("fib: num must be a non-negative integer")
	}
	start := time.Now()
	seq := []any{}
	for x, y := 0, 1; x < num; x, y = y, x+y {
		seq = append(seq, x)
	}
	return []any{seq, time.Since(start).Seconds()}, nil
}
