package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vk/grainload/internal/app"
	"github.com/vk/grainload/internal/plugin"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Tag string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <module.function> [arg...] [key=value...]",
		Short: "Call one function and print its result",
		Example: `  grainload call test.ping
  grainload call grains.get os
  grainload call --tag utils data.traverse '{a: {b: 1}}' a:b`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.Tag, "tag", app.TagModule, "registry to call into (module|states|matchers|utils)")

	return cmd
}

func runCall(cmd *cobra.Command, opts *CallOptions, key string, raw []string) error {
	a, err := opts.newApp(cmd, nil)
	if err != nil {
		return err
	}
	pos, kw := parseArgs(raw)
	res, err := a.Call(cmd.Context(), opts.Tag, key, callArgs(pos, kw)...)
	if err != nil {
		return callError(key, err)
	}
	return writeResult(cmd.OutOrStdout(), opts.Output, res)
}

// callError maps lookup failures to command errors and everything else to
// a function failure.
func callError(key string, err error) error {
	var keyErr *plugin.KeyLookupError
	if plugin.IsNotFound(err) || errors.As(err, &keyErr) {
		return WrapExitError(ExitCommandError, "'"+key+"' is not available", err)
	}
	return WrapExitError(ExitFailure, "'"+key+"' failed", err)
}
