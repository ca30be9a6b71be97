package cli

import (
	"github.com/spf13/cobra"

	"github.com/vk/grainload/internal/app"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Tag     string
	Missing bool
	Modules bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the functions a registry provides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Tag, "tag", app.TagModule, "registry to list (module|states|matchers|utils)")
	cmd.Flags().BoolVar(&opts.Missing, "missing", false, "list modules that failed to load, with the reason")
	cmd.Flags().BoolVar(&opts.Modules, "modules", false, "list loaded module names instead of functions")
	cmd.MarkFlagsMutuallyExclusive("missing", "modules")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	a, err := opts.newApp(cmd, nil)
	if err != nil {
		return err
	}
	keys, err := a.Functions(opts.Tag)
	if err != nil {
		return WrapExitError(ExitCommandError, "list failed", err)
	}
	if opts.Modules {
		mods, err := a.Modules(opts.Tag)
		if err != nil {
			return WrapExitError(ExitCommandError, "list failed", err)
		}
		return writeResult(cmd.OutOrStdout(), opts.Output, mods)
	}
	if !opts.Missing {
		return writeResult(cmd.OutOrStdout(), opts.Output, keys)
	}
	missing, err := a.Missing(opts.Tag)
	if err != nil {
		return WrapExitError(ExitCommandError, "list failed", err)
	}
	return writeResult(cmd.OutOrStdout(), opts.Output, missing)
}
