package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStateCommand creates the state command. Named arguments are passed to
// the state function as keywords; the first positional argument, if any,
// becomes name.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <module.function> [name] [key=value...]",
		Short: "Apply one state and print its result",
		Example: `  grainload state sysctl.present vm.swappiness value=20
  grainload --test state sysctl.present name=vm.swappiness value=20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, rootOpts, args[0], args[1:])
		},
	}

	return cmd
}

func runState(cmd *cobra.Command, opts *RootOptions, key string, raw []string) error {
	a, err := opts.newApp(cmd, nil)
	if err != nil {
		return err
	}
	pos, kw := parseArgs(raw)
	if len(pos) > 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("state takes at most one positional argument, got %d", len(pos)))
	}
	if len(pos) == 1 {
		if _, ok := kw["name"]; ok {
			return NewExitError(ExitCommandError, "name given both positionally and as name=")
		}
		kw["name"] = pos[0]
	}

	res, err := a.State(cmd.Context(), key, kw)
	if err != nil {
		return callError(key, err)
	}
	if err := writeResult(cmd.OutOrStdout(), opts.Output, map[string]any{key: res.Map()}); err != nil {
		return err
	}
	if res.Status() == "failed" {
		return NewExitError(ExitFailure, res.Comment)
	}
	return nil
}
