package cli

import (
	"github.com/spf13/cobra"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Type string
}

// NewMatchCommand creates the match command. It prints the result and
// exits with ExitFailure when the minion does not match.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match <target>",
		Short: "Evaluate a target expression against this minion",
		Example: `  grainload match 'G@os:Linux and web*'
  grainload match --type ipcidr 10.0.0.0/8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "compound", "matcher to use (compound|glob|pcre|list|grain|pillar|ipcidr|nodegroup|...)")

	return cmd
}

func runMatch(cmd *cobra.Command, opts *MatchOptions, tgt string) error {
	a, err := opts.newApp(cmd, nil)
	if err != nil {
		return err
	}
	ok, err := a.Match(cmd.Context(), tgt, opts.Type)
	if err != nil {
		return callError(opts.Type+".match", err)
	}
	if err := writeResult(cmd.OutOrStdout(), opts.Output, ok); err != nil {
		return err
	}
	if !ok {
		return NewExitError(ExitFailure, "target did not match")
	}
	return nil
}
