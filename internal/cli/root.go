package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vk/grainload/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	ModuleDirs  []string
	StateDirs   []string
	MatcherDirs []string
	UtilsDirs   []string
	LogLevel    string
	LogFormat   string
	Output      string // "yaml" | "json"
	Test        bool
}

// ValidOutputs defines the allowed result formats.
var ValidOutputs = []string{"yaml", "json"}

// NewRootCommand creates the root command for the grainload CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "grainload",
		Short: "grainload - load and call minion plugin functions",
		Long: `grainload discovers execution modules, states, matchers and utils
from search directories, loads them on first use and calls their functions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidOutputs))
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "options file (YAML)")
	f.StringSliceVarP(&opts.ModuleDirs, "module-dir", "m", nil, "root holding modules/, states/, matchers/ and utils/ (repeatable)")
	f.StringSliceVar(&opts.StateDirs, "states-dir", nil, "extra state plugin directory (repeatable)")
	f.StringSliceVar(&opts.MatcherDirs, "matchers-dir", nil, "extra matcher plugin directory (repeatable)")
	f.StringSliceVar(&opts.UtilsDirs, "utils-dir", nil, "extra utils plugin directory (repeatable)")
	f.StringVar(&opts.LogLevel, "log-level", "warn", "logging level (debug|info|warn|error)")
	f.StringVar(&opts.LogFormat, "log-format", "text", "log format (text|logfmt|json)")
	f.StringVarP(&opts.Output, "output", "o", "yaml", "result format (yaml|json)")
	f.BoolVarP(&opts.Test, "test", "t", false, "dry run: states report what would change")

	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// appConfig builds the validated app configuration from global flags.
// mutate, when set, adjusts it before validation.
func (o *RootOptions) appConfig(mutate func(*app.Config)) (*app.Config, error) {
	raw := app.Config{
		ConfigPath:  o.ConfigPath,
		ModuleDirs:  o.ModuleDirs,
		StateDirs:   o.StateDirs,
		MatcherDirs: o.MatcherDirs,
		UtilsDirs:   o.UtilsDirs,
		LogLevel:    o.LogLevel,
		LogFormat:   o.LogFormat,
		Test:        o.Test,
	}
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := app.NewConfig(raw)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newApp builds the application with logs going to the command's stderr.
func (o *RootOptions) newApp(cmd *cobra.Command, mutate func(*app.Config)) (*app.App, error) {
	cfg, err := o.appConfig(mutate)
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "startup failed", err)
	}
	return a, nil
}
