package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vk/grainload/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Watch           bool
	HealthcheckPort int
}

// NewServeCommand creates the serve command, which keeps the registries
// resident until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep registries loaded, reload on change and serve health checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "reload a registry when its plugin files change")
	cmd.Flags().IntVar(&opts.HealthcheckPort, "healthcheck-port", 0, "port for the HTTP health check server, 0 disables it")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := opts.newApp(cmd, func(c *app.Config) {
		c.Watch = opts.Watch
		c.HealthcheckPort = opts.HealthcheckPort
	})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}
