package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filebase-dev/filebase/pkg/server"
)

func serveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [root]",
		Short: "Serve a route tree",
		Long: `Discover the remote functions under root and serve them.

The server runs until it receives SIGINT or SIGTERM, then lets in-flight
calls finish before exiting. A broken tree is reported and nothing is
served.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(rootArg(args))
			if err != nil {
				return err
			}
			if err := checkRoot(cfg); err != nil {
				return err
			}
			logger, err := a.logger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, err := server.StartGlobal(cmd.Context(), a.serverConfig(cfg, logger))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s (%d routes)\n", s.Root(), s.Addr(), len(s.Routes()))
			return s.Join()
		},
	}

	flags := cmd.Flags()
	flags.StringP("address", "a", "", "listen address (default :8080)")
	flags.Bool("metrics", false, "serve Prometheus metrics")
	flags.Bool("tracing", false, "trace calls with OpenTelemetry")
	flags.Bool("show-error-details", false, "include handler error messages in responses")
	_ = a.viper.BindPFlag("address", flags.Lookup("address"))
	_ = a.viper.BindPFlag("metrics.enabled", flags.Lookup("metrics"))
	_ = a.viper.BindPFlag("tracing.enabled", flags.Lookup("tracing"))
	_ = a.viper.BindPFlag("show_error_details", flags.Lookup("show-error-details"))
	return cmd
}
