package cmd

import (
	"context"

	"commission-reconciliation-service/internal/api"
	"commission-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconciliation API over HTTP",
		Long: `Serve exposes every operation as JSON under /api/v1 until interrupted.
In-flight requests get server.shutdown_timeout to finish.

Example:
  reconciler serve --addr :8080 --allowed-origins https://ops.example.com`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			server, err := api.NewServer(a.service, a.cli.settings.ServerConfig())
			if err != nil {
				return err
			}
			if err := server.ListenAndServe(ctx); err != nil {
				if _, ok := errors.AsReconcilerError(err); ok {
					return err
				}
				return errors.InternalError(errors.CodeUnexpectedError, "http shutdown", err)
			}
			return nil
		}),
	}
	cmd.Flags().String("addr", "", "listen address (default server.addr)")
	cmd.Flags().StringSlice("allowed-origins", nil, "CORS allowed origins (default server.allowed_origins)")
	c.viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	c.viper.BindPFlag("server.allowed_origins", cmd.Flags().Lookup("allowed-origins"))
	return cmd
}
