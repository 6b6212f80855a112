package commands

import (
	"context"
	"fmt"

	"github.com/conduit-lang/webscript/internal/app"
	"github.com/conduit-lang/webscript/internal/web/server"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(g *globals) *cobra.Command {
	var (
		address string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the web script server.

Examples:
  webscript serve
  webscript serve --address :9090
  webscript serve --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("watch") {
				cfg.WebScripts.Watch = watch
			}

			logger, err := g.logger(cfg, false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.New(cmd.Context(), cfg, Version, logger)
			if err != nil {
				return err
			}
			srv, err := server.New(cfg.Server.Config, a.Handler, logger)
			if err != nil {
				a.Close()
				return err
			}
			runner := server.NewRunner(srv, cfg.Server.ShutdownTimeout, logger)
			runner.OnShutdown(func(ctx context.Context) error { return a.Close() })

			if err := srv.Listen(); err != nil {
				a.Close()
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "Serving %d web scripts on http://%s%s\n",
				len(a.Registry.Scripts()), srv.Addr(), cfg.Server.ServicePrefix)
			logger.Info("webscript starting", zap.String("version", Version))

			if err := runner.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", ":8080", "Listen address")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload descriptions when script directories change")
	return cmd
}
