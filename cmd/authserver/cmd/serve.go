package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/internal/bootstrap"
	"github.com/pilab-dev/shadow-auth/log"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			appLogger = log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
			appLogger.Info(cmd.Context(), "Configuration loaded", log.Fields{
				"http_addr": cfg.HTTPAddr,
				"issuer":    cfg.Issuer,
				"storage":   string(cfg.Storage.Backend),
				"registry":  string(cfg.Registry.Backend),
				"keys":      string(cfg.Keys.Source),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, appLogger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(context.Background()); err != nil {
					appLogger.Error(context.Background(), "Failed to release resources", err)
				}
			}()

			err = app.Run(ctx, func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), shutdownTimeout)
			})
			if err != nil {
				return err
			}

			appLogger.Info(context.Background(), "Server stopped")

			return nil
		},
	}
}
