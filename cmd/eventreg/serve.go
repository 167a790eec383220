package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/internal/server"
	"github.com/noah-isme/eventreg-api/pkg/config"
	"github.com/noah-isme/eventreg-api/pkg/database"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, confirmation retry workers and sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			if cfg.Env == config.EnvProduction {
				gin.SetMode(gin.ReleaseMode)
			}

			if migrate {
				if err := database.Migrate(cfg.Database.URL, database.Up); err != nil {
					return err
				}
				logr.Info("schema migrated")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.Build(ctx, cfg, logr)
			if err != nil {
				logr.Error("startup failed", zap.Error(err))
				return err
			}
			if err := app.Run(ctx); err != nil {
				logr.Error("server stopped with error", zap.Error(err))
				return err
			}
			logr.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
