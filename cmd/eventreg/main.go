package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/pkg/config"
	"github.com/noah-isme/eventreg-api/pkg/logger"
)

// @title Event Registration API
// @version 1.0.0
// @description Student event registration with admin review and emailed confirmations
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "eventreg",
	Short:         "Event registration API server and operator tools",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newAdminCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eventreg:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger shared by
// every subcommand.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}
