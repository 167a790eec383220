package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/eventreg-api/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		migrateDirectionCmd("up", "Apply all pending migrations", database.Up),
		migrateDirectionCmd("down", "Roll back every migration", database.Down),
	)
	return cmd
}

func migrateDirectionCmd(use, short string, dir database.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			if err := database.Migrate(cfg.Database.URL, dir); err != nil {
				return err
			}
			version, dirty, err := database.Version(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			logr.Info("migration complete", zap.String("direction", string(dir)), zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		},
	}
}
