package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the repository and snapshot schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if cfg.RepositoryBackend == "postgres" {
				g, err := store.OpenPostgres(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer g.Close()
				if err := g.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate repositories: %w", err)
				}
				logger.Info().Msg("repository schema migrated")
			}

			if cfg.SnapshotBackend == "sqlite" {
				s, err := authstate.NewSQLiteSnapshots(cfg.SnapshotSQLitePath)
				if err != nil {
					return err
				}
				defer s.Close()
				logger.Info().Str("path", cfg.SnapshotSQLitePath).Msg("snapshot schema migrated")
			}
			return nil
		},
	}
}
