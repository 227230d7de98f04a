package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevin07696/processing-service/internal/config"
	"github.com/kevin07696/processing-service/internal/db"
)

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run database migrations for the PostgreSQL transaction store",
		Long: `Run a goose migration command against the database configured by the
DB_* environment variables. Migrations are compiled into the binary.

Commands:
  up                   Migrate to the most recent version
  up-by-one            Migrate up by 1
  up-to VERSION        Migrate to a specific VERSION
  down                 Roll back by 1
  down-to VERSION      Roll back to a specific VERSION
  redo                 Re-run the latest migration
  reset                Roll back all migrations
  status               Print the migration status
  version              Print the current version
  create NAME sql      Create a new migration file in --dir`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return db.Migrate(cmd.Context(), cfg.Store.Database.ConnectionString(), args[0], dir, args[1:]...)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", db.SourceDir, "directory new migrations are created in")
	return cmd
}
