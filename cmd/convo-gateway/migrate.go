// ABOUTME: migrate subcommand: opens the configured store, which applies pending migrations
// ABOUTME: Reports the resulting goose schema version

package main

import (
	"database/sql"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/2389/convo-gateway/internal/config"
	"github.com/2389/convo-gateway/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations to the configured SQLite or PostgreSQL database.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}

			cmd.Printf("Migrating %s database...\n", cfg.Database.Driver)
			s, err := store.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
			}
			defer s.Close()

			dbs, ok := s.(interface{ DB() *sql.DB })
			if !ok || dbs.DB() == nil {
				cmd.Println("Migrations completed successfully")
				return nil
			}

			dialect := store.DialectSQLite
			if cfg.Database.Driver == config.DriverPostgres {
				dialect = store.DialectPostgres
			}
			v, err := store.SchemaVersion(cmd.Context(), dbs.DB(), dialect)
			if err != nil {
				return oops.Code("SCHEMA_VERSION_FAILED").Wrap(err)
			}
			cmd.Printf("Migrations completed successfully (schema version %d)\n", v)
			return nil
		},
	}
}
