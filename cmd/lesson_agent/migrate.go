package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  `Applies the embedded migrations for the videos table. The run ledger heals its own schema on every call and needs no migration.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	res, err := db.Migrate(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	state := "up to date"
	if res.Changed {
		state = "migrated"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Database %s (version %d, dirty=%t)\n", state, res.Version, res.Dirty)
	return nil
}
