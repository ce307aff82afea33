package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"assetdesk/internal/platform/postgres"
	"assetdesk/internal/platform/postgres/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply the embedded schema migrations to the database named by
database.url. Use --down to roll back the latest migration and --status to
report the current version without changing anything.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("down", false, "Roll back the most recent migration")
	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	down, _ := cmd.Flags().GetBool("down")
	status, _ := cmd.Flags().GetBool("status")
	if down && status {
		return errors.New("--down and --status are mutually exclusive")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required for migrate")
	}

	db, err := postgres.Open(cmd.Context(), cfg.Database.URL, postgres.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	switch {
	case status:
		st, err := migrations.CheckStatus(db)
		if err != nil {
			return err
		}
		log.Info("migration status",
			"version", st.Version,
			"latest", st.Latest,
			"dirty", st.Dirty,
			"current", st.Current(),
		)
		return nil
	case down:
		if err := migrations.Down(db); err != nil {
			return err
		}
		log.Info("rolled back one migration")
	default:
		if err := migrations.Up(db); err != nil {
			return err
		}
		log.Info("database schema is up to date")
	}

	st, err := migrations.CheckStatus(db)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	log.Info("schema version", "version", st.Version, "latest", st.Latest)
	return nil
}
