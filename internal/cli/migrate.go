package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Manage the local database schema",
	GroupID: "admin",
}

// withMigrator opens the database without applying migrations.
func withMigrator(fn func(m *db.Migrator) error) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	m := db.NewMigrator(database.DB, db.Migrations())
	if err := m.Initialize(); err != nil {
		return err
	}
	return fn(m)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *db.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			version, err := m.CurrentVersion()
			if err != nil {
				return err
			}
			PrintSuccess(fmt.Sprintf("Schema at version %d", version))
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *db.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			version, err := m.CurrentVersion()
			if err != nil {
				return err
			}
			PrintWarning(fmt.Sprintf("Rolled back; schema at version %d", version))
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *db.Migrator) error {
			applied, err := m.GetAppliedMigrations()
			if err != nil {
				return err
			}
			if ok, err := structured(applied); ok {
				return err
			}
			PrintHeader("Database " + filepath.Join(cfg.DataDir, db.FileName))
			if len(applied) == 0 {
				PrintInfo("No migrations applied")
				return nil
			}
			for _, mig := range applied {
				PrintInfo(fmt.Sprintf("V%-3d %-32s %s", mig.Version, mig.Description, mig.AppliedAt.Format(time.RFC3339)))
			}
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
