package main

import (
	"fmt"

	"facilitator-backend/internal/config"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/store"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies pending schema and data migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := store.OpenDatabase(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := models.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if cfg.Storage.Backend == config.StorageREST {
			repos, _, err := openRepositories(cfg)
			if err != nil {
				return err
			}
			changed, err := repos.UpgradeLegacy(cmd.Context())
			if err != nil {
				return fmt.Errorf("upgrading REST rows failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Upgraded %d legacy REST rows\n", changed)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(migrateCmd)
}
