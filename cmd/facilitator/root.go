package main

import (
	"fmt"
	"net/http"
	"time"

	"facilitator-backend/internal/config"
	"facilitator-backend/internal/store"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:           "facilitator",
	Short:         "facilitator runs the feedback request backend.",
	Long:          `Serves the feedback request API, runs database migrations and exports collected feedback as CSV.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the environment the same way the server does
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openRepositories builds the configured storage backend for one-shot commands
func openRepositories(cfg *config.Config) (*store.Repositories, *gorm.DB, error) {
	logger := log.New("facilitator")

	if cfg.Storage.Backend == config.StorageREST {
		return store.NewRESTRepositories(cfg.Storage.RestURL, cfg.Storage.RestKey, &http.Client{Timeout: 30 * time.Second}, logger), nil, nil
	}

	db, err := store.OpenDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store.NewSQLRepositories(db, logger), db, nil
}
