package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-join-server/internal/storage"
)

var migrateDown int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PostgresOptions{MaxOpenConns: 1})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer store.Close()

		if migrateDown > 0 {
			return store.MigrateDown(migrateDown)
		}
		return store.Migrate()
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateDown, "down", 0, "roll back the given number of migrations instead")
}
