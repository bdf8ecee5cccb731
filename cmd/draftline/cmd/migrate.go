package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Database.Kind != "postgres" {
			return fmt.Errorf("migrations require database.kind=postgres, got %q", cfg.Database.Kind)
		}

		logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
		return runMigrations(cfg.Database.Postgres.ConnString(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
