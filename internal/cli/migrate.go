package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/database"
)

const defaultMigrationSource = "file://migrations"

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply every pending migration to the Postgres database named by MNEMO_DATABASE_URL",
		RunE:  runMigrate,
	}

	cmd.Flags().String("source", defaultMigrationSource, "Migration source URL")
	cmd.Flags().Bool("down", false, "Roll back every applied migration instead")

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("MNEMO_DATABASE_URL is not set")
	}

	source, _ := cmd.Flags().GetString("source")
	down, _ := cmd.Flags().GetBool("down")
	logger := setupLogging(cmd, cfg)

	if down {
		if err := database.MigrateDown(cfg.DatabaseURL, source); err != nil {
			return err
		}
		logger.Info("migrations rolled back")
		return nil
	}

	status, err := database.Migrate(cfg.DatabaseURL, source)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "version", status.Version, "dirty", status.Dirty, "changed", status.Changed)
	return nil
}
