package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/mnemo/internal/app"
	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/database"
	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled memory consolidation",
		Long:  "Run the consolidation job on MNEMO_CONSOLIDATION_SCHEDULE until interrupted",
		RunE:  runWorker,
	}

	cmd.Flags().Bool("once", false, "Run one consolidation pass and exit")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("schedule", "", "Cron expression overriding MNEMO_CONSOLIDATION_SCHEDULE")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if schedule, _ := cmd.Flags().GetString("schedule"); schedule != "" {
		cfg.ConsolidationSchedule = schedule
	}
	logger := setupLogging(cmd, cfg)

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if cfg.HasDatabase() && !noMigrate {
		status, err := database.Migrate(cfg.DatabaseURL, defaultMigrationSource)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database schema ready", "version", status.Version)
	} else if !cfg.HasDatabase() {
		logger.Warn("no database configured; consolidating an empty in-process store")
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	worker, err := a.ConsolidationWorker()
	if err != nil {
		return err
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		return worker.RunOnce(ctx)
	}
	return worker.Start(ctx)
}

func initTelemetry(cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.HasSentry() {
		return func() {}
	}

	// 10% sampling in production, everything elsewhere
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", "error", err)
		return func() {}
	}
	return shutdown
}
