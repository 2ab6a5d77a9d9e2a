package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

// setupLogging honours both MNEMO_DEBUG and the persistent --debug flag.
func setupLogging(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	debug := cfg.Debug
	if f := cmd.Flags().Lookup("debug"); f != nil && f.Changed {
		debug = f.Value.String() == "true"
	}
	return telemetry.SetupLogging(cmd.ErrOrStderr(), debug)
}
