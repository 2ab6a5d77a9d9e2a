package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the mnemod command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemod",
		Short:         "Governed decision memory",
		Long:          "mnemod maintains the decision memory store: schema migrations and scheduled consolidation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")

	root.AddCommand(MigrateCmd())
	root.AddCommand(WorkerCmd())

	return root
}
