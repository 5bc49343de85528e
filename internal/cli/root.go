package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stacksmith",
	Short: "Declarative resource reconciliation",
	Long: `Stacksmith reconciles declared resources against their recorded state.

It reads a JSON configuration describing the desired resources, computes a
dependency-ordered plan of the changes needed, and applies them through
pluggable provider adapters with:
  • Content-hash change detection for file-backed inputs
  • Deterministic dependency ordering
  • Bounded parallel apply with per-node failure isolation`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}
