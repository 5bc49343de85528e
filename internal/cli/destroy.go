package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksmith-io/stacksmith/internal/engine"
	"github.com/stacksmith-io/stacksmith/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed resources",
	Long: `Destroys all resources tracked in the state file, in reverse
dependency order. This command is the inverse of 'stacksmith apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	stateMgr, err := openBackend(wd)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()

	eng, err := engine.NewEngine(registry)
	if err != nil {
		return err
	}

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	fmt.Printf("The following %d resources will be destroyed:\n", len(currentState.Resources))
	for _, rs := range currentState.Resources {
		fmt.Printf("  - %s.%s\n", rs.Type, rs.Key)
	}

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	newState, report, destroyErr := eng.Destroy(ctx, currentState)
	if newState != nil {
		if err := stateMgr.Write(ctx, newState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	renderReport(report)
	if destroyErr != nil {
		return fmt.Errorf("destroy finished with failures: %w", destroyErr)
	}

	fmt.Println("\nDestroy complete! All resources have been deleted.")
	return nil
}
