package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacksmith-io/stacksmith/internal/engine"
	"github.com/stacksmith-io/stacksmith/internal/eval"
	"github.com/stacksmith-io/stacksmith/internal/provider"
	"github.com/stacksmith-io/stacksmith/internal/source"
)

var (
	planOutFile    string
	planProperties map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [config]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions stacksmith will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := openBackend(wd)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()

	eng, err := engine.NewEngine(registry, engine.WithContentSource(source.NewFileSource(wd)))
	if err != nil {
		return err
	}

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	fmt.Print("Calculating plan... ")
	plan, report, planErr := eng.Plan(ctx, cfg, currentState)
	if plan == nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", planErr)
	}
	fmt.Println("OK")

	if len(plan.Changes) > 0 {
		fmt.Println("\nStacksmith will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)
	} else {
		fmt.Println("\nNo changes. Resources are up-to-date.")
	}
	renderReport(report)

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	if planErr != nil {
		return fmt.Errorf("plan finished with failures: %w", planErr)
	}
	return nil
}
