package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksmith-io/stacksmith/internal/engine"
	"github.com/stacksmith-io/stacksmith/internal/eval"
	"github.com/stacksmith-io/stacksmith/internal/provider"
	"github.com/stacksmith-io/stacksmith/internal/source"
)

var (
	applyAutoApprove bool
	applyProperties  map[string]string
	applyParallelism int
)

var applyCmd = &cobra.Command{
	Use:   "apply [config]",
	Short: "Apply a configuration",
	Long:  `Creates or changes resources according to the stacksmith configuration.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 10, "Maximum number of concurrent node operations")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	eng, err := engine.NewEngine(registry,
		engine.WithParallelism(applyParallelism),
		engine.WithContentSource(source.NewFileSource(wd)))
	if err != nil {
		return err
	}

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
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
	plan, planReport, planErr := eng.Plan(ctx, cfg, currentState)
	if plan == nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", planErr)
	}
	fmt.Println("OK")
	if planErr != nil {
		renderReport(planReport)
		return fmt.Errorf("plan finished with failures, not applying: %w", planErr)
	}

	pending := 0
	for _, change := range plan.Changes {
		if change.Action != "NOOP" {
			pending++
		}
	}
	if pending == 0 {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nStacksmith will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", pending)

	newState, report, applyErr := eng.Apply(ctx, plan, currentState)
	if newState != nil {
		// Persist whatever succeeded, even on partial failure.
		if err := stateMgr.Write(ctx, newState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	renderReport(report)
	if applyErr != nil {
		return fmt.Errorf("apply finished with failures: %w", applyErr)
	}

	fmt.Println("\nApply complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.", plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete))

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}
