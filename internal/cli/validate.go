package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksmith-io/stacksmith/internal/engine"
	"github.com/stacksmith-io/stacksmith/internal/eval"
)

var validateProperties map[string]string

var validateCmd = &cobra.Command{
	Use:   "validate [config]",
	Short: "Validate configuration files",
	Long: `Validates the configuration: syntax, variable references, expansion
collisions, and the shape of the dependency graph.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringToStringVarP(&validateProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, validateProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}

	// The graph shape is part of validity: cycles, duplicate keys, and
	// dangling references should surface here, not at apply time.
	included, excluded, err := engine.Gate(cfg.Resources, cfg.Variables)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	expanded, err := engine.ExpandForEach(included)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := engine.BuildGraph(expanded, excluded); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Printf("\nConfiguration is valid: %d resources (%d after expansion).\n", len(cfg.Resources), len(expanded))
	return nil
}
