package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksmith-io/stacksmith/internal/engine"
	"github.com/stacksmith-io/stacksmith/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [config]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  stacksmith graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	included, excluded, err := engine.Gate(cfg.Resources, cfg.Variables)
	if err != nil {
		return fmt.Errorf("failed to evaluate conditions: %w", err)
	}
	expanded, err := engine.ExpandForEach(included)
	if err != nil {
		return fmt.Errorf("failed to expand resources: %w", err)
	}
	graph, err := engine.BuildGraph(expanded, excluded)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph stacksmith {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
