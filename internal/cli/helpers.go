package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/state"
)

const (
	defaultEntryPoint = "main.json"
	backendConfigFile = "backend.json"
)

// statePath is where local state lives, relative to the working directory.
func statePath(wd string) string {
	return filepath.Join(wd, ".stacksmith", "state.json")
}

// openBackend selects the state backend for a working directory. A
// backend.json file next to the configuration picks a remote backend;
// without one, state lives under .stacksmith/ locally.
func openBackend(wd string) (state.Backend, error) {
	data, err := os.ReadFile(filepath.Join(wd, backendConfigFile))
	if os.IsNotExist(err) {
		return state.NewManager(statePath(wd)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", backendConfigFile, err)
	}

	var cfg state.BackendConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", backendConfigFile, err)
	}
	if cfg.Type == "local" || cfg.Type == "" {
		if cfg.Config == nil {
			cfg.Config = map[string]string{}
		}
		if cfg.Config["path"] == "" {
			cfg.Config["path"] = statePath(wd)
		}
	}
	return state.NewBackend(&cfg)
}

// resolveWorkdir determines the working directory and config entry point from
// an optional positional argument, which may be a directory or a file.
func resolveWorkdir(args []string) (wd, entryPoint string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = defaultEntryPoint

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}

		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := "~"
		switch change.Action {
		case "CREATE":
			symbol = "+"
		case "DELETE":
			symbol = "-"
		case "REPLACE":
			symbol = "-/+"
		case "NOOP":
			symbol = " "
		}

		color := "\033[0m"
		if change.Action == "CREATE" {
			color = "\033[32m"
		} else if change.Action == "DELETE" {
			color = "\033[31m"
		} else if change.Action == "UPDATE" || change.Action == "REPLACE" {
			color = "\033[33m"
		}

		var resourceType, resourceKey string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceKey = change.Desired.Key
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceKey = change.Prior.Key
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, "\033[0m")
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceKey)

		if len(change.Diff) > 0 {
			renderPropertyDiff(change, color)
		} else {
			fmt.Printf("%s      ...\n", color)
		}
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// renderPropertyDiff prints structured property diffs.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	for key, diff := range change.Diff {
		switch diff.Action {
		case "create":
			fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
		case "delete":
			fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
		case "update":
			fmt.Printf("\033[33m      ~ %s = %v -> %v\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After))
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
	if plan.Summary.Failed > 0 {
		fmt.Printf("  Failed:  %d\n", plan.Summary.Failed)
	}
}

// renderReport prints per-node outcomes for nodes that did not succeed.
func renderReport(report *ir.Report) {
	if report == nil || report.Failed() == 0 {
		return
	}
	fmt.Println("\nNode failures:")
	for _, entry := range report.Entries {
		if entry.Status != ir.StatusFailed {
			continue
		}
		fmt.Printf("  %s: %s\n", entry.Address, entry.Error)
	}
}
