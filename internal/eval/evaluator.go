// Package eval loads declarative configuration documents into IR types.
package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/stacksmith-io/stacksmith/internal/ir"
)

var varPattern = regexp.MustCompile(`\$\{var\.([A-Za-z0-9_-]+)\}`)

// Evaluator handles configuration evaluation into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadConfig reads and evaluates the main configuration document. Properties
// override declared variables; ${var.name} placeholders in resource inputs
// are substituted after the overrides merge. Placeholders bound per node
// (${each.*}, ${count.index}) are left for expansion.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	path := entryPoint
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.projectDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", entryPoint, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg ir.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config %s: %w", entryPoint, err)
	}

	if len(properties) > 0 {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]any, len(properties))
		}
		for k, v := range properties {
			cfg.Variables[k] = coerceProperty(v)
		}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	for _, res := range cfg.Resources {
		substituted, err := substituteValue(res.Inputs, cfg.Variables)
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: %w", res.Type, res.Key, err)
		}
		res.Inputs = substituted.(map[string]any)

		if res.ForEach != nil {
			fe, err := substituteValue(res.ForEach, cfg.Variables)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: %w", res.Type, res.Key, err)
			}
			res.ForEach = fe
		}
	}

	return &cfg, nil
}

// coerceProperty parses a command-line property value as JSON so -D
// count=3 arrives as a number and -D enabled=true as a bool. Anything that
// is not valid JSON stays a plain string.
func coerceProperty(v string) any {
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err == nil {
		return parsed
	}
	return v
}

func validateConfig(cfg *ir.Config) error {
	for i, res := range cfg.Resources {
		if res == nil {
			return fmt.Errorf("resource at index %d is null", i)
		}
		if res.Key == "" {
			return fmt.Errorf("resource at index %d has no key", i)
		}
		if res.Count < 0 {
			return fmt.Errorf("resource %s.%s: count must not be negative", res.Type, res.Key)
		}
		if res.Count > 0 && res.ForEach != nil {
			return fmt.Errorf("resource %s.%s: count and for_each are mutually exclusive", res.Type, res.Key)
		}
		if res.Timeout != "" {
			if _, err := time.ParseDuration(res.Timeout); err != nil {
				return fmt.Errorf("resource %s.%s: invalid timeout: %w", res.Type, res.Key, err)
			}
		}
	}
	return nil
}

// substituteValue replaces ${var.name} placeholders. A string that is exactly
// one placeholder takes the variable's raw value, preserving non-string
// types; otherwise the placeholder is interpolated textually. An undefined
// variable is an evaluation error.
func substituteValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if m := varPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			value, ok := vars[m[1]]
			if !ok {
				return nil, fmt.Errorf("undefined variable %q", m[1])
			}
			return value, nil
		}
		var substErr error
		result := varPattern.ReplaceAllStringFunc(val, func(match string) string {
			name := varPattern.FindStringSubmatch(match)[1]
			value, ok := vars[name]
			if !ok {
				substErr = fmt.Errorf("undefined variable %q", name)
				return match
			}
			return fmt.Sprintf("%v", value)
		})
		if substErr != nil {
			return nil, substErr
		}
		return result, nil
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			substituted, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			result[k] = substituted
		}
		return result, nil
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			substituted, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			result[i] = substituted
		}
		return result, nil
	default:
		return v, nil
	}
}
