package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stacksmith-io/stacksmith/internal/ir"
)

// Gate filters resources by their condition expressions before expansion and
// graph construction. Conditions are evaluated against configuration
// variables only, never against other nodes' outputs, so inclusion is
// decidable without ordering. The returned excluded set is keyed by resource
// address and is consulted during graph build to distinguish a dangling
// reference to a gated-out node from a reference to one that never existed.
func Gate(resources []*ir.Resource, vars map[string]any) ([]*ir.Resource, map[string]bool, error) {
	var included []*ir.Resource
	excluded := make(map[string]bool)

	for _, res := range resources {
		ok, err := EvaluateCondition(res.Condition, vars)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid condition for %s: %w", resourceAddr(res), err)
		}
		if ok {
			included = append(included, res)
		} else {
			excluded[resourceAddr(res)] = true
		}
	}

	return included, excluded, nil
}

// EvaluateCondition evaluates a boolean or count expression. Supported forms:
// empty (true), boolean literals, "!expr" negation, "left == right" and
// "left != right" comparisons, and bare integers (count > 0 includes the
// node). ${var.name} placeholders are substituted before evaluation.
func EvaluateCondition(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(substituteVars(expr, vars))
	if expr == "" {
		return true, nil
	}

	if strings.HasPrefix(expr, "!") {
		ok, err := EvaluateCondition(expr[1:], vars)
		return !ok, err
	}

	if left, right, found := strings.Cut(expr, "!="); found {
		return unquote(left) != unquote(right), nil
	}
	if left, right, found := strings.Cut(expr, "=="); found {
		return unquote(left) == unquote(right), nil
	}

	if b, err := strconv.ParseBool(expr); err == nil {
		return b, nil
	}
	if n, err := strconv.Atoi(expr); err == nil {
		return n > 0, nil
	}

	return false, fmt.Errorf("unsupported expression %q", expr)
}

// substituteVars replaces ${var.name} placeholders with variable values.
func substituteVars(s string, vars map[string]any) string {
	if !strings.Contains(s, "${var.") {
		return s
	}
	for name, val := range vars {
		s = strings.ReplaceAll(s, "${var."+name+"}", fmt.Sprintf("%v", val))
	}
	return s
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
