package engine

import (
	"fmt"
	"strings"
)

// Configuration-shape errors abort the run during graph build, before any
// adapter call. Per-node adapter errors fail only that node and its
// transitive dependents.

// CyclicDependencyError names the reference cycle that prevented ordering.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// DuplicateResourceKeyError reports an address collision, either between two
// declarations or between expanded for-each items.
type DuplicateResourceKeyError struct {
	Address string
}

func (e *DuplicateResourceKeyError) Error() string {
	return fmt.Sprintf("duplicate resource key: %s", e.Address)
}

// DanglingReferenceError reports a required input reference to a node that is
// absent from the graph, either never declared or removed by its condition.
type DanglingReferenceError struct {
	Address  string // the referencing node
	Target   string // the missing node
	Excluded bool   // true when the target was removed by its condition
}

func (e *DanglingReferenceError) Error() string {
	if e.Excluded {
		return fmt.Sprintf("dangling reference: %s requires %s, which was excluded by its condition", e.Address, e.Target)
	}
	return fmt.Sprintf("dangling reference: %s requires %s, which is not declared", e.Address, e.Target)
}

// AdapterPlanError wraps a provider-side failure during planning. It carries
// the kind-specific cause and is local to one node.
type AdapterPlanError struct {
	Address string
	Err     error
}

func (e *AdapterPlanError) Error() string {
	return fmt.Sprintf("plan failed for %s: %v", e.Address, e.Err)
}

func (e *AdapterPlanError) Unwrap() error { return e.Err }

// AdapterApplyError wraps a provider-side failure during apply or destroy.
type AdapterApplyError struct {
	Address string
	Err     error
}

func (e *AdapterApplyError) Error() string {
	return fmt.Sprintf("apply failed for %s: %v", e.Address, e.Err)
}

func (e *AdapterApplyError) Unwrap() error { return e.Err }

// ConcurrencyLimitError is a configuration error raised at engine
// construction, never at runtime.
type ConcurrencyLimitError struct {
	Requested int
	Max       int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit %d out of range [1, %d]", e.Requested, e.Max)
}
