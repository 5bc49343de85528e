package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/logging"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

// Plan computes the change set that would converge the declared configuration
// onto the recorded state, without touching any real infrastructure. The run
// proceeds in dependency order: a node whose dependency failed to plan is
// left pending rather than planned on top of an unknown diff.
//
// Configuration-shape errors (cycles, duplicate keys, dangling references)
// abort before any adapter is consulted. Per-node adapter failures are
// aggregated; the returned plan covers every node that could be planned, the
// report covers every node, and the joined error carries the failures.
func (e *Engine) Plan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, *ir.Report, error) {
	log := logging.Logger()
	report := &ir.Report{RunID: uuid.NewString(), Mode: "plan"}

	included, excludedSet, err := Gate(cfg.Resources, cfg.Variables)
	if err != nil {
		return nil, nil, err
	}
	expanded, err := ExpandForEach(included)
	if err != nil {
		return nil, nil, err
	}
	graph, err := BuildGraph(expanded, excludedSet)
	if err != nil {
		return nil, nil, err
	}

	excludedAddrs := make([]string, 0, len(excludedSet))
	for addr := range excludedSet {
		excludedAddrs = append(excludedAddrs, addr)
	}
	sort.Strings(excludedAddrs)
	for _, addr := range excludedAddrs {
		report.Append(addr, ir.StatusPending, ir.StatusExcluded, nil)
	}

	byAddr := make(map[string]*ir.Resource, len(expanded))
	for _, res := range expanded {
		byAddr[resourceAddr(res)] = res
	}
	priors := stateIndex(state)

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			RunID:     report.RunID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Summary:  &ir.PlanSummary{},
		Outputs:  cfg.Outputs,
		Excluded: excludedAddrs,
	}

	var errs []error
	stuck := make(map[string]bool) // failed nodes plus everything downstream

	for _, addr := range graph.CreationOrder() {
		if blocker := blockedBy(graph, addr, stuck); blocker != "" {
			stuck[addr] = true
			log.Debug("skipping plan, dependency failed", "address", addr, "dependency", blocker)
			report.Append(addr, ir.StatusPending, ir.StatusPending, nil)
			continue
		}

		res := byAddr[addr]
		change, err := e.planNode(ctx, res, priors[addr])
		if err != nil {
			stuck[addr] = true
			errs = append(errs, err)
			plan.Summary.Failed++
			log.Error("plan failed", "address", addr, "error", err)
			report.Append(addr, ir.StatusPending, ir.StatusFailed, err)
			continue
		}

		plan.Changes = append(plan.Changes, change)
		countAction(plan.Summary, change.Action)
		report.Append(addr, ir.StatusPending, ir.StatusPlanned, nil)
	}

	// Anything recorded in state but absent from the live graph is planned
	// for deletion, in reverse dependency order so dependents go first.
	if state != nil && len(state.Resources) > 0 {
		sg, err := BuildGraphFromState(state.Resources)
		if err != nil {
			return nil, nil, err
		}
		for _, addr := range sg.DestructionOrder() {
			if _, live := byAddr[addr]; live {
				continue
			}
			rs := priors[addr]
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address:       addr,
				Action:        string(sdk.ActionDelete),
				Prior:         priorResource(rs),
				Diff:          buildDeleteDiff(rs.Inputs),
				ContentHashes: rs.ContentHashes,
			})
			plan.Summary.Delete++
			report.Append(addr, ir.StatusApplied, ir.StatusPlanned, nil)
		}
	}

	log.Info("plan complete",
		"create", plan.Summary.Create,
		"update", plan.Summary.Update,
		"replace", plan.Summary.Replace,
		"delete", plan.Summary.Delete,
		"noop", plan.Summary.NoOp,
		"failed", plan.Summary.Failed)

	return plan, report, errors.Join(errs...)
}

// planNode runs one node through its adapter and folds in engine-level
// concerns the adapter cannot see: file content digests and lifecycle
// ignore_changes.
func (e *Engine) planNode(ctx context.Context, res *ir.Resource, prior *ir.ResourceState) (*ir.ResourceChange, error) {
	addr := resourceAddr(res)

	hashes, err := e.contentHashes(res)
	if err != nil {
		return nil, &AdapterPlanError{Address: addr, Err: err}
	}

	adapter, err := e.ensureProvider(providerName(res))
	if err != nil {
		return nil, &AdapterPlanError{Address: addr, Err: err}
	}

	desiredJSON, err := json.Marshal(res.Inputs)
	if err != nil {
		return nil, &AdapterPlanError{Address: addr, Err: err}
	}
	var priorJSON []byte
	var priorHashes map[string]string
	if prior != nil {
		if priorJSON, err = json.Marshal(prior.Inputs); err != nil {
			return nil, &AdapterPlanError{Address: addr, Err: err}
		}
		priorHashes = prior.ContentHashes
	}

	resp, err := adapter.Plan(ctx, &sdk.PlanRequest{
		Type:          res.Type,
		Key:           res.Key,
		DesiredJSON:   desiredJSON,
		PriorJSON:     priorJSON,
		ContentHashes: hashes,
		PriorHashes:   priorHashes,
	})
	if err != nil {
		return nil, &AdapterPlanError{Address: addr, Err: err}
	}

	action := resp.Action
	// Adapters compare attributes, not file contents. A changed artifact
	// behind an unchanged path still forces an update.
	if action == sdk.ActionNoop && !hashesEqual(hashes, priorHashes) {
		action = sdk.ActionUpdate
	}

	ignored := ignoredAttrs(res)
	var diff map[string]*ir.PropertyDiff
	switch action {
	case sdk.ActionCreate:
		diff = buildCreateDiff(res.Inputs)
	case sdk.ActionUpdate, sdk.ActionReplace:
		diff = buildUpdateDiff(prior, res, ignored)
		if action == sdk.ActionUpdate && len(diff) == 0 && hashesEqual(hashes, priorHashes) {
			action = sdk.ActionNoop
		}
	}

	return &ir.ResourceChange{
		Address:       addr,
		Action:        string(action),
		Desired:       res,
		Prior:         priorResource(prior),
		Diff:          diff,
		ContentHashes: hashes,
	}, nil
}

// blockedBy returns the first direct dependency of addr in the stuck set.
func blockedBy(g *Graph, addr string, stuck map[string]bool) string {
	for _, dep := range g.Dependencies(addr) {
		if stuck[dep] {
			return dep
		}
	}
	return ""
}

// providerName resolves the adapter responsible for a resource. An explicit
// provider wins; otherwise the first segment of the type names it
// ("aws.s3.Bucket" -> "aws").
func providerName(res *ir.Resource) string {
	if res.Provider != "" {
		return res.Provider
	}
	t := res.Type
	if t == "" {
		return "null"
	}
	if i := strings.IndexByte(t, '.'); i > 0 {
		return t[:i]
	}
	return t
}

func ignoredAttrs(res *ir.Resource) map[string]bool {
	if res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return nil
	}
	ignored := make(map[string]bool, len(res.Lifecycle.IgnoreChanges))
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignored[attr] = true
	}
	return ignored
}

func stateIndex(state *ir.State) map[string]*ir.ResourceState {
	index := make(map[string]*ir.ResourceState)
	if state == nil {
		return index
	}
	for _, rs := range state.Resources {
		index[stateAddr(rs)] = rs
	}
	return index
}

// priorResource re-expresses a state record as a resource spec for display in
// plan diffs.
func priorResource(rs *ir.ResourceState) *ir.Resource {
	if rs == nil {
		return nil
	}
	return &ir.Resource{
		Type:     rs.Type,
		Key:      rs.Key,
		Provider: rs.Provider,
		Inputs:   rs.Inputs,
	}
}

func buildCreateDiff(inputs map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(inputs))
	for k, v := range inputs {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(inputs map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(inputs))
	for k, v := range inputs {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

func buildUpdateDiff(prior *ir.ResourceState, res *ir.Resource, ignored map[string]bool) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	var priorInputs map[string]any
	if prior != nil {
		priorInputs = prior.Inputs
	}

	for k, after := range res.Inputs {
		if ignored[k] {
			continue
		}
		before, ok := priorInputs[k]
		if !ok {
			diff[k] = &ir.PropertyDiff{After: after, Action: "create"}
			continue
		}
		if !reflect.DeepEqual(normalizeValue(before), normalizeValue(after)) {
			diff[k] = &ir.PropertyDiff{Before: before, After: after, Action: "update"}
		}
	}
	for k, before := range priorInputs {
		if ignored[k] {
			continue
		}
		if _, ok := res.Inputs[k]; !ok {
			diff[k] = &ir.PropertyDiff{Before: before, Action: "delete"}
		}
	}
	return diff
}

func countAction(summary *ir.PlanSummary, action string) {
	switch sdk.Action(action) {
	case sdk.ActionCreate:
		summary.Create++
	case sdk.ActionUpdate:
		summary.Update++
	case sdk.ActionReplace:
		summary.Replace++
	case sdk.ActionDelete:
		summary.Delete++
	case sdk.ActionNoop:
		summary.NoOp++
	}
}
