package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/logging"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

// Apply executes a plan against real infrastructure and returns the updated
// state. Deletions run first, in the reverse dependency order the plan
// recorded them in. Creations and updates then run concurrently, bounded by
// the engine's parallelism, with each node waiting for its in-graph
// dependencies before starting.
//
// A node failure does not abort the run: independent nodes keep going, and
// nodes downstream of the failure are left in their planned status.
// Cancellation stops new nodes from starting; in-flight adapter calls see
// the cancelled context and finish on their own terms.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, *ir.Report, error) {
	log := logging.Logger()
	report := &ir.Report{Mode: "apply"}
	if plan.Metadata != nil {
		report.RunID = plan.Metadata.RunID
	}

	newState := cloneState(state)
	stateIdx := make(map[string]*ir.ResourceState, len(newState.Resources))
	for _, rs := range newState.Resources {
		stateIdx[stateAddr(rs)] = rs
	}

	// The report accounts for every declared node, including the ones apply
	// has nothing to do for.
	for _, addr := range plan.Excluded {
		report.Append(addr, ir.StatusExcluded, ir.StatusExcluded, nil)
	}

	var work []*ir.ResourceChange
	var deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		switch sdk.Action(change.Action) {
		case sdk.ActionCreate, sdk.ActionUpdate, sdk.ActionReplace:
			work = append(work, change)
		case sdk.ActionDelete:
			deletes = append(deletes, change)
		case sdk.ActionNoop:
			report.Append(change.Address, ir.StatusApplied, ir.StatusApplied, nil)
		}
	}

	var errs []error

	// Destroy phase. The plan emitted deletions dependents-first, so a plain
	// walk honors ordering; a failed deletion keeps its record in state.
	for _, change := range deletes {
		addr := change.Address
		rs := stateIdx[addr]
		if rs == nil {
			continue
		}
		e.emit(addr, ir.StatusDestroying, nil)
		if err := e.destroyNode(ctx, rs); err != nil {
			errs = append(errs, err)
			log.Error("destroy failed", "address", addr, "error", err)
			report.Append(addr, ir.StatusDestroying, ir.StatusFailed, err)
			e.emit(addr, ir.StatusFailed, err)
			continue
		}
		delete(stateIdx, addr)
		report.Append(addr, ir.StatusDestroying, ir.StatusDestroyed, nil)
		e.emit(addr, ir.StatusDestroyed, nil)
	}

	// Dependencies among the working set. Edges to nodes outside it (noop or
	// already-applied) are satisfied by definition.
	inWork := make(map[string]bool, len(work))
	for _, change := range work {
		inWork[change.Address] = true
	}
	deps := make(map[string][]string, len(work))
	allDeps := make(map[string][]string, len(work))
	for _, change := range work {
		for _, dep := range changeDeps(change.Desired) {
			allDeps[change.Address] = append(allDeps[change.Address], dep)
			if inWork[dep] {
				deps[change.Address] = append(deps[change.Address], dep)
			}
		}
	}

	var (
		mu     sync.Mutex
		cond   = sync.NewCond(&mu)
		done   = make(map[string]bool, len(work))
		failed = make(map[string]bool, len(work))
	)

	// Wake waiters when the run is cancelled so they can bail out.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-watchCtx.Done():
		}
	}()

	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup

	for _, change := range work {
		wg.Add(1)
		go func(change *ir.ResourceChange) {
			defer wg.Done()
			addr := change.Address

			mu.Lock()
			for !allDone(deps[addr], done) && ctx.Err() == nil {
				cond.Wait()
			}
			blocker := firstFailed(deps[addr], failed)
			cancelled := ctx.Err() != nil
			if blocker != "" || cancelled {
				done[addr] = true
				failed[addr] = true
				if blocker != "" {
					log.Debug("skipping apply, dependency failed", "address", addr, "dependency", blocker)
				}
				report.Append(addr, ir.StatusPlanned, ir.StatusPlanned, nil)
				cond.Broadcast()
				mu.Unlock()
				return
			}

			// Snapshot dependency outputs while holding the lock; the
			// adapter call itself runs unlocked.
			resolved, resolveErr := resolveReferences(change.Desired.Inputs, stateIdx)
			mu.Unlock()

			sem <- struct{}{}
			e.emit(addr, ir.StatusApplying, nil)

			var outputs map[string]any
			err := resolveErr
			if err == nil {
				outputs, err = e.applyNode(ctx, change, resolved)
			}
			<-sem

			mu.Lock()
			defer mu.Unlock()
			done[addr] = true
			if err != nil {
				failed[addr] = true
				errs = append(errs, err)
				log.Error("apply failed", "address", addr, "error", err)
				report.Append(addr, ir.StatusApplying, ir.StatusFailed, err)
				e.emit(addr, ir.StatusFailed, err)
				cond.Broadcast()
				return
			}

			rs := &ir.ResourceState{
				Type:          change.Desired.Type,
				Key:           change.Desired.Key,
				Provider:      providerName(change.Desired),
				Inputs:        change.Desired.Inputs,
				ContentHashes: change.ContentHashes,
				Outputs:       outputs,
				Dependencies:  allDeps[addr],
			}
			stateIdx[addr] = rs
			report.Append(addr, ir.StatusApplying, ir.StatusApplied, nil)
			e.emit(addr, ir.StatusApplied, nil)
			cond.Broadcast()
		}(change)
	}

	wg.Wait()

	newState.Resources = newState.Resources[:0]
	addrs := make([]string, 0, len(stateIdx))
	for addr := range stateIdx {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		newState.Resources = append(newState.Resources, stateIdx[addr])
	}
	newState.Serial++
	newState.Outputs = resolveOutputs(plan.Outputs, stateIdx)

	if ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("apply interrupted: %w", ctx.Err()))
	}
	log.Info("apply complete", "applied", len(work)-countTrue(failed), "failed", report.Failed())

	return newState, report, errors.Join(errs...)
}

// applyNode converges one node through its adapter, with per-node timeout and
// transient-error retry.
func (e *Engine) applyNode(ctx context.Context, change *ir.ResourceChange, resolved map[string]any) (map[string]any, error) {
	addr := change.Address
	res := change.Desired

	adapter, err := e.ensureProvider(providerName(res))
	if err != nil {
		return nil, &AdapterApplyError{Address: addr, Err: err}
	}

	desiredJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, &AdapterApplyError{Address: addr, Err: err}
	}
	var priorJSON []byte
	if change.Prior != nil {
		if priorJSON, err = json.Marshal(change.Prior.Inputs); err != nil {
			return nil, &AdapterApplyError{Address: addr, Err: err}
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, nodeTimeout(res))
	defer cancel()

	var resp *sdk.ApplyResponse
	err = RetryWithBackoff(opCtx, nil, func() error {
		var applyErr error
		resp, applyErr = adapter.Apply(opCtx, &sdk.ApplyRequest{
			Type:          res.Type,
			Key:           res.Key,
			DesiredJSON:   desiredJSON,
			PriorJSON:     priorJSON,
			ContentHashes: change.ContentHashes,
		})
		return applyErr
	}, IsTransientError)
	if err != nil {
		return nil, &AdapterApplyError{Address: addr, Err: err}
	}

	var outputs map[string]any
	if len(resp.OutputsJSON) > 0 {
		if err := json.Unmarshal(resp.OutputsJSON, &outputs); err != nil {
			return nil, &AdapterApplyError{Address: addr, Err: fmt.Errorf("invalid adapter outputs: %w", err)}
		}
	}
	return outputs, nil
}

func (e *Engine) destroyNode(ctx context.Context, rs *ir.ResourceState) error {
	addr := stateAddr(rs)

	adapter, err := e.ensureProvider(rs.Provider)
	if err != nil {
		return &AdapterApplyError{Address: addr, Err: err}
	}

	priorJSON, err := json.Marshal(rs.Inputs)
	if err != nil {
		return &AdapterApplyError{Address: addr, Err: err}
	}

	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	err = RetryWithBackoff(opCtx, nil, func() error {
		return adapter.Destroy(opCtx, &sdk.DestroyRequest{
			Type:      rs.Type,
			Key:       rs.Key,
			ID:        outputID(rs.Outputs),
			PriorJSON: priorJSON,
		})
	}, IsTransientError)
	if err != nil {
		return &AdapterApplyError{Address: addr, Err: err}
	}
	return nil
}

// changeDeps lists the addresses a desired resource depends on, explicit and
// referenced alike.
func changeDeps(res *ir.Resource) []string {
	if res == nil {
		return nil
	}
	seen := make(map[string]bool)
	var deps []string
	for _, dep := range res.DependsOn {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	for _, ref := range extractRefs(res.Inputs) {
		target, _ := refTarget(ref)
		if target != "" && !seen[target] {
			seen[target] = true
			deps = append(deps, target)
		}
	}
	return deps
}

// resolveReferences substitutes ref:// input values with the referenced
// node's recorded outputs. Callers must hold the state lock.
func resolveReferences(inputs map[string]any, stateIdx map[string]*ir.ResourceState) (map[string]any, error) {
	resolved, err := resolveValue(inputs, stateIdx)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(v any, stateIdx map[string]*ir.ResourceState) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, "ref://") {
			return val, nil
		}
		target, attr := refTarget(val)
		rs, ok := stateIdx[target]
		if !ok {
			return nil, fmt.Errorf("reference %s: %s has no recorded state", val, target)
		}
		if attr == "" {
			return deepCopyMap(rs.Outputs), nil
		}
		out, ok := rs.Outputs[attr]
		if !ok {
			return nil, fmt.Errorf("reference %s: %s has no output %q", val, target, attr)
		}
		return deepCopyValue(out), nil
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := resolveValue(item, stateIdx)
			if err != nil {
				return nil, err
			}
			result[k] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, stateIdx)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return v, nil
	}
}

// resolveOutputs resolves declared outputs against the final state.
// Unresolvable references are kept verbatim rather than failing the run.
func resolveOutputs(declared map[string]any, stateIdx map[string]*ir.ResourceState) map[string]any {
	if len(declared) == 0 {
		return nil
	}
	outputs := make(map[string]any, len(declared))
	for name, v := range declared {
		resolved, err := resolveValue(v, stateIdx)
		if err != nil {
			outputs[name] = v
			continue
		}
		outputs[name] = resolved
	}
	return outputs
}

func cloneState(state *ir.State) *ir.State {
	newState := &ir.State{Version: ir.StateVersion}
	if state != nil {
		newState.Serial = state.Serial
		newState.Lineage = state.Lineage
		newState.Resources = append(newState.Resources, state.Resources...)
	}
	if newState.Lineage == "" {
		newState.Lineage = uuid.NewString()
	}
	return newState
}

func nodeTimeout(res *ir.Resource) time.Duration {
	if res.Timeout != "" {
		if d, err := time.ParseDuration(res.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func outputID(outputs map[string]any) string {
	if id, ok := outputs["id"].(string); ok {
		return id
	}
	return ""
}

func allDone(deps []string, done map[string]bool) bool {
	for _, dep := range deps {
		if !done[dep] {
			return false
		}
	}
	return true
}

func firstFailed(deps []string, failed map[string]bool) string {
	for _, dep := range deps {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func countTrue(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
