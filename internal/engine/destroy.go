package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/logging"
)

// Destroy tears down everything the state records, dependents before their
// dependencies. The configuration is not consulted; the recorded dependency
// edges drive ordering. A node is skipped while anything that depends on it
// failed to destroy, so a half-torn stack never loses the records it still
// needs for a retry.
func (e *Engine) Destroy(ctx context.Context, state *ir.State) (*ir.State, *ir.Report, error) {
	log := logging.Logger()
	report := &ir.Report{RunID: uuid.NewString(), Mode: "destroy"}

	newState := cloneState(state)
	if len(newState.Resources) == 0 {
		newState.Serial++
		return newState, report, nil
	}

	graph, err := BuildGraphFromState(newState.Resources)
	if err != nil {
		return nil, nil, err
	}

	stateIdx := make(map[string]*ir.ResourceState, len(newState.Resources))
	for _, rs := range newState.Resources {
		stateIdx[stateAddr(rs)] = rs
	}

	var errs []error
	failed := make(map[string]bool)

	for _, addr := range graph.DestructionOrder() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if blocker := firstFailed(graph.Dependents(addr), failed); blocker != "" {
			failed[addr] = true
			log.Debug("skipping destroy, dependent still present", "address", addr, "dependent", blocker)
			report.Append(addr, ir.StatusApplied, ir.StatusApplied, nil)
			continue
		}

		rs := stateIdx[addr]
		e.emit(addr, ir.StatusDestroying, nil)
		if err := e.destroyNode(ctx, rs); err != nil {
			failed[addr] = true
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

	remaining := newState.Resources[:0]
	for _, rs := range newState.Resources {
		if _, kept := stateIdx[stateAddr(rs)]; kept {
			remaining = append(remaining, rs)
		}
	}
	newState.Resources = remaining
	newState.Serial++
	if len(newState.Resources) == 0 {
		newState.Outputs = nil
	}

	log.Info("destroy complete", "destroyed", len(report.Entries)-report.Failed(), "failed", report.Failed())
	return newState, report, errors.Join(errs...)
}
