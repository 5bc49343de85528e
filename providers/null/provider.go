// Package null implements an inert resource kind used for wiring and
// testing. A null resource holds trigger values; changing any trigger forces
// replacement, nothing else ever changes it.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Internal structs for JSON handling
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type Outputs struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var desired, prior Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	outputs := Outputs{
		ID:       fmt.Sprintf("null-%s", req.Key),
		Triggers: desired.Triggers,
	}
	outputsJSON, _ := json.Marshal(outputs)

	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) Destroy(ctx context.Context, req *sdk.DestroyRequest) error {
	// Nothing real to tear down.
	return nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
