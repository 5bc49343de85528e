package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestPlan_CreateWithoutPrior(t *testing.T) {
	p := New()

	resp, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type:        "null.Resource",
		Key:         "a",
		DesiredJSON: mustJSON(t, Config{Triggers: map[string]string{"rev": "1"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionCreate, resp.Action)
}

func TestPlan_TriggerChangeForcesReplace(t *testing.T) {
	p := New()

	resp, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type:        "null.Resource",
		Key:         "a",
		DesiredJSON: mustJSON(t, Config{Triggers: map[string]string{"rev": "2"}}),
		PriorJSON:   mustJSON(t, Config{Triggers: map[string]string{"rev": "1"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionReplace, resp.Action)
	assert.Equal(t, []string{"triggers"}, resp.ChangedAttributes)
}

func TestPlan_UnchangedTriggersNoop(t *testing.T) {
	p := New()

	desired := mustJSON(t, Config{Triggers: map[string]string{"rev": "1"}})
	resp, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type:        "null.Resource",
		Key:         "a",
		DesiredJSON: desired,
		PriorJSON:   desired,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionNoop, resp.Action)
}

func TestApply_ProducesStableID(t *testing.T) {
	p := New()

	resp, err := p.Apply(context.Background(), &sdk.ApplyRequest{
		Type:        "null.Resource",
		Key:         "pipeline",
		DesiredJSON: mustJSON(t, Config{Triggers: map[string]string{"rev": "1"}}),
	})
	require.NoError(t, err)

	var outputs Outputs
	require.NoError(t, json.Unmarshal(resp.OutputsJSON, &outputs))
	assert.Equal(t, "null-pipeline", outputs.ID)
	assert.Equal(t, map[string]string{"rev": "1"}, outputs.Triggers)
}

func TestDestroy_IsInert(t *testing.T) {
	p := New()
	assert.NoError(t, p.Destroy(context.Background(), &sdk.DestroyRequest{Key: "a"}))
}
