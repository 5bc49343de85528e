package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/provider"
	"github.com/stacksmith-io/stacksmith/internal/source"
)

func planAndApply(t *testing.T, eng *Engine, cfg *ir.Config, state *ir.State) (*ir.State, *ir.Report, error) {
	t.Helper()
	plan, _, err := eng.Plan(context.Background(), cfg, state)
	require.NoError(t, err)
	return eng.Apply(context.Background(), plan, state)
}

func TestApply_CreatesAndRecordsState(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			fakeResource("bucket", map[string]any{"name": "assets"}),
			fakeResource("object", map[string]any{"bucket": "ref://fake.Thing/bucket/id"}),
		},
		Outputs: map[string]any{"bucket_id": "ref://fake.Thing/bucket/id"},
	}

	newState, report, err := planAndApply(t, eng, cfg, nil)
	require.NoError(t, err)

	require.Len(t, newState.Resources, 2)
	assert.NotEmpty(t, newState.Lineage)
	assert.Equal(t, 1, newState.Serial)

	byAddr := make(map[string]*ir.ResourceState)
	for _, rs := range newState.Resources {
		byAddr[rs.Type+"."+rs.Key] = rs
	}
	bucket := byAddr["fake.Thing.bucket"]
	require.NotNil(t, bucket)
	assert.Equal(t, "fake-bucket", bucket.Outputs["id"])

	object := byAddr["fake.Thing.object"]
	require.NotNil(t, object)
	assert.Equal(t, []string{"fake.Thing.bucket"}, object.Dependencies)

	assert.Equal(t, "fake-bucket", newState.Outputs["bucket_id"])
	assert.Zero(t, report.Failed())
}

func TestApply_ResolvesReferencesBeforeAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			fakeResource("upstream", map[string]any{"name": "up"}),
			fakeResource("downstream", map[string]any{"parent": "ref://fake.Thing/upstream/id"}),
		},
	}

	_, _, err := planAndApply(t, eng, cfg, nil)
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(adapter.applyBody["downstream"], &sent))
	assert.Equal(t, "fake-upstream", sent["parent"], "ref should resolve to the dependency's output")
}

func TestApply_DependencyOrderHonored(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			fakeResource("leaf", map[string]any{"parent": "ref://fake.Thing/base/id"}),
			fakeResource("base", map[string]any{"name": "base"}),
		},
	}

	_, _, err := planAndApply(t, eng, cfg, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"base", "leaf"}, adapter.applied)
}

func TestApply_FailureSkipsDependentsOnly(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.applyErr["a"] = errors.New("quota exhausted")
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			fakeResource("a", map[string]any{"name": "a"}),
			fakeResource("b", map[string]any{"upstream": "ref://fake.Thing/a/id"}),
			fakeResource("c", map[string]any{"name": "c"}),
		},
	}

	newState, report, err := planAndApply(t, eng, cfg, nil)
	require.Error(t, err)

	var applyErr *AdapterApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "fake.Thing.a", applyErr.Address)

	statuses := reportStatuses(report)
	assert.Equal(t, ir.StatusFailed, statuses["fake.Thing.a"])
	assert.Equal(t, ir.StatusPlanned, statuses["fake.Thing.b"], "dependent of the failure must not run")
	assert.Equal(t, ir.StatusApplied, statuses["fake.Thing.c"], "independent node keeps going")

	// Only the successful node lands in state.
	require.Len(t, newState.Resources, 1)
	assert.Equal(t, "c", newState.Resources[0].Key)
}

func TestApply_ParallelismIsBounded(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.applyDelay = 20 * time.Millisecond
	eng := newTestEngine(t, adapter, WithParallelism(2))

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeResource("n1", map[string]any{"i": "1"}),
		fakeResource("n2", map[string]any{"i": "2"}),
		fakeResource("n3", map[string]any{"i": "3"}),
		fakeResource("n4", map[string]any{"i": "4"}),
		fakeResource("n5", map[string]any{"i": "5"}),
	}}

	_, report, err := planAndApply(t, eng, cfg, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Failed())
	assert.LessOrEqual(t, adapter.maxInFlight, 2, "no more than the configured limit may run at once")
}

func TestApply_DeletesOrphanedResources(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{Resources: []*ir.Resource{}}
	state := &ir.State{
		Version: ir.StateVersion,
		Lineage: "keep-me",
		Serial:  4,
		Resources: []*ir.ResourceState{
			{Type: "fake.Thing", Key: "old", Provider: "fake",
				Inputs:  map[string]any{"name": "old"},
				Outputs: map[string]any{"id": "fake-old"}},
		},
	}

	newState, report, err := planAndApply(t, eng, cfg, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"old"}, adapter.destroyed)
	assert.Empty(t, newState.Resources)
	assert.Equal(t, "keep-me", newState.Lineage)
	assert.Equal(t, 5, newState.Serial)

	statuses := reportStatuses(report)
	assert.Equal(t, ir.StatusDestroyed, statuses["fake.Thing.old"])
}

func TestApply_FailedDeleteKeepsRecord(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.destroyErr["old"] = errors.New("still in use")
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{Resources: []*ir.Resource{}}
	state := &ir.State{
		Version: ir.StateVersion,
		Resources: []*ir.ResourceState{
			{Type: "fake.Thing", Key: "old", Provider: "fake",
				Inputs: map[string]any{"name": "old"}},
		},
	}

	newState, report, err := planAndApply(t, eng, cfg, state)
	require.Error(t, err)

	require.Len(t, newState.Resources, 1, "failed delete must keep its state record")
	assert.Equal(t, 1, report.Failed())
}

func TestApply_CancelledContextSkipsUnstarted(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeResource("a", map[string]any{"name": "a"}),
	}}
	plan, _, err := eng.Plan(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	newState, _, applyErr := eng.Apply(ctx, plan, nil)
	require.Error(t, applyErr)
	assert.ErrorIs(t, applyErr, context.Canceled)
	assert.Empty(t, newState.Resources)
	assert.Empty(t, adapter.applied)
}

func TestApply_ReportListsEveryNode(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	cfg := &ir.Config{
		Variables: map[string]any{"enabled": false},
		Resources: []*ir.Resource{
			fakeResource("fresh", map[string]any{"name": "fresh"}),
			fakeResource("steady", map[string]any{"name": "steady"}),
			{Type: "fake.Thing", Key: "gated", Provider: "fake", Condition: "${var.enabled}"},
		},
	}
	state := &ir.State{
		Version: ir.StateVersion,
		Resources: []*ir.ResourceState{
			{Type: "fake.Thing", Key: "steady", Provider: "fake",
				Inputs:  map[string]any{"name": "steady"},
				Outputs: map[string]any{"id": "fake-steady"}},
		},
	}

	_, report, err := planAndApply(t, eng, cfg, state)
	require.NoError(t, err)

	// Nothing to do for the noop and excluded nodes, but the report still
	// accounts for them.
	require.Len(t, report.Entries, 3)
	statuses := reportStatuses(report)
	assert.Equal(t, ir.StatusApplied, statuses["fake.Thing.fresh"])
	assert.Equal(t, ir.StatusApplied, statuses["fake.Thing.steady"])
	assert.Equal(t, ir.StatusExcluded, statuses["fake.Thing.gated"])

	assert.Equal(t, []string{"fresh"}, adapter.applied, "noop nodes must not reach the adapter")
}

func TestApply_ProviderReadsSourceFromContentRoot(t *testing.T) {
	// The engine hashes file:// inputs against its content root. Providers
	// must read from the same root at apply time, not from the process
	// working directory, or the recorded hash describes a file that was
	// never deployed.
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "artifact.txt"), []byte("intended content"), 0o644))

	decoyDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(decoyDir, "artifact.txt"), []byte("WRONG content"), 0o644))
	origWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(decoyDir))
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	registry := provider.NewRegistry()
	eng, err := NewEngine(registry, WithContentSource(source.NewFileSource(root)))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.txt")
	cfg := &ir.Config{Resources: []*ir.Resource{
		{
			Type:     "local.File",
			Key:      "f",
			Provider: "local",
			Inputs:   map[string]any{"path": dest, "source": "file://artifact.txt"},
		},
	}}

	newState, report, err := planAndApply(t, eng, cfg, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Failed())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "intended content", string(data))

	require.Len(t, newState.Resources, 1)
	assert.Equal(t, source.HashBytes([]byte("intended content")),
		newState.Resources[0].ContentHashes["source"])
}

func TestDestroy_ReverseDependencyOrder(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	state := &ir.State{
		Version: ir.StateVersion,
		Resources: []*ir.ResourceState{
			{Type: "fake.Thing", Key: "base", Provider: "fake", Inputs: map[string]any{}},
			{Type: "fake.Thing", Key: "mid", Provider: "fake", Inputs: map[string]any{},
				Dependencies: []string{"fake.Thing.base"}},
			{Type: "fake.Thing", Key: "top", Provider: "fake", Inputs: map[string]any{},
				Dependencies: []string{"fake.Thing.mid"}},
		},
	}

	newState, report, err := eng.Destroy(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"top", "mid", "base"}, adapter.destroyed)
	assert.Empty(t, newState.Resources)
	assert.Zero(t, report.Failed())
}

func TestDestroy_FailureKeepsDependencies(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.destroyErr["top"] = errors.New("deletion protection enabled")
	eng := newTestEngine(t, adapter)

	state := &ir.State{
		Version: ir.StateVersion,
		Resources: []*ir.ResourceState{
			{Type: "fake.Thing", Key: "base", Provider: "fake", Inputs: map[string]any{}},
			{Type: "fake.Thing", Key: "top", Provider: "fake", Inputs: map[string]any{},
				Dependencies: []string{"fake.Thing.base"}},
			{Type: "fake.Thing", Key: "other", Provider: "fake", Inputs: map[string]any{}},
		},
	}

	newState, report, err := eng.Destroy(context.Background(), state)
	require.Error(t, err)

	// top failed, so base must survive; the unrelated node still goes.
	assert.Equal(t, []string{"other"}, adapter.destroyed)
	require.Len(t, newState.Resources, 2)
	assert.Equal(t, 1, report.Failed())
}

func TestDestroy_EmptyState(t *testing.T) {
	adapter := newFakeAdapter()
	eng := newTestEngine(t, adapter)

	newState, report, err := eng.Destroy(context.Background(), &ir.State{Version: ir.StateVersion})
	require.NoError(t, err)
	assert.Empty(t, newState.Resources)
	assert.Empty(t, report.Entries)
}
