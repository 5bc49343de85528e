package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksmith-io/stacksmith/internal/source"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

func fileConfigJSON(t *testing.T, cfg FileConfig) []byte {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	return data
}

func TestPlan_RequiresPath(t *testing.T) {
	p := New()

	_, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type:        "local.File",
		Key:         "f",
		DesiredJSON: fileConfigJSON(t, FileConfig{Content: "x"}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires 'path'")
}

func TestPlan_RejectsContentAndSource(t *testing.T) {
	p := New()

	_, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File",
		Key:  "f",
		DesiredJSON: fileConfigJSON(t, FileConfig{
			Path: "/tmp/x", Content: "a", Source: "file://b",
		}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestPlanApply_CreateThenNoop(t *testing.T) {
	p := New()
	dest := filepath.Join(t.TempDir(), "out", "greeting.txt")
	cfg := FileConfig{Path: dest, Content: "hello"}
	desired := fileConfigJSON(t, cfg)

	plan, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionCreate, plan.Action)

	applied, err := p.Apply(context.Background(), &sdk.ApplyRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired,
	})
	require.NoError(t, err)

	var outputs FileOutputs
	require.NoError(t, json.Unmarshal(applied.OutputsJSON, &outputs))
	assert.Equal(t, dest, outputs.ID)
	assert.Equal(t, source.HashBytes([]byte("hello")), outputs.Digest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Re-planning against the materialized file converges.
	plan, err = p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired, PriorJSON: desired,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionNoop, plan.Action)
}

func TestPlan_DetectsDrift(t *testing.T) {
	p := New()
	dest := filepath.Join(t.TempDir(), "config.txt")
	require.NoError(t, os.WriteFile(dest, []byte("edited behind our back"), 0o644))

	desired := fileConfigJSON(t, FileConfig{Path: dest, Content: "managed content"})
	plan, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired, PriorJSON: desired,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionUpdate, plan.Action)
	assert.Contains(t, plan.ChangedAttributes, "content")
}

func TestPlan_MissingDestinationRecreates(t *testing.T) {
	p := New()
	dest := filepath.Join(t.TempDir(), "gone.txt")

	desired := fileConfigJSON(t, FileConfig{Path: dest, Content: "x"})
	plan, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired, PriorJSON: desired,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionCreate, plan.Action)
}

func TestPlan_PathChangeForcesReplace(t *testing.T) {
	p := New()
	dir := t.TempDir()

	prior := fileConfigJSON(t, FileConfig{Path: filepath.Join(dir, "old.txt"), Content: "x"})
	desired := fileConfigJSON(t, FileConfig{Path: filepath.Join(dir, "new.txt"), Content: "x"})

	plan, err := p.Plan(context.Background(), &sdk.PlanRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired, PriorJSON: prior,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionReplace, plan.Action)
	assert.Equal(t, []string{"path"}, plan.ChangedAttributes)
}

func TestApply_SourceArtifact(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "artifact.bin"), []byte("binary payload"), 0o644))
	p := NewWithSource(source.NewFileSource(srcDir))

	dest := filepath.Join(t.TempDir(), "copy.bin")
	desired := fileConfigJSON(t, FileConfig{Path: dest, Source: "file://artifact.bin", Mode: "0600"})

	_, err := p.Apply(context.Background(), &sdk.ApplyRequest{
		Type: "local.File", Key: "f", DesiredJSON: desired,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "binary payload", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDestroy_RemovesFile(t *testing.T) {
	p := New()
	dest := filepath.Join(t.TempDir(), "doomed.txt")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	prior := fileConfigJSON(t, FileConfig{Path: dest, Content: "x"})
	require.NoError(t, p.Destroy(context.Background(), &sdk.DestroyRequest{
		Type: "local.File", Key: "f", PriorJSON: prior,
	}))

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))

	// Destroying an already-missing file is fine.
	assert.NoError(t, p.Destroy(context.Background(), &sdk.DestroyRequest{
		Type: "local.File", Key: "f", PriorJSON: prior,
	}))
}
