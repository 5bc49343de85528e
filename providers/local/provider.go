// Package local manages files on the local filesystem. A local.File resource
// materializes either literal content or a file:// source artifact at a
// destination path, converging on content identity rather than timestamps.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/stacksmith-io/stacksmith/internal/source"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

type Provider struct {
	src source.ContentSource
}

func New() *Provider {
	return &Provider{src: source.NewFileSource("")}
}

// NewWithSource is used by tests to read source artifacts from a sandbox.
func NewWithSource(src source.ContentSource) *Provider {
	return &Provider{src: src}
}

type FileConfig struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Source  string `json:"source,omitempty"` // file:// artifact
	Mode    string `json:"mode,omitempty"`   // octal, e.g. "0644"
}

type FileOutputs struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired FileConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Path == "" {
		return nil, fmt.Errorf("local.File requires 'path'")
	}
	if desired.Content != "" && desired.Source != "" {
		return nil, fmt.Errorf("local.File accepts 'content' or 'source', not both")
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior FileConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if prior.Path != desired.Path {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"path"},
		}, nil
	}

	// Drift check: the destination may have been edited or removed behind
	// our back.
	current, err := os.ReadFile(desired.Path)
	if os.IsNotExist(err) {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", desired.Path, err)
	}

	want, err := p.desiredDigest(&desired, req.ContentHashes)
	if err != nil {
		return nil, err
	}
	var changes []string
	if want != source.HashBytes(current) {
		changes = append(changes, "content")
	}
	if prior.Mode != desired.Mode {
		changes = append(changes, "mode")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate, ChangedAttributes: changes}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired FileConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	data, err := p.desiredBytes(&desired)
	if err != nil {
		return nil, err
	}

	mode := os.FileMode(0644)
	if desired.Mode != "" {
		parsed, err := strconv.ParseUint(desired.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", desired.Mode, err)
		}
		mode = os.FileMode(parsed)
	}

	if err := os.MkdirAll(filepath.Dir(desired.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(desired.Path, data, mode); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", desired.Path, err)
	}

	outputs := FileOutputs{
		ID:     desired.Path,
		Path:   desired.Path,
		Digest: source.HashBytes(data),
	}
	outputsJSON, _ := json.Marshal(outputs)

	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) Destroy(ctx context.Context, req *sdk.DestroyRequest) error {
	var prior FileConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Path == "" {
		return nil
	}
	if err := os.Remove(prior.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", prior.Path, err)
	}
	return nil
}

func (p *Provider) desiredBytes(cfg *FileConfig) ([]byte, error) {
	if path, ok := source.IsRef(cfg.Source); ok {
		return p.src.Read(path)
	}
	return []byte(cfg.Content), nil
}

// desiredDigest prefers the digest computed at plan time so plan and apply
// agree on the artifact identity.
func (p *Provider) desiredDigest(cfg *FileConfig, hashes map[string]string) (string, error) {
	if h, ok := hashes["source"]; ok {
		return h, nil
	}
	data, err := p.desiredBytes(cfg)
	if err != nil {
		return "", err
	}
	return source.HashBytes(data), nil
}
