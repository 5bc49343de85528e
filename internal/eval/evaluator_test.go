package eval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) (dir, name string) {
	t.Helper()
	dir = t.TempDir()
	name = "main.json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir, name
}

func TestLoadConfig_Basic(t *testing.T) {
	dir, name := writeConfig(t, `{
		"variables": {"env": "prod", "replicas": 3},
		"resources": [
			{
				"type": "null.Resource",
				"key": "app",
				"provider": "null",
				"inputs": {
					"name": "app-${var.env}",
					"replicas": "${var.replicas}"
				}
			}
		],
		"outputs": {"app_id": "ref://null.Resource/app/id"}
	}`)

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), name, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Resources, 1)
	res := cfg.Resources[0]
	assert.Equal(t, "app-prod", res.Inputs["name"])
	// An input that is exactly one placeholder keeps the variable's type.
	assert.Equal(t, float64(3), res.Inputs["replicas"])
	assert.Equal(t, "ref://null.Resource/app/id", cfg.Outputs["app_id"])
}

func TestLoadConfig_PropertyOverrides(t *testing.T) {
	dir, name := writeConfig(t, `{
		"variables": {"env": "dev", "count": 1},
		"resources": [
			{"type": "null.Resource", "key": "a", "provider": "null",
			 "inputs": {"env": "${var.env}", "count": "${var.count}", "flag": "${var.flag}"}}
		]
	}`)

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), name, map[string]string{
		"env":   "prod",
		"count": "5",
		"flag":  "true",
	})
	require.NoError(t, err)

	inputs := cfg.Resources[0].Inputs
	assert.Equal(t, "prod", inputs["env"])
	assert.Equal(t, float64(5), inputs["count"], "-D numbers arrive typed")
	assert.Equal(t, true, inputs["flag"], "-D booleans arrive typed")
}

func TestLoadConfig_UndefinedVariable(t *testing.T) {
	dir, name := writeConfig(t, `{
		"resources": [
			{"type": "null.Resource", "key": "a", "provider": "null",
			 "inputs": {"name": "${var.missing}"}}
		]
	}`)

	_, err := NewEvaluator(dir).LoadConfig(context.Background(), name, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined variable "missing"`)
}

func TestLoadConfig_ForEachSubstitution(t *testing.T) {
	dir, name := writeConfig(t, `{
		"variables": {"names": ["a", "b"]},
		"resources": [
			{"type": "null.Resource", "key": "job", "provider": "null",
			 "for_each": "${var.names}",
			 "inputs": {"item": "${each.value}"}}
		]
	}`)

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), name, nil)
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b"}, cfg.Resources[0].ForEach)
	// Per-item placeholders are left for expansion.
	assert.Equal(t, "${each.value}", cfg.Resources[0].Inputs["item"])
}

func TestLoadConfig_RejectsUnknownFields(t *testing.T) {
	dir, name := writeConfig(t, `{
		"resources": [
			{"type": "null.Resource", "key": "a", "provider": "null", "inputs": {}, "bogus": true}
		]
	}`)

	_, err := NewEvaluator(dir).LoadConfig(context.Background(), name, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing key",
			doc:     `{"resources": [{"type": "null.Resource", "provider": "null", "inputs": {}}]}`,
			wantErr: "has no key",
		},
		{
			name:    "negative count",
			doc:     `{"resources": [{"type": "null.Resource", "key": "a", "provider": "null", "count": -1, "inputs": {}}]}`,
			wantErr: "count must not be negative",
		},
		{
			name:    "count with for_each",
			doc:     `{"resources": [{"type": "null.Resource", "key": "a", "provider": "null", "count": 2, "for_each": ["x"], "inputs": {}}]}`,
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad timeout",
			doc:     `{"resources": [{"type": "null.Resource", "key": "a", "provider": "null", "timeout": "forever", "inputs": {}}]}`,
			wantErr: "invalid timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, name := writeConfig(t, tt.doc)
			_, err := NewEvaluator(dir).LoadConfig(context.Background(), name, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := NewEvaluator(t.TempDir()).LoadConfig(context.Background(), "absent.json", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}
