package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{name: "nil", input: nil, expected: "null"},
		{name: "string quoted", input: "hello", expected: `"hello"`},
		{name: "number", input: 3, expected: "3"},
		{name: "bool", input: true, expected: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(tt.input))
		})
	}
}

func TestStatePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/work", ".stacksmith", "state.json"), statePath("/work"))
}

func TestResolveWorkdir(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0o644))

	t.Run("no args uses cwd and default entry point", func(t *testing.T) {
		wd, entryPoint, err := resolveWorkdir(nil)
		require.NoError(t, err)
		assert.NotEmpty(t, wd)
		assert.Equal(t, defaultEntryPoint, entryPoint)
	})

	t.Run("directory argument", func(t *testing.T) {
		wd, entryPoint, err := resolveWorkdir([]string{dir})
		require.NoError(t, err)
		assert.Equal(t, dir, wd)
		assert.Equal(t, defaultEntryPoint, entryPoint)
	})

	t.Run("file argument splits dir and entry point", func(t *testing.T) {
		wd, entryPoint, err := resolveWorkdir([]string{configPath})
		require.NoError(t, err)
		assert.Equal(t, dir, wd)
		assert.Equal(t, "custom.json", entryPoint)
	})

	t.Run("missing path errors", func(t *testing.T) {
		_, _, err := resolveWorkdir([]string{filepath.Join(dir, "absent")})
		require.Error(t, err)
	})
}

func TestOpenBackend(t *testing.T) {
	t.Run("defaults to local state", func(t *testing.T) {
		backend, err := openBackend(t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})

	t.Run("local backend config", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, backendConfigFile),
			[]byte(`{"type": "local"}`), 0o644))

		backend, err := openBackend(dir)
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})

	t.Run("unknown backend type errors", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, backendConfigFile),
			[]byte(`{"type": "carrier-pigeon"}`), 0o644))

		_, err := openBackend(dir)
		require.Error(t, err)
	})

	t.Run("malformed config errors", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, backendConfigFile),
			[]byte(`{not json`), 0o644))

		_, err := openBackend(dir)
		require.Error(t, err)
	})
}
