package testengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunSettings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run.yaml", `
parameters:
  endpoint: http://localhost:8545
  retries: 3
containerParameters:
  ./calc:
    endpoint: http://calc:8545
filter: TestCategory=fast
mapInconclusiveToFailed: true
`)

	settings, err := LoadRunSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", settings.Parameters["endpoint"])
	assert.Equal(t, 3, settings.Parameters["retries"])
	assert.Equal(t, "http://calc:8545", settings.ContainerParameters["./calc"]["endpoint"])
	assert.Equal(t, "TestCategory=fast", settings.Filter)
	assert.True(t, settings.MapInconclusiveToFailed)
}

func TestLoadRunSettings_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRunSettings(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open run settings")

	unknown := writeFile(t, dir, "unknown.yaml", "paramters:\n  a: 1\n")
	_, err = LoadRunSettings(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse run settings")
}

func TestRunSettings_RunContext(t *testing.T) {
	settings := &RunSettings{
		Parameters: map[string]any{"a": 1},
		Filter:     "Priority=1",
	}

	tests := []struct {
		name        string
		settings    *RunSettings
		filter      string
		mapFlag     bool
		wantFilter  string
		wantMapping bool
	}{
		{name: "settings filter", settings: settings, wantFilter: "Priority=1"},
		{name: "flag filter wins", settings: settings, filter: "Owner=me", wantFilter: "Owner=me"},
		{name: "flag mapping", settings: settings, mapFlag: true, wantFilter: "Priority=1", wantMapping: true},
		{name: "settings mapping", settings: &RunSettings{MapInconclusiveToFailed: true}, wantMapping: true},
		{name: "nil settings", settings: nil, filter: "x", wantFilter: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := tt.settings.RunContext(tt.filter, tt.mapFlag)
			assert.Equal(t, tt.wantFilter, rc.FilterText)
			assert.Equal(t, tt.wantMapping, rc.MapInconclusiveToFailed)
		})
	}

	assert.Equal(t, 1, settings.RunContext("", false).Parameters["a"])
}
