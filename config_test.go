package testengine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testengine/flags"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// runConfig parses args with the engine's flags and returns the resulting Config
func runConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, testLogger())
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"testengine"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()
	settings := writeFile(t, dir, "run.yaml", "parameters:\n  a: b\n")

	cfg, err := runConfig(t,
		"--containers", "./pkg/a",
		"--containers", "./pkg/b",
		"--testdir", dir,
		"--logdir", filepath.Join(dir, "logs"),
		"--settings", settings,
		"--filter", "Priority=1",
		"--concurrency", "4",
		"--run-interval", "5m",
		"--deployment-dir", filepath.Join(dir, "deploy"),
		"--deployment-items", "testdata",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"./pkg/a", "./pkg/b"}, cfg.Containers)
	assert.Equal(t, dir, cfg.TestDir)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	assert.Equal(t, "b", cfg.Settings.Parameters["a"])
	assert.Equal(t, "Priority=1", cfg.FilterText)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.RunInterval)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, filepath.Join(dir, "deploy"), cfg.DeploymentDir)
	assert.Equal(t, []string{"testdata"}, cfg.DeploymentItems)
	assert.Equal(t, flags.SourceGo, cfg.Source)
	assert.Equal(t, "go", cfg.GoBinary)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := runConfig(t, "--containers", "./pkg")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.TestDir))
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Empty(t, cfg.DeploymentDir)
	assert.NotNil(t, cfg.Settings)
	assert.False(t, cfg.ListOnly)
}

func TestNewConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "invalid source",
			args:    []string{"--containers", "./pkg", "--source", "xml"},
			wantErr: "invalid source",
		},
		{
			name:    "zero concurrency",
			args:    []string{"--containers", "./pkg", "--concurrency", "0"},
			wantErr: "concurrency must be at least 1",
		},
		{
			name:    "missing settings file",
			args:    []string{"--containers", "./pkg", "--settings", "/does/not/exist.yaml"},
			wantErr: "failed to open run settings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runConfig(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
