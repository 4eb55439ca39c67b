package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths("does-not-exist.yaml")).Load()
	require.NoError(t, err)

	assert.Equal(t, "ridematch", cfg.App.Name)
	assert.Equal(t, 50051, cfg.GRPC.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "greatcircle", cfg.Oracle.Method)
	assert.Equal(t, 20000, cfg.Matching.MaxMatchesPerDriver)
	assert.Equal(t, 25, cfg.Matching.MinBaseMatchesPerDriver)
	assert.Equal(t, 100, cfg.Matching.MaxBaseMatchesPerDriver)
	assert.Equal(t, 12, cfg.Matching.MaxAssignmentsPerPassenger)
	assert.Equal(t, "ssp", cfg.Matching.Solver)
	assert.Equal(t, 30*time.Minute, cfg.Matching.Timeout)
	assert.InDelta(t, 0.6, cfg.Matching.LowerBoundProfitTarget, 1e-9)
	assert.InDelta(t, 1.0, cfg.Costs.RevenueReduction, 1e-9)
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: matcher-east
matching:
  start_hour: 7
  threads: 4
  solver: ls2plus
  method: dp
  run_once: true
costs:
  operating_cost_type: 2
  multiplier: 1.2
`)

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, "matcher-east", cfg.App.Name)
	assert.Equal(t, 7, cfg.Matching.StartHour)
	assert.Equal(t, 4, cfg.Matching.Threads)
	assert.Equal(t, "ls2plus", cfg.Matching.Solver)
	assert.Equal(t, "dp", cfg.Matching.Method)
	assert.True(t, cfg.Matching.RunOnce)
	assert.Equal(t, 2, cfg.Costs.OperatingCostType)
	assert.InDelta(t, 1.2, cfg.Costs.Multiplier, 1e-9)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: file-service
matching:
  threads: 2
`)
	t.Setenv("RIDEMATCH_APP_NAME", "env-override")
	t.Setenv("RIDEMATCH_MATCHING_MAX_MATCHES_PER_DRIVER", "500")

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-override", cfg.App.Name)
	assert.Equal(t, 500, cfg.Matching.MaxMatchesPerDriver)
	assert.Equal(t, 2, cfg.Matching.Threads)
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_MATCHING_SOLVER", "greedy")

	cfg, err := NewLoader(WithEnvPrefix("CUSTOM_"), WithConfigPaths("missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "greedy", cfg.Matching.Solver)
}

func TestLoader_InvalidFileFailsValidation(t *testing.T) {
	path := writeConfig(t, `
matching:
  solver: cplex
`)

	_, err := NewLoader(WithConfigPaths(path)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matching.solver")
}

func TestLoader_ConfigEnvVar(t *testing.T) {
	path := writeConfig(t, `
app:
  name: config-env-var-service
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "config-env-var-service", cfg.App.Name)
}

func TestLoadWithServiceDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "log:\n  level: warn\n"))

	cfg, err := LoadWithServiceDefaults("matcher-svc", 50061)
	require.NoError(t, err)

	assert.Equal(t, "matcher-svc", cfg.App.Name)
	assert.Equal(t, 50061, cfg.GRPC.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	t.Setenv("RIDEMATCH_MATCHING_THREADS", "0")

	assert.Panics(t, func() {
		MustLoad(WithConfigPaths("missing.yaml"))
	})
}
