package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/planner"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	h, err := cfg.HandlerConfig()
	require.NoError(t, err)
	assert.Equal(t, handler.PlanningProgress, h.Strategy)
	assert.Equal(t, planner.HMax, h.Heuristic)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Server.MaxEpisodes)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
planner:
  timeout: 2s
  heuristic: hadd
explorer:
  strategy: success_rate
  bonus: 0.5
env:
  blocks: 2
  broken: [Push]
`)
	t.Setenv("TAMP_PORT", "9100")
	t.Setenv("TAMP_SEED", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Planner.Timeout)
	assert.Equal(t, uint64(42), cfg.Explorer.Seed)
	assert.Equal(t, []string{"Push"}, cfg.BlocksConfig().Broken)
	// untouched fields keep their defaults
	assert.Equal(t, 500, cfg.Explorer.MaxSteps)

	h, err := cfg.HandlerConfig()
	require.NoError(t, err)
	assert.Equal(t, handler.SuccessRate, h.Strategy)
	assert.Equal(t, planner.HAdd, h.Heuristic)
	assert.Equal(t, 0.5, h.Bonus)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown strategy", content: "explorer:\n  strategy: curiosity\n"},
		{name: "bad prior", content: "competence:\n  alpha: 0\n"},
		{name: "unknown heuristic", content: "planner:\n  heuristic: ff\n"},
		{name: "unknown broken operator", content: "env:\n  broken: [Fly]\n"},
		{name: "zero replan frequency", content: "explorer:\n  replan_frequency: 0\n"},
		{name: "no episodes kept", content: "server:\n  max_episodes: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Unparseable(t *testing.T) {
	_, err := Load(writeFile(t, "server: [1, 2"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}
