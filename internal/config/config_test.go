package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 8600, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CheckInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Limits.MaxFilesPerChange)
	assert.Equal(t, []string{"go", "build", "./..."}, cfg.Commands.Build)
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"workspace": "/srv/project",
		"checkIntervalMinutes": 30,
		"logLevel": "debug",
		"limits": {"maxFilesPerChange": 2},
		"circuitBreaker": {"cooldownMs": 60000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/project", cfg.Workspace)
	assert.Equal(t, 30*time.Minute, cfg.CheckInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Limits.MaxFilesPerChange)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)

	// Absent fields keep their defaults.
	assert.Equal(t, 8600, cfg.Port)
	assert.Equal(t, 10, cfg.Limits.MaxSnapshots)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty workspace",
			mutate:  func(c *Config) { c.Workspace = "" },
			wantErr: "workspace",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "logLevel",
		},
		{
			name:    "zero max files",
			mutate:  func(c *Config) { c.Limits.MaxFilesPerChange = 0 },
			wantErr: "maxFilesPerChange",
		},
		{
			name:    "zero research frequency",
			mutate:  func(c *Config) { c.Research.Frequency = 0 },
			wantErr: "research.frequency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWorkspacePath(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/data/ws"

	assert.Equal(t, filepath.Join("/data/ws", "troubles-archive", "archive-2026-08-25.json"),
		cfg.WorkspacePath("troubles-archive", "archive-2026-08-25.json"))
}

func TestAgentArtifacts(t *testing.T) {
	assert.True(t, AgentDataDir("snapshots"))
	assert.True(t, AgentDataDir("logs"))
	assert.False(t, AgentDataDir("src"))

	assert.True(t, AgentStateFile("patterns.json"))
	assert.True(t, AgentStateFile("improvement-queue.json"))
	assert.True(t, AgentStateFile("history.db"))
	assert.False(t, AgentStateFile("main.go"))
	assert.False(t, AgentStateFile("package.json"))
}
