// Package config loads process configuration from config.json merged
// onto compiled defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GitConfig controls commit and push behavior in the verifier.
type GitConfig struct {
	AutoPush                 bool   `json:"autoPush"`
	PushRemote               string `json:"pushRemote"`
	AllowProtectedBranchPush bool   `json:"allowProtectedBranchPush"`
	AutoUpdateGitignore      bool   `json:"autoUpdateGitignore"`
}

// AIConfig selects providers and their binaries.
type AIConfig struct {
	Provider     string `json:"provider"`
	PrimaryPath  string `json:"primaryPath"`
	FallbackPath string `json:"fallbackPath"`
}

// DocsConfig controls the external document-update step.
type DocsConfig struct {
	Enabled         bool     `json:"enabled"`
	UpdateFrequency int      `json:"updateFrequency"`
	Targets         []string `json:"targets"`
}

// RateLimitFallbackConfig controls the secondary-provider fallback and
// the next-cycle confirmation review of its output.
type RateLimitFallbackConfig struct {
	Enabled          bool     `json:"enabled"`
	FallbackProvider string   `json:"fallbackProvider"`
	TrackChanges     bool     `json:"trackChanges"`
	AutoReview       bool     `json:"autoReview"`
	ReviewOnPhases   []string `json:"reviewOnPhases"`
}

// ResearchConfig controls the periodic research trigger.
type ResearchConfig struct {
	Enabled              bool    `json:"enabled"`
	Frequency            int     `json:"frequency"`
	MaxTopicsPerCycle    int     `json:"maxTopicsPerCycle"`
	MinConfidenceToQueue float64 `json:"minConfidenceToQueue"`
}

// LimitsConfig holds the process-wide resource bounds.
type LimitsConfig struct {
	MaxFilesPerChange          int `json:"maxFilesPerChange"`
	MaxLinesPerFile            int `json:"maxLinesPerFile"`
	MaxSnapshots               int `json:"maxSnapshots"`
	MaxActiveTroubles          int `json:"maxActiveTroubles"`
	CleanupDays                int `json:"cleanupDays"`
	MaxConsecutiveFailures     int `json:"maxConsecutiveFailures"`
	MaxConfirmationsPerCycle   int `json:"maxConfirmationsPerCycle"`
	PatternHistoryMax          int `json:"patternHistoryMax"`
	DefaultImprovementPriority int `json:"defaultImprovementPriority"`
	VerifyMaxRetries           int `json:"verifyMaxRetries"`
}

// BreakerConfig tunes the repair circuit breaker.
type BreakerConfig struct {
	MaxAttemptsPerError             int           `json:"maxAttemptsPerError"`
	MaxConsecutiveFailuresPerSource int           `json:"maxConsecutiveFailuresPerSource"`
	MaxConsecutiveFailuresGlobal    int           `json:"maxConsecutiveFailuresGlobal"`
	Cooldown                        time.Duration `json:"-"`
	CooldownMs                      int64         `json:"cooldownMs"`
	HalfOpenTestCount               int           `json:"halfOpenTestCount"`
}

// CommandsConfig names the build/test/analysis subprocess commands.
// CheckFile, when set, is an argv prefix for single-file checks; the
// file path is appended.
type CommandsConfig struct {
	Build         []string `json:"build"`
	Test          []string `json:"test"`
	CircularCheck []string `json:"circularCheck"`
	CheckFile     []string `json:"checkFile"`
}

// Config is the process-level configuration, loaded from ./config.json
// and merged onto defaults.
type Config struct {
	Port          int                     `json:"port"`
	Workspace     string                  `json:"workspace"`
	CheckInterval time.Duration           `json:"-"`
	CheckMinutes  int                     `json:"checkIntervalMinutes"`
	LogLevel      string                  `json:"logLevel"`
	AI            AIConfig                `json:"ai"`
	Git           GitConfig               `json:"git"`
	Docs          DocsConfig              `json:"docs"`
	Fallback      RateLimitFallbackConfig `json:"rateLimitFallback"`
	Research      ResearchConfig          `json:"research"`
	Limits        LimitsConfig            `json:"limits"`
	Breaker       BreakerConfig           `json:"circuitBreaker"`
	Commands      CommandsConfig          `json:"commands"`
}

// Default returns a Config with the documented default values.
func Default() *Config {
	return &Config{
		Port:          8600,
		Workspace:     "workspace",
		CheckInterval: 5 * time.Minute,
		CheckMinutes:  5,
		LogLevel:      "info",
		AI: AIConfig{
			Provider:     "claude",
			PrimaryPath:  "claude",
			FallbackPath: "opencode",
		},
		Git: GitConfig{
			AutoPush:   false,
			PushRemote: "origin",
		},
		Docs: DocsConfig{
			Enabled:         true,
			UpdateFrequency: 5,
		},
		Fallback: RateLimitFallbackConfig{
			Enabled:          true,
			FallbackProvider: "opencode",
			TrackChanges:     true,
			AutoReview:       true,
			ReviewOnPhases:   []string{"implement", "test-gen"},
		},
		Research: ResearchConfig{
			Enabled:              true,
			Frequency:            10,
			MaxTopicsPerCycle:    3,
			MinConfidenceToQueue: 0.6,
		},
		Limits: LimitsConfig{
			MaxFilesPerChange:          5,
			MaxLinesPerFile:            500,
			MaxSnapshots:               10,
			MaxActiveTroubles:          1000,
			CleanupDays:                14,
			MaxConsecutiveFailures:     5,
			MaxConfirmationsPerCycle:   3,
			PatternHistoryMax:          20,
			DefaultImprovementPriority: 50,
			VerifyMaxRetries:           3,
		},
		Breaker: BreakerConfig{
			MaxAttemptsPerError:             3,
			MaxConsecutiveFailuresPerSource: 5,
			MaxConsecutiveFailuresGlobal:    10,
			Cooldown:                        5 * time.Minute,
			CooldownMs:                      int64(5 * time.Minute / time.Millisecond),
			HalfOpenTestCount:               2,
		},
		Commands: CommandsConfig{
			Build:     []string{"go", "build", "./..."},
			Test:      []string{"go", "test", "./..."},
			CheckFile: []string{"gofmt", "-e"},
		},
	}
}

// Load reads configuration from the given path. A missing file returns
// defaults without error; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Unmarshaling onto the populated default struct leaves absent
	// fields at their default values.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.CheckMinutes > 0 {
		cfg.CheckInterval = time.Duration(cfg.CheckMinutes) * time.Minute
	}
	if cfg.Breaker.CooldownMs > 0 {
		cfg.Breaker.Cooldown = time.Duration(cfg.Breaker.CooldownMs) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("checkIntervalMinutes must be > 0, got %d", c.CheckMinutes)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.Limits.MaxFilesPerChange <= 0 {
		return fmt.Errorf("limits.maxFilesPerChange must be > 0, got %d", c.Limits.MaxFilesPerChange)
	}
	if c.Limits.MaxSnapshots <= 0 {
		return fmt.Errorf("limits.maxSnapshots must be > 0, got %d", c.Limits.MaxSnapshots)
	}
	if c.Limits.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("limits.maxConsecutiveFailures must be > 0, got %d", c.Limits.MaxConsecutiveFailures)
	}
	if c.Research.Frequency <= 0 {
		return fmt.Errorf("research.frequency must be > 0, got %d", c.Research.Frequency)
	}
	return nil
}

// WorkspacePath joins path elements under the workspace root. All
// filesystem roots come from config; nothing is hard-coded.
func (c *Config) WorkspacePath(elem ...string) string {
	parts := append([]string{c.Workspace}, elem...)
	return filepath.Join(parts...)
}

// The agent's own artifacts inside the workspace. Scanners, the work
// detector and snapshots must not treat them as project files:
// bookkeeping churns every cycle, and a rollback must never rewind
// learning state.
var (
	agentDataDirs = map[string]bool{
		"snapshots": true, "logs": true, "reports": true,
		"troubles-archive": true, "approvals": true, "repair": true,
	}
	agentStateFiles = map[string]bool{
		"patterns.json": true, "learning-stats.json": true,
		"troubles.json": true, "improvement-queue.json": true,
		"goals.json": true, "state.json": true,
		"trouble-patterns.json": true, "ai-review-log.json": true,
		"history.db": true, "history.db-wal": true, "history.db-shm": true,
		"policy.yaml": true,
	}
)

// AgentDataDir reports whether name is a workspace directory the agent
// maintains.
func AgentDataDir(name string) bool { return agentDataDirs[name] }

// AgentStateFile reports whether name is one of the agent's bookkeeping
// files at the workspace root.
func AgentStateFile(name string) bool { return agentStateFiles[name] }
