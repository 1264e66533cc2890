package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subterminator/agents/pkg/errs"
)

func TestLogOutputIsValid(t *testing.T) {
	tests := []struct {
		name   string
		output LogOutput
		valid  bool
	}{
		{"stdout", LogOutputStdout, true},
		{"file", LogOutputFile, true},
		{"both", LogOutputBoth, true},
		{"invalid", LogOutput("syslog"), false},
		{"empty", LogOutput(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.output.IsValid())
		})
	}
}

func TestLoadAnalystDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := LoadAnalystFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "./demo.db", cfg.DBPath)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Model)
	assert.Equal(t, 10, cfg.MaxTurns)
	assert.InDelta(t, 0.50, cfg.MaxBudgetUSD, 1e-9)
	assert.Equal(t, 10000, cfg.InputMaxChars)
	assert.Equal(t, LogOutputStdout, cfg.LogOutput)
	assert.False(t, cfg.LogVerbose)
	assert.Equal(t, "mcp__sqlite__", cfg.ToolPrefix)
	assert.Equal(t, "uvx", cfg.ToolServerCommand)
	assert.Equal(t, []string{"mcp-server-sqlite", "--db-path"}, cfg.ToolServerArgs)
	assert.Equal(t, 240*time.Second, cfg.SessionDeadline)
}

func TestLoadAnalystMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := LoadAnalystFromEnv()
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestLoadAnalystInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric turns", "CLAUDE_DA_MAX_TURNS", "ten"},
		{"zero turns", "CLAUDE_DA_MAX_TURNS", "0"},
		{"negative budget", "CLAUDE_DA_MAX_BUDGET_USD", "-1"},
		{"bad log output", "CLAUDE_DA_LOG_OUTPUT", "journald"},
		{"zero input cap", "CLAUDE_DA_INPUT_MAX_CHARS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "sk-test")
			t.Setenv(tt.key, tt.value)

			_, err := LoadAnalystFromEnv()
			require.Error(t, err)
			assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		})
	}
}

func TestLoadAnalystOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("CLAUDE_DA_DB_PATH", "/data/sales.db")
	t.Setenv("CLAUDE_DA_MAX_TURNS", "4")
	t.Setenv("CLAUDE_DA_LOG_OUTPUT", "both")
	t.Setenv("CLAUDE_DA_LOG_VERBOSE", "true")
	t.Setenv("CLAUDE_DA_TOOL_PREFIX", "mcp__duckdb__")

	cfg, err := LoadAnalystFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/data/sales.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.MaxTurns)
	assert.Equal(t, LogOutputBoth, cfg.LogOutput)
	assert.True(t, cfg.LogVerbose)
	assert.Equal(t, "mcp__duckdb__", cfg.ToolPrefix)
}

func TestLoadCancelDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := LoadCancelFromEnv()
	require.NoError(t, err)

	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "./output", cfg.OutputDir)
	assert.Equal(t, 30*time.Second, cfg.PageTimeout)
	assert.Equal(t, 10*time.Second, cfg.ElementTimeout)
	assert.Equal(t, 300*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 120*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.MaxTransitions)
	assert.False(t, cfg.DryRun)
}

func TestLoadCancelTimeoutOverride(t *testing.T) {
	t.Setenv("SUBTERMINATOR_PAGE_TIMEOUT", "5000")

	cfg, err := LoadCancelFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PageTimeout)
}
