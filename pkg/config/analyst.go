// Package config loads the fixed set of environment keys for both cores,
// validates them at startup, and produces immutable configuration values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subterminator/agents/pkg/errs"
)

// LogOutput selects the audit sink.
type LogOutput string

const (
	LogOutputStdout LogOutput = "stdout"
	LogOutputFile   LogOutput = "file"
	LogOutputBoth   LogOutput = "both"
)

// IsValid reports whether the value is a member of the enum.
func (o LogOutput) IsValid() bool {
	switch o {
	case LogOutputStdout, LogOutputFile, LogOutputBoth:
		return true
	}
	return false
}

// AnalystConfig is the Claude-DA gateway configuration. Immutable after Load.
type AnalystConfig struct {
	APIKey        string
	DBPath        string
	Model         string
	MaxTurns      int
	MaxBudgetUSD  float64
	InputMaxChars int
	LogOutput     LogOutput
	LogFile       string
	LogVerbose    bool

	// ToolPrefix is the prefix of tool names the agent is allowed to call
	// (and the only names whose SQL is captured for audit).
	ToolPrefix string

	// ToolServerCommand/ToolServerArgs launch the stdio SQL tool server.
	// The database path is appended as the final argument.
	ToolServerCommand string
	ToolServerArgs    []string

	// SessionDeadline is the per-request wall-clock cap.
	SessionDeadline time.Duration
}

// LoadAnalystFromEnv reads the CLAUDE_DA_* environment keys.
// Returns a KindConfiguration error on any invalid value; a missing
// ANTHROPIC_API_KEY is fatal here because the gateway cannot degrade.
func LoadAnalystFromEnv() (*AnalystConfig, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errs.New(errs.KindConfiguration, "ANTHROPIC_API_KEY is required")
	}

	maxTurns, err := intEnv("CLAUDE_DA_MAX_TURNS", 10)
	if err != nil {
		return nil, err
	}
	budget, err := floatEnv("CLAUDE_DA_MAX_BUDGET_USD", 0.50)
	if err != nil {
		return nil, err
	}
	maxChars, err := intEnv("CLAUDE_DA_INPUT_MAX_CHARS", 10000)
	if err != nil {
		return nil, err
	}

	cfg := &AnalystConfig{
		APIKey:            apiKey,
		DBPath:            getEnvOrDefault("CLAUDE_DA_DB_PATH", "./demo.db"),
		Model:             getEnvOrDefault("CLAUDE_DA_MODEL", "claude-sonnet-4-5-20250929"),
		MaxTurns:          maxTurns,
		MaxBudgetUSD:      budget,
		InputMaxChars:     maxChars,
		LogOutput:         LogOutput(getEnvOrDefault("CLAUDE_DA_LOG_OUTPUT", "stdout")),
		LogFile:           getEnvOrDefault("CLAUDE_DA_LOG_FILE", "./claude-da-audit.jsonl"),
		LogVerbose:        boolEnv("CLAUDE_DA_LOG_VERBOSE"),
		ToolPrefix:        getEnvOrDefault("CLAUDE_DA_TOOL_PREFIX", "mcp__sqlite__"),
		ToolServerCommand: getEnvOrDefault("CLAUDE_DA_MCP_COMMAND", "uvx"),
		ToolServerArgs:    splitArgs(getEnvOrDefault("CLAUDE_DA_MCP_ARGS", "mcp-server-sqlite --db-path")),
		SessionDeadline:   240 * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AnalystConfig) validate() error {
	if !c.LogOutput.IsValid() {
		return errs.New(errs.KindConfiguration,
			"CLAUDE_DA_LOG_OUTPUT must be one of stdout|file|both, got %q", c.LogOutput)
	}
	if c.MaxTurns <= 0 {
		return errs.New(errs.KindConfiguration, "CLAUDE_DA_MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.MaxBudgetUSD <= 0 {
		return errs.New(errs.KindConfiguration, "CLAUDE_DA_MAX_BUDGET_USD must be positive, got %g", c.MaxBudgetUSD)
	}
	if c.InputMaxChars <= 0 {
		return errs.New(errs.KindConfiguration, "CLAUDE_DA_INPUT_MAX_CHARS must be positive, got %d", c.InputMaxChars)
	}
	if c.ToolPrefix == "" {
		return errs.New(errs.KindConfiguration, "CLAUDE_DA_TOOL_PREFIX must not be empty")
	}
	if c.ToolServerCommand == "" {
		return errs.New(errs.KindConfiguration, "CLAUDE_DA_MCP_COMMAND must not be empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Wrap(errs.KindConfiguration, err, "invalid %s", key)
	}
	return v, nil
}

func floatEnv(key string, defaultVal float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindConfiguration, err, "invalid %s", key)
	}
	return v, nil
}

func boolEnv(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1" || v == "yes"
}

func splitArgs(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
