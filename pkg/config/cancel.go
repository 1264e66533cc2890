package config

import "time"

// CancelConfig is the SubTerminator engine configuration. Immutable after Load.
// The API key is optional: without it the engine runs heuristic-only with the
// hardcoded per-service handlers.
type CancelConfig struct {
	APIKey         string
	OutputDir      string
	PageTimeout    time.Duration
	ElementTimeout time.Duration

	// Human checkpoint timeouts.
	AuthTimeout    time.Duration
	ConfirmTimeout time.Duration

	// Agent retry and orchestrator transition caps.
	MaxRetries     int
	MaxTransitions int

	// DryRun short-circuits the final confirmation without clicking.
	DryRun bool
}

// LoadCancelFromEnv reads the SUBTERMINATOR_* environment keys.
func LoadCancelFromEnv() (*CancelConfig, error) {
	pageMs, err := intEnv("SUBTERMINATOR_PAGE_TIMEOUT", 30000)
	if err != nil {
		return nil, err
	}
	elemMs, err := intEnv("SUBTERMINATOR_ELEMENT_TIMEOUT", 10000)
	if err != nil {
		return nil, err
	}

	return &CancelConfig{
		APIKey:         getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		OutputDir:      getEnvOrDefault("SUBTERMINATOR_OUTPUT", "./output"),
		PageTimeout:    time.Duration(pageMs) * time.Millisecond,
		ElementTimeout: time.Duration(elemMs) * time.Millisecond,
		AuthTimeout:    300 * time.Second,
		ConfirmTimeout: 120 * time.Second,
		MaxRetries:     3,
		MaxTransitions: 10,
	}, nil
}
