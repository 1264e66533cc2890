// SubTerminator — drives a browser through a subscription-cancellation flow
// under a state machine, with an AI planner, heuristic fallbacks, and human
// confirmation before anything irreversible.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/subterminator/agents/pkg/browser"
	"github.com/subterminator/agents/pkg/cancel"
	"github.com/subterminator/agents/pkg/config"
	"github.com/subterminator/agents/pkg/llm"
	"github.com/subterminator/agents/pkg/version"
)

const plannerModel = "claude-sonnet-4-5-20250929"

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	target := flag.String("target", "live", "Browser target: live or mock")
	dryRun := flag.Bool("dry-run", false, "Walk the flow but stop before the final confirmation click")
	verbose := flag.Bool("verbose", false, "Debug logging")
	outputDir := flag.String("output-dir", "", "Evidence output directory (overrides SUBTERMINATOR_OUTPUT)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: subterminator [flags] <service>\navailable services: %s\n",
			strings.Join(cancel.ServiceNames(), ", "))
		os.Exit(3)
	}
	serviceName := flag.Arg(0)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", *envFile)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting SubTerminator",
		"version", version.Full(),
		"service", serviceName,
		"target", *target,
		"dry_run", *dryRun)

	cfg, err := config.LoadCancelFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(3)
	}
	cfg.DryRun = *dryRun
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	service, err := cancel.Lookup(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown service %q\navailable services: %s\n",
			serviceName, strings.Join(cancel.ServiceNames(), ", "))
		os.Exit(3)
	}

	driver, err := newDriver(*target, cfg, service)
	if err != nil {
		slog.Error("Failed to start browser", "target", *target, "error", err)
		os.Exit(3)
	}

	// Without an API key the planner fails closed and the engine falls back to
	// the per-service hardcoded handlers.
	if cfg.APIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY not set, running heuristic-only")
	}
	planner := cancel.NewClaudePlanner(llm.NewClient(llm.Config{
		APIKey: cfg.APIKey,
		Model:  plannerModel,
	}))

	engine, err := cancel.NewEngine(*cfg, driver, planner, service, cancel.StdioGate(os.Stdin, os.Stdout))
	if err != nil {
		slog.Error("Failed to create engine", "error", err)
		os.Exit(3)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	res, err := engine.Run(ctx)
	if err != nil {
		slog.Error("Run finished with error", "final_state", res.FinalState, "error", err)
	}
	fmt.Printf("final state: %s\nsession: %s\n", res.FinalState, res.SessionDir)
	if res.Advice != "" {
		fmt.Println(res.Advice)
		os.Exit(4)
	}

	switch res.FinalState {
	case cancel.StateComplete:
		os.Exit(0)
	case cancel.StateAborted:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}

func newDriver(target string, cfg *config.CancelConfig, service cancel.Service) (browser.Driver, error) {
	switch target {
	case "live":
		rodCfg := browser.DefaultRodConfig()
		rodCfg.PageTimeout = cfg.PageTimeout
		rodCfg.ElementTimeout = cfg.ElementTimeout
		return browser.NewRodDriver(rodCfg)
	case "mock":
		return mockSite(service.EntryURL()), nil
	default:
		return nil, fmt.Errorf("unknown target %q, expected live or mock", target)
	}
}
