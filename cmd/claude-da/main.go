// Claude-DA gateway — an OpenAI-compatible chat-completions server that
// answers data questions against a read-only SQLite database through an
// agentic tool loop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/subterminator/agents/pkg/analyst"
	"github.com/subterminator/agents/pkg/api"
	"github.com/subterminator/agents/pkg/audit"
	"github.com/subterminator/agents/pkg/config"
	"github.com/subterminator/agents/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	addr := flag.String("addr", ":"+getEnv("CLAUDE_DA_PORT", "8000"), "Listen address")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.LoadAnalystFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.LogVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	auditLog, err := audit.NewLogger(cfg.LogOutput, cfg.LogFile)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Error("Error closing audit log", "error", err)
		}
	}()

	provider := analyst.NewProvider(cfg, auditLog)
	server := api.NewServer(provider)

	slog.Info("Starting Claude-DA",
		"version", version.Full(),
		"addr", *addr,
		"db_path", cfg.DBPath,
		"model", cfg.Model,
		"max_turns", cfg.MaxTurns,
		"max_budget_usd", cfg.MaxBudgetUSD)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(*addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
