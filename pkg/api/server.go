// Package api is the HTTP surface of the analyst gateway: an
// OpenAI-compatible chat-completions endpoint in front of the agentic
// analyst provider.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/subterminator/agents/pkg/analyst"
	"github.com/subterminator/agents/pkg/version"
)

// Provider runs one analyst session per question. *analyst.Provider
// satisfies it.
type Provider interface {
	Answer(ctx context.Context, question string, onText func(string)) (*analyst.Result, error)
	// InputMaxChars is the request-wide input length limit.
	InputMaxChars() int
}

// Server hosts the gateway endpoints.
type Server struct {
	echo     *echo.Echo
	provider Provider
	srv      *http.Server
	logger   *slog.Logger
}

// NewServer wires routes and middleware around a provider.
func NewServer(provider Provider) *Server {
	e := echo.New()
	e.Use(securityHeaders())

	s := &Server{
		echo:     e,
		provider: provider,
		logger:   slog.Default(),
	}

	e.GET("/health", s.healthHandler)
	e.GET("/v1/models", s.modelsHandler)
	e.POST("/v1/chat/completions", s.chatCompletionsHandler)
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Gateway listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"model":   ServedModel,
		"version": version.Full(),
	})
}

func (s *Server) modelsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": ServedModel, "object": "model", "owned_by": "claude-da"},
		},
	})
}
