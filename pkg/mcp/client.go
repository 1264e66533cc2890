// Package mcp bridges the analyst to its database tool server: a stdio
// subprocess speaking the Model Context Protocol. Tool names are namespaced
// with a configurable prefix and filtered through a deny list before the LM
// ever sees them.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/subterminator/agents/pkg/errs"
)

const (
	// initTimeout bounds subprocess spawn plus the MCP handshake.
	initTimeout = 30 * time.Second

	// opTimeout bounds one ListTools or CallTool round trip.
	opTimeout = 30 * time.Second
)

// Options configures a ToolServer.
type Options struct {
	// Command and Args spawn the server subprocess (e.g. uvx mcp-server-sqlite).
	Command string
	Args    []string

	// Env entries are appended to the inherited environment.
	Env []string

	// NamePrefix namespaces exposed tool names (e.g. "mcp__sqlite__").
	// Calls without the prefix are rejected.
	NamePrefix string

	// DenyList rejects raw tool names regardless of prefix.
	DenyList []string
}

// ToolServer owns one MCP session over a stdio subprocess.
// Safe for concurrent use after Connect.
type ToolServer struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	session *mcpsdk.ClientSession

	// Tool cache, populated on first Tools call. A ToolServer lives for one
	// analyst session, so the cache is naturally fresh.
	toolsOnce sync.Once
	tools     []*mcpsdk.Tool
	toolsErr  error
}

// NewToolServer builds an unconnected server handle.
func NewToolServer(opts Options) *ToolServer {
	return &ToolServer{opts: opts, logger: slog.Default()}
}

// Connect spawns the subprocess and performs the MCP handshake.
// Failures are KindDatabaseUnavailable: the gateway cannot serve without
// its tools.
func (s *ToolServer) Connect(ctx context.Context) error {
	if s.opts.Command == "" {
		return errs.New(errs.KindConfiguration, "tool server command not configured")
	}

	cmd := exec.Command(s.opts.Command, s.opts.Args...)
	cmd.Env = append(os.Environ(), s.opts.Env...)
	transport := &mcpsdk.CommandTransport{Command: cmd}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "claude-da",
		Version: "dev",
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return errs.Wrap(errs.KindDatabaseUnavailable, err,
			"cannot start tool server %q", s.opts.Command)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	s.logger.Info("Tool server connected", "command", s.opts.Command)
	return nil
}

// InjectSession wires a pre-connected session, bypassing Connect. Used by
// tests with in-memory transports.
func (s *ToolServer) InjectSession(session *mcpsdk.ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

func (s *ToolServer) currentSession() (*mcpsdk.ClientSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, errs.New(errs.KindDatabaseUnavailable, "tool server not connected")
	}
	return s.session, nil
}

// Tools lists the exposed tools: deny-listed names are dropped and the rest
// are renamed with the configured prefix.
func (s *ToolServer) Tools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	s.toolsOnce.Do(func() {
		s.tools, s.toolsErr = s.listTools(ctx)
	})
	return s.tools, s.toolsErr
}

func (s *ToolServer) listTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	session, err := s.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseUnavailable, err, "tool listing failed")
	}

	out := make([]*mcpsdk.Tool, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if s.denied(tool.Name) {
			s.logger.Debug("Tool hidden by deny list", "tool", tool.Name)
			continue
		}
		exposed := *tool
		exposed.Name = s.opts.NamePrefix + tool.Name
		out = append(out, &exposed)
	}
	return out, nil
}

// Call executes a tool by its exposed (prefixed) name and flattens the text
// content of the result. isError reflects the tool's own error flag.
func (s *ToolServer) Call(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error) {
	raw, ok := strings.CutPrefix(name, s.opts.NamePrefix)
	if !ok {
		return "", false, errs.New(errs.KindInputValidation, "tool %q is not allowed", name)
	}
	if s.denied(raw) {
		return "", false, errs.New(errs.KindInputValidation, "tool %q is denied", name)
	}

	session, err := s.currentSession()
	if err != nil {
		return "", false, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: raw, Arguments: args})
	if err != nil {
		return "", false, errs.Wrap(errs.KindDatabaseUnavailable, err, "tool %q failed", name)
	}
	return flattenContent(result.Content), result.IsError, nil
}

func (s *ToolServer) denied(rawName string) bool {
	for _, d := range s.opts.DenyList {
		if strings.EqualFold(d, rawName) {
			return true
		}
	}
	return false
}

// Close tears down the session and, for spawned subprocesses, the child.
func (s *ToolServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

func flattenContent(content []mcpsdk.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			b.WriteString(v.Text)
		default:
			fmt.Fprintf(&b, "[unsupported content %T]", c)
		}
	}
	return b.String()
}
