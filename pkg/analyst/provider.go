package analyst

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subterminator/agents/pkg/audit"
	"github.com/subterminator/agents/pkg/config"
	"github.com/subterminator/agents/pkg/errs"
	"github.com/subterminator/agents/pkg/llm"
	"github.com/subterminator/agents/pkg/mcp"
)

// toolSession is one connected tool server. *mcp.ToolServer satisfies it.
type toolSession interface {
	ToolCaller
	Connect(ctx context.Context) error
	Close() error
}

// Provider serves analyst requests for the gateway. Initialization (schema
// discovery, prompt build) runs once on first use; the outcome, success or
// failure, is cached for the process lifetime.
type Provider struct {
	cfg    *config.AnalystConfig
	audit  *audit.Logger
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	initErr     error
	lm          Streamer
	system      string

	// newTools builds the per-request tool server. Overridable in tests.
	newTools func() toolSession

	// discover runs schema discovery. Overridable in tests.
	discover func(ctx context.Context, dbPath string) (string, error)
}

// NewProvider wires a provider; nothing is opened until the first request.
func NewProvider(cfg *config.AnalystConfig, auditLog *audit.Logger) *Provider {
	p := &Provider{
		cfg:    cfg,
		audit:  auditLog,
		logger: slog.Default(),
	}
	p.newTools = func() toolSession {
		return mcp.NewToolServer(mcp.Options{
			Command:    cfg.ToolServerCommand,
			Args:       append(append([]string(nil), cfg.ToolServerArgs...), cfg.DBPath),
			NamePrefix: cfg.ToolPrefix,
			DenyList:   []string{"Bash", "Write", "Edit"},
		})
	}
	p.discover = DiscoverSchema
	return p
}

// init discovers the schema and builds the LM client, exactly once.
// A failed init stays failed: the database is not going to fix itself and
// re-probing on every request would hide a deployment problem.
func (p *Provider) init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return p.initErr
	}
	p.initialized = true

	schema, err := p.discover(ctx, p.cfg.DBPath)
	if err != nil {
		p.initErr = err
		p.logger.Error("Analyst initialization failed", "error", err)
		return err
	}
	p.system = BuildSystemPrompt(schema, p.cfg.ToolPrefix)

	if p.lm == nil {
		p.lm = llm.NewClient(llm.Config{
			APIKey: p.cfg.APIKey,
			Model:  p.cfg.Model,
		})
	}

	p.logger.Info("Analyst initialized",
		"db_path", p.cfg.DBPath, "model", p.cfg.Model,
		"schema_chars", len(schema))
	return nil
}

// Answer runs one analyst session for a question. onText, when non-nil,
// receives streamed assistant text. The audit entry is written asynchronously
// once a session has started, with whatever accumulated when the run was cut
// short; audit failures never affect the response.
func (p *Provider) Answer(ctx context.Context, question string, onText func(string)) (*Result, error) {
	if len(question) > p.cfg.InputMaxChars {
		return nil, errs.New(errs.KindInputValidation,
			"input is %d chars, limit is %d", len(question), p.cfg.InputMaxChars)
	}
	if err := p.init(ctx); err != nil {
		return nil, err
	}

	tools := p.newTools()
	if err := tools.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := tools.Close(); err != nil {
			p.logger.Warn("Tool server close failed", "error", err)
		}
	}()

	session := NewSession(p.lm, tools, p.system, SessionConfig{
		MaxTurns:     p.cfg.MaxTurns,
		MaxBudgetUSD: p.cfg.MaxBudgetUSD,
		Deadline:     p.cfg.SessionDeadline,
		ToolPrefix:   p.cfg.ToolPrefix,
	})

	start := time.Now()
	res, err := session.Run(ctx, question, onText)
	if err != nil {
		if res != nil {
			p.writeAudit(question, res, time.Since(start), err)
		}
		return nil, err
	}

	p.writeAudit(question, res, time.Since(start), nil)
	return res, nil
}

// Model returns the served model id once initialized.
func (p *Provider) Model() string { return p.cfg.Model }

// InputMaxChars is the configured request-wide input length limit.
func (p *Provider) InputMaxChars() int { return p.cfg.InputMaxChars }

func (p *Provider) writeAudit(question string, res *Result, elapsed time.Duration, runErr error) {
	cost := res.CostUSD
	entry := audit.Entry{
		SessionID:          uuid.NewString(),
		UserQuestion:       question,
		SQLQueriesExecuted: res.SQLQueries,
		FinalResponse:      res.Text,
		Metadata: audit.Metadata{
			Model:            p.cfg.Model,
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			CostEstimateUSD:  &cost,
			DurationSeconds:  elapsed.Seconds(),
			ToolCallCount:    len(res.ResultSummaries),
		},
	}
	if p.cfg.LogVerbose {
		entry.QueryResultsSummary = res.ResultSummaries
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	p.audit.WriteAsync(entry)
}
