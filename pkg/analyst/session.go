package analyst

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/subterminator/agents/pkg/errs"
	"github.com/subterminator/agents/pkg/llm"
)

// Claude Sonnet list pricing, USD per million tokens. The budget check is an
// estimate, not billing.
const (
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0

	resultSummaryMax = 200
)

// Streamer is the LM surface the session needs. *llm.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)
	Model() string
}

// ToolCaller is the tool-server surface the session needs.
// *mcp.ToolServer satisfies it.
type ToolCaller interface {
	Tools(ctx context.Context) ([]*mcpsdk.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error)
}

// SessionConfig bounds one analyst run.
type SessionConfig struct {
	MaxTurns     int
	MaxBudgetUSD float64
	Deadline     time.Duration
	ToolPrefix   string
}

// Result is the outcome of one session, including the audit side channel.
type Result struct {
	Text            string
	SQLQueries      []string
	ResultSummaries []string
	Usage           llm.Usage
	CostUSD         float64
	Turns           int
	StopReason      string
}

// Session runs the agentic loop for one user question: stream from the LM,
// execute requested tools, feed results back, repeat until the model stops
// or a bound trips.
type Session struct {
	lm     Streamer
	tools  ToolCaller
	system string
	cfg    SessionConfig
	logger *slog.Logger
}

// NewSession wires a session around a prebuilt system prompt.
func NewSession(lm Streamer, tools ToolCaller, systemPrompt string, cfg SessionConfig) *Session {
	return &Session{
		lm:     lm,
		tools:  tools,
		system: systemPrompt,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Run answers one question. onText, when non-nil, receives assistant text
// deltas as they stream. The returned Result is valid even when the loop was
// cut short by a bound; hard failures return whatever accumulated alongside
// the error.
func (s *Session) Run(ctx context.Context, question string, onText func(string)) (*Result, error) {
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	lmTools, err := s.describeTools(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	messages := []llm.Message{llm.UserMessage(llm.TextBlock(question))}

	for res.Turns < s.cfg.MaxTurns {
		res.Turns++

		chunks, err := s.lm.Stream(ctx, llm.Request{
			System:   s.system,
			Messages: messages,
			Tools:    lmTools,
		})
		if err != nil {
			return res, s.classify(ctx, err)
		}

		var (
			turnText  strings.Builder
			toolUses  []llm.ToolUseChunk
			streamErr error
		)
		for chunk := range chunks {
			switch c := chunk.(type) {
			case llm.TextChunk:
				turnText.WriteString(c.Text)
				if onText != nil {
					onText(c.Text)
				}
			case llm.ToolUseChunk:
				toolUses = append(toolUses, c)
			case llm.UsageChunk:
				res.Usage.InputTokens += c.Usage.InputTokens
				res.Usage.OutputTokens += c.Usage.OutputTokens
				res.StopReason = c.StopReason
			case llm.ErrorChunk:
				streamErr = s.classify(ctx, c.Err)
			}
		}

		// Whatever this turn accumulated stays on the result so an aborted
		// run still leaves a faithful audit trail.
		res.Text += turnText.String()
		res.CostUSD = estimateCost(res.Usage)

		if streamErr != nil {
			return res, streamErr
		}
		if err := ctx.Err(); err != nil {
			return res, errs.Wrap(errs.KindAgentTimeout, err, "session deadline exceeded")
		}

		if len(toolUses) == 0 {
			return res, nil
		}
		if res.CostUSD > s.cfg.MaxBudgetUSD {
			s.logger.Warn("Session budget exceeded, stopping",
				"cost_usd", res.CostUSD, "budget_usd", s.cfg.MaxBudgetUSD)
			res.StopReason = "budget_exceeded"
			return res, nil
		}

		messages = append(messages, assistantTurn(turnText.String(), toolUses))
		messages = append(messages, s.runTools(ctx, toolUses, res))
	}

	s.logger.Warn("Session turn cap reached", "turns", res.Turns)
	res.StopReason = "max_turns"
	return res, nil
}

// describeTools converts the tool server's listing to the LM wire shape.
func (s *Session) describeTools(ctx context.Context) ([]llm.Tool, error) {
	tools, err := s.tools.Tools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "tool %s has an unmarshalable schema", t.Name)
		}
		out = append(out, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

// runTools executes every requested tool and returns the tool_result turn.
// Tool failures are reported back to the model rather than aborting the
// session; the model can rephrase the query.
func (s *Session) runTools(ctx context.Context, toolUses []llm.ToolUseChunk, res *Result) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(toolUses))
	for _, tu := range toolUses {
		var args map[string]any
		if err := json.Unmarshal(tu.Input, &args); err != nil {
			blocks = append(blocks, llm.ToolResultBlock(tu.ID, "malformed tool input: "+err.Error(), true))
			continue
		}

		if q, ok := args["query"].(string); ok && strings.HasPrefix(tu.Name, s.cfg.ToolPrefix) {
			res.SQLQueries = append(res.SQLQueries, q)
		}

		text, isErr, err := s.tools.Call(ctx, tu.Name, args)
		if err != nil {
			s.logger.Warn("Tool call failed", "tool", tu.Name, "error", err)
			blocks = append(blocks, llm.ToolResultBlock(tu.ID, "tool failed: "+err.Error(), true))
			res.ResultSummaries = append(res.ResultSummaries, "error: "+truncate(err.Error(), resultSummaryMax))
			continue
		}
		blocks = append(blocks, llm.ToolResultBlock(tu.ID, text, isErr))
		res.ResultSummaries = append(res.ResultSummaries, truncate(text, resultSummaryMax))
	}
	return llm.UserMessage(blocks...)
}

func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindAgentTimeout, err, "session deadline exceeded")
	}
	if errs.KindOf(err) != errs.KindInternal {
		return err
	}
	return errs.Wrap(errs.KindInternal, err, "LM stream failed")
}

func assistantTurn(text string, toolUses []llm.ToolUseChunk) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(toolUses)+1)
	if text != "" {
		blocks = append(blocks, llm.TextBlock(text))
	}
	for _, tu := range toolUses {
		blocks = append(blocks, llm.ContentBlock{
			Type:  llm.BlockToolUse,
			ID:    tu.ID,
			Name:  tu.Name,
			Input: tu.Input,
		})
	}
	return llm.AssistantMessage(blocks...)
}

func estimateCost(u llm.Usage) float64 {
	return float64(u.InputTokens)*inputCostPerMTok/1e6 +
		float64(u.OutputTokens)*outputCostPerMTok/1e6
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
