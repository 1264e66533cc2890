package analyst

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subterminator/agents/pkg/errs"
	"github.com/subterminator/agents/pkg/llm"
)

// fakeLM replays one scripted chunk sequence per Stream call.
type fakeLM struct {
	turns [][]llm.Chunk
	calls int

	// lastRequest captures the request of the most recent call.
	lastRequest llm.Request
}

func (f *fakeLM) Stream(_ context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	f.lastRequest = req
	if f.calls >= len(f.turns) {
		return nil, errs.New(errs.KindInternal, "no scripted turn %d", f.calls)
	}
	turn := f.turns[f.calls]
	f.calls++

	ch := make(chan llm.Chunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLM) Model() string { return "claude-test" }

// fakeTools records calls and returns canned text per tool name.
type fakeTools struct {
	results map[string]string
	calls   []string
}

func (f *fakeTools) Tools(context.Context) ([]*mcpsdk.Tool, error) {
	return []*mcpsdk.Tool{
		{Name: "mcp__sqlite__read_query", Description: "run a SELECT", InputSchema: &jsonschema.Schema{Type: "object"}},
	}, nil
}

func (f *fakeTools) Call(_ context.Context, name string, args map[string]any) (string, bool, error) {
	f.calls = append(f.calls, name)
	if text, ok := f.results[name]; ok {
		return text, false, nil
	}
	return "", true, errs.New(errs.KindDatabaseUnavailable, "no result for %s", name)
}

func toolUse(id, name, input string) llm.ToolUseChunk {
	return llm.ToolUseChunk{ID: id, Name: name, Input: json.RawMessage(input)}
}

func usage(in, out int, stop string) llm.UsageChunk {
	return llm.UsageChunk{Usage: llm.Usage{InputTokens: in, OutputTokens: out}, StopReason: stop}
}

func testSessionCfg() SessionConfig {
	return SessionConfig{
		MaxTurns:     10,
		MaxBudgetUSD: 0.50,
		ToolPrefix:   "mcp__sqlite__",
	}
}

func TestSessionSingleTurnAnswer(t *testing.T) {
	lm := &fakeLM{turns: [][]llm.Chunk{
		{llm.TextChunk{Text: "There are "}, llm.TextChunk{Text: "42 customers."}, usage(100, 20, "end_turn")},
	}}
	tools := &fakeTools{}
	s := NewSession(lm, tools, "system", testSessionCfg())

	var streamed string
	res, err := s.Run(context.Background(), "How many customers?", func(text string) {
		streamed += text
	})
	require.NoError(t, err)
	assert.Equal(t, "There are 42 customers.", res.Text)
	assert.Equal(t, "There are 42 customers.", streamed)
	assert.Equal(t, 1, res.Turns)
	assert.Empty(t, res.SQLQueries)
	assert.Empty(t, tools.calls)
	assert.Equal(t, "end_turn", res.StopReason)

	// The question and the discovered tools reached the model.
	require.Len(t, lm.lastRequest.Tools, 1)
	assert.Equal(t, "mcp__sqlite__read_query", lm.lastRequest.Tools[0].Name)
	assert.Equal(t, "system", lm.lastRequest.System)
}

func TestSessionToolLoopCapturesSQL(t *testing.T) {
	lm := &fakeLM{turns: [][]llm.Chunk{
		{
			toolUse("t1", "mcp__sqlite__read_query", `{"query":"SELECT tier, COUNT(*) FROM customers GROUP BY tier"}`),
			usage(200, 40, "tool_use"),
		},
		{llm.TextChunk{Text: "Most customers are on the free tier."}, usage(300, 30, "end_turn")},
	}}
	tools := &fakeTools{results: map[string]string{
		"mcp__sqlite__read_query": "tier|count\nfree|30\npro|12",
	}}
	s := NewSession(lm, tools, "system", testSessionCfg())

	res, err := s.Run(context.Background(), "Which tier is biggest?", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, []string{"SELECT tier, COUNT(*) FROM customers GROUP BY tier"}, res.SQLQueries)
	require.Len(t, res.ResultSummaries, 1)
	assert.Contains(t, res.ResultSummaries[0], "free|30")
	assert.Equal(t, "Most customers are on the free tier.", res.Text)

	// The second request carries the assistant tool_use turn and the result.
	msgs := lm.lastRequest.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, llm.BlockToolUse, msgs[1].Content[0].Type)
	assert.Equal(t, llm.BlockToolResult, msgs[2].Content[0].Type)
	assert.Equal(t, "t1", msgs[2].Content[0].ToolUseID)
}

func TestSessionToolFailureFedBack(t *testing.T) {
	lm := &fakeLM{turns: [][]llm.Chunk{
		{toolUse("t1", "mcp__sqlite__read_query", `{"query":"SELECT 1"}`), usage(100, 10, "tool_use")},
		{llm.TextChunk{Text: "The database is unavailable."}, usage(100, 10, "end_turn")},
	}}
	tools := &fakeTools{} // every call fails
	s := NewSession(lm, tools, "system", testSessionCfg())

	res, err := s.Run(context.Background(), "q", nil)
	require.NoError(t, err)

	msgs := lm.lastRequest.Messages
	result := msgs[2].Content[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "tool failed")
	assert.Contains(t, res.ResultSummaries[0], "error:")
}

func TestSessionTurnCap(t *testing.T) {
	// The model asks for a tool on every turn and never stops.
	loop := []llm.Chunk{
		toolUse("t", "mcp__sqlite__read_query", `{"query":"SELECT 1"}`),
		usage(10, 5, "tool_use"),
	}
	lm := &fakeLM{turns: [][]llm.Chunk{
		loop, loop, loop, loop, loop,
	}}
	tools := &fakeTools{results: map[string]string{"mcp__sqlite__read_query": "1"}}

	cfg := testSessionCfg()
	cfg.MaxTurns = 3
	s := NewSession(lm, tools, "system", cfg)

	res, err := s.Run(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, "max_turns", res.StopReason)
	assert.Len(t, tools.calls, 3)
}

func TestSessionBudgetCap(t *testing.T) {
	expensive := []llm.Chunk{
		toolUse("t", "mcp__sqlite__read_query", `{"query":"SELECT 1"}`),
		// 200k input tokens is $0.60 at list price, over the $0.50 budget.
		usage(200_000, 1000, "tool_use"),
	}
	lm := &fakeLM{turns: [][]llm.Chunk{expensive, expensive}}
	tools := &fakeTools{results: map[string]string{"mcp__sqlite__read_query": "1"}}
	s := NewSession(lm, tools, "system", testSessionCfg())

	res, err := s.Run(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "budget_exceeded", res.StopReason)
	assert.Equal(t, 1, res.Turns)
	assert.Greater(t, res.CostUSD, 0.50)
	// The pending tool call was never executed.
	assert.Empty(t, tools.calls)
}

func TestSessionDeadline(t *testing.T) {
	cfg := testSessionCfg()
	cfg.Deadline = time.Millisecond

	lm := &slowLM{delay: 50 * time.Millisecond}
	s := NewSession(lm, &fakeTools{}, "system", cfg)

	_, err := s.Run(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindAgentTimeout, errs.KindOf(err))
}

// slowLM blocks until the context dies, then fails like a cancelled request.
type slowLM struct{ delay time.Duration }

func (s *slowLM) Stream(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindAgentTimeout, ctx.Err(), "LM request deadline exceeded")
	case <-time.After(s.delay):
		return nil, errs.New(errs.KindTransient, "should have timed out first")
	}
}

func (s *slowLM) Model() string { return "claude-test" }

func TestSessionStreamError(t *testing.T) {
	lm := &fakeLM{turns: [][]llm.Chunk{
		{llm.TextChunk{Text: "partial"}, llm.ErrorChunk{Err: errs.New(errs.KindTransient, "stream interrupted")}},
	}}
	s := NewSession(lm, &fakeTools{}, "system", testSessionCfg())

	res, err := s.Run(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
	// Text streamed before the interruption is still on the result.
	require.NotNil(t, res)
	assert.Equal(t, "partial", res.Text)
}

func TestSessionStreamErrorKeepsEarlierQueries(t *testing.T) {
	lm := &fakeLM{turns: [][]llm.Chunk{
		{toolUse("t1", "mcp__sqlite__read_query", `{"query":"SELECT COUNT(*) FROM orders"}`), usage(100, 10, "tool_use")},
		{llm.TextChunk{Text: "Orders so far"}, llm.ErrorChunk{Err: errs.New(errs.KindTransient, "connection reset")}},
	}}
	tools := &fakeTools{results: map[string]string{"mcp__sqlite__read_query": "42"}}
	s := NewSession(lm, tools, "system", testSessionCfg())

	res, err := s.Run(context.Background(), "q", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"SELECT COUNT(*) FROM orders"}, res.SQLQueries)
	assert.Contains(t, res.Text, "Orders so far")
}
