package cancel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subterminator/agents/pkg/errs"
	"github.com/subterminator/agents/pkg/llm"
)

func TestPlanFromToolInput(t *testing.T) {
	input := json.RawMessage(`{
		"state": "ACCOUNT_ACTIVE",
		"expected_next_state": "RETENTION_OFFER",
		"action_type": "click",
		"targets": [
			{"method": "css", "selector": "a[data-uia='action-cancel-plan']"},
			{"method": "text", "text": "Cancel Membership"},
			{"method": "coordinates", "x": 640, "y": 420}
		],
		"reasoning": "cancel link visible",
		"confidence": 0.92
	}`)

	plan, err := planFromToolInput(input)
	require.NoError(t, err)
	assert.Equal(t, ActionClick, plan.ActionType)
	assert.Equal(t, MethodCSS, plan.PrimaryTarget.Method)
	assert.Len(t, plan.FallbackTargets, 2)
	assert.Equal(t, StateRetentionOffer, plan.ExpectedState)
	assert.InDelta(t, 0.92, plan.Confidence, 0.001)
}

func TestPlanFromToolInputRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no targets", `{"action_type": "click", "targets": [], "confidence": 0.9}`},
		{"unknown method", `{"action_type": "click", "targets": [{"method": "xpath"}], "confidence": 0.9}`},
		{"css without selector", `{"action_type": "click", "targets": [{"method": "css"}], "confidence": 0.9}`},
		{"fill without value", `{"action_type": "fill", "targets": [{"method": "css", "selector": "#q"}], "confidence": 0.9}`},
		{"not json", `click the button`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planFromToolInput(json.RawMessage(tt.input))
			require.Error(t, err)
		})
	}
}

func TestPlanFromToolInputTruncatesExtraTargets(t *testing.T) {
	input := json.RawMessage(`{
		"action_type": "click",
		"targets": [
			{"method": "css", "selector": "#a"},
			{"method": "css", "selector": "#b"},
			{"method": "css", "selector": "#c"},
			{"method": "css", "selector": "#d"},
			{"method": "css", "selector": "#e"},
			{"method": "css", "selector": "#f"}
		],
		"confidence": 0.8
	}`)

	plan, err := planFromToolInput(input)
	require.NoError(t, err)
	assert.Len(t, plan.FallbackTargets, maxFallbackTargets)
}

// planServer returns a Messages endpoint whose nth response carries the nth
// confidence value, cycling on the last.
func planServer(t *testing.T, calls *atomic.Int32, confidences ...float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(confidences) {
			n = len(confidences) - 1
		}
		input := fmt.Sprintf(`{"action_type":"click","expected_next_state":"RETENTION_OFFER","targets":[{"method":"css","selector":"#cancel"},{"method":"text","text":"Cancel"}],"confidence":%g}`, confidences[n])
		fmt.Fprintf(w, `{"content":[{"type":"tool_use","id":"t1","name":"browser_action","input":%s}],"stop_reason":"tool_use","usage":{"input_tokens":100,"output_tokens":50}}`, input)
	}))
}

func testAgentContext() *AgentContext {
	return &AgentContext{
		Screenshot:  []byte{0x89, 0x50},
		AXTree:      "{}",
		URL:         "https://example.com/account",
		VisibleText: "Cancel Membership",
	}
}

func TestPlannerConfidenceGateRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := planServer(t, &calls, 0.4, 0.9)
	defer srv.Close()

	p := NewClaudePlanner(llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL}))
	plan, err := p.Plan(context.Background(), testAgentContext(), "cancel the plan")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, plan.Confidence, 0.001)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPlannerConfidenceGateGivesUpAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := planServer(t, &calls, 0.3)
	defer srv.Close()

	p := NewClaudePlanner(llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL}))
	_, err := p.Plan(context.Background(), testAgentContext(), "cancel the plan")
	require.Error(t, err)
	assert.Equal(t, errs.KindStateDetection, errs.KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPlannerConfidenceFloorIsInclusive(t *testing.T) {
	var calls atomic.Int32
	srv := planServer(t, &calls, 0.6)
	defer srv.Close()

	p := NewClaudePlanner(llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL}))
	plan, err := p.Plan(context.Background(), testAgentContext(), "cancel the plan")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, plan.Confidence, 0.001)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPlannerJustBelowFloorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := planServer(t, &calls, 0.599, 0.9)
	defer srv.Close()

	p := NewClaudePlanner(llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL}))
	plan, err := p.Plan(context.Background(), testAgentContext(), "cancel the plan")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, plan.Confidence, 0.001)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPlannerConfidentPlanSingleCall(t *testing.T) {
	var calls atomic.Int32
	srv := planServer(t, &calls, 0.95)
	defer srv.Close()

	p := NewClaudePlanner(llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL}))
	plan, err := p.Plan(context.Background(), testAgentContext(), "cancel the plan")
	require.NoError(t, err)
	assert.Equal(t, StateRetentionOffer, plan.ExpectedState)
	assert.Equal(t, int32(1), calls.Load())
}
