package cancel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/subterminator/agents/pkg/errs"
	"github.com/subterminator/agents/pkg/llm"
)

// Planner turns an AgentContext and a goal into an ActionPlan.
type Planner interface {
	Plan(ctx context.Context, actx *AgentContext, goal string) (*ActionPlan, error)

	// SelfCorrect re-plans after a failed attempt. The prompt carries the
	// failure and a directive to use a different targeting method.
	SelfCorrect(ctx context.Context, actx *AgentContext, goal string, last *ValidationResult, attempt int) (*ActionPlan, error)
}

const (
	// confidenceFloor gates plans; below it the planner retries exactly once.
	confidenceFloor = 0.6

	// planCallTimeout bounds one LM call; a plan makes at most two.
	planCallTimeout = 30 * time.Second
)

const plannerSystemPrompt = `You are a browser automation agent cancelling a subscription on behalf of the account owner.

You observe a screenshot, a pruned accessibility tree, and the interactive HTML elements currently in the viewport. Respond with exactly one browser_action tool call.

Element identification priority: css selector > aria role > visible text > coordinates. Always provide at least 2 targeting methods. Your confidence must honestly reflect certainty; it is acceptable to report state "UNKNOWN" when the page is unclear. fill and select actions require a value.`

const selfCorrectDirective = `The previous attempt in this state failed. Failed strategy: %s. Error: %s. This is attempt %d. Your next plan MUST use a different targeting method than any prior attempt in this state.`

const lowConfidenceDirective = `Your previous response had low confidence. Analyse the page more carefully and respond again, or explain in the reasoning why the action is impossible.`

// browserActionSchema is the structured-output contract for the planner.
var browserActionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"state": {"type": "string", "enum": ["START", "LOGIN_REQUIRED", "ACCOUNT_ACTIVE", "ACCOUNT_CANCELLED", "THIRD_PARTY_BILLING", "RETENTION_OFFER", "EXIT_SURVEY", "FINAL_CONFIRMATION", "COMPLETE", "ABORTED", "FAILED", "UNKNOWN"]},
		"expected_next_state": {"type": "string", "enum": ["LOGIN_REQUIRED", "ACCOUNT_ACTIVE", "ACCOUNT_CANCELLED", "THIRD_PARTY_BILLING", "RETENTION_OFFER", "EXIT_SURVEY", "FINAL_CONFIRMATION", "COMPLETE", "UNKNOWN"]},
		"action_type": {"type": "string", "enum": ["click", "fill", "select", "scroll", "wait", "navigate"]},
		"targets": {
			"type": "array",
			"minItems": 1,
			"maxItems": 4,
			"items": {
				"type": "object",
				"properties": {
					"method": {"type": "string", "enum": ["css", "aria", "text", "coordinates"]},
					"selector": {"type": "string"},
					"role": {"type": "string"},
					"name": {"type": "string"},
					"text": {"type": "string"},
					"x": {"type": "number"},
					"y": {"type": "number"}
				},
				"required": ["method"]
			}
		},
		"value": {"type": "string"},
		"reasoning": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["action_type", "targets", "confidence"]
}`)

// ClaudePlanner plans actions with a vision-capable Claude model.
type ClaudePlanner struct {
	client *llm.Client
	logger *slog.Logger
}

// NewClaudePlanner wraps an LM client.
func NewClaudePlanner(client *llm.Client) *ClaudePlanner {
	return &ClaudePlanner{client: client, logger: slog.Default()}
}

// Plan performs the planning call with the confidence gate: one retry is
// issued for a sub-0.6 plan, then a StateDetectionError.
func (p *ClaudePlanner) Plan(ctx context.Context, actx *AgentContext, goal string) (*ActionPlan, error) {
	return p.plan(ctx, actx, goal, "")
}

// SelfCorrect re-plans with the failure appended to the context.
func (p *ClaudePlanner) SelfCorrect(ctx context.Context, actx *AgentContext, goal string, last *ValidationResult, attempt int) (*ActionPlan, error) {
	strategy := "unknown"
	errMsg := "validation failed"
	if len(actx.Errors) > 0 {
		lastErr := actx.Errors[len(actx.Errors)-1]
		strategy = lastErr.Strategy
		errMsg = lastErr.Message
	} else if last != nil {
		errMsg = fmt.Sprintf("expected %s but page is %s (%s)", last.ExpectedState, last.ActualState, last.Reasoning)
	}
	directive := fmt.Sprintf(selfCorrectDirective, strategy, errMsg, attempt)
	return p.plan(ctx, actx, goal, directive)
}

func (p *ClaudePlanner) plan(ctx context.Context, actx *AgentContext, goal, extraDirective string) (*ActionPlan, error) {
	plan, err := p.callOnce(ctx, actx, goal, extraDirective)
	if err != nil {
		return nil, err
	}
	if plan.Confidence >= confidenceFloor {
		return plan, nil
	}

	p.logger.Debug("Plan below confidence floor, retrying once",
		"confidence", plan.Confidence, "goal", goal)

	retryDirective := lowConfidenceDirective
	if extraDirective != "" {
		retryDirective = extraDirective + "\n\n" + lowConfidenceDirective
	}
	plan, err = p.callOnce(ctx, actx, goal, retryDirective)
	if err != nil {
		return nil, err
	}
	if plan.Confidence < confidenceFloor {
		return nil, errs.New(errs.KindStateDetection,
			"planner confidence %.2f below %.2f after retry", plan.Confidence, confidenceFloor)
	}
	return plan, nil
}

func (p *ClaudePlanner) callOnce(ctx context.Context, actx *AgentContext, goal, extraDirective string) (*ActionPlan, error) {
	callCtx, cancel := context.WithTimeout(ctx, planCallTimeout)
	defer cancel()

	text := actx.ToPromptText(goal)
	if extraDirective != "" {
		text += "\n" + extraDirective + "\n"
	}

	blocks := []llm.ContentBlock{
		llm.ImageBlock(base64.StdEncoding.EncodeToString(actx.Screenshot)),
		llm.TextBlock(text),
	}

	resp, err := p.client.Complete(callCtx, llm.Request{
		System:     plannerSystemPrompt,
		Messages:   []llm.Message{llm.UserMessage(blocks...)},
		Tools:      []llm.Tool{{Name: "browser_action", Description: "Plan the next browser action", InputSchema: browserActionSchema}},
		ToolChoice: &llm.ToolChoice{Type: "tool", Name: "browser_action"},
	})
	if err != nil {
		return nil, err
	}

	toolUse := resp.FirstToolUse()
	if toolUse == nil {
		return nil, errs.New(errs.KindStateDetection, "planner returned no browser_action call")
	}
	return planFromToolInput(toolUse.Input)
}

// toolTarget is the wire shape of one targets[] entry.
type toolTarget struct {
	Method   TargetMethod `json:"method"`
	Selector string       `json:"selector"`
	Role     string       `json:"role"`
	Name     string       `json:"name"`
	Text     string       `json:"text"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
}

// toolInput is the wire shape of the browser_action tool input.
type toolInput struct {
	State             State        `json:"state"`
	ExpectedNextState State        `json:"expected_next_state"`
	ActionType        ActionType   `json:"action_type"`
	Targets           []toolTarget `json:"targets"`
	Value             string       `json:"value"`
	Reasoning         string       `json:"reasoning"`
	Confidence        float64      `json:"confidence"`
}

// planFromToolInput validates the wire payload into an ActionPlan.
func planFromToolInput(input json.RawMessage) (*ActionPlan, error) {
	var in toolInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, errs.Wrap(errs.KindStateDetection, err, "malformed browser_action input")
	}
	if len(in.Targets) == 0 {
		return nil, errs.New(errs.KindStateDetection, "browser_action input has no targets")
	}
	if len(in.Targets) > 1+maxFallbackTargets {
		in.Targets = in.Targets[:1+maxFallbackTargets]
	}

	strategies := make([]TargetStrategy, 0, len(in.Targets))
	for _, t := range in.Targets {
		s, err := strategyFromWire(t)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}

	return NewActionPlan(strategies[0], strategies[1:], in.ActionType,
		in.Value, in.Reasoning, in.Confidence, in.ExpectedNextState)
}

func strategyFromWire(t toolTarget) (TargetStrategy, error) {
	switch t.Method {
	case MethodCSS:
		return CSSTarget(t.Selector)
	case MethodARIA:
		return ARIATarget(t.Role, t.Name)
	case MethodText:
		return TextTarget(t.Text)
	case MethodCoordinates:
		return CoordinatesTarget(t.X, t.Y)
	default:
		return TargetStrategy{}, errs.New(errs.KindStateDetection, "unknown target method %q", t.Method)
	}
}
