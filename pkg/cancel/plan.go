package cancel

import (
	"fmt"
	"strings"
	"time"

	"github.com/subterminator/agents/pkg/errs"
)

// TargetMethod discriminates TargetStrategy payloads.
type TargetMethod string

const (
	MethodCSS         TargetMethod = "css"
	MethodARIA        TargetMethod = "aria"
	MethodText        TargetMethod = "text"
	MethodCoordinates TargetMethod = "coordinates"
)

// TargetStrategy is one way to locate a page element. Immutable after
// construction; the payload is validated against the method discriminant.
type TargetStrategy struct {
	Method TargetMethod

	// MethodCSS
	Selector string

	// MethodARIA (Name optional)
	Role string
	Name string

	// MethodText
	Text string

	// MethodCoordinates
	X float64
	Y float64
}

// CSSTarget builds a css strategy.
func CSSTarget(selector string) (TargetStrategy, error) {
	if selector == "" {
		return TargetStrategy{}, errs.New(errs.KindInputValidation, "css strategy requires a selector")
	}
	return TargetStrategy{Method: MethodCSS, Selector: selector}, nil
}

// ARIATarget builds an aria strategy; name may be empty.
func ARIATarget(role, name string) (TargetStrategy, error) {
	if role == "" {
		return TargetStrategy{}, errs.New(errs.KindInputValidation, "aria strategy requires a role")
	}
	return TargetStrategy{Method: MethodARIA, Role: role, Name: name}, nil
}

// TextTarget builds a text strategy.
func TextTarget(text string) (TargetStrategy, error) {
	if text == "" {
		return TargetStrategy{}, errs.New(errs.KindInputValidation, "text strategy requires text")
	}
	return TargetStrategy{Method: MethodText, Text: text}, nil
}

// CoordinatesTarget builds a coordinates strategy.
func CoordinatesTarget(x, y float64) (TargetStrategy, error) {
	if x < 0 || y < 0 {
		return TargetStrategy{}, errs.New(errs.KindInputValidation,
			"coordinates must be non-negative, got (%g, %g)", x, y)
	}
	return TargetStrategy{Method: MethodCoordinates, X: x, Y: y}, nil
}

// Describe renders a stable human-readable identifier for logs.
// Deterministic for equal inputs.
func (t TargetStrategy) Describe() string {
	switch t.Method {
	case MethodCSS:
		return fmt.Sprintf("css(%s)", t.Selector)
	case MethodARIA:
		if t.Name != "" {
			return fmt.Sprintf("aria(%s, %q)", t.Role, t.Name)
		}
		return fmt.Sprintf("aria(%s)", t.Role)
	case MethodText:
		return fmt.Sprintf("text(%q)", t.Text)
	case MethodCoordinates:
		return fmt.Sprintf("coordinates(%g, %g)", t.X, t.Y)
	default:
		return "unknown"
	}
}

// ActionType is the operation an ActionPlan performs.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionSelect   ActionType = "select"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionNavigate ActionType = "navigate"
)

// IsValid reports membership in the closed action set.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionClick, ActionFill, ActionSelect, ActionScroll, ActionWait, ActionNavigate:
		return true
	}
	return false
}

// maxFallbackTargets bounds the fallback list (total strategies ≤ 4).
const maxFallbackTargets = 3

// ActionPlan is the planner's structured output: what to do next, up to four
// ways to target it, and the state the action should lead to.
type ActionPlan struct {
	PrimaryTarget   TargetStrategy
	FallbackTargets []TargetStrategy
	ActionType      ActionType
	Value           string
	Reasoning       string
	Confidence      float64
	ExpectedState   State
}

// NewActionPlan validates the plan invariants at construction.
func NewActionPlan(primary TargetStrategy, fallbacks []TargetStrategy, action ActionType,
	value, reasoning string, confidence float64, expected State) (*ActionPlan, error) {

	if !action.IsValid() {
		return nil, errs.New(errs.KindInputValidation, "invalid action type %q", action)
	}
	if len(fallbacks) > maxFallbackTargets {
		return nil, errs.New(errs.KindInputValidation,
			"at most %d fallback targets allowed, got %d", maxFallbackTargets, len(fallbacks))
	}
	if confidence < 0 || confidence > 1 {
		return nil, errs.New(errs.KindInputValidation,
			"confidence must be in [0,1], got %g", confidence)
	}
	if (action == ActionFill || action == ActionSelect) && value == "" {
		return nil, errs.New(errs.KindInputValidation, "%s action requires a value", action)
	}
	if expected != "" && !expected.IsValid() {
		return nil, errs.New(errs.KindInputValidation, "invalid expected state %q", expected)
	}

	return &ActionPlan{
		PrimaryTarget:   primary,
		FallbackTargets: append([]TargetStrategy(nil), fallbacks...),
		ActionType:      action,
		Value:           value,
		Reasoning:       reasoning,
		Confidence:      confidence,
		ExpectedState:   expected,
	}, nil
}

// Targets returns primary plus fallbacks in priority order.
func (p *ActionPlan) Targets() []TargetStrategy {
	out := make([]TargetStrategy, 0, 1+len(p.FallbackTargets))
	out = append(out, p.PrimaryTarget)
	out = append(out, p.FallbackTargets...)
	return out
}

// ActionRecord is one append-only history row for an executed action.
type ActionRecord struct {
	ActionType ActionType
	Target     string
	Success    bool
	Timestamp  time.Time
}

// ErrorRecord is one append-only history row for a failed attempt.
type ErrorRecord struct {
	Kind      errs.Kind
	Message   string
	Strategy  string
	Timestamp time.Time
}

// AgentContext is the perception snapshot handed to the planner.
type AgentContext struct {
	Screenshot     []byte // PNG
	AXTree         string // pruned JSON, "{}" when unavailable
	HTMLSnippet    string // interactive elements, ≤5000 chars
	URL            string
	VisibleText    string
	ViewportWidth  int
	ViewportHeight int
	ScrollX        int
	ScrollY        int
	RecentActions  []ActionRecord // last 5
	Errors         []ErrorRecord  // all for the current flow
}

// ToPromptText renders the non-image context for the planner's text block.
func (c *AgentContext) ToPromptText(goal string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", c.URL)
	fmt.Fprintf(&b, "Viewport: %dx%d, scroll: (%d, %d)\n\n", c.ViewportWidth, c.ViewportHeight, c.ScrollX, c.ScrollY)

	fmt.Fprintf(&b, "Accessibility tree (pruned):\n%s\n\n", c.AXTree)
	fmt.Fprintf(&b, "Interactive elements in viewport:\n%s\n\n", c.HTMLSnippet)

	if len(c.RecentActions) > 0 {
		b.WriteString("Previous actions:\n")
		for _, a := range c.RecentActions {
			fmt.Fprintf(&b, "- %s %s success=%v\n", a.ActionType, a.Target, a.Success)
		}
		b.WriteString("\n")
	}
	if len(c.Errors) > 0 {
		b.WriteString("Errors so far:\n")
		for _, e := range c.Errors {
			fmt.Fprintf(&b, "- [%s] %s (strategy: %s)\n", e.Kind, e.Message, e.Strategy)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Goal: %s\n", goal)
	return b.String()
}

// ExecutionResult is the outcome of running one plan against the browser.
type ExecutionResult struct {
	Success        bool
	Plan           *ActionPlan
	StrategyUsed   string
	PostScreenshot []byte
	ElapsedMs      int64
}

// ValidationResult is the heuristic's verdict after an action.
type ValidationResult struct {
	Success       bool
	ExpectedState State
	ActualState   State
	Confidence    float64
	Reasoning     string
}
