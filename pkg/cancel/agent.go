package cancel

import (
	"context"
	"log/slog"
	"time"

	"github.com/subterminator/agents/pkg/browser"
	"github.com/subterminator/agents/pkg/errs"
)

const (
	// strategyTimeout bounds one targeting attempt inside Execute.
	defaultStrategyTimeout = 3 * time.Second

	// settleDelay lets the page react before the post-action screenshot.
	defaultSettleDelay = 1 * time.Second

	recentActionWindow = 5
)

// stateGoal is the instruction the agent pursues in a given state and the
// state the action is expected to reach.
type stateGoal struct {
	goal     string
	expected State
}

var stateGoals = map[State]stateGoal{
	StateAccountActive: {
		goal:     "Find and click the cancel membership link or button on the account page.",
		expected: StateRetentionOffer,
	},
	StateRetentionOffer: {
		goal:     "Decline the retention offer and continue with the cancellation.",
		expected: StateExitSurvey,
	},
	StateExitSurvey: {
		goal:     "Complete or skip the exit survey and continue to the final confirmation.",
		expected: StateFinalConfirmation,
	},
	StateFinalConfirmation: {
		goal:     "Click the button that finalizes the cancellation.",
		expected: StateComplete,
	},
	StateUnknown: {
		goal:     "Identify the current page and navigate toward the account or cancellation page.",
		expected: StateAccountActive,
	},
}

// validProgressions lists landing states accepted as progress even when they
// are not the expected one; services often skip the survey or the offer.
var validProgressions = map[State][]State{
	StateAccountActive:     {StateRetentionOffer, StateExitSurvey, StateFinalConfirmation},
	StateRetentionOffer:    {StateExitSurvey, StateFinalConfirmation},
	StateExitSurvey:        {StateFinalConfirmation},
	StateFinalConfirmation: {StateComplete},
}

// Agent runs the perceive, plan, execute, validate loop for one state. It
// keeps the append-only action and error history for the whole flow.
type Agent struct {
	driver    browser.Driver
	planner   Planner
	heuristic *Heuristic
	logger    *slog.Logger

	maxRetries      int
	strategyTimeout time.Duration
	settleDelay     time.Duration

	actions []ActionRecord
	errors  []ErrorRecord
}

// NewAgent wires an agent; maxRetries bounds attempts per state.
func NewAgent(driver browser.Driver, planner Planner, heuristic *Heuristic, maxRetries int) *Agent {
	if heuristic == nil {
		heuristic = NewHeuristic(nil)
	}
	return &Agent{
		driver:          driver,
		planner:         planner,
		heuristic:       heuristic,
		logger:          slog.Default(),
		maxRetries:      maxRetries,
		strategyTimeout: defaultStrategyTimeout,
		settleDelay:     defaultSettleDelay,
	}
}

// SetTimings overrides the execution timing knobs, mainly for tests.
func (a *Agent) SetTimings(strategy, settle time.Duration) {
	a.strategyTimeout = strategy
	a.settleDelay = settle
}

// History returns copies of the action and error records so far.
func (a *Agent) History() ([]ActionRecord, []ErrorRecord) {
	return append([]ActionRecord(nil), a.actions...), append([]ErrorRecord(nil), a.errors...)
}

// Perceive captures the full perception snapshot for the planner.
func (a *Agent) Perceive(ctx context.Context) (*AgentContext, error) {
	shot, err := a.driver.Screenshot(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "screenshot failed")
	}
	url, err := a.driver.URL(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "url read failed")
	}
	text, err := a.driver.VisibleText(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "visible text read failed")
	}
	if len(text) > visibleTextMaxForPrompt {
		text = text[:visibleTextMaxForPrompt]
	}

	axTree := "{}"
	if a.driver.Capabilities().Accessibility {
		if t, err := a.driver.AccessibilityTree(ctx); err == nil {
			axTree = t
		}
	}

	w, h, err := a.driver.Viewport(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "viewport read failed")
	}
	sx, sy, err := a.driver.ScrollPosition(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "scroll position read failed")
	}

	recent := a.actions
	if len(recent) > recentActionWindow {
		recent = recent[len(recent)-recentActionWindow:]
	}

	return &AgentContext{
		Screenshot:     shot,
		AXTree:         axTree,
		HTMLSnippet:    extractHTMLSnippet(ctx, a.driver),
		URL:            url,
		VisibleText:    text,
		ViewportWidth:  w,
		ViewportHeight: h,
		ScrollX:        sx,
		ScrollY:        sy,
		RecentActions:  append([]ActionRecord(nil), recent...),
		Errors:         append([]ErrorRecord(nil), a.errors...),
	}, nil
}

// Execute runs the plan, trying each targeting strategy in priority order
// with a per-strategy timeout. The first strategy that lands wins.
func (a *Agent) Execute(ctx context.Context, plan *ActionPlan) (*ExecutionResult, error) {
	start := time.Now()
	caps := a.driver.Capabilities()

	var lastErr error
	for _, target := range plan.Targets() {
		if !a.supported(target, caps) {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, a.strategyTimeout)
		err := a.apply(attemptCtx, plan, target)
		cancel()
		if err != nil {
			lastErr = err
			a.errors = append(a.errors, ErrorRecord{
				Kind:      errs.KindOf(err),
				Message:   err.Error(),
				Strategy:  target.Describe(),
				Timestamp: time.Now(),
			})
			a.logger.Debug("Strategy failed", "strategy", target.Describe(), "error", err)
			continue
		}

		a.actions = append(a.actions, ActionRecord{
			ActionType: plan.ActionType,
			Target:     target.Describe(),
			Success:    true,
			Timestamp:  time.Now(),
		})

		a.settle(ctx)
		post, shotErr := a.driver.Screenshot(ctx)
		if shotErr != nil {
			a.logger.Warn("Post-action screenshot failed", "error", shotErr)
		}
		return &ExecutionResult{
			Success:        true,
			Plan:           plan,
			StrategyUsed:   target.Describe(),
			PostScreenshot: post,
			ElapsedMs:      time.Since(start).Milliseconds(),
		}, nil
	}

	a.actions = append(a.actions, ActionRecord{
		ActionType: plan.ActionType,
		Target:     plan.PrimaryTarget.Describe(),
		Success:    false,
		Timestamp:  time.Now(),
	})
	if lastErr == nil {
		lastErr = errs.New(errs.KindElementNotFound, "no usable targeting strategy in plan")
	}
	a.errors = append(a.errors, ErrorRecord{
		Kind:      errs.KindOf(lastErr),
		Message:   lastErr.Error(),
		Strategy:  "all",
		Timestamp: time.Now(),
	})
	return &ExecutionResult{
		Success:   false,
		Plan:      plan,
		ElapsedMs: time.Since(start).Milliseconds(),
	}, lastErr
}

func (a *Agent) supported(t TargetStrategy, caps browser.Capabilities) bool {
	switch t.Method {
	case MethodARIA:
		return caps.ARIA
	case MethodCoordinates:
		return caps.Coordinates
	}
	return true
}

func (a *Agent) apply(ctx context.Context, plan *ActionPlan, target TargetStrategy) error {
	switch plan.ActionType {
	case ActionClick:
		return a.click(ctx, target)
	case ActionFill:
		if target.Method != MethodCSS {
			return errs.New(errs.KindInputValidation, "fill requires a css target, got %s", target.Method)
		}
		return a.driver.Fill(ctx, target.Selector, plan.Value)
	case ActionSelect:
		if target.Method != MethodCSS {
			return errs.New(errs.KindInputValidation, "select requires a css target, got %s", target.Method)
		}
		return a.driver.SelectOption(ctx, target.Selector, plan.Value)
	case ActionScroll:
		if !a.driver.Capabilities().Evaluate {
			return errs.New(errs.KindTransient, "driver cannot scroll")
		}
		_, err := a.driver.Evaluate(ctx, `() => window.scrollBy(0, Math.round(window.innerHeight * 0.8))`)
		return err
	case ActionWait:
		a.settle(ctx)
		return nil
	case ActionNavigate:
		if plan.Value == "" {
			return errs.New(errs.KindInputValidation, "navigate requires a url value")
		}
		return a.driver.Navigate(ctx, plan.Value)
	default:
		return errs.New(errs.KindInputValidation, "unknown action type %q", plan.ActionType)
	}
}

func (a *Agent) click(ctx context.Context, target TargetStrategy) error {
	switch target.Method {
	case MethodCSS:
		return a.driver.Click(ctx, target.Selector)
	case MethodARIA:
		return a.driver.ClickByRole(ctx, target.Role, target.Name)
	case MethodText:
		return a.driver.ClickByText(ctx, target.Text, false)
	case MethodCoordinates:
		return a.driver.ClickAtCoordinates(ctx, target.X, target.Y)
	default:
		return errs.New(errs.KindInputValidation, "unknown target method %q", target.Method)
	}
}

func (a *Agent) settle(ctx context.Context) {
	if a.settleDelay <= 0 {
		return
	}
	select {
	case <-time.After(a.settleDelay):
	case <-ctx.Done():
	}
}

// Validate re-reads the page after an action and checks the landing state.
// An exact expected-state match or any listed progression from the current
// state counts as success.
func (a *Agent) Validate(ctx context.Context, current State, plan *ActionPlan) (*ValidationResult, error) {
	url, err := a.driver.URL(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "url read failed")
	}
	text, err := a.driver.VisibleText(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "visible text read failed")
	}

	det := a.heuristic.Interpret(url, text)
	res := &ValidationResult{
		ExpectedState: plan.ExpectedState,
		ActualState:   det.State,
		Confidence:    det.Confidence,
		Reasoning:     det.Reason,
	}
	if det.State == plan.ExpectedState {
		res.Success = true
		return res, nil
	}
	for _, s := range validProgressions[current] {
		if det.State == s {
			res.Success = true
			return res, nil
		}
	}
	return res, nil
}

// HandleState runs the full loop for one state and returns the state the
// flow landed on. Failed attempts self-correct up to maxRetries times with
// power-of-two backoff between attempts. Exhausting the retries is not a
// hard failure: the flow lands on UNKNOWN so the recovery path gets a shot.
func (a *Agent) HandleState(ctx context.Context, current State) (State, error) {
	sg, ok := stateGoals[current]
	if !ok {
		return current, errs.New(errs.KindStateMachine, "no goal defined for state %s", current)
	}

	var lastVal *ValidationResult
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<uint(attempt-2)) * a.settleDelay
			a.logger.Info("Retrying state", "state", current, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return current, errs.Wrap(errs.KindAgentTimeout, ctx.Err(), "state %s aborted", current)
			}
		}

		actx, err := a.Perceive(ctx)
		if err != nil {
			return current, err
		}

		var plan *ActionPlan
		if attempt == 1 {
			plan, err = a.planner.Plan(ctx, actx, sg.goal)
		} else {
			plan, err = a.planner.SelfCorrect(ctx, actx, sg.goal, lastVal, attempt)
		}
		if err != nil {
			return current, err
		}
		if plan.ExpectedState == "" {
			plan.ExpectedState = sg.expected
		}

		a.logger.Info("Executing plan", "state", current,
			"action", plan.ActionType, "target", plan.PrimaryTarget.Describe(),
			"confidence", plan.Confidence)

		if _, err := a.Execute(ctx, plan); err != nil {
			lastVal = nil
			continue
		}

		val, err := a.Validate(ctx, current, plan)
		if err != nil {
			return current, err
		}
		if val.Success {
			return val.ActualState, nil
		}

		lastVal = val
		a.errors = append(a.errors, ErrorRecord{
			Kind:      errs.KindStateDetection,
			Message:   "landed on " + string(val.ActualState) + ", expected " + string(val.ExpectedState),
			Strategy:  plan.PrimaryTarget.Describe(),
			Timestamp: time.Now(),
		})
	}

	a.logger.Warn("State not advanced, falling back to recovery",
		"state", current, "attempts", a.maxRetries)
	return StateUnknown, nil
}
