package cancel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/subterminator/agents/pkg/browser"
	"github.com/subterminator/agents/pkg/config"
	"github.com/subterminator/agents/pkg/errs"
)

// Detection methods recorded on transitions.
const (
	methodHeuristic = "heuristic"
	methodAgent     = "agent"
	methodOperator  = "operator"
	methodPolicy    = "policy"
)

// Gate asks the human operator a yes/no question with a deadline. A false
// answer or an expired deadline aborts the flow.
type Gate func(ctx context.Context, prompt string, timeout time.Duration) (bool, error)

// StdioGate reads confirmations from in, writing prompts to out. The read
// runs in a goroutine so the timeout fires even with no input pending.
func StdioGate(in io.Reader, out io.Writer) Gate {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, prompt string, timeout time.Duration) (bool, error) {
		fmt.Fprintf(out, "\n%s\nType 'yes' to continue (timeout %s): ", prompt, timeout)

		type answer struct {
			text string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{text: strings.TrimSpace(line), err: err}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case a := <-ch:
			if a.err != nil {
				return false, a.err
			}
			return strings.EqualFold(a.text, "yes") || strings.EqualFold(a.text, "y"), nil
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// ApproveGate answers yes to every checkpoint. Test and mock-target use only.
func ApproveGate(context.Context, string, time.Duration) (bool, error) { return true, nil }

// RunResult is the outcome of one cancellation flow.
type RunResult struct {
	FinalState  State
	SessionDir  string
	Transitions int
	Advice      string // set for third-party billing
}

// Engine drives the state machine for one service: detect, delegate to the
// agent, gate irreversible steps on the human operator, and record evidence.
type Engine struct {
	cfg       config.CancelConfig
	driver    browser.Driver
	agent     *Agent
	service   Service
	heuristic *Heuristic
	recorder  *SessionRecorder
	gate      Gate
	logger    *slog.Logger
}

// NewEngine wires an engine. The recorder is created under cfg.OutputDir.
func NewEngine(cfg config.CancelConfig, driver browser.Driver, planner Planner, service Service, gate Gate) (*Engine, error) {
	recorder, err := NewSessionRecorder(cfg.OutputDir, service.Name(), cfg.DryRun)
	if err != nil {
		return nil, err
	}
	heuristic := NewHeuristic(service.Rules())
	agent := NewAgent(driver, planner, heuristic, cfg.MaxRetries)
	return &Engine{
		cfg:       cfg,
		driver:    driver,
		agent:     agent,
		service:   service,
		heuristic: heuristic,
		recorder:  recorder,
		gate:      gate,
		logger:    slog.Default().With("service", service.Name(), "session_id", recorder.SessionID()),
	}, nil
}

// Agent exposes the engine's agent, mainly so callers can tune timings.
func (e *Engine) Agent() *Agent { return e.agent }

// Run executes the flow to a terminal state. The browser is closed and the
// session log finalized on every exit path.
func (e *Engine) Run(ctx context.Context) (res RunResult, err error) {
	current := StateStart
	res.SessionDir = e.recorder.Dir()

	defer func() {
		actions, failures := e.agent.History()
		if ferr := e.recorder.Finalize(current, actions, failures, err); ferr != nil {
			e.logger.Error("Failed to write session log", "error", ferr)
		}
		if cerr := e.driver.Close(); cerr != nil {
			e.logger.Warn("Browser close failed", "error", cerr)
		}
		res.FinalState = current
	}()

	e.logger.Info("Starting cancellation flow",
		"entry_url", e.service.EntryURL(), "dry_run", e.cfg.DryRun)

	if err = e.driver.Navigate(ctx, e.service.EntryURL()); err != nil {
		err = errs.Wrap(errs.KindTransient, err, "cannot reach %s", e.service.EntryURL())
		current = e.forceTransition(current, StateFailed, "entry navigation failed")
		return res, err
	}

	for !current.IsTerminal() {
		if res.Transitions >= e.cfg.MaxTransitions {
			err = errs.New(errs.KindStateMachine,
				"transition cap of %d reached in state %s", e.cfg.MaxTransitions, current)
			current = e.forceTransition(current, StateFailed, "transition cap reached")
			return res, err
		}

		var next State
		var reason, method string
		var confidence float64
		next, reason, method, confidence, err = e.step(ctx, current, &res)
		if err != nil {
			current = e.forceTransition(current, StateFailed, err.Error())
			return res, err
		}

		if next == current {
			// A stalled step still counts against the cap so a state that
			// never advances cannot loop forever.
			res.Transitions++
			continue
		}
		if !CanTransition(current, next) {
			err = errs.New(errs.KindStateMachine, "illegal transition %s -> %s", current, next)
			current = e.forceTransition(current, StateFailed, err.Error())
			return res, err
		}

		e.record(current, next, reason, method, confidence)
		res.Transitions++
		current = next
	}

	e.logger.Info("Flow finished", "final_state", current, "transitions", res.Transitions)
	return res, nil
}

// step handles the current state once and proposes the next state, along
// with the reason and the detection method behind it.
func (e *Engine) step(ctx context.Context, current State, res *RunResult) (State, string, string, float64, error) {
	switch current {
	case StateStart:
		det := e.detect(ctx)
		if !CanTransition(StateStart, det.State) {
			return StateUnknown, "unexpected initial page: " + det.Reason, methodHeuristic, det.Confidence, nil
		}
		return det.State, det.Reason, methodHeuristic, det.Confidence, nil

	case StateLoginRequired:
		ok, gerr := e.gate(ctx,
			"Authentication required. Log in to the account in the browser window, then confirm.",
			e.cfg.AuthTimeout)
		if gerr != nil {
			return current, "", "", 0, errs.Wrap(errs.KindUserAborted, gerr, "auth checkpoint failed")
		}
		if !ok {
			e.logger.Warn("Auth checkpoint declined or timed out")
			return StateAborted, "auth checkpoint declined or timed out", methodOperator, 1, nil
		}
		det := e.detect(ctx)
		if det.State == StateLoginRequired {
			return StateAborted, "still on login page after auth checkpoint", methodHeuristic, 1, nil
		}
		return det.State, det.Reason, methodHeuristic, det.Confidence, nil

	case StateAccountCancelled:
		e.logger.Info("Subscription already cancelled")
		return StateComplete, "subscription already cancelled", methodPolicy, 1, nil

	case StateThirdPartyBilling:
		text, _ := e.driver.VisibleText(ctx)
		res.Advice = e.service.BillingAdvice(text)
		e.logger.Info("Third-party billing detected", "advice", res.Advice)
		return StateFailed, "billing handled by a third party", methodPolicy, 1,
			errs.New(errs.KindHumanIntervention, "cannot cancel in-browser: %s", res.Advice)

	case StateFinalConfirmation:
		return e.finalConfirmation(ctx)

	case StateAccountActive, StateRetentionOffer, StateExitSurvey, StateUnknown:
		return e.delegate(ctx, current)

	default:
		return current, "", "", 0, errs.New(errs.KindStateMachine, "unhandled state %s", current)
	}
}

// finalConfirmation gates the irreversible click on the operator, then either
// short-circuits (dry run) or performs the final action.
func (e *Engine) finalConfirmation(ctx context.Context) (State, string, string, float64, error) {
	if e.cfg.DryRun {
		e.logger.Info("Dry run: stopping before the final confirmation click")
		e.screenshot(StateFinalConfirmation)
		return StateComplete, "dry run stopped before final click", methodPolicy, 1, nil
	}

	ok, gerr := e.gate(ctx,
		"Ready to finalize the cancellation. This is irreversible.",
		e.cfg.ConfirmTimeout)
	if gerr != nil {
		return StateFinalConfirmation, "", "", 0, errs.Wrap(errs.KindUserAborted, gerr, "confirm checkpoint failed")
	}
	if !ok {
		e.logger.Warn("Final confirmation declined or timed out")
		return StateAborted, "final confirmation declined or timed out", methodOperator, 1, nil
	}

	return e.delegate(ctx, StateFinalConfirmation)
}

// delegate hands the state to the agent; if the planner transport is down it
// falls back to the service's hardcoded handler.
func (e *Engine) delegate(ctx context.Context, current State) (State, string, string, float64, error) {
	e.recorder.AICall(current, stateGoals[current].goal)
	next, err := e.agent.HandleState(ctx, current)
	if err == nil {
		return next, "agent advanced the flow", methodAgent, 1, nil
	}

	kind := errs.KindOf(err)
	if kind.Retryable() || kind == errs.KindAgentTimeout || kind == errs.KindConfiguration {
		if fb := e.service.Fallback(current); fb != nil {
			e.logger.Warn("Planner unavailable, using hardcoded fallback", "state", current, "error", err)
			if fberr := fb(ctx, e.driver); fberr == nil {
				det := e.detect(ctx)
				if det.State != StateUnknown && det.State != current && CanTransition(current, det.State) {
					return det.State, "hardcoded fallback: " + det.Reason, methodHeuristic, det.Confidence, nil
				}
			}
		}
	}
	return current, "", "", 0, err
}

// detect classifies the current page with the heuristic rules.
func (e *Engine) detect(ctx context.Context) Detection {
	url, err := e.driver.URL(ctx)
	if err != nil {
		return Detection{State: StateUnknown, Reason: "url unreadable"}
	}
	text, err := e.driver.VisibleText(ctx)
	if err != nil {
		return Detection{State: StateUnknown, Reason: "page text unreadable"}
	}
	return e.heuristic.Interpret(url, text)
}

// record captures evidence for one taken transition.
func (e *Engine) record(from, to State, reason, method string, confidence float64) {
	shot := e.screenshot(to)
	url, _ := e.driver.URL(context.Background())
	e.recorder.Transition(TransitionRecord{
		From:       from,
		To:         to,
		URL:        url,
		Method:     method,
		Reason:     reason,
		Confidence: confidence,
		Screenshot: shot,
	})
	e.logger.Info("Transition", "from", from, "to", to, "reason", reason)
}

// forceTransition records a jump to a terminal state without legality checks.
// Used only for FAILED exits.
func (e *Engine) forceTransition(from, to State, reason string) State {
	if from == to {
		return to
	}
	e.record(from, to, reason, methodPolicy, 0)
	return to
}

func (e *Engine) screenshot(state State) string {
	png, err := e.driver.Screenshot(context.Background())
	if err != nil {
		return ""
	}
	return e.recorder.Screenshot(state, png)
}
