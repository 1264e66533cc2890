// Package cancel implements the subscription-cancellation engine: a finite
// state machine driven by an AI agent over a browser, with heuristic
// fallbacks and human checkpoints at irreversible steps.
package cancel

// State is one page-level position in the cancellation flow.
type State string

const (
	StateStart             State = "START"
	StateLoginRequired     State = "LOGIN_REQUIRED"
	StateAccountActive     State = "ACCOUNT_ACTIVE"
	StateAccountCancelled  State = "ACCOUNT_CANCELLED"
	StateThirdPartyBilling State = "THIRD_PARTY_BILLING"
	StateRetentionOffer    State = "RETENTION_OFFER"
	StateExitSurvey        State = "EXIT_SURVEY"
	StateFinalConfirmation State = "FINAL_CONFIRMATION"
	StateComplete          State = "COMPLETE"
	StateAborted           State = "ABORTED"
	StateFailed            State = "FAILED"
	StateUnknown           State = "UNKNOWN"
)

// IsTerminal reports whether the flow ends in this state.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateAborted || s == StateFailed
}

// IsValid reports whether s is a member of the enumeration.
func (s State) IsValid() bool {
	switch s {
	case StateStart, StateLoginRequired, StateAccountActive, StateAccountCancelled,
		StateThirdPartyBilling, StateRetentionOffer, StateExitSurvey,
		StateFinalConfirmation, StateComplete, StateAborted, StateFailed, StateUnknown:
		return true
	}
	return false
}

// allowedTransitions is the directed transition graph. The orchestrator
// rejects any transition not listed here.
var allowedTransitions = map[State][]State{
	StateStart: {
		StateLoginRequired, StateAccountActive, StateAccountCancelled,
		StateThirdPartyBilling, StateFailed, StateUnknown,
	},
	StateLoginRequired: {
		StateAccountActive, StateAccountCancelled, StateThirdPartyBilling,
		StateAborted, StateFailed, StateUnknown,
	},
	StateAccountActive: {
		StateRetentionOffer, StateExitSurvey, StateFinalConfirmation,
		StateFailed, StateUnknown,
	},
	StateRetentionOffer: {
		StateRetentionOffer, StateExitSurvey, StateFinalConfirmation,
		StateFailed, StateUnknown,
	},
	StateExitSurvey: {
		StateRetentionOffer, StateFinalConfirmation, StateFailed, StateUnknown,
	},
	StateFinalConfirmation: {
		StateComplete, StateFailed, StateAborted,
	},
	StateAccountCancelled: {
		StateComplete,
	},
	StateThirdPartyBilling: {
		StateFailed,
	},
}

// CanTransition reports whether from → to is a legal edge.
// UNKNOWN may move to any non-terminal state or FAILED.
func CanTransition(from, to State) bool {
	if from == StateUnknown {
		return to == StateFailed || (to.IsValid() && !to.IsTerminal())
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
