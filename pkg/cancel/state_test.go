package cancel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateClassification(t *testing.T) {
	assert.True(t, StateComplete.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateUnknown.IsTerminal())
	assert.False(t, StateStart.IsTerminal())

	assert.True(t, StateRetentionOffer.IsValid())
	assert.False(t, State("BOGUS").IsValid())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"start to login", StateStart, StateLoginRequired, true},
		{"start to account active", StateStart, StateAccountActive, true},
		{"start straight to complete", StateStart, StateComplete, false},
		{"login to aborted", StateLoginRequired, StateAborted, true},
		{"account active to retention", StateAccountActive, StateRetentionOffer, true},
		{"account active skips to confirmation", StateAccountActive, StateFinalConfirmation, true},
		{"retention loops", StateRetentionOffer, StateRetentionOffer, true},
		{"survey back to retention", StateExitSurvey, StateRetentionOffer, true},
		{"confirmation to complete", StateFinalConfirmation, StateComplete, true},
		{"confirmation to aborted", StateFinalConfirmation, StateAborted, true},
		{"already cancelled to complete", StateAccountCancelled, StateComplete, true},
		{"third party only fails", StateThirdPartyBilling, StateFailed, true},
		{"third party to complete", StateThirdPartyBilling, StateComplete, false},
		{"terminal is sticky", StateComplete, StateAccountActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransitionFromUnknown(t *testing.T) {
	// UNKNOWN may recover to any non-terminal state or give up.
	assert.True(t, CanTransition(StateUnknown, StateAccountActive))
	assert.True(t, CanTransition(StateUnknown, StateLoginRequired))
	assert.True(t, CanTransition(StateUnknown, StateFinalConfirmation))
	assert.True(t, CanTransition(StateUnknown, StateFailed))
	assert.False(t, CanTransition(StateUnknown, StateComplete))
	assert.False(t, CanTransition(StateUnknown, StateAborted))
	assert.False(t, CanTransition(StateUnknown, State("BOGUS")))
}

func TestHappyPathIsLegal(t *testing.T) {
	path := []State{
		StateStart, StateAccountActive, StateRetentionOffer,
		StateExitSurvey, StateFinalConfirmation, StateComplete,
	}
	for i := 1; i < len(path); i++ {
		assert.True(t, CanTransition(path[i-1], path[i]),
			"%s -> %s should be legal", path[i-1], path[i])
	}
}
