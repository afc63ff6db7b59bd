package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidPaymentFlow(t *testing.T) {
	sm := NewMachine()

	steps := []State{
		StatePaymentValidated,
		StateEligibilityConfirmed,
		StateNettingProposed,
		StateNettingApproved,
		StateSettlementPending,
		StateSettlementFinalized,
		StateProofGenerated,
	}
	for _, next := range steps {
		require.NoError(t, sm.Transition(next), "transition to %v", next)
	}

	assert.True(t, sm.Current().IsTerminal())
	err := sm.Transition(StatePaymentInitiated)
	assert.True(t, IsRuleCode(err, ErrInvalidStateTransition))
}

func TestRejectionFlow(t *testing.T) {
	sm := NewMachine()
	require.NoError(t, sm.Transition(StatePaymentValidated))
	require.NoError(t, sm.Transition(StatePaymentRejected))
	assert.True(t, sm.Current().IsTerminal())
}

func TestPartialSettlementFlow(t *testing.T) {
	sm := MachineAt(StateSettlementPending)
	require.NoError(t, sm.Transition(StateSettlementPartial))
	require.NoError(t, sm.Transition(StateProofGenerated))
	assert.True(t, sm.Current().IsTerminal())
}

func TestNettingTimeoutRequeue(t *testing.T) {
	sm := MachineAt(StateNettingProposed)
	require.NoError(t, sm.Transition(StateNettingTimeout))
	require.NoError(t, sm.Transition(StateNettingProposed))
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"SkipToFinalized", StatePaymentInitiated, StateSettlementFinalized},
		{"BackwardsValidation", StateNettingApproved, StatePaymentValidated},
		{"RejectedIsTerminal", StatePaymentRejected, StatePaymentValidated},
		{"FailedIsTerminal", StateSettlementFailed, StateSettlementPending},
		{"ProofIsTerminal", StateProofGenerated, StateNettingProposed},
		{"TimeoutOnlyRequeues", StateNettingTimeout, StateSettlementPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := MachineAt(tt.from)
			err := sm.Transition(tt.to)
			assert.True(t, IsRuleCode(err, ErrInvalidStateTransition))
			assert.Equal(t, tt.from, sm.Current())
		})
	}
}

func TestRequiresBankConfirmations(t *testing.T) {
	assert.True(t, StateNettingProposed.RequiresBankConfirmations())
	assert.True(t, StateSettlementPending.RequiresBankConfirmations())
	assert.False(t, StatePaymentValidated.RequiresBankConfirmations())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "PaymentInitiated", StatePaymentInitiated.String())
	assert.Equal(t, "ProofGenerated", StateProofGenerated.String())
	assert.Contains(t, State(200).String(), "Unknown")
}
