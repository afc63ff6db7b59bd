package protocol

import (
	"fmt"
)

// State is a stage in the payment lifecycle.
type State uint8

const (
	// StatePaymentInitiated is the entry state for every payment.
	StatePaymentInitiated State = iota + 1

	// StatePaymentValidated means structural validation passed.
	StatePaymentValidated

	// StateEligibilityConfirmed means both eligibility tokens verified.
	StateEligibilityConfirmed

	// StateNettingProposed means the payment entered a clearing window.
	StateNettingProposed

	// StateNettingApproved means every participating bank acknowledged
	// the proposed netting.
	StateNettingApproved

	// StateSettlementPending is the prepare phase of the two-phase commit.
	StateSettlementPending

	// StateSettlementFinalized is the commit phase of the two-phase
	// commit.
	StateSettlementFinalized

	// StateProofGenerated is the terminal success state: a quorum-signed
	// checkpoint covers the payment.
	StateProofGenerated

	// StatePaymentRejected is the terminal state for validation,
	// eligibility or compliance failures.
	StatePaymentRejected

	// StateNettingTimeout records a netting acknowledgement timeout; the
	// payment may be requeued into a later window.
	StateNettingTimeout

	// StateSettlementPartial records that only part of the batch settled;
	// a partial proof is still generated.
	StateSettlementPartial

	// StateSettlementFailed is the terminal state after a full rollback.
	StateSettlementFailed
)

var stateStrings = map[State]string{
	StatePaymentInitiated:     "PaymentInitiated",
	StatePaymentValidated:     "PaymentValidated",
	StateEligibilityConfirmed: "EligibilityConfirmed",
	StateNettingProposed:      "NettingProposed",
	StateNettingApproved:      "NettingApproved",
	StateSettlementPending:    "SettlementPending",
	StateSettlementFinalized:  "SettlementFinalized",
	StateProofGenerated:       "ProofGenerated",
	StatePaymentRejected:      "PaymentRejected",
	StateNettingTimeout:       "NettingTimeout",
	StateSettlementPartial:    "SettlementPartial",
	StateSettlementFailed:     "SettlementFailed",
}

// String returns the state name used in ledger events and logs.
func (s State) String() string {
	if name, ok := stateStrings[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown State (%d)", uint8(s))
}

// validTransitions admits exactly the documented lifecycle; every pair not
// present is rejected.
var validTransitions = map[State][]State{
	StatePaymentInitiated:     {StatePaymentValidated, StatePaymentRejected},
	StatePaymentValidated:     {StateEligibilityConfirmed, StatePaymentRejected},
	StateEligibilityConfirmed: {StateNettingProposed, StatePaymentRejected},
	StateNettingProposed:      {StateNettingApproved, StateNettingTimeout},
	StateNettingApproved:      {StateSettlementPending},
	StateSettlementPending:    {StateSettlementFinalized, StateSettlementPartial, StateSettlementFailed},
	StateSettlementFinalized:  {StateProofGenerated},
	StateNettingTimeout:       {StateNettingProposed},
	StateSettlementPartial:    {StateProofGenerated},
}

// CanTransitionTo reports whether the machine admits s → next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateProofGenerated, StatePaymentRejected, StateSettlementFailed:
		return true
	}
	return false
}

// RequiresBankConfirmations reports whether the state blocks on external
// acknowledgements.
func (s State) RequiresBankConfirmations() bool {
	return s == StateNettingProposed || s == StateSettlementPending
}

// Machine tracks a single payment's protocol state.
type Machine struct {
	current State
}

// NewMachine returns a machine at the initial state.
func NewMachine() *Machine {
	return &Machine{current: StatePaymentInitiated}
}

// MachineAt returns a machine resumed at a specific state, used when
// rehydrating from the ledger.
func MachineAt(s State) *Machine {
	return &Machine{current: s}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// Transition advances the machine, rejecting disallowed or post-terminal
// transitions.
func (m *Machine) Transition(next State) error {
	if m.current.IsTerminal() {
		return ruleError(ErrInvalidStateTransition,
			fmt.Sprintf("state %v is terminal, cannot transition to %v", m.current, next))
	}
	if !m.current.CanTransitionTo(next) {
		return ruleError(ErrInvalidStateTransition,
			fmt.Sprintf("transition %v -> %v not allowed", m.current, next))
	}
	m.current = next
	return nil
}
