// Package protocol implements the payment lifecycle: instruction validation,
// canonical hashing and signing, the protocol state machine, replay
// protection and eligibility-token checks.
package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of protocol error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrInvalidStateTransition indicates a transition the state machine
	// does not admit.
	ErrInvalidStateTransition ErrorCode = iota

	// ErrReplayAttack indicates a nonce at or below the sender's recorded
	// maximum inside the active TTL window.
	ErrReplayAttack

	// ErrTTLExpired indicates the instruction outlived its TTL.
	ErrTTLExpired

	// ErrInvalidNonce indicates a structurally unusable nonce.
	ErrInvalidNonce

	// ErrCanonicalHashMismatch indicates the embedded canonical hash does
	// not match the recomputed hash.
	ErrCanonicalHashMismatch

	// ErrSignatureInvalid indicates a failed signature verification.
	ErrSignatureInvalid

	// ErrEligibilityInvalid indicates a rejected eligibility token.
	ErrEligibilityInvalid

	// ErrQuorumNotMet indicates insufficient validator signatures.
	ErrQuorumNotMet

	// ErrCorridorBlocked indicates a compliance corridor block.
	ErrCorridorBlocked

	// ErrSanctioned indicates a sanctions hit from compliance screening.
	ErrSanctioned

	// ErrDuplicatePayment indicates a payment already known to the core.
	ErrDuplicatePayment
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidStateTransition: "ErrInvalidStateTransition",
	ErrReplayAttack:           "ErrReplayAttack",
	ErrTTLExpired:             "ErrTTLExpired",
	ErrInvalidNonce:           "ErrInvalidNonce",
	ErrCanonicalHashMismatch:  "ErrCanonicalHashMismatch",
	ErrSignatureInvalid:       "ErrSignatureInvalid",
	ErrEligibilityInvalid:     "ErrEligibilityInvalid",
	ErrQuorumNotMet:           "ErrQuorumNotMet",
	ErrCorridorBlocked:        "ErrCorridorBlocked",
	ErrSanctioned:             "ErrSanctioned",
	ErrDuplicatePayment:       "ErrDuplicatePayment",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a protocol rule violation. Protocol errors are never
// retried; the violating payment is rejected.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// Is lets errors.Is match on the error code alone.
func (e RuleError) Is(target error) bool {
	var other RuleError
	if errors.As(target, &other) {
		return other.ErrorCode == e.ErrorCode
	}
	return false
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleCode reports whether err is a RuleError with the given code.
func IsRuleCode(err error, code ErrorCode) bool {
	var re RuleError
	return errors.As(err, &re) && re.ErrorCode == code
}
