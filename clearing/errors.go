// Package clearing implements the atomic clearing orchestrator: clearing
// windows, obligation collection, netting, settlement instruction
// generation, fund locks on nostro accounts, checkpointed atomic operations
// with reverse-order rollback, and compensating reversals.
package clearing

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of clearing error.
type ErrorCode int

// These constants are used to identify a specific ClearingError.
const (
	// ErrAtomicOperationFailed indicates a stage failed and triggered the
	// rollback walk.
	ErrAtomicOperationFailed ErrorCode = iota

	// ErrRollbackFailed indicates a rollback step itself failed. The
	// chain does not re-trigger; operator intervention is required.
	ErrRollbackFailed

	// ErrCheckpointNotFound indicates a named operation checkpoint is
	// missing.
	ErrCheckpointNotFound

	// ErrWindowLocked indicates another orchestrator holds the window, or
	// that the region already has an Open window.
	ErrWindowLocked

	// ErrWindowClosed indicates an obligation the window no longer admits:
	// a new one during the grace period, or any after it.
	ErrWindowClosed

	// ErrWindowNotFound indicates an unknown window id.
	ErrWindowNotFound

	// ErrInsufficientBalance indicates an account cannot cover a
	// requested fund lock.
	ErrInsufficientBalance

	// ErrLimitExceeded indicates a corridor limit rejection.
	ErrLimitExceeded

	// ErrLockExpired indicates a fund lock outlived its TTL before the
	// settlement finalized.
	ErrLockExpired

	// ErrAccountNotFound indicates an unknown nostro account.
	ErrAccountNotFound

	// ErrAccountSuspended indicates payouts on the account are suspended
	// by reconciliation.
	ErrAccountSuspended
)

var errorCodeStrings = map[ErrorCode]string{
	ErrAtomicOperationFailed: "ErrAtomicOperationFailed",
	ErrRollbackFailed:        "ErrRollbackFailed",
	ErrCheckpointNotFound:    "ErrCheckpointNotFound",
	ErrWindowLocked:          "ErrWindowLocked",
	ErrWindowClosed:          "ErrWindowClosed",
	ErrWindowNotFound:        "ErrWindowNotFound",
	ErrInsufficientBalance:   "ErrInsufficientBalance",
	ErrLimitExceeded:         "ErrLimitExceeded",
	ErrLockExpired:           "ErrLockExpired",
	ErrAccountNotFound:       "ErrAccountNotFound",
	ErrAccountSuspended:      "ErrAccountSuspended",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ClearingError identifies a clearing failure with its code.
type ClearingError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface.
func (e ClearingError) Error() string {
	return e.Description
}

// Is lets errors.Is match on the error code alone.
func (e ClearingError) Is(target error) bool {
	var other ClearingError
	if errors.As(target, &other) {
		return other.ErrorCode == e.ErrorCode
	}
	return false
}

// clearingError creates a ClearingError given a set of arguments.
func clearingError(c ErrorCode, desc string) ClearingError {
	return ClearingError{ErrorCode: c, Description: desc}
}

// IsErrorCode reports whether err is a ClearingError with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var ce ClearingError
	return errors.As(err, &ce) && ce.ErrorCode == code
}
