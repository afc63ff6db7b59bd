// Package adapter defines the bank-rail boundary: the capability interface
// every rail implementation satisfies, the transfer request/response types,
// and the manager that routes dispatches through the corridor controls. Wire
// encodings for specific rails (SWIFT, ACH, RTGS, CBDC) live outside the
// core; this package only models the consumed contract.
package adapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/google/uuid"
)

// ErrTransferTimeout is returned when an adapter call outlives its deadline;
// the call is abandoned and the enclosing atomic operation sees this error.
var ErrTransferTimeout = errors.New("transfer timed out")

// BankAPIError carries a rail-side rejection verbatim.
type BankAPIError struct {
	Status  int
	Message string
}

// Error satisfies the error interface.
func (e *BankAPIError) Error() string {
	return fmt.Sprintf("bank api error %d: %s", e.Status, e.Message)
}

// Type names the rail an adapter speaks.
type Type string

const (
	// TypeSwift is the SWIFT correspondent network.
	TypeSwift Type = "SWIFT"

	// TypeACH is a local automated clearing house.
	TypeACH Type = "ACH"

	// TypeRTGS is a real-time gross settlement system.
	TypeRTGS Type = "RTGS"

	// TypeCBDC is a central-bank digital currency bridge.
	TypeCBDC Type = "CBDC"

	// TypeMock is the in-process adapter used by tests and simnet.
	TypeMock Type = "MOCK"
)

// InstructionStatus tracks a settlement instruction end to end.
type InstructionStatus string

const (
	// InstructionPending awaits dispatch.
	InstructionPending InstructionStatus = "Pending"

	// InstructionDispatched was accepted by the rail.
	InstructionDispatched InstructionStatus = "Dispatched"

	// InstructionCompleted settled on the rail.
	InstructionCompleted InstructionStatus = "Completed"

	// InstructionFailed did not settle.
	InstructionFailed InstructionStatus = "Failed"

	// InstructionRolledBack was reversed as part of a window rollback.
	InstructionRolledBack InstructionStatus = "RolledBack"
)

// Priority orders dispatches within a corridor.
type Priority string

const (
	// PriorityNormal is the default.
	PriorityNormal Priority = "normal"

	// PriorityUrgent is used by compensating reversals.
	PriorityUrgent Priority = "urgent"
)

// SettlementInstruction is one bank-addressable payment order produced from
// a net transfer. Compensation instructions reference their original through
// CompensationFor.
type SettlementInstruction struct {
	InstructionID   uuid.UUID         `json:"instruction_id"`
	WindowID        int64             `json:"window_id"`
	FromBank        string            `json:"from_bank"`
	ToBank          string            `json:"to_bank"`
	Amount          money.Amount      `json:"amount"`
	Currency        string            `json:"currency"`
	Status          InstructionStatus `json:"status"`
	Priority        Priority          `json:"priority"`
	CompensationFor *uuid.UUID        `json:"compensation_for,omitempty"`
	BankRef         string            `json:"bank_ref,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ExecutedAt      *time.Time        `json:"executed_at,omitempty"`
}

// IsCompensation reports whether the instruction reverses an earlier one.
func (si *SettlementInstruction) IsCompensation() bool {
	return si.CompensationFor != nil
}

// TransferRequest is what the manager hands to an adapter. The instruction
// id doubles as the idempotency key: rails may deliver duplicates.
type TransferRequest struct {
	TransferID  uuid.UUID              `json:"transfer_id"`
	Instruction *SettlementInstruction `json:"instruction"`
	CorridorID  string                 `json:"corridor_id"`
	AdapterType Type                   `json:"adapter_type"`
	CreatedAt   time.Time              `json:"created_at"`
	RetryCount  int                    `json:"retry_count"`
}

// TransferStatus is a rail-side disposition.
type TransferStatus string

const (
	// StatusAccepted means the rail accepted the transfer for processing.
	StatusAccepted TransferStatus = "Accepted"

	// StatusPending means the transfer is in flight at the rail.
	StatusPending TransferStatus = "Pending"

	// StatusCompleted means funds moved.
	StatusCompleted TransferStatus = "Completed"

	// StatusFailed means the rail could not complete the transfer.
	StatusFailed TransferStatus = "Failed"

	// StatusRejected means the rail refused the transfer.
	StatusRejected TransferStatus = "Rejected"
)

// TransferResponse is an adapter's answer to a send or status query.
type TransferResponse struct {
	TransferID  uuid.UUID      `json:"transfer_id"`
	Status      TransferStatus `json:"status"`
	BankRef     string         `json:"external_reference,omitempty"`
	Message     string         `json:"message,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Adapter is the single capability interface every rail implements.
// Implementations are selected by Type at dispatch; there is no hierarchy.
type Adapter interface {
	// AdapterType names the rail.
	AdapterType() Type

	// Send dispatches one transfer. It takes no context; the manager
	// enforces the call deadline and abandons calls that outlive it.
	Send(req *TransferRequest) (*TransferResponse, error)

	// CheckStatus queries the rail for the transfer behind bankRef.
	CheckStatus(bankRef string) (*TransferResponse, error)

	// HealthCheck probes the rail connection.
	HealthCheck() error

	// Name returns a human-readable adapter name.
	Name() string
}

// Health summarizes a corridor's boundary condition.
type Health struct {
	CorridorID         string    `json:"corridor_id"`
	AdapterType        Type      `json:"adapter_type"`
	TotalRequests      uint64    `json:"total_requests"`
	SuccessfulRequests uint64    `json:"successful_requests"`
	FailedRequests     uint64    `json:"failed_requests"`
	BreakerOpen        bool      `json:"circuit_breaker_open"`
	KillSwitchActive   bool      `json:"kill_switch_active"`
	DLQSize            int       `json:"dlq_size"`
	LastCheck          time.Time `json:"last_check"`
}

// SuccessRate returns the fraction of successful requests, 1.0 when idle.
func (h *Health) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1.0
	}
	return float64(h.SuccessfulRequests) / float64(h.TotalRequests)
}
