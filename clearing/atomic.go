package clearing

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// OperationType names one orchestrator stage.
type OperationType string

const (
	// OpWindowClose captures and closes the open window.
	OpWindowClose OperationType = "WindowClose"

	// OpObligationCollection snapshots the obligation set.
	OpObligationCollection OperationType = "ObligationCollection"

	// OpNettingCalculation builds, optimizes and computes positions.
	OpNettingCalculation OperationType = "NettingCalculation"

	// OpInstructionGeneration persists settlement instructions.
	OpInstructionGeneration OperationType = "InstructionGeneration"

	// OpSettlementInitiation dispatches instructions per bank.
	OpSettlementInitiation OperationType = "SettlementInitiation"

	// OpWindowOpen creates the next window.
	OpWindowOpen OperationType = "WindowOpen"
)

// OperationState is an atomic operation's lifecycle state.
type OperationState string

const (
	// OperationPending is created but not started.
	OperationPending OperationState = "Pending"

	// OperationInProgress is running.
	OperationInProgress OperationState = "InProgress"

	// OperationCommitted completed successfully.
	OperationCommitted OperationState = "Committed"

	// OperationRolledBack was reversed.
	OperationRolledBack OperationState = "RolledBack"

	// OperationFailed failed and could not (yet) be reversed.
	OperationFailed OperationState = "Failed"
)

// OperationCheckpoint records reversible progress inside an operation.
// Payload holds enough JSON to reverse the step; the rollback closure does
// the actual reversal.
type OperationCheckpoint struct {
	CheckpointID uuid.UUID       `json:"checkpoint_id"`
	Name         string          `json:"checkpoint_name"`
	Order        int             `json:"checkpoint_order"`
	Payload      json.RawMessage `json:"checkpoint_data"`
	CreatedAt    time.Time       `json:"created_at"`

	rollback func() error
}

// AtomicOperation is one all-or-nothing orchestrator stage with strictly
// ordered checkpoints.
type AtomicOperation struct {
	OperationID  uuid.UUID      `json:"operation_id"`
	WindowID     int64          `json:"window_id"`
	Type         OperationType  `json:"operation_type"`
	State        OperationState `json:"state"`
	Checkpoints  []*OperationCheckpoint
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// OperationLog tracks every atomic operation per window and drives the
// reverse rollback walk.
type OperationLog struct {
	mtx sync.Mutex
	ops map[uuid.UUID]*AtomicOperation

	now func() time.Time
}

// NewOperationLog creates an empty operation log.
func NewOperationLog() *OperationLog {
	return &OperationLog{
		ops: make(map[uuid.UUID]*AtomicOperation),
		now: time.Now,
	}
}

// Begin creates and starts an operation for a window stage.
func (ol *OperationLog) Begin(windowID int64, t OperationType) *AtomicOperation {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()

	op := &AtomicOperation{
		OperationID: protocol.NewID(),
		WindowID:    windowID,
		Type:        t,
		State:       OperationInProgress,
		StartedAt:   ol.now().UTC(),
	}
	ol.ops[op.OperationID] = op
	log.Debugf("Window %d: started %s operation %s", windowID, t, op.OperationID)
	return op
}

// Checkpoint records reversible progress. Checkpoints are strictly ordered
// by creation within the operation; rollback runs them newest first.
func (ol *OperationLog) Checkpoint(op *AtomicOperation, name string, payload any, rollback func() error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return clearingError(ErrAtomicOperationFailed,
			fmt.Sprintf("operation %s: marshal checkpoint %q: %v", op.OperationID, name, err))
	}

	ol.mtx.Lock()
	defer ol.mtx.Unlock()
	op.Checkpoints = append(op.Checkpoints, &OperationCheckpoint{
		CheckpointID: protocol.NewID(),
		Name:         name,
		Order:        len(op.Checkpoints),
		Payload:      raw,
		CreatedAt:    ol.now().UTC(),
		rollback:     rollback,
	})
	return nil
}

// GetCheckpoint returns a named checkpoint of an operation.
func (ol *OperationLog) GetCheckpoint(op *AtomicOperation, name string) (*OperationCheckpoint, error) {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()
	for _, cp := range op.Checkpoints {
		if cp.Name == name {
			return cp, nil
		}
	}
	return nil, clearingError(ErrCheckpointNotFound,
		fmt.Sprintf("operation %s: checkpoint %q not found", op.OperationID, name))
}

// Commit marks the operation successful.
func (ol *OperationLog) Commit(op *AtomicOperation) {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()
	now := ol.now().UTC()
	op.State = OperationCommitted
	op.CompletedAt = &now
	log.Debugf("Window %d: committed %s operation %s", op.WindowID, op.Type, op.OperationID)
}

// Fail marks the operation failed with the triggering error.
func (ol *OperationLog) Fail(op *AtomicOperation, cause error) {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()
	op.State = OperationFailed
	op.ErrorMessage = cause.Error()
	log.Warnf("Window %d: %s operation %s failed: %v", op.WindowID, op.Type, op.OperationID, cause)
}

// Rollback reverses one operation's checkpoints newest-first. A failing
// rollback step is logged and skipped; it never re-triggers the chain.
func (ol *OperationLog) Rollback(op *AtomicOperation, reason string) {
	ol.mtx.Lock()
	checkpoints := make([]*OperationCheckpoint, len(op.Checkpoints))
	copy(checkpoints, op.Checkpoints)
	ol.mtx.Unlock()

	for i := len(checkpoints) - 1; i >= 0; i-- {
		cp := checkpoints[i]
		if cp.rollback == nil {
			continue
		}
		if err := cp.rollback(); err != nil {
			log.Errorf("RollbackFailed: window %d operation %s checkpoint %q: %v",
				op.WindowID, op.OperationID, cp.Name, err)
		}
	}

	ol.mtx.Lock()
	now := ol.now().UTC()
	op.State = OperationRolledBack
	op.RolledBackAt = &now
	if op.ErrorMessage == "" {
		op.ErrorMessage = reason
	}
	ol.mtx.Unlock()

	log.Infof("Window %d: rolled back %s operation %s (%s)",
		op.WindowID, op.Type, op.OperationID, reason)
}

// WindowOperations returns a window's operations ordered by start time.
func (ol *OperationLog) WindowOperations(windowID int64) []*AtomicOperation {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()

	var ops []*AtomicOperation
	for _, op := range ol.ops {
		if op.WindowID == windowID {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].StartedAt.Before(ops[j].StartedAt)
	})
	return ops
}

// RollbackWindow reverses every committed, in-progress or failed operation
// of a window, newest stage first.
func (ol *OperationLog) RollbackWindow(windowID int64, reason string) {
	ops := ol.WindowOperations(windowID)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.State {
		case OperationCommitted, OperationInProgress, OperationFailed:
			ol.Rollback(op, reason)
		}
	}
}

// OperationStats counts a window's operations by state.
type OperationStats struct {
	Total      int
	Pending    int
	InProgress int
	Committed  int
	RolledBack int
	Failed     int
}

// WindowStats summarizes a window's operations.
func (ol *OperationLog) WindowStats(windowID int64) OperationStats {
	var s OperationStats
	for _, op := range ol.WindowOperations(windowID) {
		s.Total++
		switch op.State {
		case OperationPending:
			s.Pending++
		case OperationInProgress:
			s.InProgress++
		case OperationCommitted:
			s.Committed++
		case OperationRolledBack:
			s.RolledBack++
		case OperationFailed:
			s.Failed++
		}
	}
	return s
}

// Cleanup drops terminal operations older than the retention period and
// returns how many were removed.
func (ol *OperationLog) Cleanup(retention time.Duration) int {
	ol.mtx.Lock()
	defer ol.mtx.Unlock()

	cutoff := ol.now().Add(-retention)
	removed := 0
	for id, op := range ol.ops {
		terminal := op.State == OperationCommitted || op.State == OperationRolledBack
		if terminal && op.StartedAt.Before(cutoff) {
			delete(ol.ops, id)
			removed++
		}
	}
	return removed
}
