package clearing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/netting"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// lockRef ties a settlement instruction to the fund lock backing it.
type lockRef struct {
	accountID uuid.UUID
	lockID    uuid.UUID
}

// Orchestrator drives clearing windows through their lifecycle with
// all-or-nothing semantics. Every stage runs as an atomic operation whose
// checkpoints can be rewound; failure in stage k walks stages k..0 in
// reverse.
type Orchestrator struct {
	params   *params.Params
	windows  *Windows
	oplog    *OperationLog
	accounts *AccountBook
	ldgr     *ledger.Ledger
	manager  *adapter.Manager
	registry *PaymentRegistry
	holder   string

	mtx          sync.Mutex
	instructions map[uuid.UUID]*adapter.SettlementInstruction
	locks        map[uuid.UUID]lockRef // instruction id -> fund lock
}

// NewOrchestrator wires the orchestrator to its collaborators. holder names
// this orchestrator in window locks.
func NewOrchestrator(p *params.Params, windows *Windows, oplog *OperationLog,
	accounts *AccountBook, ldgr *ledger.Ledger, manager *adapter.Manager,
	registry *PaymentRegistry, holder string) *Orchestrator {

	return &Orchestrator{
		params:       p,
		windows:      windows,
		oplog:        oplog,
		accounts:     accounts,
		ldgr:         ldgr,
		manager:      manager,
		registry:     registry,
		holder:       holder,
		instructions: make(map[uuid.UUID]*adapter.SettlementInstruction),
		locks:        make(map[uuid.UUID]lockRef),
	}
}

// Instruction returns a settlement instruction snapshot by id.
func (o *Orchestrator) Instruction(id uuid.UUID) (*adapter.SettlementInstruction, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	si, ok := o.instructions[id]
	if !ok {
		return nil, clearingError(ErrCheckpointNotFound, fmt.Sprintf("instruction %s not found", id))
	}
	cp := *si
	return &cp, nil
}

// Instructions returns a snapshot of every settlement instruction the
// orchestrator knows, compensations included.
func (o *Orchestrator) Instructions() []*adapter.SettlementInstruction {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	out := make([]*adapter.SettlementInstruction, 0, len(o.instructions))
	for _, si := range o.instructions {
		cp := *si
		out = append(out, &cp)
	}
	return out
}

// appendEvent chains a new ledger event onto a payment.
func (o *Orchestrator) appendEvent(ctx context.Context, paymentID uuid.UUID, t ledger.EventType, metadata string) error {
	p, ok := o.registry.Get(paymentID)
	if !ok {
		return clearingError(ErrAtomicOperationFailed,
			fmt.Sprintf("payment %s not in registry", paymentID))
	}
	ev := ledger.NewEvent(p, t, metadata)
	head, _, err := o.ldgr.Head(paymentID)
	if err != nil {
		return err
	}
	ev.PreviousEvent = &head
	return o.ldgr.Append(ctx, ev)
}

// ProcessWindow runs the full clearing flow for a window: close, collect,
// net, generate instructions, initiate settlement, open the successor. The
// two-phase commit deadline bounds the whole run; on failure the window ends
// RolledBack with every nostro lock released or compensated.
func (o *Orchestrator) ProcessWindow(ctx context.Context, windowID int64) error {
	if err := o.windows.AcquireLock(windowID, o.holder); err != nil {
		return err
	}
	defer o.windows.ReleaseLock(windowID, o.holder)

	ctx, cancel := context.WithTimeout(ctx, o.params.TwoPhaseTimeout)
	defer cancel()

	w, err := o.windows.Get(windowID)
	if err != nil {
		return err
	}

	run := func() error {
		if err := o.stageWindowClose(ctx, w); err != nil {
			return err
		}
		obligations, err := o.stageObligationCollection(w)
		if err != nil {
			return err
		}
		_, transfers, err := o.stageNettingCalculation(ctx, w, obligations)
		if err != nil {
			return err
		}
		instructions, err := o.stageInstructionGeneration(w, transfers)
		if err != nil {
			return err
		}
		if err := o.stageSettlementInitiation(ctx, w, obligations, instructions); err != nil {
			return err
		}
		if err := o.stageWindowOpen(w); err != nil {
			return err
		}
		return nil
	}

	if err := run(); err != nil {
		o.failWindow(windowID, err)
		return clearingError(ErrAtomicOperationFailed,
			fmt.Sprintf("window %d: %v", windowID, err))
	}

	if err := o.windows.SetStatus(windowID, WindowCompleted); err != nil {
		return err
	}
	log.Infof("Window %d completed", windowID)
	return nil
}

// failWindow marks the window Failed, walks every operation's rollback in
// reverse, and leaves the window RolledBack.
func (o *Orchestrator) failWindow(windowID int64, cause error) {
	log.Errorf("Window %d failed, starting rollback walk: %v", windowID, cause)
	if err := o.windows.SetStatus(windowID, WindowFailed); err != nil {
		log.Errorf("Window %d: status update failed: %v", windowID, err)
	}
	o.oplog.RollbackWindow(windowID, cause.Error())
	if err := o.windows.SetStatus(windowID, WindowRolledBack); err != nil {
		log.Errorf("Window %d: status update failed: %v", windowID, err)
	}
}

// stageWindowClose moves Open -> Closing -> Closed with the grace period in
// between. Rollback restores the window to Open.
func (o *Orchestrator) stageWindowClose(ctx context.Context, w *Window) error {
	op := o.oplog.Begin(w.WindowID, OpWindowClose)

	snapshot := struct {
		WindowID int64        `json:"window_id"`
		Status   WindowStatus `json:"status"`
	}{WindowID: w.WindowID, Status: w.Status}

	windowID := w.WindowID
	if err := o.oplog.Checkpoint(op, "window_snapshot", snapshot, func() error {
		return o.windows.SetStatus(windowID, WindowOpen)
	}); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	if err := o.windows.SetStatus(w.WindowID, WindowClosing); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	// Grace period: in-flight obligations may still land.
	select {
	case <-time.After(w.GracePeriod):
	case <-ctx.Done():
		o.oplog.Fail(op, ctx.Err())
		return ctx.Err()
	}

	if err := o.windows.SetStatus(w.WindowID, WindowClosed); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	o.oplog.Commit(op)
	return nil
}

// stageObligationCollection snapshots the obligation set for processing.
// Rollback drops the collected set back to Pending.
func (o *Orchestrator) stageObligationCollection(w *Window) ([]*Obligation, error) {
	op := o.oplog.Begin(w.WindowID, OpObligationCollection)

	if err := o.windows.SetStatus(w.WindowID, WindowProcessing); err != nil {
		o.oplog.Fail(op, err)
		return nil, err
	}

	obligations := w.Obligations()
	ids := make([]uuid.UUID, len(obligations))
	for i, ob := range obligations {
		ids[i] = ob.ObligationID
	}

	if err := o.oplog.Checkpoint(op, "obligation_set", ids, func() error {
		for _, ob := range obligations {
			ob.Status = ObligationPending
		}
		return nil
	}); err != nil {
		o.oplog.Fail(op, err)
		return nil, err
	}

	o.oplog.Commit(op)
	log.Infof("Window %d: collected %d obligations", w.WindowID, len(obligations))
	return obligations, nil
}

// stageNettingCalculation builds the per-currency graphs, eliminates cycles
// and computes net transfers. Rollback discards the computed positions
// (obligations return to Pending).
func (o *Orchestrator) stageNettingCalculation(ctx context.Context, w *Window, obligations []*Obligation) (*netting.Engine, []*netting.NetTransfer, error) {
	op := o.oplog.Begin(w.WindowID, OpNettingCalculation)

	engine := netting.NewEngine(w.WindowID)
	for _, ob := range obligations {
		if err := engine.AddObligation(ob.Currency, ob.DebtorBank, ob.CreditorBank, ob.Amount, ob.ObligationID); err != nil {
			o.oplog.Fail(op, err)
			return nil, nil, err
		}
	}
	stats := engine.Stats()
	if err := o.oplog.Checkpoint(op, "graph_built", stats, nil); err != nil {
		o.oplog.Fail(op, err)
		return nil, nil, err
	}

	optStats, err := engine.Optimize()
	if err != nil {
		o.oplog.Fail(op, err)
		return nil, nil, err
	}
	if err := o.oplog.Checkpoint(op, "optimized", optStats, nil); err != nil {
		o.oplog.Fail(op, err)
		return nil, nil, err
	}

	transfers := engine.Transfers()
	for _, ob := range obligations {
		ob.Status = ObligationNetted
	}

	efficiency := engine.Efficiency()
	gross := money.Zero
	for _, ob := range obligations {
		gross = gross.Add(ob.Amount)
	}
	net := money.Zero
	for _, t := range transfers {
		net = net.Add(t.Amount)
	}
	metrics := WindowMetrics{
		ObligationCount:  len(obligations),
		GrossAmount:      gross,
		NetAmount:        net,
		Efficiency:       efficiency,
		LowEfficiency:    efficiency < o.params.MinNettingEfficiency,
		CyclesEliminated: optStats.CyclesEliminated,
		TransferCount:    len(transfers),
	}
	o.windows.SetMetrics(w.WindowID, metrics)
	if metrics.LowEfficiency {
		log.Warnf("Window %d: netting efficiency %.4f below threshold %.4f; flagged for gross settlement review",
			w.WindowID, efficiency, o.params.MinNettingEfficiency)
	}

	obs := obligations
	if err := o.oplog.Checkpoint(op, "positions_computed", metrics, func() error {
		for _, ob := range obs {
			ob.Status = ObligationPending
		}
		return nil
	}); err != nil {
		o.oplog.Fail(op, err)
		return nil, nil, err
	}

	// Netting approval: every payment in the window advances.
	for _, ob := range obligations {
		if err := o.appendEvent(ctx, ob.PaymentID, protocol.StateNettingApproved, ""); err != nil {
			o.oplog.Fail(op, err)
			return nil, nil, err
		}
	}

	o.oplog.Commit(op)
	log.Infof("Window %d: netted %d obligations into %d transfers (efficiency %.4f)",
		w.WindowID, len(obligations), len(transfers), efficiency)
	return engine, transfers, nil
}

// stageInstructionGeneration persists one settlement instruction per net
// transfer. Rollback deletes them.
func (o *Orchestrator) stageInstructionGeneration(w *Window, transfers []*netting.NetTransfer) ([]*adapter.SettlementInstruction, error) {
	op := o.oplog.Begin(w.WindowID, OpInstructionGeneration)

	instructions := make([]*adapter.SettlementInstruction, 0, len(transfers))
	ids := make([]uuid.UUID, 0, len(transfers))

	o.mtx.Lock()
	for _, t := range transfers {
		si := &adapter.SettlementInstruction{
			InstructionID: protocol.NewID(),
			WindowID:      w.WindowID,
			FromBank:      t.FromBank,
			ToBank:        t.ToBank,
			Amount:        t.Amount,
			Currency:      t.Currency,
			Status:        adapter.InstructionPending,
			Priority:      adapter.PriorityNormal,
			CreatedAt:     time.Now().UTC(),
		}
		o.instructions[si.InstructionID] = si
		instructions = append(instructions, si)
		ids = append(ids, si.InstructionID)
	}
	o.mtx.Unlock()

	if err := o.oplog.Checkpoint(op, "instructions_persisted", ids, func() error {
		o.mtx.Lock()
		defer o.mtx.Unlock()
		for _, id := range ids {
			delete(o.instructions, id)
		}
		return nil
	}); err != nil {
		o.oplog.Fail(op, err)
		return nil, err
	}

	o.oplog.Commit(op)
	return instructions, nil
}

// stageSettlementInitiation locks debtor funds and dispatches every
// instruction. Rollback issues compensating reversals for instructions the
// rail already accepted and releases the remaining locks.
func (o *Orchestrator) stageSettlementInitiation(ctx context.Context, w *Window, obligations []*Obligation, instructions []*adapter.SettlementInstruction) error {
	op := o.oplog.Begin(w.WindowID, OpSettlementInitiation)

	if err := o.windows.SetStatus(w.WindowID, WindowSettling); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	var dispatched []*adapter.SettlementInstruction
	rollback := func() error {
		var firstErr error
		for _, si := range dispatched {
			if _, err := o.CreateCompensation(ctx, si); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		o.releaseWindowLocks(instructions)
		o.mtx.Lock()
		for _, si := range instructions {
			if si.Status == adapter.InstructionDispatched || si.Status == adapter.InstructionPending {
				si.Status = adapter.InstructionRolledBack
			}
		}
		o.mtx.Unlock()
		return firstErr
	}
	if err := o.oplog.Checkpoint(op, "instructions_dispatched", len(instructions), rollback); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	// Prepare phase: every payment in the window enters SettlementPending.
	for _, ob := range obligations {
		if err := o.appendEvent(ctx, ob.PaymentID, protocol.StateSettlementPending, ""); err != nil {
			o.oplog.Fail(op, err)
			o.oplog.Rollback(op, err.Error())
			return err
		}
	}

	for i, si := range instructions {
		if err := o.dispatchInstruction(ctx, si); err != nil {
			failErr := clearingError(ErrAtomicOperationFailed,
				fmt.Sprintf("window %d: instruction %d/%d (%s): %v",
					w.WindowID, i+1, len(instructions), si.InstructionID, err))
			o.oplog.Fail(op, failErr)
			o.oplog.Rollback(op, failErr.Error())

			// Full rollback: the window's payments end SettlementFailed.
			for _, ob := range obligations {
				if evErr := o.appendEvent(ctx, ob.PaymentID, protocol.StateSettlementFailed,
					failErr.Error()); evErr != nil {
					log.Errorf("Window %d: settlement-failed event for payment %s: %v",
						w.WindowID, ob.PaymentID, evErr)
				}
				o.registry.RecordTerminal(ob.PaymentID, protocol.StateSettlementFailed)
			}
			return failErr
		}
		dispatched = append(dispatched, si)
	}

	// Commit phase: consume locks, finalize instructions and payments.
	for _, si := range dispatched {
		if err := o.finalizeInstruction(si); err != nil {
			log.Errorf("Window %d: finalize instruction %s: %v", w.WindowID, si.InstructionID, err)
		}
	}
	for _, ob := range obligations {
		ob.Status = ObligationSettled
		if err := o.appendEvent(ctx, ob.PaymentID, protocol.StateSettlementFinalized, ""); err != nil {
			o.oplog.Fail(op, err)
			o.oplog.Rollback(op, err.Error())
			return err
		}
	}

	if err := o.generateProofs(ctx, w, obligations); err != nil {
		o.oplog.Fail(op, err)
		o.oplog.Rollback(op, err.Error())
		return err
	}

	o.oplog.Commit(op)
	return nil
}

// dispatchInstruction locks debtor funds and sends one instruction through
// the adapter manager.
func (o *Orchestrator) dispatchInstruction(ctx context.Context, si *adapter.SettlementInstruction) error {
	acct, err := o.accounts.Lookup(si.FromBank, si.Currency)
	if err != nil {
		return err
	}
	l, err := o.accounts.AcquireLock(acct.AccountID, si.InstructionID, si.Amount)
	if err != nil {
		return err
	}

	o.mtx.Lock()
	o.locks[si.InstructionID] = lockRef{accountID: acct.AccountID, lockID: l.LockID}
	o.mtx.Unlock()

	req := &adapter.TransferRequest{
		TransferID:  protocol.NewID(),
		Instruction: si,
		CorridorID:  corridorID(si),
		CreatedAt:   time.Now().UTC(),
	}

	resp, err := o.manager.Send(ctx, req)
	if err != nil {
		o.releaseLock(si.InstructionID)
		return err
	}
	if resp.Status == adapter.StatusRejected || resp.Status == adapter.StatusFailed {
		o.releaseLock(si.InstructionID)
		return &adapter.BankAPIError{Status: 502, Message: resp.Message}
	}

	o.mtx.Lock()
	si.Status = adapter.InstructionDispatched
	si.BankRef = resp.BankRef
	o.mtx.Unlock()
	return nil
}

// finalizeInstruction consumes the fund lock and marks the instruction
// complete.
func (o *Orchestrator) finalizeInstruction(si *adapter.SettlementInstruction) error {
	o.mtx.Lock()
	ref, ok := o.locks[si.InstructionID]
	o.mtx.Unlock()
	if ok {
		if err := o.accounts.ConsumeLock(ref.accountID, ref.lockID); err != nil {
			return err
		}
	}

	// Credit the receiving bank's nostro where we hold one.
	if acct, err := o.accounts.Lookup(si.ToBank, si.Currency); err == nil {
		if err := o.accounts.Credit(acct.AccountID, si.Amount); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	o.mtx.Lock()
	si.Status = adapter.InstructionCompleted
	si.ExecutedAt = &now
	o.mtx.Unlock()
	return nil
}

// generateProofs cuts a quorum-signed checkpoint covering the window and
// appends ProofGenerated for every payment. Without quorum the transition is
// refused.
func (o *Orchestrator) generateProofs(ctx context.Context, w *Window, obligations []*Obligation) error {
	parties := make(map[string]struct{})
	for _, ob := range obligations {
		parties[ob.DebtorBank] = struct{}{}
		parties[ob.CreditorBank] = struct{}{}
	}
	authorized := make([]string, 0, len(parties))
	for p := range parties {
		authorized = append(authorized, p)
	}

	win, err := o.windows.Get(w.WindowID)
	if err != nil {
		return err
	}
	currency := ""
	if len(obligations) > 0 {
		currency = obligations[0].Currency
	}
	summary := &ledger.BatchSummary{
		CorridorID:       w.Region,
		Currency:         currency,
		PaymentCount:     uint32(len(obligations)),
		BankCount:        uint32(len(parties)),
		GrossAmount:      win.Metrics.GrossAmount,
		NetAmount:        win.Metrics.NetAmount,
		EfficiencyBps:    uint32(win.Metrics.Efficiency * 10000),
		NetTransferCount: uint32(win.Metrics.TransferCount),
	}

	ckpt, err := o.ldgr.Checkpoint(ctx, authorized, summary)
	if err != nil {
		return err
	}

	quorum := o.ldgr.Quorum(o.params.ValidatorQuorum.Denominator)
	if len(ckpt.ValidatorSigs) < quorum {
		return ledger.LedgerError{
			ErrorCode: ledger.ErrQuorumNotMet,
			Description: fmt.Sprintf("window %d: checkpoint %s has %d validator signatures, quorum %d",
				w.WindowID, ckpt.CheckpointID, len(ckpt.ValidatorSigs), quorum),
		}
	}

	for _, ob := range obligations {
		meta := fmt.Sprintf(`{"checkpoint_height":%d}`, ckpt.Height)
		if err := o.appendEvent(ctx, ob.PaymentID, protocol.StateProofGenerated, meta); err != nil {
			return err
		}
		o.registry.RecordTerminal(ob.PaymentID, protocol.StateProofGenerated)
	}
	return nil
}

// stageWindowOpen opens the successor window for the region. Rollback
// moves it to Scheduled, which frees the region's open slot; the window row
// itself is not deleted.
func (o *Orchestrator) stageWindowOpen(w *Window) error {
	op := o.oplog.Begin(w.WindowID, OpWindowOpen)

	next, err := o.windows.Open(w.Region, w.Cutoff.Sub(w.Start))
	if err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	nextID := next.WindowID
	if err := o.oplog.Checkpoint(op, "new_window", nextID, func() error {
		return o.windows.SetStatus(nextID, WindowScheduled)
	}); err != nil {
		o.oplog.Fail(op, err)
		return err
	}

	o.oplog.Commit(op)
	return nil
}

// CreateCompensation builds and dispatches the compensating reversal for an
// instruction whose funds already moved. The reversal runs through the
// normal dispatch path at urgent priority; the original row keeps its
// terminal state.
func (o *Orchestrator) CreateCompensation(ctx context.Context, original *adapter.SettlementInstruction) (*adapter.SettlementInstruction, error) {
	origID := original.InstructionID
	comp := &adapter.SettlementInstruction{
		InstructionID:   protocol.NewID(),
		WindowID:        original.WindowID,
		FromBank:        original.ToBank,
		ToBank:          original.FromBank,
		Amount:          original.Amount,
		Currency:        original.Currency,
		Status:          adapter.InstructionPending,
		Priority:        adapter.PriorityUrgent,
		CompensationFor: &origID,
		CreatedAt:       time.Now().UTC(),
	}

	o.mtx.Lock()
	o.instructions[comp.InstructionID] = comp
	o.mtx.Unlock()

	log.Warnf("Compensating reversal %s created for instruction %s (%s %s %s->%s)",
		comp.InstructionID, origID, comp.Amount, comp.Currency, comp.FromBank, comp.ToBank)

	req := &adapter.TransferRequest{
		TransferID:  protocol.NewID(),
		Instruction: comp,
		CorridorID:  corridorID(comp),
		CreatedAt:   time.Now().UTC(),
	}
	resp, err := o.manager.Send(ctx, req)
	if err != nil {
		// The DLQ now owns the retry; the compensation row stays
		// Pending until redelivery succeeds.
		return comp, nil
	}
	o.mtx.Lock()
	comp.Status = adapter.InstructionDispatched
	comp.BankRef = resp.BankRef
	o.mtx.Unlock()
	return comp, nil
}

// releaseLock releases the fund lock behind one instruction, if any.
func (o *Orchestrator) releaseLock(instructionID uuid.UUID) {
	o.mtx.Lock()
	ref, ok := o.locks[instructionID]
	delete(o.locks, instructionID)
	o.mtx.Unlock()
	if ok {
		if err := o.accounts.ReleaseLock(ref.accountID, ref.lockID); err != nil {
			log.Errorf("Release lock for instruction %s: %v", instructionID, err)
		}
	}
}

// releaseWindowLocks releases every still-active lock behind the given
// instructions.
func (o *Orchestrator) releaseWindowLocks(instructions []*adapter.SettlementInstruction) {
	for _, si := range instructions {
		o.releaseLock(si.InstructionID)
	}
}

// HandleConfirmation processes an asynchronous rail confirmation. Duplicate
// deliveries are idempotent by instruction id.
func (o *Orchestrator) HandleConfirmation(instructionID uuid.UUID, status adapter.TransferStatus, bankRef string) error {
	o.mtx.Lock()
	si, ok := o.instructions[instructionID]
	o.mtx.Unlock()
	if !ok {
		return clearingError(ErrCheckpointNotFound,
			fmt.Sprintf("confirmation for unknown instruction %s", instructionID))
	}

	switch status {
	case adapter.StatusCompleted:
		if si.Status == adapter.InstructionCompleted {
			return nil
		}
		return o.finalizeInstruction(si)
	case adapter.StatusFailed, adapter.StatusRejected:
		o.releaseLock(instructionID)
		o.mtx.Lock()
		if si.Status != adapter.InstructionCompleted {
			si.Status = adapter.InstructionFailed
		}
		o.mtx.Unlock()
		return nil
	default:
		// Pending / Accepted: nothing to change yet.
		return nil
	}
}

// RetrySettlement re-dispatches a failed or rolled-back instruction; any
// other status is refused.
func (o *Orchestrator) RetrySettlement(ctx context.Context, instructionID uuid.UUID) error {
	o.mtx.Lock()
	si, ok := o.instructions[instructionID]
	o.mtx.Unlock()
	if !ok {
		return clearingError(ErrCheckpointNotFound,
			fmt.Sprintf("instruction %s not found", instructionID))
	}
	if si.Status != adapter.InstructionFailed && si.Status != adapter.InstructionRolledBack {
		return clearingError(ErrAtomicOperationFailed,
			fmt.Sprintf("instruction %s is %s; only Failed or RolledBack may be retried",
				instructionID, si.Status))
	}

	o.mtx.Lock()
	si.Status = adapter.InstructionPending
	o.mtx.Unlock()

	if err := o.dispatchInstruction(ctx, si); err != nil {
		o.mtx.Lock()
		si.Status = adapter.InstructionFailed
		o.mtx.Unlock()
		return err
	}
	return o.finalizeInstruction(si)
}

// SweepExpiredLocks releases overdue fund locks and fails the settlements
// that never completed. Runs on a timer task in the daemon.
func (o *Orchestrator) SweepExpiredLocks() {
	for _, l := range o.accounts.SweepExpired() {
		o.mtx.Lock()
		si, ok := o.instructions[l.InstructionID]
		if ok && si.Status != adapter.InstructionCompleted {
			si.Status = adapter.InstructionFailed
		}
		delete(o.locks, l.InstructionID)
		o.mtx.Unlock()
		if ok {
			log.Warnf("Instruction %s failed: fund lock %s expired", l.InstructionID, l.LockID)
		}
	}
}

// corridorID derives the corridor key for an instruction.
func corridorID(si *adapter.SettlementInstruction) string {
	return fmt.Sprintf("%s-%s-%s", si.FromBank, si.ToBank, si.Currency)
}
