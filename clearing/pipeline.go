package clearing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// PaymentRegistry holds accepted payment instructions by id so downstream
// stages can rebuild ledger events and external messages. Relationships are
// data: the registry never hands out back-pointers into windows or events.
type PaymentRegistry struct {
	mtx      sync.RWMutex
	payments map[uuid.UUID]*protocol.PaymentInstruction
	guard    *protocol.ReplayGuard
}

// NewPaymentRegistry creates a registry sharing the given replay guard.
func NewPaymentRegistry(guard *protocol.ReplayGuard) *PaymentRegistry {
	return &PaymentRegistry{
		payments: make(map[uuid.UUID]*protocol.PaymentInstruction),
		guard:    guard,
	}
}

// Put stores a payment.
func (r *PaymentRegistry) Put(p *protocol.PaymentInstruction) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.payments[p.PaymentID] = p
}

// Get returns a payment by id.
func (r *PaymentRegistry) Get(id uuid.UUID) (*protocol.PaymentInstruction, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	p, ok := r.payments[id]
	return p, ok
}

// RecordTerminal forwards a terminal outcome to the replay guard's
// idempotency cache.
func (r *PaymentRegistry) RecordTerminal(id uuid.UUID, s protocol.State) {
	r.guard.RecordTerminal(id, s)
}

// SubmitStatus is the externally visible outcome of a submission.
type SubmitStatus string

const (
	// SubmitAccepted means the payment entered the clearing pipeline.
	SubmitAccepted SubmitStatus = "Accepted"

	// SubmitDuplicate means the identical payment was seen before; the
	// original's terminal status is returned alongside.
	SubmitDuplicate SubmitStatus = "Duplicate"

	// SubmitRejected means validation, compliance or replay protection
	// refused the payment.
	SubmitRejected SubmitStatus = "Rejected"
)

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	Status       SubmitStatus
	PaymentID    uuid.UUID
	ObligationID uuid.UUID
	WindowID     int64
	Terminal     protocol.State
	Reason       string
}

// Pipeline is the payment intake path: structural validation, replay
// protection, compliance screening, ledger event chain through
// NettingProposed, and obligation booking into the region's open window.
type Pipeline struct {
	ldgr     *ledger.Ledger
	windows  *Windows
	registry *PaymentRegistry
	guard    *protocol.ReplayGuard
	screener protocol.Screener
	region   func(p *protocol.PaymentInstruction) string

	now func() time.Time
}

// NewPipeline wires the intake path. regionFn maps a payment to its clearing
// region; nil uses the debtor BIC country.
func NewPipeline(ldgr *ledger.Ledger, windows *Windows, registry *PaymentRegistry,
	guard *protocol.ReplayGuard, screener protocol.Screener,
	regionFn func(p *protocol.PaymentInstruction) string) *Pipeline {

	if regionFn == nil {
		regionFn = func(p *protocol.PaymentInstruction) string {
			if len(p.Debtor.BIC) >= 6 {
				return p.Debtor.BIC[4:6]
			}
			return "GLOBAL"
		}
	}
	return &Pipeline{
		ldgr:     ldgr,
		windows:  windows,
		registry: registry,
		guard:    guard,
		screener: screener,
		region:   regionFn,
		now:      time.Now,
	}
}

// Submit runs one payment through intake. Duplicates of a payment that
// already reached a terminal state return that state without touching the
// ledger. Replay-guard refusals return before any ledger write; every later
// rejection leaves a terminal PaymentRejected event.
func (pl *Pipeline) Submit(ctx context.Context, p *protocol.PaymentInstruction) (*SubmitResult, error) {
	// Idempotency: an identical resubmission answers with the original's
	// terminal status and produces no new event.
	if terminal, ok := pl.guard.TerminalState(p.PaymentID); ok {
		return &SubmitResult{
			Status:    SubmitDuplicate,
			PaymentID: p.PaymentID,
			Terminal:  terminal,
		}, nil
	}
	if _, _, err := pl.ldgr.Head(p.PaymentID); err == nil {
		return &SubmitResult{
			Status:    SubmitDuplicate,
			PaymentID: p.PaymentID,
		}, nil
	}

	// Replay protection runs before the ledger sees the payment: a
	// replayed submission must not add a second initiation event for the
	// same sender nonce.
	if err := pl.guard.CheckAndRecord(p); err != nil {
		log.Infof("Payment %s refused before intake: %v", p.PaymentID, err)
		return &SubmitResult{
			Status:    SubmitRejected,
			PaymentID: p.PaymentID,
			Reason:    err.Error(),
		}, nil
	}

	pl.registry.Put(p)

	// Initiation is recorded before validation so every rejection leaves
	// a terminal event in the chain.
	if err := pl.appendFirst(ctx, p); err != nil {
		return nil, err
	}

	if err := p.Validate(pl.now()); err != nil {
		return pl.reject(ctx, p, err)
	}
	if err := pl.appendNext(ctx, p, protocol.StatePaymentValidated, ""); err != nil {
		return nil, err
	}

	verdict, err := pl.screener.Screen(ctx, p)
	if err != nil {
		return pl.reject(ctx, p, fmt.Errorf("compliance screening unavailable: %w", err))
	}
	if !verdict.Allowed {
		return pl.reject(ctx, p, verdict.RejectError(p))
	}
	if err := pl.appendNext(ctx, p, protocol.StateEligibilityConfirmed, ""); err != nil {
		return nil, err
	}

	region := pl.region(p)
	w, ok := pl.windows.CurrentOpen(region)
	if !ok {
		opened, err := pl.windows.Open(region, time.Hour)
		if err != nil {
			return nil, err
		}
		w = opened
	}

	ob, err := pl.windows.AddObligation(w.WindowID, p.PaymentID,
		p.Debtor.BIC, p.Creditor.BIC, p.Currency, p.Amount, false)
	if err != nil {
		return pl.reject(ctx, p, err)
	}

	meta := fmt.Sprintf(`{"window_id":%d,"obligation_id":"%s"}`, w.WindowID, ob.ObligationID)
	if err := pl.appendNext(ctx, p, protocol.StateNettingProposed, meta); err != nil {
		return nil, err
	}

	return &SubmitResult{
		Status:       SubmitAccepted,
		PaymentID:    p.PaymentID,
		ObligationID: ob.ObligationID,
		WindowID:     w.WindowID,
	}, nil
}

func (pl *Pipeline) appendFirst(ctx context.Context, p *protocol.PaymentInstruction) error {
	ev := ledger.NewEvent(p, protocol.StatePaymentInitiated, "")
	return pl.ldgr.Append(ctx, ev)
}

func (pl *Pipeline) appendNext(ctx context.Context, p *protocol.PaymentInstruction, t ledger.EventType, metadata string) error {
	head, _, err := pl.ldgr.Head(p.PaymentID)
	if err != nil {
		return err
	}
	ev := ledger.NewEvent(p, t, metadata)
	ev.PreviousEvent = &head
	return pl.ldgr.Append(ctx, ev)
}

// reject records the terminal rejection event and remembers the outcome for
// idempotent replays.
func (pl *Pipeline) reject(ctx context.Context, p *protocol.PaymentInstruction, cause error) (*SubmitResult, error) {
	if err := pl.appendNext(ctx, p, protocol.StatePaymentRejected, cause.Error()); err != nil {
		return nil, err
	}
	pl.guard.RecordTerminal(p.PaymentID, protocol.StatePaymentRejected)
	log.Infof("Payment %s rejected: %v", p.PaymentID, cause)
	return &SubmitResult{
		Status:    SubmitRejected,
		PaymentID: p.PaymentID,
		Terminal:  protocol.StatePaymentRejected,
		Reason:    cause.Error(),
	}, nil
}
