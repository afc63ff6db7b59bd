package clearing_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/internal/paytest"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessWindowHappyPath(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	debtor := paytest.NewBank(t, "BANKGB2L", "GB29NWBK60161331926819")
	creditor := paytest.NewBank(t, "CHASUS33", "US64SVBKUS6S3300958879")
	h.FundAccount(t, "BANKGB2L", "USD", "1000000.00")
	h.FundAccount(t, "CHASUS33", "USD", "1000000.00")

	p := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Amount: "1000.00"})
	res, err := h.Pipeline.Submit(ctx, p)
	require.NoError(t, err)
	require.Equal(t, clearing.SubmitAccepted, res.Status)

	require.NoError(t, h.Orchestrator.ProcessWindow(ctx, res.WindowID))

	w, err := h.Windows.Get(res.WindowID)
	require.NoError(t, err)
	assert.Equal(t, clearing.WindowCompleted, w.Status)

	// Every constituent atomic operation committed.
	stats := h.OpLog.WindowStats(res.WindowID)
	assert.Equal(t, stats.Total, stats.Committed)
	assert.Zero(t, stats.Failed)

	// Payment ended terminal with a proof.
	_, state, err := h.Ledger.Head(p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateProofGenerated, state)

	// Debtor's balance moved, creditor's grew.
	dAcct, err := h.Accounts.Lookup("BANKGB2L", "USD")
	require.NoError(t, err)
	assert.True(t, dAcct.LedgerBalance.Equal(money.MustParse("999000.00")))
	cAcct, err := h.Accounts.Lookup("CHASUS33", "USD")
	require.NoError(t, err)
	assert.True(t, cAcct.LedgerBalance.Equal(money.MustParse("1001000.00")))

	// A successor window is open for the region.
	next, ok := h.Windows.CurrentOpen("TESTREGION")
	require.True(t, ok)
	assert.NotEqual(t, res.WindowID, next.WindowID)
}

// TestProcessWindowRollback drives ten obligations into a window and fails
// settlement on the seventh instruction: the six dispatched transfers get
// compensating reversals, obligations return to Pending, and the window ends
// RolledBack with no account overdrawn.
func TestProcessWindowRollback(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	const n = 10
	var payments []*protocol.PaymentInstruction
	var windowID int64
	for i := 0; i < n; i++ {
		debtor := paytest.NewBank(t, fmt.Sprintf("DBTRGB%02d", i), fmt.Sprintf("GB%02dDEBT", i))
		creditor := paytest.NewBank(t, fmt.Sprintf("CRDTUS%02d", i), fmt.Sprintf("US%02dCRED", i))
		h.FundAccount(t, debtor.BIC, "USD", "10000.00")

		p := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Amount: "100.00"})
		res, err := h.Pipeline.Submit(ctx, p)
		require.NoError(t, err)
		require.Equal(t, clearing.SubmitAccepted, res.Status)
		payments = append(payments, p)
		windowID = res.WindowID
	}

	// The rail accepts six transfers, then goes down with a 503.
	h.Mock.FailAfter(6, &adapter.BankAPIError{Status: 503, Message: "service unavailable"})

	err := h.Orchestrator.ProcessWindow(ctx, windowID)
	require.Error(t, err)
	assert.True(t, clearing.IsErrorCode(err, clearing.ErrAtomicOperationFailed))

	// Window terminal state.
	w, werr := h.Windows.Get(windowID)
	require.NoError(t, werr)
	assert.Equal(t, clearing.WindowRolledBack, w.Status)

	// Obligations returned to Pending by the netting rollback.
	for _, ob := range w.Obligations() {
		assert.Equal(t, clearing.ObligationPending, ob.Status)
	}

	// Exactly six compensating reversals reference originals.
	comps := 0
	for _, si := range h.Orchestrator.Instructions() {
		if si.IsCompensation() {
			comps++
			assert.Equal(t, adapter.PriorityUrgent, si.Priority)
		}
	}
	assert.Equal(t, 6, comps)

	// Rollback walk left every operation RolledBack or Failed.
	stats := h.OpLog.WindowStats(windowID)
	assert.Zero(t, stats.Committed)
	assert.Zero(t, stats.InProgress)

	// No nostro account is overdrawn and no lock leaks.
	for _, acct := range h.Accounts.Accounts() {
		avail, err := h.Accounts.AvailableBalance(acct.AccountID)
		require.NoError(t, err)
		assert.False(t, avail.IsNegative(), "account %s overdrawn", acct.Bank)
	}

	// The window's payments are terminal.
	for _, p := range payments {
		_, state, err := h.Ledger.Head(p.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, protocol.StateSettlementFailed, state)
	}
}

func TestWindowLockPreventsConcurrentProcessing(t *testing.T) {
	h := paytest.NewHarness(t)

	w, err := h.Windows.Open("OTHER", 0)
	require.NoError(t, err)
	require.NoError(t, h.Windows.AcquireLock(w.WindowID, "someone-else"))

	err = h.Orchestrator.ProcessWindow(context.Background(), w.WindowID)
	assert.True(t, clearing.IsErrorCode(err, clearing.ErrWindowLocked))
}

func TestManualRetryOnlyForTerminalFailures(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	debtor := paytest.NewBank(t, "BANKGB2L", "GB29NWBK60161331926819")
	creditor := paytest.NewBank(t, "CHASUS33", "US64SVBKUS6S3300958879")
	h.FundAccount(t, "BANKGB2L", "USD", "10000.00")

	p := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Amount: "100.00"})
	res, err := h.Pipeline.Submit(ctx, p)
	require.NoError(t, err)

	// Rail down: the single instruction fails and the window rolls back.
	h.Mock.FailAfter(0, &adapter.BankAPIError{Status: 503, Message: "down"})
	require.Error(t, h.Orchestrator.ProcessWindow(ctx, res.WindowID))

	var rolled *adapter.SettlementInstruction
	for _, si := range h.Orchestrator.Instructions() {
		if !si.IsCompensation() {
			rolled = si
		}
	}
	// Rolled-back instructions were deleted by the generation rollback;
	// manual retry of an unknown instruction is refused.
	if rolled == nil {
		err := h.Orchestrator.RetrySettlement(ctx, protocol.NewID())
		assert.True(t, clearing.IsErrorCode(err, clearing.ErrCheckpointNotFound))
		return
	}

	// Rail recovered: retry succeeds only from Failed/RolledBack.
	h.Mock.FailAfter(0, nil)
	if rolled.Status == adapter.InstructionFailed || rolled.Status == adapter.InstructionRolledBack {
		assert.NoError(t, h.Orchestrator.RetrySettlement(ctx, rolled.InstructionID))
	}
}

func TestDuplicateSubmissionIsIdempotent(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	debtor := paytest.NewBank(t, "BANKGB2L", "GB29NWBK60161331926819")
	creditor := paytest.NewBank(t, "CHASUS33", "US64SVBKUS6S3300958879")
	h.FundAccount(t, "BANKGB2L", "USD", "10000.00")

	p := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Amount: "100.00"})
	res, err := h.Pipeline.Submit(ctx, p)
	require.NoError(t, err)
	require.Equal(t, clearing.SubmitAccepted, res.Status)

	require.NoError(t, h.Orchestrator.ProcessWindow(ctx, res.WindowID))

	eventsBefore, err := h.Ledger.PaymentEvents(p.PaymentID)
	require.NoError(t, err)

	// Resubmitting the settled payment yields its terminal status and no
	// new ledger events.
	dup, err := h.Pipeline.Submit(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, clearing.SubmitDuplicate, dup.Status)
	assert.Equal(t, protocol.StateProofGenerated, dup.Terminal)

	eventsAfter, err := h.Ledger.PaymentEvents(p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, len(eventsBefore), len(eventsAfter))
}

// TestReplaySecondSubmission covers the replay scenario: a second payment
// from the same sender reusing nonce 5 is refused before it reaches the
// ledger, leaving exactly one initiation event for that nonce.
func TestReplaySecondSubmission(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	debtor := paytest.NewBank(t, "BANKGB2L", "GB29NWBK60161331926819")
	creditor := paytest.NewBank(t, "CHASUS33", "US64SVBKUS6S3300958879")
	h.FundAccount(t, "BANKGB2L", "USD", "10000.00")

	sender := debtor.Key

	p1 := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Nonce: 5, Sender: sender})
	res1, err := h.Pipeline.Submit(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, clearing.SubmitAccepted, res1.Status)

	p2 := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{Nonce: 5, Sender: sender})
	res2, err := h.Pipeline.Submit(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, clearing.SubmitRejected, res2.Status)
	assert.Contains(t, res2.Reason, "nonce")

	// The replayed payment never touched the ledger.
	events, err := h.Ledger.PaymentEvents(p2.PaymentID)
	require.NoError(t, err)
	assert.Empty(t, events)

	// The original chain holds the only initiation event.
	events1, err := h.Ledger.PaymentEvents(p1.PaymentID)
	require.NoError(t, err)
	require.NotEmpty(t, events1)
	assert.Equal(t, protocol.StatePaymentInitiated, events1[0].Type)
}
