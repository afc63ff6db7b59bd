// Package test provides end-to-end integration tests for the settlement
// core, driving real payments through intake, clearing, netting, settlement
// and proof generation against the in-memory stack.
package test

import (
	"context"
	"testing"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/internal/paytest"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHappyPathSettlement drives one 1000.00 USD payment BANKGB2L→CHASUS33
// through the complete lifecycle and verifies the full event sequence, the
// single net transfer, the quorum-signed checkpoint and an untouched DLQ.
func TestHappyPathSettlement(t *testing.T) {
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

	dlqBefore := h.DLQ.Size("BANKGB2L-CHASUS33-USD")

	require.NoError(t, h.Orchestrator.ProcessWindow(ctx, res.WindowID))

	// The full event sequence, in order, as an unbroken chain.
	events, err := h.Ledger.PaymentEvents(p.PaymentID)
	require.NoError(t, err)
	wantSequence := []protocol.State{
		protocol.StatePaymentInitiated,
		protocol.StatePaymentValidated,
		protocol.StateEligibilityConfirmed,
		protocol.StateNettingProposed,
		protocol.StateNettingApproved,
		protocol.StateSettlementPending,
		protocol.StateSettlementFinalized,
		protocol.StateProofGenerated,
	}
	require.Len(t, events, len(wantSequence), "event chain: %s", spew.Sdump(events))
	for i, want := range wantSequence {
		assert.Equal(t, want, events[i].Type, "event %d", i)
	}
	require.NoError(t, h.Ledger.VerifyPaymentChain(p.PaymentID))

	// Exactly one settlement instruction: BANKGB2L→CHASUS33 1000.00 USD.
	var settlements []*adapter.SettlementInstruction
	for _, si := range h.Orchestrator.Instructions() {
		if !si.IsCompensation() {
			settlements = append(settlements, si)
		}
	}
	require.Len(t, settlements, 1)
	assert.Equal(t, "BANKGB2L", settlements[0].FromBank)
	assert.Equal(t, "CHASUS33", settlements[0].ToBank)
	assert.True(t, settlements[0].Amount.Equal(money.MustParse("1000.00")))
	assert.Equal(t, adapter.InstructionCompleted, settlements[0].Status)

	// A quorum-signed checkpoint covers the payment with a verifying
	// Merkle path.
	quorum := params.Quorum(h.Params.ValidatorQuorum.Denominator)
	found := false
	for height := h.Ledger.TipHeight(); height > 0; height-- {
		c, err := h.Ledger.CheckpointAt(height)
		if err != nil {
			continue
		}
		require.NoError(t, c.Verify(h.Keyring, quorum))
		for _, path := range c.MerklePaths {
			if path.PaymentID == p.PaymentID {
				found = true
			}
		}
		if found {
			assert.True(t, c.IsAuthorized("BANKGB2L"))
			assert.True(t, c.IsAuthorized("CHASUS33"))
			break
		}
	}
	assert.True(t, found, "no checkpoint covers the payment")

	// The corridor DLQ is untouched.
	assert.Equal(t, dlqBefore, h.DLQ.Size("BANKGB2L-CHASUS33-USD"))
}

// TestNettingCycleAcrossPayments submits three payments forming a cycle
// A→B 100, B→C 80, C→A 90 in one window and verifies only the two residual
// transfers settle.
func TestNettingCycleAcrossPayments(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	bankA := paytest.NewBank(t, "AAAAGB2L", "GB00AAAA")
	bankB := paytest.NewBank(t, "BBBBUS33", "US00BBBB")
	bankC := paytest.NewBank(t, "CCCCDE2L", "DE00CCCC")
	for _, b := range []*paytest.Bank{bankA, bankB, bankC} {
		h.FundAccount(t, b.BIC, "USD", "100000.00")
	}

	var windowID int64
	submit := func(from, to *paytest.Bank, amount string) {
		p := paytest.Payment(t, from, to, paytest.PaymentOpts{Amount: amount})
		res, err := h.Pipeline.Submit(ctx, p)
		require.NoError(t, err)
		require.Equal(t, clearing.SubmitAccepted, res.Status)
		windowID = res.WindowID
	}
	submit(bankA, bankB, "100.00")
	submit(bankB, bankC, "80.00")
	submit(bankC, bankA, "90.00")

	require.NoError(t, h.Orchestrator.ProcessWindow(ctx, windowID))

	w, err := h.Windows.Get(windowID)
	require.NoError(t, err)
	assert.Equal(t, clearing.WindowCompleted, w.Status)
	assert.Equal(t, 1, w.Metrics.CyclesEliminated)
	assert.InDelta(t, 240.0/270.0, w.Metrics.Efficiency, 1e-9)

	var settlements []*adapter.SettlementInstruction
	for _, si := range h.Orchestrator.Instructions() {
		if !si.IsCompensation() {
			settlements = append(settlements, si)
		}
	}
	require.Len(t, settlements, 2)

	byPair := make(map[string]money.Amount)
	for _, si := range settlements {
		byPair[si.FromBank+">"+si.ToBank] = si.Amount
	}
	require.Contains(t, byPair, "AAAAGB2L>BBBBUS33")
	assert.True(t, byPair["AAAAGB2L>BBBBUS33"].Equal(money.MustParse("20.00")))
	require.Contains(t, byPair, "CCCCDE2L>AAAAGB2L")
	assert.True(t, byPair["CCCCDE2L>AAAAGB2L"].Equal(money.MustParse("10.00")))
}

// TestComplianceRejectionLeavesTerminalEvent verifies a screened-out payment
// ends PaymentRejected in the ledger rather than disappearing.
func TestComplianceRejectionLeavesTerminalEvent(t *testing.T) {
	h := paytest.NewHarness(t)
	ctx := context.Background()

	// Rebuild the pipeline with a screener that rejects everything as
	// sanctioned.
	screener := rejectAllScreener{}
	pipeline := clearing.NewPipeline(h.Ledger, h.Windows, h.Registry, h.Guard,
		screener, func(*protocol.PaymentInstruction) string { return "TESTREGION" })

	debtor := paytest.NewBank(t, "BANKGB2L", "GB29NWBK60161331926819")
	creditor := paytest.NewBank(t, "CHASUS33", "US64SVBKUS6S3300958879")

	p := paytest.Payment(t, debtor, creditor, paytest.PaymentOpts{})
	res, err := pipeline.Submit(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, clearing.SubmitRejected, res.Status)
	assert.Equal(t, protocol.StatePaymentRejected, res.Terminal)

	events, err := h.Ledger.PaymentEvents(p.PaymentID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, protocol.StatePaymentRejected, last.Type)
	assert.Contains(t, last.Metadata, "sanctions")
}

type rejectAllScreener struct{}

func (rejectAllScreener) Screen(_ context.Context, _ *protocol.PaymentInstruction) (protocol.Verdict, error) {
	return protocol.Verdict{
		Allowed:    false,
		Reason:     "counterparty listed",
		Risk:       protocol.RiskCritical,
		Sanctioned: true,
	}, nil
}
