// Package paytest provides shared fixtures for settlement tests: signed
// payment instructions with valid eligibility tokens, funded nostro
// accounts, and a fully wired clearing harness on simnet parameters.
package paytest

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/adapter"
	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
)

// Bank bundles an institution's identity and signing key for fixtures.
type Bank struct {
	BIC     string
	Account string
	Key     *crypto.KeyPair
}

// NewBank creates a bank fixture with a fresh key.
func NewBank(t *testing.T, bic, account string) *Bank {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bank key: %v", err)
	}
	return &Bank{BIC: bic, Account: account, Key: kp}
}

// Token issues a signed eligibility token from the bank covering amount.
func (b *Bank) Token(amount money.Amount, currency string, expiry time.Duration) protocol.EligibilityToken {
	tok := protocol.EligibilityToken{
		TokenID:         protocol.NewID(),
		BankBIC:         b.BIC,
		Account:         b.Account,
		Amount:          amount,
		Currency:        currency,
		ExpiresAt:       time.Now().Add(expiry),
		IssuerPublicKey: b.Key.Public(),
	}
	tok.Signature = b.Key.Sign(tok.SigningBytes())
	return tok
}

// PaymentOpts tunes a payment fixture.
type PaymentOpts struct {
	Amount   string
	Currency string
	Nonce    uint64
	TTL      uint32
	Sender   *crypto.KeyPair
}

// Payment builds a fully signed, sealed payment instruction from debtor to
// creditor with valid tokens from both banks.
func Payment(t *testing.T, debtor, creditor *Bank, opts PaymentOpts) *protocol.PaymentInstruction {
	t.Helper()

	if opts.Amount == "" {
		opts.Amount = "1000.00"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.TTL == 0 {
		opts.TTL = 3600
	}
	if opts.Nonce == 0 {
		opts.Nonce = 1
	}
	if opts.Sender == nil {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate sender key: %v", err)
		}
		opts.Sender = kp
	}

	amount := money.MustParse(opts.Amount)
	p := &protocol.PaymentInstruction{
		PaymentID:       protocol.NewID(),
		UETR:            protocol.NewID(),
		Debtor:          protocol.Party{BIC: debtor.BIC, Account: debtor.Account, Name: "Debtor " + debtor.BIC},
		Creditor:        protocol.Party{BIC: creditor.BIC, Account: creditor.Account, Name: "Creditor " + creditor.BIC},
		Amount:          amount,
		Currency:        opts.Currency,
		Purpose:         "test payment",
		SenderPublicKey: opts.Sender.Public(),
		Timestamp:       time.Now().UTC(),
		Nonce:           opts.Nonce,
		TTLSeconds:      opts.TTL,
		DebitToken:      debtor.Token(amount, opts.Currency, time.Hour),
		CreditToken:     creditor.Token(amount, opts.Currency, time.Hour),
	}
	p.SenderSignature = opts.Sender.Sign(p.SigningBytes())
	p.SealHash()
	return p
}

// Harness is a fully wired clearing stack on simnet parameters backed by an
// in-memory store and the mock adapter.
type Harness struct {
	Params       *params.Params
	Store        ledger.Store
	Ledger       *ledger.Ledger
	Keyring      *crypto.Keyring
	Windows      *clearing.Windows
	OpLog        *clearing.OperationLog
	Accounts     *clearing.AccountBook
	Breakers     *corridor.BreakerSet
	Switches     *corridor.KillSwitches
	DLQ          *corridor.DeadLetterQueue
	Manager      *adapter.Manager
	Mock         *adapter.MockAdapter
	Guard        *protocol.ReplayGuard
	Registry     *clearing.PaymentRegistry
	Pipeline     *clearing.Pipeline
	Orchestrator *clearing.Orchestrator
}

// NewHarness assembles the stack. Validators are derived from fixed seeds so
// the checkpoint quorum is reproducible. The harness is torn down with the
// test.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	p := &params.SimNetParams

	store, err := ledger.OpenMemStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	nodeKey := crypto.KeyPairFromSeed([32]byte{0xd0})
	keyring := crypto.NewKeyring(256)
	var validators []ledger.Validator
	for i := 0; i < p.ValidatorQuorum.Denominator; i++ {
		seed := [32]byte{0xa0, byte(i)}
		kp := crypto.KeyPairFromSeed(seed)
		id := "validator-" + string(rune('a'+i))
		if err := keyring.Register(id, 1, kp.Public()); err != nil {
			t.Fatalf("register validator: %v", err)
		}
		validators = append(validators, ledger.Validator{ID: id, Epoch: 1, Key: kp})
	}
	hsm := crypto.NewSoftHSMFromSeed("coordinator", 1, [32]byte{0xc0})

	ldgr, err := ledger.New(ledger.Config{
		Store:      store,
		Params:     p,
		NodeKey:    nodeKey,
		HSM:        hsm,
		Keyring:    keyring,
		Validators: validators,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ldgr.Start()
	t.Cleanup(ldgr.Stop)

	breakers := corridor.NewBreakerSet(p.BreakerFailureThreshold,
		p.BreakerRecoveryTimeout, p.BreakerHalfOpenProbes)
	switches := corridor.NewKillSwitches()
	dlq := corridor.NewDeadLetterQueue(p.DLQMaxSize, p.DLQMaxRetryAttempts)
	manager := adapter.NewManager(p, breakers, switches, dlq)
	mock := adapter.NewMockAdapter("testbank")
	manager.RegisterAdapter(mock)
	manager.SetDefaultType(adapter.TypeMock)

	guard := protocol.NewReplayGuard(1024)
	registry := clearing.NewPaymentRegistry(guard)
	windows := clearing.NewWindows(p.WindowGracePeriod, p.WindowLockTTL)
	oplog := clearing.NewOperationLog()
	accounts := clearing.NewAccountBook(p.FundLockTTL)
	orchestrator := clearing.NewOrchestrator(p, windows, oplog, accounts,
		ldgr, manager, registry, "test-orchestrator")
	pipeline := clearing.NewPipeline(ldgr, windows, registry, guard,
		protocol.AllowAllScreener{}, func(*protocol.PaymentInstruction) string {
			return "TESTREGION"
		})

	return &Harness{
		Params:       p,
		Store:        store,
		Ledger:       ldgr,
		Keyring:      keyring,
		Windows:      windows,
		OpLog:        oplog,
		Accounts:     accounts,
		Breakers:     breakers,
		Switches:     switches,
		DLQ:          dlq,
		Manager:      manager,
		Mock:         mock,
		Guard:        guard,
		Registry:     registry,
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
	}
}

// FundAccount creates a nostro account with the given balance.
func (h *Harness) FundAccount(t *testing.T, bank, currency, balance string) *clearing.NostroAccount {
	t.Helper()
	acct, err := h.Accounts.CreateAccount(bank, bank+"-NOSTRO", currency, money.MustParse(balance))
	if err != nil {
		t.Fatalf("create account %s/%s: %v", bank, currency, err)
	}
	return acct
}
