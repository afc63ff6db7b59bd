package clearing

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// lockShardCount shards the account book so unrelated accounts never contend
// on one mutex. Power of two for cheap masking.
const lockShardCount = 16

// LockStatus tracks one fund lock.
type LockStatus string

const (
	// LockActive reserves funds.
	LockActive LockStatus = "Active"

	// LockReleased returned the reservation.
	LockReleased LockStatus = "Released"

	// LockConsumed moved the reservation out of the ledger balance.
	LockConsumed LockStatus = "Consumed"

	// LockExpired outlived its TTL before the settlement finalized.
	LockExpired LockStatus = "Expired"
)

// FundLock is a reservation on a nostro account for a pending settlement.
type FundLock struct {
	LockID        uuid.UUID    `json:"lock_id"`
	AccountID     uuid.UUID    `json:"account_id"`
	InstructionID uuid.UUID    `json:"instruction_id"`
	Amount        money.Amount `json:"amount"`
	Status        LockStatus   `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// NostroAccount is an account our system holds at a correspondent bank.
// AvailableBalance is always LedgerBalance minus the active locks.
type NostroAccount struct {
	AccountID     uuid.UUID    `json:"account_id"`
	Bank          string       `json:"bank"`
	AccountNumber string       `json:"account_number"`
	Currency      string       `json:"currency"`
	LedgerBalance money.Amount `json:"ledger_balance"`

	// BankReportedBalance is the last balance the bank notified us of;
	// reconciliation compares it against LedgerBalance.
	BankReportedBalance money.Amount `json:"bank_reported_balance"`
	LastReconciled      time.Time    `json:"last_reconciled,omitempty"`

	// PayoutsSuspended is set by reconciliation at Significant severity
	// and above.
	PayoutsSuspended bool `json:"payouts_suspended"`
}

type accountShard struct {
	mtx      sync.Mutex
	accounts map[uuid.UUID]*NostroAccount
	locks    map[uuid.UUID]*FundLock // lock id -> lock
	byAcct   map[uuid.UUID][]uuid.UUID
}

// AccountBook holds nostro accounts and their fund locks. Acquiring a lock
// reads the balance and inserts the lock row in one shard-local critical
// section, so two locks that together exceed the ledger balance can never
// coexist.
type AccountBook struct {
	shards  [lockShardCount]*accountShard
	byKey   sync.Map // bank+currency -> account id
	lockTTL time.Duration

	now func() time.Time
}

// NewAccountBook creates an empty account book with the given default lock
// TTL.
func NewAccountBook(lockTTL time.Duration) *AccountBook {
	b := &AccountBook{lockTTL: lockTTL, now: time.Now}
	for i := range b.shards {
		b.shards[i] = &accountShard{
			accounts: make(map[uuid.UUID]*NostroAccount),
			locks:    make(map[uuid.UUID]*FundLock),
			byAcct:   make(map[uuid.UUID][]uuid.UUID),
		}
	}
	return b
}

func (b *AccountBook) shardFor(accountID uuid.UUID) *accountShard {
	h := fnv.New32a()
	h.Write(accountID[:])
	return b.shards[h.Sum32()%lockShardCount]
}

func acctKey(bank, currency string) string {
	return bank + "/" + currency
}

// CreateAccount registers a nostro account with an opening balance.
func (b *AccountBook) CreateAccount(bank, accountNumber, currency string, opening money.Amount) (*NostroAccount, error) {
	if opening.IsNegative() {
		return nil, clearingError(ErrInsufficientBalance,
			fmt.Sprintf("opening balance %s is negative", opening))
	}

	acct := &NostroAccount{
		AccountID:           protocol.NewID(),
		Bank:                bank,
		AccountNumber:       accountNumber,
		Currency:            currency,
		LedgerBalance:       opening,
		BankReportedBalance: opening,
	}

	shard := b.shardFor(acct.AccountID)
	shard.mtx.Lock()
	shard.accounts[acct.AccountID] = acct
	shard.mtx.Unlock()

	b.byKey.Store(acctKey(bank, currency), acct.AccountID)
	return acct, nil
}

// Lookup finds the account for a bank and currency.
func (b *AccountBook) Lookup(bank, currency string) (*NostroAccount, error) {
	v, ok := b.byKey.Load(acctKey(bank, currency))
	if !ok {
		return nil, clearingError(ErrAccountNotFound,
			fmt.Sprintf("no nostro account for %s/%s", bank, currency))
	}
	return b.Get(v.(uuid.UUID))
}

// Get returns an account snapshot by id.
func (b *AccountBook) Get(accountID uuid.UUID) (*NostroAccount, error) {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	acct, ok := shard.accounts[accountID]
	if !ok {
		return nil, clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	out := *acct
	return &out, nil
}

// activeLockTotalLocked sums active locks for an account. Callers hold the
// shard mutex.
func (s *accountShard) activeLockTotalLocked(accountID uuid.UUID, now time.Time) money.Amount {
	total := money.Zero
	for _, lockID := range s.byAcct[accountID] {
		l := s.locks[lockID]
		if l.Status == LockActive && now.Before(l.ExpiresAt) {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// AvailableBalance returns ledger balance minus active locks.
func (b *AccountBook) AvailableBalance(accountID uuid.UUID) (money.Amount, error) {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	acct, ok := shard.accounts[accountID]
	if !ok {
		return money.Zero, clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	return acct.LedgerBalance.Sub(shard.activeLockTotalLocked(accountID, b.now())), nil
}

// AcquireLock reserves amount on the account for an instruction. The balance
// read and lock insert share one critical section.
func (b *AccountBook) AcquireLock(accountID, instructionID uuid.UUID, amount money.Amount) (*FundLock, error) {
	if !amount.IsPositive() {
		return nil, clearingError(ErrInsufficientBalance,
			fmt.Sprintf("lock amount %s not positive", amount))
	}

	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()

	acct, ok := shard.accounts[accountID]
	if !ok {
		return nil, clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	if acct.PayoutsSuspended {
		return nil, clearingError(ErrAccountSuspended,
			fmt.Sprintf("account %s payouts suspended by reconciliation", accountID))
	}

	now := b.now()
	available := acct.LedgerBalance.Sub(shard.activeLockTotalLocked(accountID, now))
	if available.LessThan(amount) {
		return nil, clearingError(ErrInsufficientBalance,
			fmt.Sprintf("account %s: available %s, requested %s",
				accountID, available, amount))
	}

	l := &FundLock{
		LockID:        protocol.NewID(),
		AccountID:     accountID,
		InstructionID: instructionID,
		Amount:        amount,
		Status:        LockActive,
		CreatedAt:     now.UTC(),
		ExpiresAt:     now.Add(b.lockTTL),
	}
	shard.locks[l.LockID] = l
	shard.byAcct[accountID] = append(shard.byAcct[accountID], l.LockID)
	return l, nil
}

// ReleaseLock returns the reservation; available balance is restored.
func (b *AccountBook) ReleaseLock(accountID, lockID uuid.UUID) error {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()

	l, ok := shard.locks[lockID]
	if !ok {
		return clearingError(ErrCheckpointNotFound, fmt.Sprintf("lock %s not found", lockID))
	}
	if l.Status == LockActive {
		l.Status = LockReleased
	}
	return nil
}

// ConsumeLock finalizes a settlement: the ledger balance is decremented by
// the locked amount and the lock retires.
func (b *AccountBook) ConsumeLock(accountID, lockID uuid.UUID) error {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()

	l, ok := shard.locks[lockID]
	if !ok {
		return clearingError(ErrCheckpointNotFound, fmt.Sprintf("lock %s not found", lockID))
	}
	if l.Status != LockActive {
		return clearingError(ErrLockExpired,
			fmt.Sprintf("lock %s is %s, cannot consume", lockID, l.Status))
	}
	if !b.now().Before(l.ExpiresAt) {
		l.Status = LockExpired
		return clearingError(ErrLockExpired,
			fmt.Sprintf("lock %s expired at %s", lockID, l.ExpiresAt))
	}

	acct := shard.accounts[accountID]
	acct.LedgerBalance = acct.LedgerBalance.Sub(l.Amount)
	l.Status = LockConsumed
	return nil
}

// Credit adds settled inbound funds to an account's ledger balance.
func (b *AccountBook) Credit(accountID uuid.UUID, amount money.Amount) error {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	acct, ok := shard.accounts[accountID]
	if !ok {
		return clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	acct.LedgerBalance = acct.LedgerBalance.Add(amount)
	return nil
}

// SetBankReported records a bank balance notification for reconciliation.
func (b *AccountBook) SetBankReported(accountID uuid.UUID, balance money.Amount) error {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	acct, ok := shard.accounts[accountID]
	if !ok {
		return clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	acct.BankReportedBalance = balance
	acct.LastReconciled = b.now().UTC()
	return nil
}

// SetPayoutsSuspended toggles the reconciliation payout suspension flag.
func (b *AccountBook) SetPayoutsSuspended(accountID uuid.UUID, suspended bool) error {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	acct, ok := shard.accounts[accountID]
	if !ok {
		return clearingError(ErrAccountNotFound, fmt.Sprintf("account %s not found", accountID))
	}
	acct.PayoutsSuspended = suspended
	return nil
}

// SweepExpired expires overdue active locks and reports them so the
// orchestrator can fail the settlements that never completed.
func (b *AccountBook) SweepExpired() []*FundLock {
	now := b.now()
	var expired []*FundLock
	for _, shard := range b.shards {
		shard.mtx.Lock()
		for _, l := range shard.locks {
			if l.Status == LockActive && !now.Before(l.ExpiresAt) {
				l.Status = LockExpired
				cp := *l
				expired = append(expired, &cp)
			}
		}
		shard.mtx.Unlock()
	}
	if len(expired) > 0 {
		log.Warnf("Expired %d overdue fund locks", len(expired))
	}
	return expired
}

// LocksForAccount returns a snapshot of an account's locks.
func (b *AccountBook) LocksForAccount(accountID uuid.UUID) []*FundLock {
	shard := b.shardFor(accountID)
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	var out []*FundLock
	for _, lockID := range shard.byAcct[accountID] {
		cp := *shard.locks[lockID]
		out = append(out, &cp)
	}
	return out
}

// Accounts returns a snapshot of every account.
func (b *AccountBook) Accounts() []*NostroAccount {
	var out []*NostroAccount
	for _, shard := range b.shards {
		shard.mtx.Lock()
		for _, acct := range shard.accounts {
			cp := *acct
			out = append(out, &cp)
		}
		shard.mtx.Unlock()
	}
	return out
}
