package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// DiscrepancyType classifies a reconciliation finding.
type DiscrepancyType string

const (
	// DiscrepancyBalanceMismatch is a ledger/bank balance divergence.
	DiscrepancyBalanceMismatch DiscrepancyType = "BALANCE_MISMATCH"

	// DiscrepancyMissingTxn is a transaction the bank reported that the
	// ledger lacks.
	DiscrepancyMissingTxn DiscrepancyType = "MISSING_TXN"

	// DiscrepancyDuplicateTxn is a transaction the bank reported twice.
	DiscrepancyDuplicateTxn DiscrepancyType = "DUPLICATE_TXN"

	// DiscrepancyAmountMismatch is a per-transaction amount divergence.
	DiscrepancyAmountMismatch DiscrepancyType = "AMOUNT_MISMATCH"
)

// DiscrepancyStatus tracks a discrepancy's handling.
type DiscrepancyStatus string

const (
	// DiscrepancyOpen awaits triage.
	DiscrepancyOpen DiscrepancyStatus = "OPEN"

	// DiscrepancyInvestigating is being worked.
	DiscrepancyInvestigating DiscrepancyStatus = "INVESTIGATING"

	// DiscrepancyResolved is closed with notes.
	DiscrepancyResolved DiscrepancyStatus = "RESOLVED"

	// DiscrepancyEscalated is raised to operators.
	DiscrepancyEscalated DiscrepancyStatus = "ESCALATED"
)

// Discrepancy is one reconciliation finding.
type Discrepancy struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       uuid.UUID         `json:"account_id"`
	Type            DiscrepancyType   `json:"discrepancy_type"`
	DetectedAt      time.Time         `json:"detected_at"`
	ExpectedValue   money.Amount      `json:"expected_value"`
	ActualValue     money.Amount      `json:"actual_value"`
	Difference      money.Amount      `json:"difference"`
	Severity        Severity          `json:"severity"`
	Status          DiscrepancyStatus `json:"status"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
}

// TaskPriority grades operator tasks raised by reconciliation.
type TaskPriority string

const (
	// TaskLow is informational follow-up.
	TaskLow TaskPriority = "low"

	// TaskHigh needs prompt attention from risk and finance.
	TaskHigh TaskPriority = "high"

	// TaskCritical needs immediate manual intervention.
	TaskCritical TaskPriority = "critical"
)

// Task is an operator work item raised by the reconciliation loop.
type Task struct {
	TaskID    uuid.UUID    `json:"task_id"`
	AccountID uuid.UUID    `json:"account_id"`
	Priority  TaskPriority `json:"priority"`
	Summary   string       `json:"summary"`
	CreatedAt time.Time    `json:"created_at"`
}

// TaskSink receives operator tasks. The daemon can bridge this to whatever
// ticketing integration exists; tests capture tasks directly.
type TaskSink interface {
	Raise(task Task)
}

// TaskList is the default in-memory TaskSink.
type TaskList struct {
	mtx   sync.Mutex
	tasks []Task
}

// Raise implements TaskSink.
func (tl *TaskList) Raise(task Task) {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	tl.tasks = append(tl.tasks, task)
}

// Tasks returns a snapshot of raised tasks.
func (tl *TaskList) Tasks() []Task {
	tl.mtx.Lock()
	defer tl.mtx.Unlock()
	out := make([]Task, len(tl.tasks))
	copy(out, tl.tasks)
	return out
}

// AuditEntry records a reconciliation action for the audit trail.
type AuditEntry struct {
	AccountID uuid.UUID `json:"account_id"`
	Severity  Severity  `json:"severity"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

// Reconciler runs the reconciliation loop: on every bank balance
// notification and on a fixed interval it grades each nostro account and
// executes the severity's actions.
type Reconciler struct {
	accounts    *clearing.AccountBook
	breakers    *corridor.BreakerSet
	corridorFor func(acct *clearing.NostroAccount) string
	tasks       TaskSink

	mtx           sync.Mutex
	discrepancies []*Discrepancy
	audit         []AuditEntry

	interval time.Duration
	quit     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
}

// NewReconciler wires the loop. corridorFor maps an account to the corridor
// whose breaker a critical discrepancy trips; nil derives "BANK-CURRENCY".
func NewReconciler(accounts *clearing.AccountBook, breakers *corridor.BreakerSet,
	tasks TaskSink, interval time.Duration,
	corridorFor func(acct *clearing.NostroAccount) string) *Reconciler {

	if corridorFor == nil {
		corridorFor = func(acct *clearing.NostroAccount) string {
			return acct.Bank + "-" + acct.Currency
		}
	}
	if tasks == nil {
		tasks = &TaskList{}
	}
	return &Reconciler{
		accounts:    accounts,
		breakers:    breakers,
		corridorFor: corridorFor,
		tasks:       tasks,
		interval:    interval,
		quit:        make(chan struct{}),
	}
}

// Start launches the fixed-interval loop task.
func (r *Reconciler) Start() {
	r.once.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.ReconcileAll()
				case <-r.quit:
					return
				}
			}
		}()
	})
}

// Stop terminates the loop task.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
	})
}

// OnBalanceNotification records a bank-reported balance and reconciles the
// account immediately.
func (r *Reconciler) OnBalanceNotification(accountID uuid.UUID, reported money.Amount) (ThresholdResult, error) {
	if err := r.accounts.SetBankReported(accountID, reported); err != nil {
		return ThresholdResult{}, err
	}
	acct, err := r.accounts.Get(accountID)
	if err != nil {
		return ThresholdResult{}, err
	}
	return r.reconcileAccount(acct), nil
}

// ReconcileAll grades every account.
func (r *Reconciler) ReconcileAll() {
	for _, acct := range r.accounts.Accounts() {
		r.reconcileAccount(acct)
	}
}

// reconcileAccount grades one account and executes the mandated actions.
func (r *Reconciler) reconcileAccount(acct *clearing.NostroAccount) ThresholdResult {
	res := CheckThreshold(acct.LedgerBalance, acct.BankReportedBalance)

	switch res.Severity {
	case SeverityOk:
		return res

	case SeverityMinor:
		log.Infof("Reconciliation minor on account %s (%s/%s): diff %s (%s%%)",
			acct.AccountID, acct.Bank, acct.Currency,
			res.AbsoluteDiff, res.PercentageDiff.Canonical())
		r.tasks.Raise(Task{
			TaskID:    protocol.NewID(),
			AccountID: acct.AccountID,
			Priority:  TaskLow,
			Summary:   fmt.Sprintf("minor balance drift on %s/%s: %s", acct.Bank, acct.Currency, res.AbsoluteDiff),
			CreatedAt: time.Now().UTC(),
		})

	case SeveritySignificant:
		log.Warnf("Reconciliation significant on account %s (%s/%s): diff %s (%s%%); suspending payouts",
			acct.AccountID, acct.Bank, acct.Currency,
			res.AbsoluteDiff, res.PercentageDiff.Canonical())
		if err := r.accounts.SetPayoutsSuspended(acct.AccountID, true); err != nil {
			log.Errorf("Suspend payouts on %s: %v", acct.AccountID, err)
		}
		r.tasks.Raise(Task{
			TaskID:    protocol.NewID(),
			AccountID: acct.AccountID,
			Priority:  TaskHigh,
			Summary:   fmt.Sprintf("significant balance discrepancy on %s/%s: %s", acct.Bank, acct.Currency, res.AbsoluteDiff),
			CreatedAt: time.Now().UTC(),
		})
		r.recordDiscrepancy(acct, res)

	case SeverityCritical:
		corridorID := r.corridorFor(acct)
		log.Errorf("Reconciliation CRITICAL on account %s (%s/%s): ledger %s vs bank %s; halting payouts and tripping breaker %s",
			acct.AccountID, acct.Bank, acct.Currency,
			acct.LedgerBalance, acct.BankReportedBalance, corridorID)
		if err := r.accounts.SetPayoutsSuspended(acct.AccountID, true); err != nil {
			log.Errorf("Suspend payouts on %s: %v", acct.AccountID, err)
		}
		r.breakers.Get(corridorID).Trip(
			fmt.Sprintf("critical reconciliation discrepancy on account %s", acct.AccountID))
		r.tasks.Raise(Task{
			TaskID:    protocol.NewID(),
			AccountID: acct.AccountID,
			Priority:  TaskCritical,
			Summary: fmt.Sprintf("critical discrepancy on %s/%s: ledger %s, bank %s — manual intervention required",
				acct.Bank, acct.Currency, acct.LedgerBalance, acct.BankReportedBalance),
			CreatedAt: time.Now().UTC(),
		})
		r.recordDiscrepancy(acct, res)
	}

	r.mtx.Lock()
	r.audit = append(r.audit, AuditEntry{
		AccountID: acct.AccountID,
		Severity:  res.Severity,
		Action:    res.ActionRequired,
		At:        time.Now().UTC(),
	})
	r.mtx.Unlock()
	return res
}

// recordDiscrepancy files a balance-mismatch discrepancy row.
func (r *Reconciler) recordDiscrepancy(acct *clearing.NostroAccount, res ThresholdResult) {
	d := &Discrepancy{
		ID:            protocol.NewID(),
		AccountID:     acct.AccountID,
		Type:          DiscrepancyBalanceMismatch,
		DetectedAt:    time.Now().UTC(),
		ExpectedValue: acct.LedgerBalance,
		ActualValue:   acct.BankReportedBalance,
		Difference:    res.AbsoluteDiff,
		Severity:      res.Severity,
		Status:        DiscrepancyOpen,
	}
	r.mtx.Lock()
	r.discrepancies = append(r.discrepancies, d)
	r.mtx.Unlock()
}

// OpenDiscrepancies returns findings still open or under investigation for
// an account.
func (r *Reconciler) OpenDiscrepancies(accountID uuid.UUID) []*Discrepancy {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []*Discrepancy
	for _, d := range r.discrepancies {
		if d.AccountID == accountID &&
			(d.Status == DiscrepancyOpen || d.Status == DiscrepancyInvestigating) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// Resolve closes a discrepancy with notes.
func (r *Reconciler) Resolve(discrepancyID uuid.UUID, notes string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, d := range r.discrepancies {
		if d.ID == discrepancyID {
			now := time.Now().UTC()
			d.Status = DiscrepancyResolved
			d.ResolvedAt = &now
			d.ResolutionNotes = notes
			return nil
		}
	}
	return fmt.Errorf("discrepancy %s not found", discrepancyID)
}

// Escalate raises a discrepancy to operators.
func (r *Reconciler) Escalate(discrepancyID uuid.UUID) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, d := range r.discrepancies {
		if d.ID == discrepancyID {
			d.Status = DiscrepancyEscalated
			return nil
		}
	}
	return fmt.Errorf("discrepancy %s not found", discrepancyID)
}

// AuditLog returns a copy of the reconciliation audit trail.
func (r *Reconciler) AuditLog() []AuditEntry {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}
