package reconcile

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/clearing"
	"github.com/ROks-fin/Deltran-MVP-sub002/corridor"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReconciler(t *testing.T) (*Reconciler, *clearing.AccountBook, *corridor.BreakerSet, *corridor.KillSwitches, *TaskList) {
	t.Helper()
	accounts := clearing.NewAccountBook(time.Minute)
	breakers := corridor.NewBreakerSet(5, time.Minute, 3)
	switches := corridor.NewKillSwitches()
	tasks := &TaskList{}
	r := NewReconciler(accounts, breakers, tasks, time.Hour, nil)
	return r, accounts, breakers, switches, tasks
}

// TestCriticalReconciliation covers the critical scenario: ledger one
// million, bank reports 990k. The corridor breaker opens, the kill switch is
// untouched, payouts halt, and discrepancy plus audit records exist.
func TestCriticalReconciliation(t *testing.T) {
	r, accounts, breakers, switches, tasks := testReconciler(t)

	acct, err := accounts.CreateAccount("BANKGB2L", "GB00NOST01", "USD",
		money.MustParse("1000000.00"))
	require.NoError(t, err)

	res, err := r.OnBalanceNotification(acct.AccountID, money.MustParse("990000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, res.Severity)

	corridorID := "BANKGB2L-USD"
	assert.Equal(t, corridor.BreakerOpen, breakers.Get(corridorID).State())
	assert.False(t, switches.IsActive(corridorID))

	// Payouts on the account are halted.
	_, err = accounts.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("1.00"))
	assert.True(t, clearing.IsErrorCode(err, clearing.ErrAccountSuspended))

	// Discrepancy and audit records exist.
	open := r.OpenDiscrepancies(acct.AccountID)
	require.Len(t, open, 1)
	assert.Equal(t, DiscrepancyBalanceMismatch, open[0].Type)
	assert.True(t, open[0].Difference.Equal(money.MustParse("10000.00")))

	audit := r.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, SeverityCritical, audit[0].Severity)

	// A critical task was raised.
	raised := tasks.Tasks()
	require.Len(t, raised, 1)
	assert.Equal(t, TaskCritical, raised[0].Priority)
}

func TestSignificantSuspendsWithoutBreaker(t *testing.T) {
	r, accounts, breakers, _, tasks := testReconciler(t)

	acct, err := accounts.CreateAccount("BANKGB2L", "GB00NOST01", "USD",
		money.MustParse("100200.00"))
	require.NoError(t, err)

	res, err := r.OnBalanceNotification(acct.AccountID, money.MustParse("100000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeveritySignificant, res.Severity)

	assert.Equal(t, corridor.BreakerClosed, breakers.Get("BANKGB2L-USD").State())

	after, err := accounts.Get(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, after.PayoutsSuspended)

	raised := tasks.Tasks()
	require.Len(t, raised, 1)
	assert.Equal(t, TaskHigh, raised[0].Priority)
}

func TestMinorLogsOnly(t *testing.T) {
	r, accounts, breakers, _, tasks := testReconciler(t)

	acct, err := accounts.CreateAccount("BANKGB2L", "GB00NOST01", "USD",
		money.MustParse("100020.00"))
	require.NoError(t, err)

	res, err := r.OnBalanceNotification(acct.AccountID, money.MustParse("100000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityMinor, res.Severity)

	after, err := accounts.Get(acct.AccountID)
	require.NoError(t, err)
	assert.False(t, after.PayoutsSuspended)
	assert.Equal(t, corridor.BreakerClosed, breakers.Get("BANKGB2L-USD").State())
	assert.Empty(t, r.OpenDiscrepancies(acct.AccountID))

	raised := tasks.Tasks()
	require.Len(t, raised, 1)
	assert.Equal(t, TaskLow, raised[0].Priority)
}

func TestDiscrepancyLifecycle(t *testing.T) {
	r, accounts, _, _, _ := testReconciler(t)

	acct, err := accounts.CreateAccount("BANKGB2L", "GB00NOST01", "USD",
		money.MustParse("1000000.00"))
	require.NoError(t, err)
	_, err = r.OnBalanceNotification(acct.AccountID, money.MustParse("900000.00"))
	require.NoError(t, err)

	open := r.OpenDiscrepancies(acct.AccountID)
	require.Len(t, open, 1)

	require.NoError(t, r.Escalate(open[0].ID))
	require.NoError(t, r.Resolve(open[0].ID, "bank statement lagged a day"))
	assert.Empty(t, r.OpenDiscrepancies(acct.AccountID))

	assert.Error(t, r.Resolve(protocol.NewID(), "unknown"))
}

func TestReconcileAllLoop(t *testing.T) {
	accounts := clearing.NewAccountBook(time.Minute)
	breakers := corridor.NewBreakerSet(5, time.Minute, 3)
	r := NewReconciler(accounts, breakers, &TaskList{}, 10*time.Millisecond, nil)

	acct, err := accounts.CreateAccount("BANKGB2L", "GB00NOST01", "USD",
		money.MustParse("1000000.00"))
	require.NoError(t, err)
	require.NoError(t, accounts.SetBankReported(acct.AccountID, money.MustParse("990000.00")))

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return breakers.Get("BANKGB2L-USD").State() == corridor.BreakerOpen
	}, time.Second, 10*time.Millisecond)
}
