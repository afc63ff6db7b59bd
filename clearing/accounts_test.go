package clearing

import (
	"sync"
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLifecycle(t *testing.T) {
	book := NewAccountBook(time.Minute)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("1000.00"))
	require.NoError(t, err)

	found, err := book.Lookup("BANKGB2L", "USD")
	require.NoError(t, err)
	assert.Equal(t, acct.AccountID, found.AccountID)

	_, err = book.Lookup("BANKGB2L", "EUR")
	assert.True(t, IsErrorCode(err, ErrAccountNotFound))

	avail, err := book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(money.MustParse("1000.00")))
}

func TestFundLockInvariant(t *testing.T) {
	book := NewAccountBook(time.Minute)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("1000.00"))
	require.NoError(t, err)

	l1, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("600.00"))
	require.NoError(t, err)

	avail, err := book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(money.MustParse("400.00")))

	// A second lock beyond the available balance is refused even though
	// the ledger balance would cover it alone.
	_, err = book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("500.00"))
	assert.True(t, IsErrorCode(err, ErrInsufficientBalance))

	// Releasing restores availability.
	require.NoError(t, book.ReleaseLock(acct.AccountID, l1.LockID))
	avail, err = book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(money.MustParse("1000.00")))
}

func TestFundLockConsume(t *testing.T) {
	book := NewAccountBook(time.Minute)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("1000.00"))
	require.NoError(t, err)

	l, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("250.00"))
	require.NoError(t, err)
	require.NoError(t, book.ConsumeLock(acct.AccountID, l.LockID))

	after, err := book.Get(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, after.LedgerBalance.Equal(money.MustParse("750.00")))

	avail, err := book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(money.MustParse("750.00")))

	// A consumed lock cannot be consumed again.
	assert.Error(t, book.ConsumeLock(acct.AccountID, l.LockID))
}

func TestFundLockExpiry(t *testing.T) {
	book := NewAccountBook(20 * time.Millisecond)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("100.00"))
	require.NoError(t, err)

	l, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("80.00"))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// The expired lock no longer reduces availability.
	avail, err := book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(money.MustParse("100.00")))

	// Consuming it fails and the sweep reports it.
	err = book.ConsumeLock(acct.AccountID, l.LockID)
	assert.True(t, IsErrorCode(err, ErrLockExpired))

	l2, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("10.00"))
	require.NoError(t, err)
	_ = l2

	expired := book.SweepExpired()
	assert.Empty(t, expired, "already-expired lock was retired by ConsumeLock")
}

func TestSweepExpiredReportsOverdueLocks(t *testing.T) {
	book := NewAccountBook(10 * time.Millisecond)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("100.00"))
	require.NoError(t, err)

	l, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("50.00"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	expired := book.SweepExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, l.LockID, expired[0].LockID)
	assert.Equal(t, LockExpired, expired[0].Status)
}

func TestPayoutSuspensionBlocksLocks(t *testing.T) {
	book := NewAccountBook(time.Minute)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("100.00"))
	require.NoError(t, err)

	require.NoError(t, book.SetPayoutsSuspended(acct.AccountID, true))
	_, err = book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("1.00"))
	assert.True(t, IsErrorCode(err, ErrAccountSuspended))

	require.NoError(t, book.SetPayoutsSuspended(acct.AccountID, false))
	_, err = book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("1.00"))
	assert.NoError(t, err)
}

func TestConcurrentLockAcquisition(t *testing.T) {
	book := NewAccountBook(time.Minute)
	acct, err := book.CreateAccount("BANKGB2L", "GB00NOST01", "USD", money.MustParse("100.00"))
	require.NoError(t, err)

	// 20 goroutines race for 10.00 each over a 100.00 balance: exactly
	// ten may win.
	var wg sync.WaitGroup
	granted := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := book.AcquireLock(acct.AccountID, protocol.NewID(), money.MustParse("10.00")); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 10, count)

	avail, err := book.AvailableBalance(acct.AccountID)
	require.NoError(t, err)
	assert.True(t, avail.IsZero())
	assert.False(t, avail.IsNegative())
}
