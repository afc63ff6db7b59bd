package clearing

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneOpenWindowPerRegion(t *testing.T) {
	ws := NewWindows(time.Second, time.Minute)

	w1, err := ws.Open("AE", time.Hour)
	require.NoError(t, err)

	_, err = ws.Open("AE", time.Hour)
	assert.True(t, IsErrorCode(err, ErrWindowLocked))

	// A different region is independent.
	_, err = ws.Open("IN", time.Hour)
	require.NoError(t, err)

	// Completing the first frees the region.
	require.NoError(t, ws.SetStatus(w1.WindowID, WindowCompleted))
	_, err = ws.Open("AE", time.Hour)
	require.NoError(t, err)
}

func TestObligationAdmission(t *testing.T) {
	ws := NewWindows(time.Second, time.Minute)
	w, err := ws.Open("AE", time.Hour)
	require.NoError(t, err)

	amount := money.MustParse("100.00")

	_, err = ws.AddObligation(w.WindowID, protocol.NewID(), "A", "B", "USD", amount, false)
	require.NoError(t, err)

	// Closing: only in-flight obligations land.
	require.NoError(t, ws.SetStatus(w.WindowID, WindowClosing))
	_, err = ws.AddObligation(w.WindowID, protocol.NewID(), "A", "B", "USD", amount, false)
	assert.True(t, IsErrorCode(err, ErrWindowClosed))
	_, err = ws.AddObligation(w.WindowID, protocol.NewID(), "A", "B", "USD", amount, true)
	require.NoError(t, err)

	// Closed: nothing lands.
	require.NoError(t, ws.SetStatus(w.WindowID, WindowClosed))
	_, err = ws.AddObligation(w.WindowID, protocol.NewID(), "A", "B", "USD", amount, true)
	assert.True(t, IsErrorCode(err, ErrWindowClosed))

	got, err := ws.Get(w.WindowID)
	require.NoError(t, err)
	assert.Len(t, got.Obligations(), 2)
}

func TestWindowLock(t *testing.T) {
	ws := NewWindows(time.Second, 30*time.Millisecond)
	w, err := ws.Open("AE", time.Hour)
	require.NoError(t, err)

	require.NoError(t, ws.AcquireLock(w.WindowID, "orchestrator-1"))

	// Another holder is refused while the lock lives.
	err = ws.AcquireLock(w.WindowID, "orchestrator-2")
	assert.True(t, IsErrorCode(err, ErrWindowLocked))

	// Re-entrant for the same holder.
	require.NoError(t, ws.AcquireLock(w.WindowID, "orchestrator-1"))

	// Expired locks are reclaimed.
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, ws.AcquireLock(w.WindowID, "orchestrator-2"))

	ws.ReleaseLock(w.WindowID, "orchestrator-2")
	require.NoError(t, ws.AcquireLock(w.WindowID, "orchestrator-3"))
}

func TestCurrentOpenTracksTransitions(t *testing.T) {
	ws := NewWindows(time.Second, time.Minute)
	w, err := ws.Open("AE", time.Hour)
	require.NoError(t, err)

	got, ok := ws.CurrentOpen("AE")
	require.True(t, ok)
	assert.Equal(t, w.WindowID, got.WindowID)

	// Closing still owns the region; Closed frees it.
	require.NoError(t, ws.SetStatus(w.WindowID, WindowClosing))
	_, ok = ws.CurrentOpen("AE")
	assert.True(t, ok)
	require.NoError(t, ws.SetStatus(w.WindowID, WindowClosed))
	_, ok = ws.CurrentOpen("AE")
	assert.False(t, ok)
}
