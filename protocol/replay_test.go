package protocol

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardPayment(t *testing.T, sender *crypto.KeyPair, nonce uint64, ttl uint32) *PaymentInstruction {
	t.Helper()
	return &PaymentInstruction{
		PaymentID:       NewID(),
		UETR:            NewID(),
		Amount:          money.MustParse("10.00"),
		Currency:        "USD",
		SenderPublicKey: sender.Public(),
		Timestamp:       time.Now().UTC(),
		Nonce:           nonce,
		TTLSeconds:      ttl,
	}
}

func TestReplayGuardNonceSequence(t *testing.T) {
	guard := NewReplayGuard(16)
	sender, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// First use of nonce 5 passes.
	require.NoError(t, guard.CheckAndRecord(guardPayment(t, sender, 5, 300)))

	// Equal to the stored maximum: replay.
	err = guard.CheckAndRecord(guardPayment(t, sender, 5, 300))
	assert.True(t, IsRuleCode(err, ErrReplayAttack))

	// Below the stored maximum: replay.
	err = guard.CheckAndRecord(guardPayment(t, sender, 4, 300))
	assert.True(t, IsRuleCode(err, ErrReplayAttack))

	// max+1 then max+2 are accepted in order.
	require.NoError(t, guard.CheckAndRecord(guardPayment(t, sender, 6, 300)))
	require.NoError(t, guard.CheckAndRecord(guardPayment(t, sender, 7, 300)))
}

func TestReplayGuardPerSender(t *testing.T) {
	guard := NewReplayGuard(16)
	a, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, guard.CheckAndRecord(guardPayment(t, a, 5, 300)))
	// A different sender may reuse the same nonce value.
	require.NoError(t, guard.CheckAndRecord(guardPayment(t, b, 5, 300)))
}

func TestReplayGuardTTL(t *testing.T) {
	guard := NewReplayGuard(16)
	sender, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := guardPayment(t, sender, 1, 1)
	p.Timestamp = time.Now().Add(-2 * time.Second)
	err = guard.CheckAndRecord(p)
	assert.True(t, IsRuleCode(err, ErrTTLExpired))
}

func TestReplayGuardWindowExpiry(t *testing.T) {
	guard := NewReplayGuard(16)
	sender, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, guard.CheckAndRecord(guardPayment(t, sender, 9, 1)))

	// Once the TTL window lapses, the nonce record is swept and a lower
	// nonce becomes acceptable again.
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, 1, guard.SweepExpired())
	require.NoError(t, guard.CheckAndRecord(guardPayment(t, sender, 3, 300)))
}

func TestTerminalCache(t *testing.T) {
	guard := NewReplayGuard(16)
	id := NewID()

	_, ok := guard.TerminalState(id)
	assert.False(t, ok)

	guard.RecordTerminal(id, StateProofGenerated)
	s, ok := guard.TerminalState(id)
	require.True(t, ok)
	assert.Equal(t, StateProofGenerated, s)
}
