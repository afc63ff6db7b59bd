package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("settlement checkpoint at height 100")
	sig := kp.Sign(msg)
	assert.NoError(t, kp.Verify(msg, sig))
	assert.ErrorIs(t, kp.Verify([]byte("tampered"), sig), ErrSignatureInvalid)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(other.Public(), msg, sig), ErrSignatureInvalid)
}

func TestKeyPairFromSeedDeterministic(t *testing.T) {
	seed := [32]byte{42}
	kp1 := KeyPairFromSeed(seed)
	kp2 := KeyPairFromSeed(seed)
	assert.Equal(t, kp1.Public(), kp2.Public())

	msg := []byte("deterministic")
	assert.Equal(t, kp1.Sign(msg), kp2.Sign(msg))
}

func TestKeyring(t *testing.T) {
	ring := NewKeyring(16)
	kp := KeyPairFromSeed([32]byte{1})
	require.NoError(t, ring.Register("validator-a", 1, kp.Public()))

	msg := []byte("checkpoint")
	sig := kp.Sign(msg)

	t.Run("VerifyKnown", func(t *testing.T) {
		assert.NoError(t, ring.VerifyByID("validator-a", 1, msg, sig))
		// Second verification hits the cache.
		assert.NoError(t, ring.VerifyByID("validator-a", 1, msg, sig))
	})

	t.Run("UnknownKey", func(t *testing.T) {
		err := ring.VerifyByID("validator-z", 1, msg, sig)
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("WrongEpoch", func(t *testing.T) {
		err := ring.VerifyByID("validator-a", 2, msg, sig)
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("BadSignature", func(t *testing.T) {
		bad := make([]byte, len(sig))
		copy(bad, sig)
		bad[0] ^= 0xff
		err := ring.VerifyByID("validator-a", 1, msg, bad)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

func TestKeyringRotation(t *testing.T) {
	ring := NewKeyring(16)
	oldKey := KeyPairFromSeed([32]byte{1})
	require.NoError(t, ring.Register("validator-a", 1, oldKey.Public()))

	newKey := KeyPairFromSeed([32]byte{2})
	require.NoError(t, ring.Rotate(2, map[string][]byte{"validator-a": newKey.Public()}))
	assert.Equal(t, uint32(2), ring.LiveEpoch())

	msg := []byte("proof")

	// Historic epoch still verifies; new epoch uses the new key.
	assert.NoError(t, ring.VerifyByID("validator-a", 1, msg, oldKey.Sign(msg)))
	assert.NoError(t, ring.VerifyByID("validator-a", 2, msg, newKey.Sign(msg)))
	assert.Error(t, ring.VerifyByID("validator-a", 2, msg, oldKey.Sign(msg)))

	// Rotation must move forward.
	assert.Error(t, ring.Rotate(2, map[string][]byte{"validator-a": newKey.Public()}))
}

func TestSoftHSMFailover(t *testing.T) {
	seed := [32]byte{9}
	primary := NewSoftHSMFromSeed("coordinator", 1, seed)
	secondary := NewSoftHSMFromSeed("coordinator-standby", 1, seed)
	hsm := NewFailoverHSM(primary, secondary)

	msg := []byte("checkpoint bytes")

	sig, err := hsm.Sign(msg)
	require.NoError(t, err)
	pub, err := hsm.PublicKey()
	require.NoError(t, err)
	assert.NoError(t, Verify(pub, msg, sig))

	// Primary fault: the secondary answers, exactly once per call.
	primary.SetFailure(errors.New("pkcs11 session lost"))
	sig2, err := hsm.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, Verify(pub, msg, sig2))

	// Both down: the fault surfaces as ErrHSM.
	secondary.SetFailure(errors.New("standby offline"))
	_, err = hsm.Sign(msg)
	assert.ErrorIs(t, err, ErrHSM)
}
