package crypto

import (
	"errors"
	"fmt"
	"sync"
)

// ErrHSM wraps faults reported by an HSM backend.
var ErrHSM = errors.New("hsm operation failed")

// HSM is the coordinator signing device. Checkpoints and settlement proofs
// carry exactly one HSM signature alongside the validator multi-sig.
type HSM interface {
	// Sign produces a signature over data with the coordinator key.
	Sign(data []byte) ([]byte, error)

	// PublicKey returns the coordinator public key for the current epoch.
	PublicKey() ([]byte, error)

	// KeyID identifies the coordinator key.
	KeyID() string

	// KeyEpoch identifies the key epoch the device is signing with.
	KeyEpoch() uint32
}

// SoftHSM is a software-backed HSM used for tests and simnet deployments.
// Production deployments wrap a PKCS#11 device behind the same interface.
type SoftHSM struct {
	mtx   sync.RWMutex
	key   *KeyPair
	keyID string
	epoch uint32
	fail  error
}

// NewSoftHSM creates a software HSM around a fresh key pair.
func NewSoftHSM(keyID string, epoch uint32) (*SoftHSM, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHSM, err)
	}
	return &SoftHSM{key: kp, keyID: keyID, epoch: epoch}, nil
}

// NewSoftHSMFromSeed creates a deterministic software HSM.
func NewSoftHSMFromSeed(keyID string, epoch uint32, seed [32]byte) *SoftHSM {
	return &SoftHSM{key: KeyPairFromSeed(seed), keyID: keyID, epoch: epoch}
}

// Sign implements HSM.
func (h *SoftHSM) Sign(data []byte) ([]byte, error) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	if h.fail != nil {
		return nil, fmt.Errorf("%w: %v", ErrHSM, h.fail)
	}
	return h.key.Sign(data), nil
}

// PublicKey implements HSM.
func (h *SoftHSM) PublicKey() ([]byte, error) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	if h.fail != nil {
		return nil, fmt.Errorf("%w: %v", ErrHSM, h.fail)
	}
	return h.key.Public(), nil
}

// KeyID implements HSM.
func (h *SoftHSM) KeyID() string {
	return h.keyID
}

// KeyEpoch implements HSM.
func (h *SoftHSM) KeyEpoch() uint32 {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.epoch
}

// SetFailure forces every subsequent operation to fail; tests use it to
// exercise the failover path. Passing nil clears the fault.
func (h *SoftHSM) SetFailure(err error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.fail = err
}

// FailoverHSM tries a primary device and, on fault, retries exactly once
// against a secondary. Both devices must hold the same coordinator key
// material for signatures to be interchangeable.
type FailoverHSM struct {
	primary   HSM
	secondary HSM
}

// NewFailoverHSM wires a primary and secondary device.
func NewFailoverHSM(primary, secondary HSM) *FailoverHSM {
	return &FailoverHSM{primary: primary, secondary: secondary}
}

// Sign implements HSM with single-failover semantics.
func (f *FailoverHSM) Sign(data []byte) ([]byte, error) {
	sig, err := f.primary.Sign(data)
	if err == nil {
		return sig, nil
	}
	if f.secondary == nil {
		return nil, err
	}
	sig, ferr := f.secondary.Sign(data)
	if ferr != nil {
		return nil, fmt.Errorf("%w: primary %v, secondary %v", ErrHSM, err, ferr)
	}
	return sig, nil
}

// PublicKey implements HSM with single-failover semantics.
func (f *FailoverHSM) PublicKey() ([]byte, error) {
	pub, err := f.primary.PublicKey()
	if err == nil {
		return pub, nil
	}
	if f.secondary == nil {
		return nil, err
	}
	return f.secondary.PublicKey()
}

// KeyID implements HSM.
func (f *FailoverHSM) KeyID() string {
	return f.primary.KeyID()
}

// KeyEpoch implements HSM.
func (f *FailoverHSM) KeyEpoch() uint32 {
	return f.primary.KeyEpoch()
}
