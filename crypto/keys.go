package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/lru"
)

// ErrSignatureInvalid is returned whenever an Ed25519 signature fails to
// verify under the presented public key.
var ErrSignatureInvalid = errors.New("signature verification failed")

// ErrUnknownKey is returned when a keyring lookup misses.
var ErrUnknownKey = errors.New("unknown signing key")

// KeyPair wraps an Ed25519 signing key with its public half.
type KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateKeyPair creates a fresh random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// KeyPairFromSeed derives a deterministic key pair from a 32-byte seed.
// Validator sets in tests are reproducible this way.
func KeyPairFromSeed(seed [32]byte) *KeyPair {
	priv := ed25519.NewKeyFromSeed(seed[:])
	return &KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// Public returns the public key bytes.
func (k *KeyPair) Public() []byte {
	out := make([]byte, len(k.pub))
	copy(out, k.pub)
	return out
}

// Sign produces an Ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Verify checks sig over msg under this key pair's public key.
func (k *KeyPair) Verify(msg, sig []byte) error {
	return Verify(k.pub, msg, sig)
}

// Verify checks an Ed25519 signature under an arbitrary public key.
func Verify(pub, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key length %d", ErrSignatureInvalid, len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// KeyID identifies a public key within an epoch. Rotation bumps the epoch and
// re-registers the key set; proofs carry the signing epoch so verification
// can outlive a rotation.
type KeyID struct {
	ID    string
	Epoch uint32
}

// Keyring caches validator public keys by (key id, epoch). Lookups are the
// verification hot path; registration happens at startup and on rotation.
// Rotation swaps the entire live epoch atomically.
type Keyring struct {
	mtx       sync.RWMutex
	liveEpoch uint32
	keys      map[KeyID][]byte

	// recently verified (key id, epoch, message, signature) tuples, keyed
	// by their SHA3 hash, sized to skip repeat verification of identical
	// checkpoint signatures.
	verified lru.KVCache
}

// NewKeyring returns an empty keyring at epoch zero.
func NewKeyring(cacheSize uint32) *Keyring {
	return &Keyring{
		keys:     make(map[KeyID][]byte),
		verified: lru.NewKVCache(cacheSize),
	}
}

// Register associates a public key with an id in the given epoch.
func (r *Keyring) Register(id string, epoch uint32, pub []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key length %d", ErrSignatureInvalid, len(pub))
	}
	key := make([]byte, len(pub))
	copy(key, pub)

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.keys[KeyID{ID: id, Epoch: epoch}] = key
	if epoch > r.liveEpoch {
		r.liveEpoch = epoch
	}
	return nil
}

// LiveEpoch returns the most recent registered epoch.
func (r *Keyring) LiveEpoch() uint32 {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.liveEpoch
}

// Lookup returns the public key for (id, epoch).
func (r *Keyring) Lookup(id string, epoch uint32) ([]byte, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	pub, ok := r.keys[KeyID{ID: id, Epoch: epoch}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%d", ErrUnknownKey, id, epoch)
	}
	return pub, nil
}

// VerifyByID verifies sig over msg under the key registered for (id, epoch).
// Identical (key, signature, message) triples hit the verified cache.
func (r *Keyring) VerifyByID(id string, epoch uint32, msg, sig []byte) error {
	pub, err := r.Lookup(id, epoch)
	if err != nil {
		return err
	}

	cacheKey := verifiedCacheKey(id, epoch, msg, sig)
	r.mtx.RLock()
	_, hit := r.verified.Lookup(cacheKey)
	r.mtx.RUnlock()
	if hit {
		return nil
	}

	if err := Verify(pub, msg, sig); err != nil {
		return err
	}

	r.mtx.Lock()
	r.verified.Add(cacheKey, struct{}{})
	r.mtx.Unlock()
	return nil
}

// Rotate installs a complete replacement key set under a new epoch. Earlier
// epochs remain resolvable so historical proofs continue to verify.
func (r *Keyring) Rotate(epoch uint32, keys map[string][]byte) error {
	for id, pub := range keys {
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: key %s has bad length %d", ErrSignatureInvalid, id, len(pub))
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if epoch <= r.liveEpoch {
		return fmt.Errorf("rotation epoch %d not after live epoch %d", epoch, r.liveEpoch)
	}
	for id, pub := range keys {
		key := make([]byte, len(pub))
		copy(key, pub)
		r.keys[KeyID{ID: id, Epoch: epoch}] = key
	}
	r.liveEpoch = epoch
	return nil
}

func verifiedCacheKey(id string, epoch uint32, msg, sig []byte) Hash {
	buf := make([]byte, 0, len(id)+4+len(msg)+len(sig))
	buf = append(buf, id...)
	buf = append(buf, byte(epoch>>24), byte(epoch>>16), byte(epoch>>8), byte(epoch))
	buf = append(buf, msg...)
	buf = append(buf, sig...)
	return HashSHA3(buf)
}
