// Package crypto provides the cryptographic primitives for the settlement
// core: SHA3-256 and SHA-256 hash domains, Ed25519 signing, the validator
// keyring with epoch rotation, the HSM coordinator abstraction and Merkle
// trees with inclusion proofs.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte digest in either hash domain.
type Hash [32]byte

// ZeroHash is the all-zero hash, used as the empty Merkle root and as the
// previous-hash of genesis entities.
var ZeroHash Hash

// String returns the lowercase hex rendering of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// NewHashFromString parses a 64-character hex string.
func NewHashFromString(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, hex.ErrLength
	}
	copy(h[:], b)
	return h, nil
}

// HashSHA3 computes the SHA3-256 digest of data. This is the ledger and
// protocol hash domain: canonical hashes, event hashes and block hashes.
func HashSHA3(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// HashMerkleNode computes the SHA-256 digest of left||right. Merkle interior
// nodes live in their own domain so a leaf can never be confused with a
// branch across domains.
func HashMerkleNode(left, right Hash) Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return Hash(sha256.Sum256(buf[:]))
}

// HashLeaf computes the SHA-256 digest of a raw leaf payload for callers that
// build Merkle trees over unhashed data.
func HashLeaf(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}
