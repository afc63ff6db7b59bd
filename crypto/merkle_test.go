package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func leafHashes(n int) []Hash {
	leaves := make([]Hash, n)
	for i := range leaves {
		leaves[i] = HashLeaf([]byte{byte(i), byte(i >> 8)})
	}
	return leaves
}

func TestMerkleRootEdgeCases(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, ZeroHash, MerkleRoot(nil))
	})

	t.Run("SingleLeaf", func(t *testing.T) {
		leaf := HashLeaf([]byte("payment1"))
		assert.Equal(t, leaf, MerkleRoot([]Hash{leaf}))
	})

	t.Run("TwoLeaves", func(t *testing.T) {
		leaves := leafHashes(2)
		expected := HashMerkleNode(leaves[0], leaves[1])
		assert.Equal(t, expected, MerkleRoot(leaves))
	})

	t.Run("OddDuplicatesLast", func(t *testing.T) {
		leaves := leafHashes(3)
		left := HashMerkleNode(leaves[0], leaves[1])
		right := HashMerkleNode(leaves[2], leaves[2])
		assert.Equal(t, HashMerkleNode(left, right), MerkleRoot(leaves))
	})
}

func TestMerkleDeterministic(t *testing.T) {
	leaves := leafHashes(7)
	assert.Equal(t, MerkleRoot(leaves), MerkleRoot(leaves))
}

func TestMerkleProofs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(rt, "n")
		idx := rapid.IntRange(0, n-1).Draw(rt, "idx")

		tree := BuildMerkleTree(leafHashes(n))
		proof, err := tree.Prove(idx)
		require.NoError(rt, err)
		assert.NoError(rt, proof.Verify())
	})
}

func TestMerkleProofTamper(t *testing.T) {
	tree := BuildMerkleTree(leafHashes(8))
	proof, err := tree.Prove(3)
	require.NoError(t, err)

	proof.LeafHash[0] ^= 0xff
	assert.ErrorIs(t, proof.Verify(), ErrMerkleProofInvalid)
}

func TestMerkleProofOutOfRange(t *testing.T) {
	tree := BuildMerkleTree(leafHashes(4))
	_, err := tree.Prove(4)
	assert.Error(t, err)
	_, err = tree.Prove(-1)
	assert.Error(t, err)
}

func TestHashDomainsDistinct(t *testing.T) {
	data := []byte("domain separation")
	assert.NotEqual(t, HashSHA3(data), HashLeaf(data))
}
