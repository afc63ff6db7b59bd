package ledger

import (
	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/wire"
	"github.com/google/uuid"
)

// Block aggregates one committed batch of events. Heights are dense and
// monotone; each block hash chains to the previous block's hash.
type Block struct {
	Height         uint64      `json:"height"`
	PrevHash       crypto.Hash `json:"prev_hash"`
	MerkleRoot     crypto.Hash `json:"merkle_root"`
	TimestampNanos int64       `json:"timestamp_nanos"`
	EventIDs       []uuid.UUID `json:"event_ids"`
	Hash           crypto.Hash `json:"hash"`
}

// headerBytes is the canonical encoding the block hash commits to.
func (b *Block) headerBytes() []byte {
	e := wire.NewEncoder()
	e.WriteU64(b.Height)
	e.WriteHash32(b.PrevHash)
	e.WriteHash32(b.MerkleRoot)
	e.WriteI64(b.TimestampNanos)
	return e.Bytes()
}

// ComputeHash returns the SHA3-256 hash of the block header.
func (b *Block) ComputeHash() crypto.Hash {
	return crypto.HashSHA3(b.headerBytes())
}

// Seal sets the block hash from the current header fields.
func (b *Block) Seal() {
	b.Hash = b.ComputeHash()
}

// Serialize encodes the block for storage.
func (b *Block) Serialize() []byte {
	e := wire.NewEncoder()
	e.WriteU64(b.Height)
	e.WriteHash32(b.PrevHash)
	e.WriteHash32(b.MerkleRoot)
	e.WriteI64(b.TimestampNanos)
	e.WriteU32(uint32(len(b.EventIDs)))
	for _, id := range b.EventIDs {
		e.WriteUUID(id)
	}
	e.WriteHash32(b.Hash)
	return e.Bytes()
}

// DeserializeBlock decodes the output of Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	d := wire.NewDecoder(data)
	b := &Block{}
	var err error
	if b.Height, err = d.ReadU64(); err != nil {
		return nil, serErr(err)
	}
	if b.PrevHash, err = d.ReadHash32(); err != nil {
		return nil, serErr(err)
	}
	if b.MerkleRoot, err = d.ReadHash32(); err != nil {
		return nil, serErr(err)
	}
	if b.TimestampNanos, err = d.ReadI64(); err != nil {
		return nil, serErr(err)
	}
	n, err := d.ReadU32()
	if err != nil {
		return nil, serErr(err)
	}
	b.EventIDs = make([]uuid.UUID, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.ReadUUID()
		if err != nil {
			return nil, serErr(err)
		}
		b.EventIDs = append(b.EventIDs, id)
	}
	if b.Hash, err = d.ReadHash32(); err != nil {
		return nil, serErr(err)
	}
	if err := d.Finish(); err != nil {
		return nil, serErr(err)
	}
	return b, nil
}
