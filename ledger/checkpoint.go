package ledger

import (
	"fmt"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/wire"
	"github.com/google/uuid"
)

// BatchSummary aggregates what a checkpoint covers. Efficiency is carried in
// basis points of the netting ratio so the canonical encoding stays integral.
type BatchSummary struct {
	CorridorID        string       `json:"corridor_id"`
	Currency          string       `json:"currency"`
	PaymentCount      uint32       `json:"payment_count"`
	BankCount         uint32       `json:"bank_count"`
	GrossAmount       money.Amount `json:"gross_amount"`
	NetAmount         money.Amount `json:"net_amount"`
	EfficiencyBps     uint32       `json:"efficiency_bps"`
	NetTransferCount  uint32       `json:"net_transfer_count"`
	PartialSettlement bool         `json:"partial_settlement"`
	RequeuedCount     uint32       `json:"requeued_count"`
}

func (s *BatchSummary) encode(e *wire.Encoder) {
	e.WriteString(s.CorridorID)
	e.WriteString(s.Currency)
	e.WriteU32(s.PaymentCount)
	e.WriteU32(s.BankCount)
	e.WriteAmount(s.GrossAmount)
	e.WriteAmount(s.NetAmount)
	e.WriteU32(s.EfficiencyBps)
	e.WriteU32(s.NetTransferCount)
	e.WriteBool(s.PartialSettlement)
	e.WriteU32(s.RequeuedCount)
}

func decodeBatchSummary(d *wire.Decoder) (BatchSummary, error) {
	var s BatchSummary
	var err error
	if s.CorridorID, err = d.ReadString(); err != nil {
		return s, err
	}
	if s.Currency, err = d.ReadString(); err != nil {
		return s, err
	}
	if s.PaymentCount, err = d.ReadU32(); err != nil {
		return s, err
	}
	if s.BankCount, err = d.ReadU32(); err != nil {
		return s, err
	}
	if s.GrossAmount, err = d.ReadAmount(); err != nil {
		return s, err
	}
	if s.NetAmount, err = d.ReadAmount(); err != nil {
		return s, err
	}
	if s.EfficiencyBps, err = d.ReadU32(); err != nil {
		return s, err
	}
	if s.NetTransferCount, err = d.ReadU32(); err != nil {
		return s, err
	}
	if s.PartialSettlement, err = d.ReadBool(); err != nil {
		return s, err
	}
	s.RequeuedCount, err = d.ReadU32()
	return s, err
}

// ValidatorSignature is one validator's attestation of a checkpoint.
type ValidatorSignature struct {
	ValidatorID   string `json:"validator_id"`
	KeyEpoch      uint32 `json:"key_epoch"`
	PublicKey     []byte `json:"public_key"`
	Signature     []byte `json:"signature"`
	SignedAtNanos int64  `json:"signed_at_nanos"`
}

// HSMSignature is the coordinator's attestation of a checkpoint.
type HSMSignature struct {
	KeyID         string `json:"hsm_key_id"`
	KeyEpoch      uint32 `json:"key_epoch"`
	PublicKey     []byte `json:"public_key"`
	Signature     []byte `json:"signature"`
	SignedAtNanos int64  `json:"signed_at_nanos"`
}

// PaymentPath is a Merkle inclusion path for one payment in the checkpoint's
// batch.
type PaymentPath struct {
	PaymentID uuid.UUID     `json:"payment_id"`
	LeafHash  crypto.Hash   `json:"leaf_hash"`
	LeafIndex uint32        `json:"leaf_index"`
	Siblings  []crypto.Hash `json:"sibling_hashes"`
}

// Checkpoint is a BFT-signed commitment to the ledger state at a height. The
// carried Merkle paths let any listed payment be proven included without the
// full ledger.
type Checkpoint struct {
	CheckpointID      uuid.UUID            `json:"checkpoint_id"`
	Height            uint64               `json:"height"`
	PrevCheckpointID  uuid.UUID            `json:"prev_checkpoint_id"`
	AppHash           crypto.Hash          `json:"app_hash"`
	MerkleRoot        crypto.Hash          `json:"merkle_root"`
	Summary           BatchSummary         `json:"batch_summary"`
	AuthorizedParties []string             `json:"authorized_parties"`
	MerklePaths       []PaymentPath        `json:"merkle_paths"`
	GeneratedAtNanos  int64                `json:"proof_generated_at"`
	ValidatorSigs     []ValidatorSignature `json:"validator_signatures"`
	HSMSig            HSMSignature         `json:"hsm_signature"`
}

// SigningBytes is the canonical encoding every signature covers: the full
// checkpoint minus the signature fields themselves.
func (c *Checkpoint) SigningBytes() []byte {
	e := wire.NewEncoder()
	e.WriteUUID(c.CheckpointID)
	e.WriteU64(c.Height)
	e.WriteUUID(c.PrevCheckpointID)
	e.WriteHash32(c.AppHash)
	e.WriteHash32(c.MerkleRoot)
	c.Summary.encode(e)
	e.WriteU32(uint32(len(c.AuthorizedParties)))
	for _, p := range c.AuthorizedParties {
		e.WriteString(p)
	}
	e.WriteU32(uint32(len(c.MerklePaths)))
	for i := range c.MerklePaths {
		mp := &c.MerklePaths[i]
		e.WriteUUID(mp.PaymentID)
		e.WriteHash32(mp.LeafHash)
		e.WriteU32(mp.LeafIndex)
		e.WriteU32(uint32(len(mp.Siblings)))
		for _, s := range mp.Siblings {
			e.WriteHash32(s)
		}
	}
	e.WriteI64(c.GeneratedAtNanos)
	return e.Bytes()
}

// AddValidatorSignature appends a validator attestation.
func (c *Checkpoint) AddValidatorSignature(validatorID string, epoch uint32, kp *crypto.KeyPair) {
	c.ValidatorSigs = append(c.ValidatorSigs, ValidatorSignature{
		ValidatorID:   validatorID,
		KeyEpoch:      epoch,
		PublicKey:     kp.Public(),
		Signature:     kp.Sign(c.SigningBytes()),
		SignedAtNanos: time.Now().UnixNano(),
	})
}

// SignHSM attaches the coordinator HSM signature.
func (c *Checkpoint) SignHSM(h crypto.HSM) error {
	sig, err := h.Sign(c.SigningBytes())
	if err != nil {
		return ledgerError(ErrSignatureInvalid, fmt.Sprintf("checkpoint %s: hsm: %v", c.CheckpointID, err))
	}
	pub, err := h.PublicKey()
	if err != nil {
		return ledgerError(ErrSignatureInvalid, fmt.Sprintf("checkpoint %s: hsm: %v", c.CheckpointID, err))
	}
	c.HSMSig = HSMSignature{
		KeyID:         h.KeyID(),
		KeyEpoch:      h.KeyEpoch(),
		PublicKey:     pub,
		Signature:     sig,
		SignedAtNanos: time.Now().UnixNano(),
	}
	return nil
}

// Verify checks the checkpoint: quorum met over the registered validator
// count, every validator signature verifies through the keyring, the HSM
// signature verifies, and every Merkle path reconstructs the embedded root.
func (c *Checkpoint) Verify(ring *crypto.Keyring, quorum int) error {
	if len(c.ValidatorSigs) < quorum {
		return ledgerError(ErrQuorumNotMet,
			fmt.Sprintf("checkpoint %s: %d validator signatures, quorum %d",
				c.CheckpointID, len(c.ValidatorSigs), quorum))
	}

	msg := c.SigningBytes()
	for _, vs := range c.ValidatorSigs {
		if err := ring.VerifyByID(vs.ValidatorID, vs.KeyEpoch, msg, vs.Signature); err != nil {
			return ledgerError(ErrSignatureInvalid,
				fmt.Sprintf("checkpoint %s: validator %s: %v", c.CheckpointID, vs.ValidatorID, err))
		}
	}

	if err := crypto.Verify(c.HSMSig.PublicKey, msg, c.HSMSig.Signature); err != nil {
		return ledgerError(ErrSignatureInvalid,
			fmt.Sprintf("checkpoint %s: hsm %s: %v", c.CheckpointID, c.HSMSig.KeyID, err))
	}

	for i := range c.MerklePaths {
		mp := &c.MerklePaths[i]
		proof := crypto.MerkleProof{
			LeafHash:  mp.LeafHash,
			LeafIndex: mp.LeafIndex,
			Siblings:  mp.Siblings,
			Root:      c.MerkleRoot,
		}
		if err := proof.Verify(); err != nil {
			return ledgerError(ErrMerkleProofInvalid,
				fmt.Sprintf("checkpoint %s: payment %s: %v", c.CheckpointID, mp.PaymentID, err))
		}
	}
	return nil
}

// IsAuthorized reports whether requester may fetch this checkpoint's proof
// material.
func (c *Checkpoint) IsAuthorized(requester string) bool {
	for _, p := range c.AuthorizedParties {
		if p == requester {
			return true
		}
	}
	return false
}

// Serialize encodes the checkpoint for storage.
func (c *Checkpoint) Serialize() []byte {
	e := wire.NewEncoder()
	e.WriteBytes(c.SigningBytes())
	e.WriteU32(uint32(len(c.ValidatorSigs)))
	for _, vs := range c.ValidatorSigs {
		e.WriteString(vs.ValidatorID)
		e.WriteU32(vs.KeyEpoch)
		e.WriteBytes(vs.PublicKey)
		e.WriteBytes(vs.Signature)
		e.WriteI64(vs.SignedAtNanos)
	}
	e.WriteString(c.HSMSig.KeyID)
	e.WriteU32(c.HSMSig.KeyEpoch)
	e.WriteBytes(c.HSMSig.PublicKey)
	e.WriteBytes(c.HSMSig.Signature)
	e.WriteI64(c.HSMSig.SignedAtNanos)
	return e.Bytes()
}

// DeserializeCheckpoint decodes the output of Serialize.
func DeserializeCheckpoint(data []byte) (*Checkpoint, error) {
	d := wire.NewDecoder(data)
	core, err := d.ReadBytes()
	if err != nil {
		return nil, serErr(err)
	}

	c := &Checkpoint{}
	cd := wire.NewDecoder(core)
	if c.CheckpointID, err = cd.ReadUUID(); err != nil {
		return nil, serErr(err)
	}
	if c.Height, err = cd.ReadU64(); err != nil {
		return nil, serErr(err)
	}
	if c.PrevCheckpointID, err = cd.ReadUUID(); err != nil {
		return nil, serErr(err)
	}
	if c.AppHash, err = cd.ReadHash32(); err != nil {
		return nil, serErr(err)
	}
	if c.MerkleRoot, err = cd.ReadHash32(); err != nil {
		return nil, serErr(err)
	}
	if c.Summary, err = decodeBatchSummary(cd); err != nil {
		return nil, serErr(err)
	}
	nParties, err := cd.ReadU32()
	if err != nil {
		return nil, serErr(err)
	}
	for i := uint32(0); i < nParties; i++ {
		p, err := cd.ReadString()
		if err != nil {
			return nil, serErr(err)
		}
		c.AuthorizedParties = append(c.AuthorizedParties, p)
	}
	nPaths, err := cd.ReadU32()
	if err != nil {
		return nil, serErr(err)
	}
	for i := uint32(0); i < nPaths; i++ {
		var mp PaymentPath
		if mp.PaymentID, err = cd.ReadUUID(); err != nil {
			return nil, serErr(err)
		}
		if mp.LeafHash, err = cd.ReadHash32(); err != nil {
			return nil, serErr(err)
		}
		if mp.LeafIndex, err = cd.ReadU32(); err != nil {
			return nil, serErr(err)
		}
		nSib, err := cd.ReadU32()
		if err != nil {
			return nil, serErr(err)
		}
		for j := uint32(0); j < nSib; j++ {
			s, err := cd.ReadHash32()
			if err != nil {
				return nil, serErr(err)
			}
			mp.Siblings = append(mp.Siblings, s)
		}
		c.MerklePaths = append(c.MerklePaths, mp)
	}
	if c.GeneratedAtNanos, err = cd.ReadI64(); err != nil {
		return nil, serErr(err)
	}
	if err := cd.Finish(); err != nil {
		return nil, serErr(err)
	}

	nSigs, err := d.ReadU32()
	if err != nil {
		return nil, serErr(err)
	}
	for i := uint32(0); i < nSigs; i++ {
		var vs ValidatorSignature
		if vs.ValidatorID, err = d.ReadString(); err != nil {
			return nil, serErr(err)
		}
		if vs.KeyEpoch, err = d.ReadU32(); err != nil {
			return nil, serErr(err)
		}
		if vs.PublicKey, err = d.ReadBytes(); err != nil {
			return nil, serErr(err)
		}
		if vs.Signature, err = d.ReadBytes(); err != nil {
			return nil, serErr(err)
		}
		if vs.SignedAtNanos, err = d.ReadI64(); err != nil {
			return nil, serErr(err)
		}
		c.ValidatorSigs = append(c.ValidatorSigs, vs)
	}
	if c.HSMSig.KeyID, err = d.ReadString(); err != nil {
		return nil, serErr(err)
	}
	if c.HSMSig.KeyEpoch, err = d.ReadU32(); err != nil {
		return nil, serErr(err)
	}
	if c.HSMSig.PublicKey, err = d.ReadBytes(); err != nil {
		return nil, serErr(err)
	}
	if c.HSMSig.Signature, err = d.ReadBytes(); err != nil {
		return nil, serErr(err)
	}
	if c.HSMSig.SignedAtNanos, err = d.ReadI64(); err != nil {
		return nil, serErr(err)
	}
	if err := d.Finish(); err != nil {
		return nil, serErr(err)
	}
	return c, nil
}
