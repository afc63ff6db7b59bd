package adapter

import (
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// AgentParty identifies a payment party for external messages, with the
// country derived from the BIC.
type AgentParty struct {
	Name    string `json:"name"`
	BIC     string `json:"bic"`
	Country string `json:"country"`
}

// countryFromBIC extracts the ISO country code embedded at positions 5-6 of
// a BIC.
func countryFromBIC(bic string) string {
	if len(bic) >= 6 {
		return bic[4:6]
	}
	return ""
}

// PaymentMessage is the canonical payment representation produced for any
// transport. It carries semantic fields only; rail-specific renderings are
// derived outside the core.
type PaymentMessage struct {
	TransactionID    uuid.UUID    `json:"transaction_id"`
	UETR             uuid.UUID    `json:"uetr"`
	EndToEndID       string       `json:"end_to_end_id"`
	InstructionID    uuid.UUID    `json:"instruction_id"`
	InstructedAmount money.Amount `json:"instructed_amount"`
	SettlementAmount money.Amount `json:"settlement_amount"`
	Currency         string       `json:"currency"`
	Debtor           AgentParty   `json:"debtor"`
	Creditor         AgentParty   `json:"creditor"`
	DebtorAgent      string       `json:"debtor_agent"`
	CreditorAgent    string       `json:"creditor_agent"`
	Status           string       `json:"status"`
}

// NewPaymentMessage projects an instruction and its originating payment into
// the canonical message.
func NewPaymentMessage(p *protocol.PaymentInstruction, si *SettlementInstruction, status string) *PaymentMessage {
	return &PaymentMessage{
		TransactionID:    si.InstructionID,
		UETR:             p.UETR,
		EndToEndID:       "E2E" + p.UETR.String(),
		InstructionID:    si.InstructionID,
		InstructedAmount: p.Amount,
		SettlementAmount: si.Amount,
		Currency:         si.Currency,
		Debtor: AgentParty{
			Name:    p.Debtor.Name,
			BIC:     p.Debtor.BIC,
			Country: countryFromBIC(p.Debtor.BIC),
		},
		Creditor: AgentParty{
			Name:    p.Creditor.Name,
			BIC:     p.Creditor.BIC,
			Country: countryFromBIC(p.Creditor.BIC),
		},
		DebtorAgent:   p.Debtor.BIC,
		CreditorAgent: p.Creditor.BIC,
		Status:        status,
	}
}

// ProofMessage is the bit-exact settlement proof produced from a checkpoint
// for authorized parties.
type ProofMessage struct {
	ProofID          uuid.UUID                   `json:"proof_id"`
	BatchID          uuid.UUID                   `json:"batch_id"`
	CheckpointHeight uint64                      `json:"checkpoint_height"`
	MerkleRoot       crypto.Hash                 `json:"merkle_root"`
	MerklePaths      []ledger.PaymentPath        `json:"merkle_paths"`
	AppHash          crypto.Hash                 `json:"app_hash"`
	PrevCheckpointID uuid.UUID                   `json:"prev_checkpoint_id"`
	NetworkID        string                      `json:"network_id"`
	ProtoVersion     uint16                      `json:"proto_version"`
	BatchFinalizedAt time.Time                   `json:"batch_finalized_at"`
	ProofGeneratedAt time.Time                   `json:"proof_generated_at"`
	ValidatorSigs    []ledger.ValidatorSignature `json:"validator_signatures"`
	HSMSig           ledger.HSMSignature         `json:"hsm_signature"`
	Summary          ledger.BatchSummary         `json:"summary"`
	AuthorizedParty  []string                    `json:"authorized_parties"`
}

// NewProofMessage projects a verified checkpoint into the external proof
// message.
func NewProofMessage(c *ledger.Checkpoint, batchID uuid.UUID, networkID string, protoVersion uint16) *ProofMessage {
	return &ProofMessage{
		ProofID:          protocol.NewID(),
		BatchID:          batchID,
		CheckpointHeight: c.Height,
		MerkleRoot:       c.MerkleRoot,
		MerklePaths:      c.MerklePaths,
		AppHash:          c.AppHash,
		PrevCheckpointID: c.PrevCheckpointID,
		NetworkID:        networkID,
		ProtoVersion:     protoVersion,
		BatchFinalizedAt: time.Unix(0, c.GeneratedAtNanos).UTC(),
		ProofGeneratedAt: time.Unix(0, c.GeneratedAtNanos).UTC(),
		ValidatorSigs:    c.ValidatorSigs,
		HSMSig:           c.HSMSig,
		Summary:          c.Summary,
		AuthorizedParty:  c.AuthorizedParties,
	}
}
