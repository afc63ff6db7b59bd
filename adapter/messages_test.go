package adapter

import (
	"testing"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/ledger"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMessageProjection(t *testing.T) {
	p := &protocol.PaymentInstruction{
		PaymentID: protocol.NewID(),
		UETR:      protocol.NewID(),
		Debtor:    protocol.Party{BIC: "BANKGB2L", Account: "GB29", Name: "Acme"},
		Creditor:  protocol.Party{BIC: "CHASUS33", Account: "US64", Name: "Globex"},
		Amount:    money.MustParse("1000.00"),
		Currency:  "USD",
	}
	si := &SettlementInstruction{
		InstructionID: protocol.NewID(),
		FromBank:      "BANKGB2L",
		ToBank:        "CHASUS33",
		Amount:        money.MustParse("400.00"),
		Currency:      "USD",
		Status:        InstructionDispatched,
		CreatedAt:     time.Now().UTC(),
	}

	msg := NewPaymentMessage(p, si, "Pending")
	assert.Equal(t, p.UETR, msg.UETR)
	assert.Equal(t, si.InstructionID, msg.InstructionID)
	assert.True(t, msg.InstructedAmount.Equal(money.MustParse("1000.00")))
	assert.True(t, msg.SettlementAmount.Equal(money.MustParse("400.00")))
	assert.Equal(t, "GB", msg.Debtor.Country)
	assert.Equal(t, "US", msg.Creditor.Country)
	assert.Equal(t, "BANKGB2L", msg.DebtorAgent)
	assert.Equal(t, "Pending", msg.Status)
}

func TestCountryFromBIC(t *testing.T) {
	assert.Equal(t, "GB", countryFromBIC("BANKGB2L"))
	assert.Equal(t, "US", countryFromBIC("CHASUS33XXX"))
	assert.Equal(t, "", countryFromBIC("SHORT"))
}

func TestProofMessageProjection(t *testing.T) {
	ckpt := &ledger.Checkpoint{
		CheckpointID:      protocol.NewID(),
		Height:            42,
		PrevCheckpointID:  protocol.NewID(),
		AppHash:           crypto.HashSHA3([]byte("state")),
		MerkleRoot:        crypto.HashSHA3([]byte("root")),
		AuthorizedParties: []string{"BANKGB2L"},
		GeneratedAtNanos:  time.Now().UnixNano(),
	}
	batchID := uuid.New()

	msg := NewProofMessage(ckpt, batchID, "deltran-testnet", 1)
	assert.Equal(t, batchID, msg.BatchID)
	assert.Equal(t, uint64(42), msg.CheckpointHeight)
	assert.Equal(t, ckpt.MerkleRoot, msg.MerkleRoot)
	assert.Equal(t, ckpt.AppHash, msg.AppHash)
	assert.Equal(t, ckpt.PrevCheckpointID, msg.PrevCheckpointID)
	assert.Equal(t, "deltran-testnet", msg.NetworkID)
	assert.Equal(t, uint16(1), msg.ProtoVersion)
	require.Equal(t, []string{"BANKGB2L"}, msg.AuthorizedParty)
}
