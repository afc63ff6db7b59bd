package netting

import (
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// NetDirection labels which way a bilateral residual flows.
type NetDirection string

const (
	// DirectionAToB means bank A pays bank B.
	DirectionAToB NetDirection = "A_TO_B"

	// DirectionBToA means bank B pays bank A.
	DirectionBToA NetDirection = "B_TO_A"

	// DirectionBalanced means the bilateral flows cancel exactly; no net
	// transfer is emitted.
	DirectionBalanced NetDirection = "BALANCED"
)

// NetPosition is the bilateral outcome for one bank pair in one currency
// within a window. At most one net transfer with strictly positive amount
// exists per pair.
type NetPosition struct {
	ID                uuid.UUID    `json:"id"`
	WindowID          int64        `json:"window_id"`
	BankPairHash      string       `json:"bank_pair_hash"`
	BankA             string       `json:"bank_a"`
	BankB             string       `json:"bank_b"`
	Currency          string       `json:"currency"`
	GrossAToB         money.Amount `json:"gross_debit_a_to_b"`
	GrossBToA         money.Amount `json:"gross_credit_b_to_a"`
	NetAmount         money.Amount `json:"net_amount"`
	Direction         NetDirection `json:"net_direction"`
	NetPayer          string       `json:"net_payer_id,omitempty"`
	NetReceiver       string       `json:"net_receiver_id,omitempty"`
	ObligationsNetted int          `json:"obligations_netted"`
	NettingRatio      money.Amount `json:"netting_ratio"`
	AmountSaved       money.Amount `json:"amount_saved"`
	CreatedAt         time.Time    `json:"created_at"`
}

// BankPairHash is the deduplication key for a bank pair: the
// lexicographically ordered concatenation of the two ids.
func BankPairHash(bankA, bankB string) string {
	if bankA > bankB {
		bankA, bankB = bankB, bankA
	}
	return bankA + ":" + bankB
}

// CalculatePositions walks the graph's edges in insertion order and emits one
// bilateral position per bank pair. Pairs already emitted are skipped by
// their pair hash.
func (g *Graph) CalculatePositions(windowID int64) []*NetPosition {
	g.RecomputeFlows()

	var positions []*NetPosition
	seen := make(map[string]bool)

	for _, e := range g.edges {
		a, b := e.From, e.To
		pairHash := BankPairHash(g.nodes[a].BankID, g.nodes[b].BankID)
		if seen[pairHash] {
			continue
		}
		seen[pairHash] = true
		positions = append(positions, g.bilateralPosition(windowID, a, b, pairHash))
	}
	return positions
}

// bilateralPosition computes the residual between two banks from the
// aggregated flows in both directions.
func (g *Graph) bilateralPosition(windowID int64, a, b int, pairHash string) *NetPosition {
	aToB := money.Zero
	bToA := money.Zero
	obligations := 0

	if e, ok := g.edge(a, b); ok {
		aToB = e.Amount
		obligations += len(e.ObligationIDs)
	}
	if e, ok := g.edge(b, a); ok {
		bToA = e.Amount
		obligations += len(e.ObligationIDs)
	}

	net := aToB.Sub(bToA).Abs()
	gross := aToB.Add(bToA)

	pos := &NetPosition{
		ID:                protocol.NewID(),
		WindowID:          windowID,
		BankPairHash:      pairHash,
		BankA:             g.nodes[a].BankID,
		BankB:             g.nodes[b].BankID,
		Currency:          g.Currency,
		GrossAToB:         aToB,
		GrossBToA:         bToA,
		NetAmount:         net,
		ObligationsNetted: obligations,
		AmountSaved:       gross.Sub(net),
		CreatedAt:         time.Now().UTC(),
	}

	switch aToB.Cmp(bToA) {
	case 1:
		pos.Direction = DirectionAToB
		pos.NetPayer = pos.BankA
		pos.NetReceiver = pos.BankB
	case -1:
		pos.Direction = DirectionBToA
		pos.NetPayer = pos.BankB
		pos.NetReceiver = pos.BankA
	default:
		pos.Direction = DirectionBalanced
	}

	if gross.IsPositive() {
		pos.NettingRatio = net.Div(gross)
	} else {
		pos.NettingRatio = money.Zero
	}
	return pos
}

// NetTransfer is a settlement-ready residual flow between two banks.
type NetTransfer struct {
	TransferID   uuid.UUID    `json:"transfer_id"`
	WindowID     int64        `json:"window_id"`
	FromBank     string       `json:"from_bank"`
	ToBank       string       `json:"to_bank"`
	Currency     string       `json:"currency"`
	Amount       money.Amount `json:"amount"`
	BankPairHash string       `json:"bank_pair_hash"`
}

// NetTransfers converts bilateral positions into directed transfers,
// dropping balanced pairs.
func NetTransfers(positions []*NetPosition) []*NetTransfer {
	var transfers []*NetTransfer
	for _, pos := range positions {
		if pos.Direction == DirectionBalanced || !pos.NetAmount.IsPositive() {
			continue
		}
		transfers = append(transfers, &NetTransfer{
			TransferID:   protocol.NewID(),
			WindowID:     pos.WindowID,
			FromBank:     pos.NetPayer,
			ToBank:       pos.NetReceiver,
			Currency:     pos.Currency,
			Amount:       pos.NetAmount.RoundExternal(),
			BankPairHash: pos.BankPairHash,
		})
	}
	return transfers
}

// Efficiency returns (gross − net) / gross, where gross is the edge-weight
// total at graph build and net is the bilateral residual total after
// elimination. Empty graphs report zero.
func (g *Graph) Efficiency() float64 {
	gross := g.GrossAtBuild()
	if !gross.IsPositive() {
		return 0
	}
	net := g.NetValue()
	return gross.Sub(net).Div(gross).Float64()
}
