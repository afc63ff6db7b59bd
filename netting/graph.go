// Package netting implements the multilateral netting engine: one directed
// graph per currency whose nodes are banks and whose edges aggregate gross
// obligations, cycle elimination that preserves every bank's net position,
// and bilateral net-transfer calculation.
package netting

import (
	"errors"
	"fmt"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/google/uuid"
)

// ErrGraphInconsistent reports an invariant violation detected mid-run; the
// offending obligation set is named in the message.
var ErrGraphInconsistent = errors.New("netting graph inconsistent")

// ErrCalculationOverflow reports decimal arithmetic leaving the representable
// range.
var ErrCalculationOverflow = errors.New("netting calculation overflow")

// BankNode is one bank inside a currency graph. NetPosition is incoming
// minus outgoing: positive marks a net receiver.
type BankNode struct {
	BankID      string
	Incoming    money.Amount
	Outgoing    money.Amount
	NetPosition money.Amount
}

// Edge aggregates the gross flow debtor→creditor with the obligations that
// contributed to it.
type Edge struct {
	From          int
	To            int
	Amount        money.Amount
	ObligationIDs []uuid.UUID
}

// Graph is the per-currency netting graph. Node and edge iteration order is
// insertion order, which makes optimization and emission deterministic across
// runs and implementations.
type Graph struct {
	Currency string

	nodes   []*BankNode
	nodeIdx map[string]int

	edges   []*Edge
	edgeIdx map[[2]int]int

	// grossAtBuild freezes the pre-optimization gross total for the
	// efficiency metric.
	grossAtBuild money.Amount
}

// NewGraph creates an empty graph for one currency.
func NewGraph(currency string) *Graph {
	return &Graph{
		Currency: currency,
		nodeIdx:  make(map[string]int),
		edgeIdx:  make(map[[2]int]int),
	}
}

// findOrCreateNode returns the index for a bank, creating the node on first
// sight.
func (g *Graph) findOrCreateNode(bankID string) int {
	if idx, ok := g.nodeIdx[bankID]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, &BankNode{BankID: bankID})
	g.nodeIdx[bankID] = idx
	return idx
}

// AddObligation folds one obligation into the graph: find-or-create both
// nodes and the debtor→creditor edge, then add the amount.
func (g *Graph) AddObligation(debtor, creditor string, amount money.Amount, obligationID uuid.UUID) error {
	if debtor == creditor {
		return fmt.Errorf("%w: obligation %s is self-directed (%s)",
			ErrGraphInconsistent, obligationID, debtor)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: obligation %s has non-positive amount %s",
			ErrGraphInconsistent, obligationID, amount.Canonical())
	}

	from := g.findOrCreateNode(debtor)
	to := g.findOrCreateNode(creditor)

	key := [2]int{from, to}
	if idx, ok := g.edgeIdx[key]; ok {
		e := g.edges[idx]
		e.Amount = e.Amount.Add(amount)
		e.ObligationIDs = append(e.ObligationIDs, obligationID)
	} else {
		g.edgeIdx[key] = len(g.edges)
		g.edges = append(g.edges, &Edge{
			From:          from,
			To:            to,
			Amount:        amount,
			ObligationIDs: []uuid.UUID{obligationID},
		})
	}

	g.grossAtBuild = g.grossAtBuild.Add(amount)
	return nil
}

// NodeCount returns the number of banks in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of aggregated edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Node returns the bank node at idx.
func (g *Graph) Node(idx int) *BankNode {
	return g.nodes[idx]
}

// Edges returns the edges in insertion order. Callers must not reorder.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// edge returns the aggregated edge from→to, if present.
func (g *Graph) edge(from, to int) (*Edge, bool) {
	idx, ok := g.edgeIdx[[2]int{from, to}]
	if !ok {
		return nil, false
	}
	return g.edges[idx], true
}

// RecomputeFlows refreshes per-node incoming/outgoing totals and net
// positions from the current edge weights.
func (g *Graph) RecomputeFlows() {
	for _, n := range g.nodes {
		n.Incoming = money.Zero
		n.Outgoing = money.Zero
	}
	for _, e := range g.edges {
		g.nodes[e.To].Incoming = g.nodes[e.To].Incoming.Add(e.Amount)
		g.nodes[e.From].Outgoing = g.nodes[e.From].Outgoing.Add(e.Amount)
	}
	for _, n := range g.nodes {
		n.NetPosition = n.Incoming.Sub(n.Outgoing)
	}
}

// GrossValue returns the current sum of edge weights.
func (g *Graph) GrossValue() money.Amount {
	total := money.Zero
	for _, e := range g.edges {
		total = total.Add(e.Amount)
	}
	return total
}

// GrossAtBuild returns the pre-optimization gross total.
func (g *Graph) GrossAtBuild() money.Amount {
	return g.grossAtBuild
}

// NetValue returns the total that would actually move: the sum of bilateral
// residuals |flow(a→b) − flow(b→a)| over every bank pair at the current edge
// weights.
func (g *Graph) NetValue() money.Amount {
	total := money.Zero
	seen := make(map[[2]int]bool)
	for _, e := range g.edges {
		a, b := e.From, e.To
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if seen[key] {
			continue
		}
		seen[key] = true

		forward := money.Zero
		backward := money.Zero
		if fe, ok := g.edge(a, b); ok {
			forward = fe.Amount
		}
		if be, ok := g.edge(b, a); ok {
			backward = be.Amount
		}
		total = total.Add(forward.Sub(backward).Abs())
	}
	return total
}

// pruneBelowEpsilon removes edges whose residual dropped below the money
// epsilon, compacting the edge list while preserving relative order.
func (g *Graph) pruneBelowEpsilon() {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Amount.LessThan(money.Epsilon) {
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept

	g.edgeIdx = make(map[[2]int]int, len(g.edges))
	for i, e := range g.edges {
		g.edgeIdx[[2]int{e.From, e.To}] = i
	}
}
