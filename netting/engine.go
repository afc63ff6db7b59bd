package netting

import (
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/google/uuid"
)

// Engine nets one clearing window across currencies. Each currency owns an
// isolated graph snapshot; nothing mutates a graph concurrently with the
// calculation.
type Engine struct {
	windowID   int64
	graphs     map[string]*Graph
	currencies []string
}

// NewEngine creates a netting engine for a window.
func NewEngine(windowID int64) *Engine {
	return &Engine{
		windowID: windowID,
		graphs:   make(map[string]*Graph),
	}
}

// AddObligation routes one obligation into its currency graph.
func (e *Engine) AddObligation(currency, debtor, creditor string, amount money.Amount, obligationID uuid.UUID) error {
	g, ok := e.graphs[currency]
	if !ok {
		g = NewGraph(currency)
		e.graphs[currency] = g
		e.currencies = append(e.currencies, currency)
	}
	return g.AddObligation(debtor, creditor, amount, obligationID)
}

// Graph returns the graph for a currency, if any obligations used it.
func (e *Engine) Graph(currency string) (*Graph, bool) {
	g, ok := e.graphs[currency]
	return g, ok
}

// Optimize runs cycle elimination over every currency graph in insertion
// order and returns the combined stats.
func (e *Engine) Optimize() (OptimizerStats, error) {
	total := OptimizerStats{AmountEliminated: money.Zero}
	for _, currency := range e.currencies {
		stats, err := e.graphs[currency].Optimize()
		if err != nil {
			return total, err
		}
		total.CyclesEliminated += stats.CyclesEliminated
		total.AmountEliminated = total.AmountEliminated.Add(stats.AmountEliminated)
	}
	if total.CyclesEliminated > 0 {
		log.Infof("Window %d: eliminated %d cycles, removed %s gross",
			e.windowID, total.CyclesEliminated, total.AmountEliminated)
	}
	return total, nil
}

// Positions returns bilateral net positions for every currency, in currency
// insertion order.
func (e *Engine) Positions() []*NetPosition {
	var all []*NetPosition
	for _, currency := range e.currencies {
		all = append(all, e.graphs[currency].CalculatePositions(e.windowID)...)
	}
	return all
}

// Transfers returns the settlement-ready net transfers for the window.
func (e *Engine) Transfers() []*NetTransfer {
	return NetTransfers(e.Positions())
}

// Efficiency returns the volume-weighted efficiency across currencies.
func (e *Engine) Efficiency() float64 {
	gross := money.Zero
	net := money.Zero
	for _, currency := range e.currencies {
		g := e.graphs[currency]
		gross = gross.Add(g.GrossAtBuild())
		net = net.Add(g.NetValue())
	}
	if !gross.IsPositive() {
		return 0
	}
	return gross.Sub(net).Div(gross).Float64()
}

// Stats summarizes graph shape across currencies.
type Stats struct {
	Currencies int
	Banks      int
	Edges      int
}

// Stats returns the engine's aggregate graph statistics.
func (e *Engine) Stats() Stats {
	s := Stats{Currencies: len(e.currencies)}
	for _, g := range e.graphs {
		s.Banks += g.NodeCount()
		s.Edges += g.EdgeCount()
	}
	return s
}
