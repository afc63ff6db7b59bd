package netting

import (
	"fmt"
	"sort"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
)

// OptimizerStats reports what a cycle-elimination pass removed.
type OptimizerStats struct {
	CyclesEliminated int
	AmountEliminated money.Amount
}

// Optimize eliminates directed cycles from the graph: for every strongly
// connected component of size two or more, the canonical cycle is found, its
// bottleneck flow subtracted from every edge on it, and sub-epsilon residuals
// pruned. The pass repeats until no cycle with strictly positive bottleneck
// remains. Net positions are unchanged by construction: every node on a
// cycle loses the same amount of inflow and outflow.
func (g *Graph) Optimize() (OptimizerStats, error) {
	stats := OptimizerStats{AmountEliminated: money.Zero}

	for {
		sccs := g.stronglyConnectedComponents()

		progressed := false
		for _, scc := range sccs {
			if len(scc) < 2 {
				continue
			}
			for {
				cycle := g.canonicalCycle(scc)
				if cycle == nil {
					break
				}
				bottleneck := g.cycleBottleneck(cycle)
				if !bottleneck.IsPositive() {
					break
				}
				if err := g.subtractAlongCycle(cycle, bottleneck); err != nil {
					return stats, err
				}
				stats.CyclesEliminated++
				stats.AmountEliminated = stats.AmountEliminated.Add(
					bottleneck.Mul(money.New(int64(len(cycle)), 0)))
				progressed = true

				log.Debugf("Eliminated %d-bank cycle in %s, bottleneck %s",
					len(cycle), g.Currency, bottleneck)
			}
		}

		g.pruneBelowEpsilon()
		if !progressed {
			break
		}
	}

	g.RecomputeFlows()
	return stats, nil
}

// IsCyclic reports whether the graph still contains a directed cycle.
func (g *Graph) IsCyclic() bool {
	for _, scc := range g.stronglyConnectedComponents() {
		if len(scc) >= 2 {
			return true
		}
		// A self-loop would also cycle, but AddObligation rejects
		// self-directed obligations.
	}
	return false
}

// stronglyConnectedComponents runs Tarjan's algorithm. Components surface in
// DFS discovery order over nodes in insertion order, which keeps processing
// deterministic.
func (g *Graph) stronglyConnectedComponents() [][]int {
	n := len(g.nodes)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	adj := g.adjacency()

	var (
		sccs    [][]int
		stack   []int
		counter int
	)

	var strongConnect func(v int)
	strongConnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if index[w] == -1 {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongConnect(v)
		}
	}

	// Tarjan emits a component when its root finishes; the root is the
	// last node popped, so ordering by its index restores discovery order.
	sort.SliceStable(sccs, func(i, j int) bool {
		return index[sccs[i][len(sccs[i])-1]] < index[sccs[j][len(sccs[j])-1]]
	})
	return sccs
}

// adjacency builds out-neighbor lists over positive edges, each sorted by
// the neighbor's bank id so traversal order is canonical.
func (g *Graph) adjacency() [][]int {
	adj := make([][]int, len(g.nodes))
	for _, e := range g.edges {
		if e.Amount.IsPositive() {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	for v := range adj {
		sort.Slice(adj[v], func(i, j int) bool {
			return g.nodes[adj[v][i]].BankID < g.nodes[adj[v][j]].BankID
		})
	}
	return adj
}

// canonicalCycle finds the lexicographically smallest directed cycle (by
// bank-id sequence) within the given component, or nil when the component
// holds no cycle over positive edges. The search starts from the smallest
// bank id and always explores neighbors in bank-id order.
func (g *Graph) canonicalCycle(scc []int) []int {
	inSCC := make(map[int]bool, len(scc))
	for _, v := range scc {
		inSCC[v] = true
	}

	ordered := append([]int(nil), scc...)
	sort.Slice(ordered, func(i, j int) bool {
		return g.nodes[ordered[i]].BankID < g.nodes[ordered[j]].BankID
	})

	adj := g.adjacency()

	for _, start := range ordered {
		// Depth-first walk constrained to the component, neighbors in
		// bank-id order; the first cycle returning to start is the
		// canonical one from this root.
		var path []int
		onPath := make(map[int]bool)

		var dfs func(v int) []int
		dfs = func(v int) []int {
			path = append(path, v)
			onPath[v] = true
			defer func() {
				path = path[:len(path)-1]
				delete(onPath, v)
			}()

			for _, w := range adj[v] {
				if !inSCC[w] {
					continue
				}
				if w == start && len(path) >= 2 {
					cycle := make([]int, len(path))
					copy(cycle, path)
					return cycle
				}
				if !onPath[w] {
					if cycle := dfs(w); cycle != nil {
						return cycle
					}
				}
			}
			return nil
		}

		if cycle := dfs(start); cycle != nil {
			return cycle
		}
	}
	return nil
}

// cycleBottleneck returns the minimum edge weight along the cycle.
func (g *Graph) cycleBottleneck(cycle []int) money.Amount {
	min := money.Zero
	for i := range cycle {
		from := cycle[i]
		to := cycle[(i+1)%len(cycle)]
		e, ok := g.edge(from, to)
		if !ok {
			return money.Zero
		}
		if i == 0 || e.Amount.LessThan(min) {
			min = e.Amount
		}
	}
	return min
}

// subtractAlongCycle reduces every edge on the cycle by amount.
func (g *Graph) subtractAlongCycle(cycle []int, amount money.Amount) error {
	for i := range cycle {
		from := cycle[i]
		to := cycle[(i+1)%len(cycle)]
		e, ok := g.edge(from, to)
		if !ok {
			return fmt.Errorf("%w: cycle edge %s->%s vanished mid-subtraction",
				ErrGraphInconsistent, g.nodes[from].BankID, g.nodes[to].BankID)
		}
		next := e.Amount.Sub(amount)
		if next.IsNegative() {
			return fmt.Errorf("%w: edge %s->%s underflow subtracting %s from %s (obligations %v)",
				ErrGraphInconsistent, g.nodes[from].BankID, g.nodes[to].BankID,
				amount.Canonical(), e.Amount.Canonical(), e.ObligationIDs)
		}
		e.Amount = next
	}
	return nil
}
