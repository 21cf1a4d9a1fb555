package graph

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// EnumerateCycles lists simple cycles through start with at most maxHops
// hops, as edge-index sequences, capped at limit. This is the candidate
// universe for the genetic optimizer; the deterministic detector doesn't
// need it.
func (g *Graph) EnumerateCycles(start common.Address, maxHops, limit int) [][]int {
	startIdx, ok := g.index[start]
	if !ok || maxHops < 2 || limit <= 0 {
		return nil
	}

	var cycles [][]int
	visited := make([]bool, len(g.tokens))
	path := make([]int, 0, maxHops)

	var dfs func(at int)
	dfs = func(at int) {
		if len(cycles) >= limit {
			return
		}
		for _, ei := range g.adj[at] {
			e := &g.edges[ei]
			if e.Dead() {
				continue
			}
			// no immediate backtrack through the same pool
			if len(path) > 0 && g.edges[path[len(path)-1]].Pool.Address() == e.Pool.Address() {
				continue
			}
			ti := g.index[e.To]

			if ti == startIdx && len(path) >= 1 {
				cycle := make([]int, len(path)+1)
				copy(cycle, path)
				cycle[len(path)] = ei
				cycles = append(cycles, cycle)
				if len(cycles) >= limit {
					return
				}
				continue
			}

			if visited[ti] || len(path)+1 >= maxHops {
				continue
			}

			visited[ti] = true
			path = append(path, ei)
			dfs(ti)
			path = path[:len(path)-1]
			visited[ti] = false
		}
	}

	visited[startIdx] = true
	dfs(startIdx)

	return cycles
}

// CyclePath expands an edge-index sequence into tokens and pools. Token
// list has one more entry than the pool list; first == last for a cycle.
func (g *Graph) CyclePath(edgeIdx []int) ([]common.Address, []market.Pool) {
	if len(edgeIdx) == 0 {
		return nil, nil
	}

	tokens := make([]common.Address, 0, len(edgeIdx)+1)
	pools := make([]market.Pool, 0, len(edgeIdx))

	tokens = append(tokens, g.edges[edgeIdx[0]].From)
	for _, ei := range edgeIdx {
		e := &g.edges[ei]
		tokens = append(tokens, e.To)
		pools = append(pools, e.Pool)
	}

	return tokens, pools
}

// CycleWeight sums edge weights; negative means the loop nets a gain
// before sizing.
func (g *Graph) CycleWeight(edgeIdx []int) float64 {
	sum := 0.0
	for _, ei := range edgeIdx {
		sum += g.edges[ei].Weight
	}
	return sum
}
