package graph

import (
	"log"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// Edge is one direction through one pool. Weight is -ln(rate net of fee)
// for a unit-amount probe; +Inf marks a dead edge (failed or zero quote)
// which every search skips.
type Edge struct {
	From   common.Address
	To     common.Address
	Pool   market.Pool
	Rate   float64
	Weight float64
}

func (e *Edge) Dead() bool {
	return math.IsInf(e.Weight, 1)
}

type Config struct {
	// UnitAmount is the probe size for edge-weight quotes. Small relative
	// to reserves or the probe's own impact pollutes the rate.
	UnitAmount *big.Int
}

func DefaultConfig() Config {
	// 0.001 of an 18-decimal token
	return Config{UnitAmount: big.NewInt(1_000_000_000_000_000)}
}

// Graph is one tick's market graph: tokens are nodes, pool directions are
// edges. Rebuilt from each snapshot, never mutated afterwards, never
// persisted across ticks.
type Graph struct {
	tokens []common.Address
	index  map[common.Address]int
	adj    [][]int
	edges  []Edge
	dead   int
}

// Build constructs the graph from a snapshot. Per-pool quote failures mark
// that edge dead and move on; one broken venue never aborts the rebuild.
func Build(snap *market.Snapshot, cfg Config) *Graph {
	if cfg.UnitAmount == nil || cfg.UnitAmount.Sign() <= 0 {
		cfg = DefaultConfig()
	}

	g := &Graph{index: make(map[common.Address]int)}

	for _, p := range snap.Pools {
		t0, t1 := p.Tokens()
		g.addToken(t0)
		g.addToken(t1)
		g.addEdge(p, t0, t1, cfg.UnitAmount)
		g.addEdge(p, t1, t0, cfg.UnitAmount)
	}

	return g
}

func (g *Graph) addToken(t common.Address) int {
	if i, ok := g.index[t]; ok {
		return i
	}
	i := len(g.tokens)
	g.tokens = append(g.tokens, t)
	g.index[t] = i
	g.adj = append(g.adj, nil)
	return i
}

func (g *Graph) addEdge(p market.Pool, from, to common.Address, unit *big.Int) {
	e := Edge{From: from, To: to, Pool: p, Weight: math.Inf(1)}

	out, err := p.AmountOut(unit, from, to)
	if err != nil || out == nil || out.Sign() == 0 {
		if err != nil {
			log.Printf("[graph] dead edge %s->%s via %s: %v", from.Hex(), to.Hex(), p.Address().Hex(), err)
		}
		g.dead++
	} else {
		rate := ratio(out, unit)
		if rate > 0 {
			e.Rate = rate
			e.Weight = -math.Log(rate)
		} else {
			g.dead++
		}
	}

	idx := len(g.edges)
	g.edges = append(g.edges, e)
	fi := g.index[from]
	g.adj[fi] = append(g.adj[fi], idx)
}

func (g *Graph) TokenCount() int {
	return len(g.tokens)
}

func (g *Graph) Tokens() []common.Address {
	return g.tokens
}

func (g *Graph) TokenIndex(t common.Address) (int, bool) {
	i, ok := g.index[t]
	return i, ok
}

func (g *Graph) Token(i int) common.Address {
	return g.tokens[i]
}

func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

func (g *Graph) Edge(i int) *Edge {
	return &g.edges[i]
}

// OutEdges returns edge indices leaving token index i.
func (g *Graph) OutEdges(i int) []int {
	return g.adj[i]
}

func (g *Graph) DeadEdges() int {
	return g.dead
}

func ratio(num, den *big.Int) float64 {
	f := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den))
	v, _ := f.Float64()
	return v
}
