package hybrid

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/graph"
)

// InstanceProfile is the cheap pre-measurement of one evaluation instance,
// everything the selection policy needs to decide if the genetic search is
// worth its latency.
type InstanceProfile struct {
	OrderSize     *big.Int
	MarketCount   int     // distinct live pools in the graph
	Fragmentation float64 // average live routes out of each token
	Volatility    float64 // caller-supplied proxy, bps
}

// Profile measures the graph. Dead edges don't count: a pool that failed
// its quote is not an alternative route.
func Profile(g *graph.Graph, orderSize *big.Int, volatility float64) InstanceProfile {
	p := InstanceProfile{OrderSize: orderSize, Volatility: volatility}

	n := g.TokenCount()
	if n == 0 {
		return p
	}

	pools := make(map[common.Address]bool)
	liveEdges := 0
	for i := 0; i < g.EdgeCount(); i++ {
		e := g.Edge(i)
		if e.Dead() {
			continue
		}
		liveEdges++
		pools[e.Pool.Address()] = true
	}

	p.MarketCount = len(pools)
	p.Fragmentation = float64(liveEdges) / float64(n)
	return p
}
