package hybrid

import (
	"math/big"
	"testing"

	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/market"
)

func TestProfileCountsLiveMarketsOnly(t *testing.T) {
	snap := market.NewSnapshot([]market.Pool{
		poolAt(1, tokenA, tokenB, 1_000_000, 1_050_000, 0),
		poolAt(2, tokenB, tokenC, 1_000_000, 1_000_000, 0),
		poolAt(3, tokenC, tokenA, 1_000_000, 1_000_000, 0),
		poolAt(4, tokenA, tokenD, 0, 1_000_000, 30), // dead in both directions
	}, 7)
	g := graph.Build(snap, graph.Config{UnitAmount: big.NewInt(1000)})

	p := Profile(g, big.NewInt(50_000), 0.42)

	if p.MarketCount != 3 {
		t.Fatalf("MarketCount = %d, want 3 (the zero-reserve pool is not a market)", p.MarketCount)
	}
	// 6 live edges over 4 tokens
	if p.Fragmentation != 1.5 {
		t.Fatalf("Fragmentation = %v, want 1.5", p.Fragmentation)
	}
	if p.OrderSize.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("OrderSize = %s, want 50000", p.OrderSize)
	}
	if p.Volatility != 0.42 {
		t.Fatalf("Volatility = %v, want 0.42", p.Volatility)
	}
}

func TestProfileEmptyGraph(t *testing.T) {
	g := graph.Build(market.NewSnapshot(nil, 0), graph.Config{})

	p := Profile(g, big.NewInt(1), 0)

	if p.MarketCount != 0 || p.Fragmentation != 0 {
		t.Fatalf("empty graph profile = %+v, want zero counts", p)
	}
}
