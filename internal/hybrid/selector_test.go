package hybrid

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/market"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	tokenD = common.HexToAddress("0x00000000000000000000000000000000000000D0")
)

func poolAt(n byte, t0, t1 common.Address, r0, r1 int64, feeBps int64) *market.Pair {
	addr := common.BytesToAddress([]byte{0xE0, n})
	return market.NewPair(addr, t0, t1, big.NewInt(r0), big.NewInt(r1), feeBps, "test")
}

// one 5% skew pool and two flat pools closing the loop back to A
func triangleGraph() *graph.Graph {
	snap := market.NewSnapshot([]market.Pool{
		poolAt(1, tokenA, tokenB, 1_000_000, 1_050_000, 0),
		poolAt(2, tokenB, tokenC, 1_000_000, 1_000_000, 0),
		poolAt(3, tokenC, tokenA, 1_000_000, 1_000_000, 0),
	}, 7)
	return graph.Build(snap, graph.Config{UnitAmount: big.NewInt(1000)})
}

// gatedIn relaxes the profile gates so a 3-pool fixture qualifies for the
// genetic search.
func gatedIn() SelectorConfig {
	cfg := DefaultSelectorConfig()
	cfg.FragGateDisabled = true
	cfg.MinMarkets = 1
	return cfg
}

type stubSearcher struct {
	calls int
	opps  []*arbitrage.Opportunity
	delay time.Duration
	boom  bool
}

func (s *stubSearcher) Optimize(ctx context.Context, g *graph.Graph, start common.Address, orderSize *big.Int) []*arbitrage.Opportunity {
	s.calls++
	if s.boom {
		panic("synthetic searcher failure")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.opps
}

func TestShouldUseGAGateMatrix(t *testing.T) {
	cfg := DefaultSelectorConfig()
	cfg.MinOrderSize = big.NewInt(1000)
	cfg.MinFragmentation = 2.5
	cfg.MinMarkets = 4
	s := NewSelector(cfg, arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()), nil)

	good := InstanceProfile{OrderSize: big.NewInt(10_000), MarketCount: 8, Fragmentation: 3.0}

	cases := []struct {
		name    string
		profile InstanceProfile
		want    bool
	}{
		{"all gates pass", good, true},
		{"order below minimum", InstanceProfile{OrderSize: big.NewInt(999), MarketCount: 8, Fragmentation: 3.0}, false},
		{"nil order size", InstanceProfile{MarketCount: 8, Fragmentation: 3.0}, false},
		{"market too concentrated", InstanceProfile{OrderSize: big.NewInt(10_000), MarketCount: 8, Fragmentation: 1.9}, false},
		{"too few markets", InstanceProfile{OrderSize: big.NewInt(10_000), MarketCount: 3, Fragmentation: 3.0}, false},
	}
	for _, tc := range cases {
		if got := s.ShouldUseGA(tc.profile); got != tc.want {
			t.Errorf("%s: ShouldUseGA = %v, want %v", tc.name, got, tc.want)
		}
	}

	// the fragmentation gate can be switched off per deployment
	cfg.FragGateDisabled = true
	s = NewSelector(cfg, arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()), nil)
	if !s.ShouldUseGA(InstanceProfile{OrderSize: big.NewInt(10_000), MarketCount: 8, Fragmentation: 1.0}) {
		t.Error("fragmentation gate still applied after being disabled")
	}

	// an open breaker vetoes everything else
	for i := 0; i < cfg.BreakerFailures; i++ {
		s.breaker.RecordFailure()
	}
	if s.ShouldUseGA(good) {
		t.Error("ShouldUseGA = true with the breaker tripped")
	}
}

func TestDiscoverAlwaysRunsBaseline(t *testing.T) {
	// default gates: 3 markets < MinMarkets keeps the genetic side out
	stub := &stubSearcher{}
	s := NewSelector(DefaultSelectorConfig(), arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()), stub)

	opps := s.Discover(context.Background(), triangleGraph(), tokenA, big.NewInt(10_000), 0, 42)

	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if opps[0].Source != arbitrage.SourceDeterministic {
		t.Fatalf("Source = %q, want %q", opps[0].Source, arbitrage.SourceDeterministic)
	}
	if opps[0].BlockNumber != 42 {
		t.Fatalf("BlockNumber = %d, want 42", opps[0].BlockNumber)
	}
	if stub.calls != 0 {
		t.Fatalf("genetic searcher ran %d times despite failing the gates", stub.calls)
	}

	detRT, _ := s.Runtimes()
	if detRT <= 0 {
		t.Fatalf("detector runtime not recorded: %s", detRT)
	}
}

func TestDiscoverMergesAndDedups(t *testing.T) {
	g := triangleGraph()

	// the searcher re-surfaces the baseline cycle with a worse estimate,
	// plus a fabricated path whose volume exceeds its entry reserve
	det := arbitrage.NewDetector(arbitrage.DefaultDetectorConfig())
	paths := det.Detect(g, tokenA)
	if len(paths) != 1 {
		t.Fatalf("fixture broke: %d baseline paths, want 1", len(paths))
	}
	dup := arbitrage.PathOpportunity(paths[0], arbitrage.SourceGenetic, 7)
	dup.EstProfit = big.NewInt(1)

	rogue := poolAt(9, tokenA, tokenB, 1_000_000, 1_000_000, 0)
	oversized := &arbitrage.Opportunity{
		Token: tokenA,
		Paths: []*arbitrage.Path{{
			Tokens:   []common.Address{tokenA, tokenB, tokenA},
			Pools:    []market.Pool{rogue, rogue},
			AmountIn: big.NewInt(2_000_000),
			Profit:   big.NewInt(5),
		}},
		EstProfit: big.NewInt(5),
		Source:    arbitrage.SourceGenetic,
	}

	stub := &stubSearcher{opps: []*arbitrage.Opportunity{dup, oversized}}
	s := NewSelector(gatedIn(), det, stub)

	opps := s.Discover(context.Background(), g, tokenA, big.NewInt(10_000), 0, 7)

	if stub.calls != 1 {
		t.Fatalf("genetic searcher ran %d times, want 1", stub.calls)
	}
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 after dedup and validation", len(opps))
	}
	if opps[0].Source != arbitrage.SourceDeterministic {
		t.Fatalf("kept the worse duplicate: Source = %q", opps[0].Source)
	}
	if s.breaker.Tripped() {
		t.Fatal("breaker tripped on a healthy run")
	}
}

func TestDiscoverSurvivesPanickingSearcher(t *testing.T) {
	cfg := gatedIn()
	cfg.BreakerFailures = 1
	stub := &stubSearcher{boom: true}
	s := NewSelector(cfg, arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()), stub)

	opps := s.Discover(context.Background(), triangleGraph(), tokenA, big.NewInt(10_000), 0, 7)

	if len(opps) != 1 || opps[0].Source != arbitrage.SourceDeterministic {
		t.Fatalf("baseline not served through the panic: %d opportunities", len(opps))
	}
	if !s.breaker.Tripped() {
		t.Fatal("panic did not trip the breaker")
	}

	// the next instance skips the genetic side entirely
	s.Discover(context.Background(), triangleGraph(), tokenA, big.NewInt(10_000), 0, 8)
	if stub.calls != 1 {
		t.Fatalf("searcher ran %d times, want 1 while the breaker is open", stub.calls)
	}
}

func TestDiscoverSlowSearcherTripsBreaker(t *testing.T) {
	cfg := gatedIn()
	cfg.BreakerFailures = 1
	cfg.GATimeout = 5 * time.Millisecond
	stub := &stubSearcher{delay: 25 * time.Millisecond}
	s := NewSelector(cfg, arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()), stub)

	opps := s.Discover(context.Background(), triangleGraph(), tokenA, big.NewInt(10_000), 0, 7)

	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want the baseline", len(opps))
	}
	if !s.breaker.Tripped() {
		t.Fatal("budget overrun did not trip the breaker")
	}
}

func TestRuntimeSmoothing(t *testing.T) {
	if got := ema(0, 100*time.Millisecond, 0.2); got != 100*time.Millisecond {
		t.Fatalf("first sample = %s, want taken whole", got)
	}
	if got := ema(100*time.Millisecond, 200*time.Millisecond, 0.2); got != 120*time.Millisecond {
		t.Fatalf("smoothed = %s, want 120ms", got)
	}
}
