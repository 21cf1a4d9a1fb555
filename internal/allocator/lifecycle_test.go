package allocator

import (
	"math/big"
	"testing"
	"time"

	"github.com/pulkyeet/arb-engine/internal/market"
	"github.com/pulkyeet/arb-engine/internal/predictor"
)

// openOne opens a single half-ETH position on a 2000-priced pool.
func openOne(t *testing.T, a *Allocator, pool *market.Pair, now time.Time) *Position {
	t.Helper()
	snap := market.NewSnapshot([]market.Pool{pool}, 1)
	opened := a.Consider([]*predictor.Prediction{prediction(pool, tokenB, 95)}, snap, now)
	if len(opened) != 1 {
		t.Fatalf("opened %d positions, want 1", len(opened))
	}
	return opened[0]
}

func TestStopLossCloses(t *testing.T) {
	a := New(DefaultConfig())
	pool := poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30)
	now := time.Unix(1_700_000_000, 0)
	openOne(t, a, pool, now)

	// through the 5% stop
	pool.SetReserves(big.NewInt(1_800_000), big.NewInt(1_000))
	snap := market.NewSnapshot([]market.Pool{pool}, 2)

	closed := a.Monitor(snap, now.Add(2*time.Second))
	if len(closed) != 1 {
		t.Fatalf("closed %d positions, want 1", len(closed))
	}
	c := closed[0]

	if c.Reason != ReasonStopLoss {
		t.Fatalf("Reason = %q, want %q", c.Reason, ReasonStopLoss)
	}
	if c.ExitPrice != 1800 {
		t.Fatalf("ExitPrice = %v, want 1800", c.ExitPrice)
	}
	if !almost(c.Return, -0.1, 1e-9) {
		t.Fatalf("Return = %v, want -0.1", c.Return)
	}
	// 10% lost on a half-ETH position
	if c.PnL.Cmp(big.NewInt(-50_000_000_000_000_000)) != 0 {
		t.Fatalf("PnL = %s, want -0.05 ETH", c.PnL)
	}

	if a.Deployed().Sign() != 0 {
		t.Fatalf("Deployed = %s after the only position closed", a.Deployed())
	}
	wantAvail := new(big.Int).Sub(eth(10), big.NewInt(50_000_000_000_000_000))
	if a.Available().Cmp(wantAvail) != 0 {
		t.Fatalf("Available = %s, want %s", a.Available(), wantAvail)
	}
	checkBook(t, a)
}

func TestTakeProfitClosesAndSweeps(t *testing.T) {
	a := New(DefaultConfig())
	pool := poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30)
	now := time.Unix(1_700_000_000, 0)
	openOne(t, a, pool, now)

	// through the 10% target
	pool.SetReserves(big.NewInt(2_250_000), big.NewInt(1_000))
	snap := market.NewSnapshot([]market.Pool{pool}, 2)

	closed := a.Monitor(snap, now.Add(2*time.Second))
	if len(closed) != 1 || closed[0].Reason != ReasonProfit {
		t.Fatalf("closed = %v, want one take-profit close", closed)
	}
	if closed[0].PnL.Cmp(big.NewInt(62_500_000_000_000_000)) != 0 {
		t.Fatalf("PnL = %s, want 0.0625 ETH", closed[0].PnL)
	}

	// the win does not grow working capital past the cap; the excess is
	// swept out instead
	if a.Available().Cmp(eth(10)) != 0 {
		t.Fatalf("Available = %s, want back at the 10 ETH cap", a.Available())
	}
	if a.Swept().Cmp(big.NewInt(62_500_000_000_000_000)) != 0 {
		t.Fatalf("Swept = %s, want the full win", a.Swept())
	}
	checkBook(t, a)
}

func TestTimeoutCloses(t *testing.T) {
	a := New(DefaultConfig())
	pool := poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30)
	now := time.Unix(1_700_000_000, 0)
	openOne(t, a, pool, now)

	snap := market.NewSnapshot([]market.Pool{pool}, 2)

	// price never moves; horizon (1m) plus timeout (5m) elapses
	closed := a.Monitor(snap, now.Add(6*time.Minute+time.Second))
	if len(closed) != 1 || closed[0].Reason != ReasonTimeout {
		t.Fatalf("closed = %v, want one timeout close", closed)
	}
	if closed[0].PnL.Sign() != 0 {
		t.Fatalf("PnL = %s on an unmoved price, want 0", closed[0].PnL)
	}
	checkBook(t, a)
}

func TestMonitorThrottles(t *testing.T) {
	a := New(DefaultConfig())
	pool := poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30)
	now := time.Unix(1_700_000_000, 0)
	openOne(t, a, pool, now)

	snap := market.NewSnapshot([]market.Pool{pool}, 2)
	t1 := now.Add(2 * time.Second)
	if closed := a.Monitor(snap, t1); len(closed) != 0 {
		t.Fatalf("closed %d positions at the entry price", len(closed))
	}

	pool.SetReserves(big.NewInt(1_800_000), big.NewInt(1_000))
	snap = market.NewSnapshot([]market.Pool{pool}, 3)

	if closed := a.Monitor(snap, t1.Add(100*time.Millisecond)); closed != nil {
		t.Fatal("monitor ran inside the update interval")
	}
	if closed := a.Monitor(snap, t1.Add(2*time.Second)); len(closed) != 1 {
		t.Fatalf("closed %d positions once the throttle opened, want 1", len(closed))
	}
}

func TestManualCloseAndUnknownID(t *testing.T) {
	a := New(DefaultConfig())
	pool := poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30)
	now := time.Unix(1_700_000_000, 0)
	pos := openOne(t, a, pool, now)
	snap := market.NewSnapshot([]market.Pool{pool}, 2)

	c, ok := a.Close(pos.ID, snap, now.Add(time.Second))
	if !ok || c.Reason != ReasonManual {
		t.Fatalf("Close = %v, %v, want a manual close", c, ok)
	}
	if a.Available().Cmp(eth(10)) != 0 {
		t.Fatalf("Available = %s after a flat manual close, want 10 ETH", a.Available())
	}

	before := a.Available()
	if _, ok := a.Close(pos.ID, snap, now.Add(2*time.Second)); ok {
		t.Fatal("Close succeeded twice for the same id")
	}
	if _, ok := a.Close(424242, snap, now.Add(2*time.Second)); ok {
		t.Fatal("Close succeeded for an id that never existed")
	}
	if a.Available().Cmp(before) != 0 {
		t.Fatal("failed closes moved capital")
	}
}

func TestPerformanceAggregates(t *testing.T) {
	a := New(DefaultConfig())
	now := time.Unix(1_700_000_000, 0)

	loser := poolAt(1, tokenA, tokenC, 2_000_000, 1_000, 30)
	winner := poolAt(2, tokenA, tokenB, 2_000_000, 1_000, 30)
	snap := market.NewSnapshot([]market.Pool{loser, winner}, 1)

	// the loser scores higher, opens first, and gets the bigger slice
	preds := []*predictor.Prediction{
		prediction(loser, tokenC, 95),
		prediction(winner, tokenB, 90),
	}
	if opened := a.Consider(preds, snap, now); len(opened) != 2 {
		t.Fatalf("opened %d positions, want 2", len(opened))
	}

	loser.SetReserves(big.NewInt(1_800_000), big.NewInt(1_000))  // -10%
	winner.SetReserves(big.NewInt(2_250_000), big.NewInt(1_000)) // +12.5%
	snap = market.NewSnapshot([]market.Pool{loser, winner}, 2)

	if closed := a.Monitor(snap, now.Add(2*time.Second)); len(closed) != 2 {
		t.Fatalf("closed %d positions, want 2", len(closed))
	}

	perf := a.Performance()
	if perf.Trades != 2 || perf.Wins != 1 {
		t.Fatalf("Trades/Wins = %d/%d, want 2/1", perf.Trades, perf.Wins)
	}
	if perf.WinRate != 0.5 {
		t.Fatalf("WinRate = %v, want 0.5", perf.WinRate)
	}
	// -0.05 ETH on the 0.5 position, +0.059375 ETH on the 0.475 one
	if perf.NetPnL.Cmp(big.NewInt(9_375_000_000_000_000)) != 0 {
		t.Fatalf("NetPnL = %s, want 0.009375 ETH", perf.NetPnL)
	}
	// returns -0.1 and +0.125: mean 0.0125 over stddev 0.1125
	if !almost(perf.Sharpe, 1.0/9, 1e-9) {
		t.Fatalf("Sharpe = %v, want 1/9", perf.Sharpe)
	}
	if perf.AvgHold != 2*time.Second {
		t.Fatalf("AvgHold = %s, want 2s", perf.AvgHold)
	}
	checkBook(t, a)
}

func TestBookInvariantThroughAChurn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateInterval = 0
	a := New(cfg)
	now := time.Unix(1_700_000_000, 0)

	pools := []*market.Pair{
		poolAt(1, tokenA, tokenB, 2_000_000, 1_000, 30),
		poolAt(2, tokenA, tokenC, 2_000_000, 1_000, 30),
		poolAt(3, tokenB, tokenC, 2_000_000, 1_000, 30),
	}

	// open, whipsaw, reopen: the invariant has to hold at every step
	for round := 0; round < 4; round++ {
		live := make([]market.Pool, len(pools))
		for i, p := range pools {
			live[i] = p
		}
		snap := market.NewSnapshot(live, uint64(round*2+1))

		var preds []*predictor.Prediction
		for _, p := range pools {
			_, t1 := p.Tokens()
			preds = append(preds, prediction(p, t1, 95))
		}
		a.Consider(preds, snap, now)
		checkBook(t, a)

		// alternate harsh moves against and for the book
		move := int64(1_700_000) // -15%, through every stop
		if round%2 == 1 {
			move = 2_300_000 // +15%, through every target
		}
		for _, p := range pools {
			p.SetReserves(big.NewInt(move), big.NewInt(1_000))
		}
		snap = market.NewSnapshot(live, uint64(round*2+2))
		a.Monitor(snap, now.Add(time.Duration(round+1)*time.Minute))
		checkBook(t, a)

		// reset prices for the next round
		for _, p := range pools {
			p.SetReserves(big.NewInt(2_000_000), big.NewInt(1_000))
		}
	}

	if perf := a.Performance(); perf.Trades != 12 {
		t.Fatalf("Trades = %d across 4 rounds of 3 pools, want 12", perf.Trades)
	}
}
