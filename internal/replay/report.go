package replay

import (
	"fmt"
	"math/big"
	"time"

	"github.com/pulkyeet/arb-engine/internal/allocator"
)

// Report aggregates one replay run.
type Report struct {
	StartBlock uint64
	EndBlock   uint64
	Ticks      int
	EmptyTicks int // recorded blocks with no usable pools
	Errors     int

	Opportunities int
	BySource      map[string]int
	BestProfit    *big.Int
	TotalProfit   *big.Int // summed expected profit across all ticks

	Predictions     int
	PositionsOpened int
	PositionsClosed int
	ClosedByReason  map[string]int

	Perf    allocator.Performance
	Elapsed time.Duration
}

func NewReport(startBlock, endBlock uint64) *Report {
	return &Report{
		StartBlock:     startBlock,
		EndBlock:       endBlock,
		BySource:       make(map[string]int),
		BestProfit:     big.NewInt(0),
		TotalProfit:    big.NewInt(0),
		ClosedByReason: make(map[string]int),
	}
}

// Record folds one tick into the running totals.
func (r *Report) Record(tick *TickResult) {
	r.Ticks++
	if tick.Pools == 0 {
		r.EmptyTicks++
		return
	}

	for _, opp := range tick.Opportunities {
		r.Opportunities++
		r.BySource[opp.Source]++
		r.TotalProfit.Add(r.TotalProfit, opp.EstProfit)
		if opp.EstProfit.Cmp(r.BestProfit) > 0 {
			r.BestProfit.Set(opp.EstProfit)
		}
	}

	r.Predictions += tick.Predictions
	r.PositionsOpened += len(tick.Opened)
	r.PositionsClosed += len(tick.Closed)
	for _, cp := range tick.Closed {
		r.ClosedByReason[cp.Reason]++
	}
}

// Finish stamps the allocator's aggregate performance and the wall time.
func (r *Report) Finish(perf allocator.Performance, elapsed time.Duration) {
	r.Perf = perf
	r.Elapsed = elapsed
}

func (r *Report) Print() {
	fmt.Printf("\n============== Replay Report ==============\n")
	fmt.Printf("Blocks:        %d-%d\n", r.StartBlock, r.EndBlock)
	fmt.Printf("Ticks:         %d (%d empty, %d errors)\n", r.Ticks, r.EmptyTicks, r.Errors)
	fmt.Printf("Elapsed:       %s\n", r.Elapsed.Round(time.Millisecond))

	fmt.Printf("\nDiscovery:\n")
	fmt.Printf("  Opportunities: %d\n", r.Opportunities)
	for source, count := range r.BySource {
		fmt.Printf("    %-14s %d\n", source+":", count)
	}
	fmt.Printf("  Best profit:   %s\n", r.BestProfit.String())
	fmt.Printf("  Total profit:  %s (expected, not executed)\n", r.TotalProfit.String())

	fmt.Printf("\nSpeculative book:\n")
	fmt.Printf("  Predictions:   %d\n", r.Predictions)
	fmt.Printf("  Opened:        %d\n", r.PositionsOpened)
	fmt.Printf("  Closed:        %d\n", r.PositionsClosed)
	for reason, count := range r.ClosedByReason {
		fmt.Printf("    %-14s %d\n", reason+":", count)
	}

	if r.Perf.Trades > 0 {
		fmt.Printf("\nPerformance:\n")
		fmt.Printf("  Trades:        %d\n", r.Perf.Trades)
		fmt.Printf("  Win rate:      %.1f%%\n", r.Perf.WinRate*100)
		fmt.Printf("  Net PnL:       %s\n", r.Perf.NetPnL.String())
		fmt.Printf("  Sharpe:        %.3f\n", r.Perf.Sharpe)
		fmt.Printf("  Avg hold:      %s\n", r.Perf.AvgHold.Round(time.Second))
	}

	fmt.Printf("===========================================\n")
}
