package replay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/allocator"
	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/genetic"
	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/hybrid"
	"github.com/pulkyeet/arb-engine/internal/market"
	"github.com/pulkyeet/arb-engine/internal/predictor"
	"github.com/pulkyeet/arb-engine/internal/storage"
)

// Config assembles every component's knobs for a replay run.
type Config struct {
	Anchor    common.Address // profit currency and relaxation start
	OrderSize *big.Int       // discovery order size per tick
	BlockTime time.Duration  // replay clock step when rows carry no timestamps

	Graph     graph.Config
	Detector  arbitrage.DetectorConfig
	Genetic   genetic.Config
	Selector  hybrid.SelectorConfig
	Predictor predictor.Config
	Allocator allocator.Config
}

func DefaultConfig() Config {
	return Config{
		OrderSize: big.NewInt(1_000_000_000_000_000_000),
		BlockTime: 12 * time.Second,
		Graph:     graph.DefaultConfig(),
		Detector:  arbitrage.DefaultDetectorConfig(),
		Genetic:   genetic.DefaultConfig(),
		Selector:  hybrid.DefaultSelectorConfig(),
		Predictor: predictor.DefaultConfig(),
		Allocator: allocator.DefaultConfig(),
	}
}

// Runner drives the whole engine tick-by-tick over recorded history: one
// recorded block = one tick, snapshot frozen from the database instead of
// the chain. The store is optional; nil replays without persistence.
type Runner struct {
	source *SnapshotDB
	store  *storage.Store
	cfg    Config

	selector *hybrid.Selector
	pred     *predictor.Predictor
	alloc    *allocator.Allocator
}

func NewRunner(source *SnapshotDB, store *storage.Store, cfg Config) *Runner {
	if cfg.OrderSize == nil || cfg.OrderSize.Sign() <= 0 {
		cfg.OrderSize = DefaultConfig().OrderSize
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = DefaultConfig().BlockTime
	}

	return &Runner{
		source:   source,
		store:    store,
		cfg:      cfg,
		selector: hybrid.NewSelector(cfg.Selector, arbitrage.NewDetector(cfg.Detector), genetic.New(cfg.Genetic)),
		pred:     predictor.New(cfg.Predictor),
		alloc:    allocator.New(cfg.Allocator),
	}
}

// TickResult is what one replayed block produced.
type TickResult struct {
	Block         uint64
	Pools         int
	Opportunities []*arbitrage.Opportunity
	Predictions   int
	Opened        []*allocator.Position
	Closed        []*allocator.ClosedPosition
}

// Run replays every recorded block in [startBlock, endBlock] in order and
// aggregates the report. Per-block failures are counted and skipped, never
// fatal; ctx cancellation stops cleanly with the report so far.
func (r *Runner) Run(ctx context.Context, startBlock, endBlock uint64) (*Report, error) {
	blocks, err := r.source.Blocks(startBlock, endBlock)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no snapshots recorded in blocks %d-%d", startBlock, endBlock)
	}

	report := NewReport(startBlock, endBlock)
	started := time.Now()
	fmt.Printf("\nreplaying %d recorded blocks in %d-%d\n", len(blocks), startBlock, endBlock)

	// synthetic clock fallback for rows recorded without timestamps
	syntheticBase := time.Unix(1_600_000_000, 0)

	for i, block := range blocks {
		if ctx.Err() != nil {
			break
		}

		at := syntheticBase.Add(time.Duration(i) * r.cfg.BlockTime)
		tick, err := r.ProcessBlock(ctx, block, at)
		if err != nil {
			fmt.Printf("\nblock %d error: %v\n", block, err)
			report.Errors++
			continue
		}
		report.Record(tick)

		if (i+1)%10 == 0 {
			elapsed := time.Since(started)
			fmt.Printf("📊 Processed %d/%d blocks (%.1f%%) - elapsed: %s\n",
				i+1, len(blocks),
				float64(i+1)/float64(len(blocks))*100,
				elapsed.Round(time.Second))
		}
	}

	report.Finish(r.alloc.Performance(), time.Since(started))
	return report, nil
}

// ProcessBlock runs one tick: freeze the recorded market, observe it, run
// discovery, then the prediction/allocation pass against the same snapshot.
func (r *Runner) ProcessBlock(ctx context.Context, block uint64, fallback time.Time) (*TickResult, error) {
	pools, recorded, err := r.source.PoolsAt(block)
	if err != nil {
		return nil, fmt.Errorf("load block %d: %w", block, err)
	}
	if len(pools) == 0 {
		return &TickResult{Block: block}, nil
	}

	at := recorded
	if at.Before(time.Unix(1, 0)) {
		at = fallback
	}
	snap := market.NewSnapshotAt(pools, block, at)

	r.pred.Observe(snap)
	volatility := r.pred.AvgVolatilityBps(snap)

	g := graph.Build(snap, r.cfg.Graph)
	opps := r.selector.Discover(ctx, g, r.cfg.Anchor, r.cfg.OrderSize, volatility, block)
	if r.store != nil {
		if err := r.store.SaveOpportunities(opps); err != nil {
			fmt.Printf("  ⚠️  block %d: persist opportunities: %v\n", block, err)
		}
	}

	preds := r.pred.Predictions(snap)
	opened := r.alloc.Consider(preds, snap, at)
	closed := r.alloc.Monitor(snap, at)
	if r.store != nil {
		if err := r.store.SaveClosedPositions(closed); err != nil {
			fmt.Printf("  ⚠️  block %d: persist closed positions: %v\n", block, err)
		}
	}

	return &TickResult{
		Block:         block,
		Pools:         len(pools),
		Opportunities: opps,
		Predictions:   len(preds),
		Opened:        opened,
		Closed:        closed,
	}, nil
}

// Allocator exposes the book for inspection after a run.
func (r *Runner) Allocator() *allocator.Allocator {
	return r.alloc
}
