package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/pulkyeet/arb-engine/internal/allocator"
	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/eth"
	"github.com/pulkyeet/arb-engine/internal/genetic"
	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/hybrid"
	"github.com/pulkyeet/arb-engine/internal/market"
	"github.com/pulkyeet/arb-engine/internal/predictor"
	"github.com/pulkyeet/arb-engine/internal/storage"
)

// pairs tracked across every known fork
var trackedPairs = [][2]string{
	{"WETH", "USDC"},
	{"WETH", "USDT"},
	{"WETH", "DAI"},
	{"WETH", "WBTC"},
	{"USDC", "USDT"},
	{"USDC", "DAI"},
}

func main() {
	_ = godotenv.Load("../../.env")

	var (
		interval = flag.Duration("interval", 12*time.Second, "Tick interval (one snapshot+discovery pass per tick)")
		dbPath   = flag.String("db", "data/live.db", "Path to results database (empty = don't persist)")
		order    = flag.Float64("order", 1.0, "Order size in WETH")
		capital  = flag.Float64("capital", 10.0, "Speculative capital cap in WETH")
	)
	flag.Parse()

	client, err := eth.NewClient()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	var store *storage.Store
	if *dbPath != "" {
		store, err = storage.NewStore(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open results database: %v", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	weth := eth.KnownTokens["WETH"]
	orderSize := toUnits(*order, weth.Decimals)

	fmt.Printf("🔄 Loading tracked pools...\n")
	registry := market.NewRegistry(8)
	loaded := 0
	for _, pair := range trackedPairs {
		a, b := eth.KnownTokens[pair[0]], eth.KnownTokens[pair[1]]
		for _, dex := range eth.KnownDEXes {
			addr := eth.PairAddress(dex, a.Address, b.Address)
			pool, err := market.LoadUniswapV2Pool(ctx, client, addr, dex.Name, dex.FeeBps, nil)
			if err != nil {
				log.Printf("[run] %s %s/%s: %v (skipped)", dex.Name, pair[0], pair[1], err)
				continue
			}
			registry.AddPool(pool)
			loaded++
		}
	}
	registry.Commit()
	if registry.PoolCount() == 0 {
		log.Fatal("No pools loaded, nothing to run against")
	}
	fmt.Printf("✅ Loaded %d pools across %d forks\n\n", loaded, len(eth.KnownDEXes))

	selector := hybrid.NewSelector(hybrid.DefaultSelectorConfig(),
		arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()),
		genetic.New(genetic.DefaultConfig()))
	pred := predictor.New(predictor.DefaultConfig())

	allocCfg := allocator.DefaultConfig()
	allocCfg.MaxTotalCapital = toUnits(*capital, weth.Decimals)
	alloc := allocator.New(allocCfg)

	fmt.Printf("🚀 Engine running, tick every %s (ctrl-c to stop)\n", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var lastSnap *market.Snapshot
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-ticker.C:
			lastSnap = tick(ctx, *interval, client, registry, selector, pred, alloc, store, orderSize, weth.Address)
		}
	}

	shutdown(lastSnap, alloc, store)
}

// tick runs one full pass: refresh, freeze, discover, predict, allocate.
func tick(ctx context.Context, budget time.Duration, client *eth.Client, registry *market.Registry,
	selector *hybrid.Selector, pred *predictor.Predictor, alloc *allocator.Allocator,
	store *storage.Store, orderSize *big.Int, anchor common.Address) *market.Snapshot {

	tickCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	refreshed, failed := registry.RefreshAll(tickCtx)
	registry.Commit()

	if block, err := client.BlockNumber(tickCtx); err == nil {
		registry.SetBlock(block)
	} else {
		log.Printf("[run] block number: %v (reusing previous)", err)
	}

	snap := registry.Snapshot()
	pred.Observe(snap)
	volatility := pred.AvgVolatilityBps(snap)

	g := graph.Build(snap, graph.DefaultConfig())
	opps := selector.Discover(tickCtx, g, anchor, orderSize, volatility, snap.Block)

	fmt.Printf("[tick] block %d: %d/%d pools refreshed, %d tokens, %d edges, vol %.0f bps, %d opportunities\n",
		snap.Block, refreshed, refreshed+failed, g.TokenCount(), g.EdgeCount(), volatility, len(opps))

	for i, opp := range opps {
		if i >= 3 {
			fmt.Printf("       ... and %d more\n", len(opps)-3)
			break
		}
		fmt.Printf("  🎯 [%s] profit %s %s via %s\n", opp.Source,
			formatToken(opp.EstProfit, opp.Token), symbolOf(opp.Token), routeString(opp.Paths[0]))
	}
	if store != nil {
		if err := store.SaveOpportunities(opps); err != nil {
			log.Printf("[run] persist opportunities: %v", err)
		}
	}

	now := time.Now()
	preds := pred.Predictions(snap)
	opened := alloc.Consider(preds, snap, now)
	closed := alloc.Monitor(snap, now)
	for _, pos := range opened {
		fmt.Printf("  📈 opened position %d on %s: %s %s\n", pos.ID, pos.Pool.Hex(),
			formatToken(pos.Amount, anchor), symbolOf(anchor))
	}
	for _, cp := range closed {
		fmt.Printf("  📉 closed position %d (%s): pnl %s %s\n", cp.ID, cp.Reason,
			formatToken(cp.PnL, anchor), symbolOf(anchor))
	}
	if store != nil {
		if err := store.SaveClosedPositions(closed); err != nil {
			log.Printf("[run] persist closed positions: %v", err)
		}
	}

	return snap
}

// shutdown force-closes whatever is still open at the last seen prices and
// prints the session tally.
func shutdown(snap *market.Snapshot, alloc *allocator.Allocator, store *storage.Store) {
	fmt.Printf("\n🛑 Shutting down...\n")

	open := alloc.OpenPositions()
	if len(open) > 0 && snap != nil {
		fmt.Printf("Closing %d open positions...\n", len(open))
		now := time.Now()
		var closed []*allocator.ClosedPosition
		for _, pos := range open {
			if cp, ok := alloc.Close(pos.ID, snap, now); ok {
				closed = append(closed, cp)
			}
		}
		if store != nil {
			if err := store.SaveClosedPositions(closed); err != nil {
				log.Printf("[run] persist closed positions: %v", err)
			}
		}
	}

	perf := alloc.Performance()
	fmt.Printf("\n📊 Session Performance:\n")
	fmt.Printf("  Trades:    %d\n", perf.Trades)
	if perf.Trades > 0 {
		fmt.Printf("  Win rate:  %.1f%%\n", perf.WinRate*100)
		fmt.Printf("  Net PnL:   %s WETH\n", formatToken(perf.NetPnL, eth.WETHAddress))
		fmt.Printf("  Sharpe:    %.3f\n", perf.Sharpe)
		fmt.Printf("  Avg hold:  %s\n", perf.AvgHold.Round(time.Second))
	}
	fmt.Printf("  Swept:     %s WETH\n", formatToken(alloc.Swept(), eth.WETHAddress))

	if store != nil {
		if stats, err := store.Stats(); err == nil {
			fmt.Printf("\n💾 Persisted: %d opportunities over %d blocks, %d closed positions\n",
				stats["opportunities"], stats["blocks_with_opportunities"], stats["closed_positions"])
		}
	}
	fmt.Println("\n✅ Done")
}

func symbolOf(addr common.Address) string {
	for _, info := range eth.KnownTokens {
		if info.Address == addr {
			return info.Symbol
		}
	}
	return addr.Hex()[:10]
}

func decimalsOf(addr common.Address) int {
	for _, info := range eth.KnownTokens {
		if info.Address == addr {
			return info.Decimals
		}
	}
	return 18
}

func formatToken(amount *big.Int, token common.Address) string {
	if amount == nil {
		return "0"
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimalsOf(token))), nil))
	return new(big.Float).Quo(new(big.Float).SetInt(amount), divisor).Text('f', 6)
}

func toUnits(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Mul(big.NewFloat(amount), scale).Int(nil)
	return out
}

func routeString(p *arbitrage.Path) string {
	var b strings.Builder
	b.WriteString(symbolOf(p.Tokens[0]))
	for i, pool := range p.Pools {
		fmt.Fprintf(&b, " -> %s (%s)", symbolOf(p.Tokens[i+1]), pool.Venue())
	}
	return b.String()
}
