package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/eth"
	"github.com/pulkyeet/arb-engine/internal/genetic"
	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/hybrid"
	"github.com/pulkyeet/arb-engine/internal/market"
)

func main() {
	_ = godotenv.Load("../../.env")

	blockNum := flag.Uint64("block", 18000000, "block number to scan (0 = latest)")
	tokens := flag.String("tokens", "WETH/USDC/USDT", "tokens to scan, slash separated (known: WETH, USDC, USDT, DAI, WBTC)")
	order := flag.Float64("order", 1.0, "order size in units of the first token")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall scan timeout")
	flag.Parse()

	symbols := strings.Split(*tokens, "/")
	if len(symbols) < 2 {
		log.Fatalf("Need at least two tokens, got %q", *tokens)
	}
	infos := make([]eth.TokenInfo, 0, len(symbols))
	for _, sym := range symbols {
		info, ok := eth.KnownTokens[sym]
		if !ok {
			log.Fatalf("Unknown token %s (known: WETH, USDC, USDT, DAI, WBTC)", sym)
		}
		infos = append(infos, info)
	}
	anchor := infos[0]

	client, err := eth.NewClient()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var pinned *big.Int
	if *blockNum > 0 {
		pinned = new(big.Int).SetUint64(*blockNum)
	} else {
		latest, err := client.BlockNumber(ctx)
		if err != nil {
			log.Fatalf("Failed to fetch latest block: %v", err)
		}
		*blockNum = latest
		pinned = new(big.Int).SetUint64(latest)
	}

	fmt.Printf("Scanning block %d over %s...\n\n", *blockNum, strings.Join(symbols, "/"))

	// derive every pairwise pool across the tracked forks; combos that
	// were never deployed just fail to load and get skipped
	var pools []market.Pool
	for i := 0; i < len(infos); i++ {
		for j := i + 1; j < len(infos); j++ {
			for _, dex := range eth.KnownDEXes {
				addr := eth.PairAddress(dex, infos[i].Address, infos[j].Address)
				pool, err := market.LoadUniswapV2Pool(ctx, client, addr, dex.Name, dex.FeeBps, pinned)
				if err != nil {
					log.Printf("[scan] %s %s/%s: %v (skipped)", dex.Name, symbols[i], symbols[j], err)
					continue
				}
				pools = append(pools, pool)
			}
		}
	}
	if len(pools) == 0 {
		log.Fatal("No pools loaded, nothing to scan")
	}

	fmt.Println("Pool Reserves:")
	fmt.Println("==============")
	for _, pool := range pools {
		t0, t1 := pool.Tokens()
		fmt.Printf("\n%s %s/%s (%s):\n", pool.Venue(), symbolOf(t0), symbolOf(t1), pool.Address().Hex())
		fmt.Printf("  Reserve0: %s %s\n", formatToken(pool.Reserve(t0), t0), symbolOf(t0))
		fmt.Printf("  Reserve1: %s %s\n", formatToken(pool.Reserve(t1), t1), symbolOf(t1))
	}

	snap := market.NewSnapshot(pools, *blockNum)
	g := graph.Build(snap, graph.DefaultConfig())
	fmt.Printf("\nMarket graph: %d tokens, %d directed edges (%d dead)\n",
		g.TokenCount(), g.EdgeCount(), g.DeadEdges())

	selector := hybrid.NewSelector(hybrid.DefaultSelectorConfig(),
		arbitrage.NewDetector(arbitrage.DefaultDetectorConfig()),
		genetic.New(genetic.DefaultConfig()))

	orderSize := toUnits(*order, anchor.Decimals)
	opps := selector.Discover(ctx, g, anchor.Address, orderSize, 0, *blockNum)

	if len(opps) == 0 {
		fmt.Println("\nNo profitable arbitrage opportunity found")
		fmt.Println("(every cycle nets out below zero after fees and impact)")
	} else {
		fmt.Println("\n🚨 PROFITABLE ARBITRAGE DETECTED! 🚨")
		fmt.Println("=====================================")
		for i, opp := range opps {
			fmt.Printf("\n#%d [%s] profit %s %s\n", i+1, opp.Source,
				formatToken(opp.EstProfit, opp.Token), symbolOf(opp.Token))
			for _, path := range opp.Paths {
				fmt.Printf("   route:  %s\n", routeString(path))
				fmt.Printf("   volume: %s %s, impact %d bps\n",
					formatToken(path.AmountIn, opp.Token), symbolOf(opp.Token), path.ImpactBps)
			}
		}
	}

	detRuntime, gaRuntime := selector.Runtimes()
	fmt.Printf("\nRuntimes: detector %s, genetic %s\n",
		detRuntime.Round(time.Millisecond), gaRuntime.Round(time.Millisecond))
	fmt.Println("\n✅ Scan complete")
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
