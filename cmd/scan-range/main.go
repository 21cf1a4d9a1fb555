package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/eth"
	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/market"
)

func main() {
	_ = godotenv.Load("../../.env")

	startBlock := flag.Uint64("start", 17000000, "Start block")
	endBlock := flag.Uint64("end", 17001000, "End block")
	tokens := flag.String("tokens", "WETH/USDC", "tokens to scan, slash separated (known: WETH, USDC, USDT, DAI, WBTC)")
	step := flag.Uint64("step", 100, "Block step size")
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

	ctx := context.Background()
	detector := arbitrage.NewDetector(arbitrage.DefaultDetectorConfig())

	fmt.Printf("Scanning blocks %d to %d (step: %d) over %s...\n",
		*startBlock, *endBlock, *step, strings.Join(symbols, "/"))
	fmt.Printf("(Checking pre-arb state at block N-1)\n\n")

	foundCount := 0
	checkedCount := 0

	for block := *startBlock; block <= *endBlock; block += *step {
		checkedCount++
		if checkedCount%10 == 0 {
			fmt.Printf("Checked %d blocks, found %d opportunities...\n", checkedCount, foundCount)
		}

		pinned := new(big.Int).SetUint64(block - 1)

		var pools []market.Pool
		for i := 0; i < len(infos); i++ {
			for j := i + 1; j < len(infos); j++ {
				for _, dex := range eth.KnownDEXes {
					addr := eth.PairAddress(dex, infos[i].Address, infos[j].Address)
					pool, err := market.LoadUniswapV2Pool(ctx, client, addr, dex.Name, dex.FeeBps, pinned)
					if err != nil {
						continue
					}
					pools = append(pools, pool)
				}
			}
		}
		if len(pools) < 2 {
			continue
		}

		snap := market.NewSnapshot(pools, block-1)
		g := graph.Build(snap, graph.DefaultConfig())

		for _, path := range detector.Detect(g, anchor.Address) {
			foundCount++
			fmt.Printf("\n🎯 BLOCK %d - PROFITABLE ARB FOUND!\n", block)
			fmt.Printf("   Route:  %s\n", routeString(path))
			fmt.Printf("   Volume: %s %s\n", formatToken(path.AmountIn, anchor.Address), anchor.Symbol)
			fmt.Printf("   Profit: %s %s\n", formatToken(path.Profit, anchor.Address), anchor.Symbol)
			fmt.Printf("   Impact: %d bps\n\n", path.ImpactBps)
		}
	}

	fmt.Printf("\n================================================\n")
	fmt.Printf("Scan complete! Blocks checked: %d | Opportunities: %d\n", checkedCount, foundCount)
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

func routeString(p *arbitrage.Path) string {
	var b strings.Builder
	b.WriteString(symbolOf(p.Tokens[0]))
	for i, pool := range p.Pools {
		fmt.Fprintf(&b, " -> %s (%s)", symbolOf(p.Tokens[i+1]), pool.Venue())
	}
	return b.String()
}
