package arbitrage

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

func trianglePath() ([]common.Address, []market.Pool) {
	tokens := []common.Address{tokenA, tokenB, tokenC, tokenA}
	pools := []market.Pool{
		pairAt(1, tokenA, tokenB, 1_000_000, 1_050_000, 0),
		pairAt(2, tokenB, tokenC, 1_000_000, 1_000_000, 0),
		pairAt(3, tokenC, tokenA, 1_000_000, 1_000_000, 0),
	}
	return tokens, pools
}

func TestSimulateCycleChainsHops(t *testing.T) {
	tokens, pools := trianglePath()

	out, impact, err := SimulateCycle(tokens, pools, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("SimulateCycle: %v", err)
	}

	// 10000 -> 10396 -> 10289 -> 10184, each hop ~100 bps of impact
	if out.Cmp(big.NewInt(10_184)) != 0 {
		t.Errorf("out = %v, want 10184", out)
	}
	if impact != 302 {
		t.Errorf("cumulative impact = %d bps, want 302", impact)
	}
}

func TestSimulateCycleBrokenHopFailsThatPathOnly(t *testing.T) {
	tokens := []common.Address{tokenA, tokenD, tokenA}
	pools := []market.Pool{
		pairAt(8, tokenA, tokenD, 1_000_000, 0, 30),
		pairAt(9, tokenA, tokenD, 1_000_000, 1_000_000, 30),
	}

	_, _, err := SimulateCycle(tokens, pools, big.NewInt(1_000))
	if err == nil {
		t.Fatal("empty reserve quoted without error")
	}
	if !strings.Contains(err.Error(), "hop 0") {
		t.Errorf("error doesn't name the failing hop: %v", err)
	}
}

func TestSimulateCycleRejectsMalformedInput(t *testing.T) {
	tokens, pools := trianglePath()

	if _, _, err := SimulateCycle(tokens[:2], pools, big.NewInt(1_000)); err == nil {
		t.Error("token/pool length mismatch accepted")
	}
	if _, _, err := SimulateCycle(tokens, pools, big.NewInt(0)); err == nil {
		t.Error("zero input accepted")
	}
}

func TestOptimizeCycleVolumeFindsProfit(t *testing.T) {
	tokens, pools := trianglePath()

	p := OptimizeCycleVolume(tokens, pools, DefaultVolumeSearchConfig())
	if p == nil {
		t.Fatal("no volume found for a profitable loop")
	}
	if p.Profit.Sign() <= 0 {
		t.Fatalf("profit = %v, want > 0", p.Profit)
	}
	if p.ImpactBps > 1000 {
		t.Errorf("impact = %d bps, over the default ceiling", p.ImpactBps)
	}
	if p.AmountIn.Cmp(big.NewInt(4_000)) < 0 || p.AmountIn.Cmp(big.NewInt(16_000)) > 0 {
		t.Errorf("volume = %v, want a few thousand", p.AmountIn)
	}
}

func TestOptimizeCycleVolumeRespectsImpactCeiling(t *testing.T) {
	tokens, pools := trianglePath()

	cfg := DefaultVolumeSearchConfig()
	cfg.MaxCumImpactBps = 150

	p := OptimizeCycleVolume(tokens, pools, cfg)
	if p == nil {
		t.Fatal("tight ceiling should shrink the trade, not kill it")
	}
	if p.ImpactBps > 150 {
		t.Errorf("impact = %d bps, over the 150 ceiling", p.ImpactBps)
	}
	if p.Profit.Sign() <= 0 {
		t.Errorf("profit = %v, want > 0", p.Profit)
	}
}

func TestOptimizeCycleVolumeNilOnLossyLoop(t *testing.T) {
	tokens := []common.Address{tokenA, tokenB, tokenC, tokenA}
	pools := []market.Pool{
		pairAt(1, tokenA, tokenB, 1_000_000, 1_000_000, 30),
		pairAt(2, tokenB, tokenC, 1_000_000, 1_000_000, 30),
		pairAt(3, tokenC, tokenA, 1_000_000, 1_000_000, 30),
	}

	if p := OptimizeCycleVolume(tokens, pools, DefaultVolumeSearchConfig()); p != nil {
		t.Fatalf("lossy loop sized with profit %v", p.Profit)
	}
}
