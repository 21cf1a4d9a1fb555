package arbitrage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

var (
	tokenX = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	tokenY = common.HexToAddress("0x00000000000000000000000000000000000000D2")
)

func pairAt(n byte, t0, t1 common.Address, r0, r1 int64, feeBps int64) *market.Pair {
	addr := common.BytesToAddress([]byte{0xE0, n})
	return market.NewPair(addr, t0, t1, big.NewInt(r0), big.NewInt(r1), feeBps, "test")
}

// the classic two-pool spread: both quote X/Y at 1000-vs-2M depth, one holds
// 5% more Y. Reserves carry six extra digits so integer division doesn't eat
// the edge.
func spreadPools() (*market.Pair, *market.Pair) {
	a := pairAt(1, tokenX, tokenY, 1_000_000_000, 2_000_000_000_000, 30)
	b := pairAt(2, tokenX, tokenY, 1_000_000_000, 2_100_000_000_000, 30)
	return a, b
}

func TestSizeTwoPoolFindsSpread(t *testing.T) {
	a, b := spreadPools()
	s := NewSizer(DefaultSizerConfig())

	q, err := s.SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q == nil {
		t.Fatal("no opportunity found on a 5% spread")
	}

	if q.SpreadBps != 500 {
		t.Errorf("spread = %d bps, want 500", q.SpreadBps)
	}

	// Y is cheaper in the pool holding more of it
	if q.BuyPool.Address() != b.Address() {
		t.Errorf("buy pool = %s, want the Y-rich pool", q.BuyPool.Address().Hex())
	}

	// closed form lands near 24.6M, well under the 20% cap of 200M
	if q.AmountIn.Cmp(big.NewInt(24_000_000)) < 0 || q.AmountIn.Cmp(big.NewInt(25_000_000)) > 0 {
		t.Errorf("amount in = %v, want ~24.6M", q.AmountIn)
	}
	if q.AmountIn.Cmp(big.NewInt(200_000_000)) >= 0 {
		t.Errorf("amount in = %v, at or over 20%% of the buy reserve", q.AmountIn)
	}

	if q.NetProfit.Sign() <= 0 {
		t.Fatalf("net profit = %v, want > 0", q.NetProfit)
	}
	if q.NetProfit.Cmp(big.NewInt(400_000)) < 0 || q.NetProfit.Cmp(big.NewInt(700_000)) > 0 {
		t.Errorf("net profit = %v, want ~536k", q.NetProfit)
	}

	if q.ImpactBps < 230 || q.ImpactBps > 250 {
		t.Errorf("impact = %d bps, want ~240", q.ImpactBps)
	}
}

func TestSizeTwoPoolRejectsThinSpread(t *testing.T) {
	a := pairAt(1, tokenX, tokenY, 1_000_000_000, 2_000_000_000_000, 30)
	b := pairAt(2, tokenX, tokenY, 1_000_000_000, 2_000_000_000_000, 30)
	s := NewSizer(DefaultSizerConfig())

	q, err := s.SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q != nil {
		t.Fatalf("identical pools sized as an opportunity: %+v", q)
	}
}

func TestSizeTwoPoolRejectsZeroReserve(t *testing.T) {
	a := pairAt(1, tokenX, tokenY, 1_000_000_000, 2_000_000_000_000, 30)
	b := pairAt(2, tokenX, tokenY, 1_000_000_000, 0, 30)
	s := NewSizer(DefaultSizerConfig())

	q, err := s.SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("stale pool should not error: %v", err)
	}
	if q != nil {
		t.Fatal("sized a trade against an empty reserve")
	}
}

func TestSizeTwoPoolRespectsImpactCap(t *testing.T) {
	a, b := spreadPools()
	cfg := DefaultSizerConfig()
	cfg.MaxImpactBps = 100 // the 5% spread trade moves the rate ~240 bps

	q, err := NewSizer(cfg).SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q != nil {
		t.Fatalf("impact %d bps accepted over a 100 bps cap", q.ImpactBps)
	}
}

func TestSizeTwoPoolMinProfitFloor(t *testing.T) {
	a, b := spreadPools()
	cfg := DefaultSizerConfig()
	cfg.MinProfit = big.NewInt(10_000_000)

	q, err := NewSizer(cfg).SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q != nil {
		t.Fatalf("profit %v surfaced under a 10M floor", q.NetProfit)
	}
}

func TestSizeTwoPoolGasEatsProfit(t *testing.T) {
	a, b := spreadPools()
	cfg := DefaultSizerConfig()
	cfg.GasCostBase = big.NewInt(100_000)

	q, err := NewSizer(cfg).SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q == nil {
		t.Fatal("modest gas should leave the trade profitable")
	}
	if q.GasCost.Cmp(cfg.GasCostBase) != 0 {
		t.Errorf("gas = %v, want %v", q.GasCost, cfg.GasCostBase)
	}
	wantNet := new(big.Int).Sub(q.GrossProfit, q.GasCost)
	if q.NetProfit.Cmp(wantNet) != 0 {
		t.Errorf("net = %v, want gross-gas = %v", q.NetProfit, wantNet)
	}

	// and with gas above the whole edge, nothing survives
	cfg.GasCostBase = big.NewInt(600_000)
	q, err = NewSizer(cfg).SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q != nil {
		t.Fatalf("gas-underwater trade surfaced: net %v", q.NetProfit)
	}
}

func TestSizeTwoPoolClampsToLiquidityCap(t *testing.T) {
	// a 3x price gap wants far more than 20% of the reserve
	a := pairAt(1, tokenX, tokenY, 1_000_000_000, 1_000_000_000_000, 30)
	b := pairAt(2, tokenX, tokenY, 1_000_000_000, 3_000_000_000_000, 30)
	cfg := DefaultSizerConfig()
	cfg.MaxImpactBps = 2000 // the clamped trade still moves ~1660 bps

	q, err := NewSizer(cfg).SizeTwoPool(a, b, tokenX, tokenY)
	if err != nil {
		t.Fatalf("SizeTwoPool: %v", err)
	}
	if q == nil {
		t.Fatal("no opportunity on a 3x gap")
	}
	if q.AmountIn.Cmp(big.NewInt(200_000_000)) != 0 {
		t.Errorf("amount in = %v, want clamp at 200M", q.AmountIn)
	}
	if q.NetProfit.Sign() <= 0 {
		t.Errorf("net profit = %v, want > 0", q.NetProfit)
	}
}

func TestEstimateGasCost(t *testing.T) {
	cfg := DefaultSizerConfig()
	cfg.GasCostBase = big.NewInt(100)
	cfg.GasSurchargeBps = 10
	s := NewSizer(cfg)

	got := s.EstimateGasCost(big.NewInt(1_000_000))
	if got.Cmp(big.NewInt(1_100)) != 0 {
		t.Errorf("gas = %v, want 1100 (100 base + 10 bps of 1M)", got)
	}
}
