package arbitrage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// SimulateCycle runs amountIn through every hop of a cycle, chaining each
// pool's quoted output into the next hop, and accumulates price impact.
// A failed or zero quote anywhere invalidates this path only.
func SimulateCycle(tokens []common.Address, pools []market.Pool, amountIn *big.Int) (out *big.Int, impactBps int64, err error) {
	if len(pools) == 0 || len(tokens) != len(pools)+1 {
		return nil, 0, fmt.Errorf("malformed cycle: %d tokens, %d pools", len(tokens), len(pools))
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, 0, fmt.Errorf("non-positive input")
	}

	current := amountIn
	for i, pool := range pools {
		impact, impErr := pool.PriceImpactBps(current, tokens[i])
		if impErr != nil {
			return nil, 0, fmt.Errorf("hop %d impact via %s: %w", i, pool.Address().Hex(), impErr)
		}
		impactBps += impact

		next, outErr := pool.AmountOut(current, tokens[i], tokens[i+1])
		if outErr != nil {
			return nil, 0, fmt.Errorf("hop %d quote via %s: %w", i, pool.Address().Hex(), outErr)
		}
		if next.Sign() == 0 {
			return nil, 0, fmt.Errorf("hop %d quote via %s returned zero", i, pool.Address().Hex())
		}
		current = next
	}

	return current, impactBps, nil
}

// VolumeSearchConfig bounds the per-cycle input search.
type VolumeSearchConfig struct {
	Iterations       int      // interval-narrowing steps
	Tolerance        *big.Int // stop once the interval is this narrow
	MaxCumImpactBps  int64    // feasibility ceiling across all hops
	MaxTradeFraction int64    // upper bound as bps of the first hop's reserve
}

func DefaultVolumeSearchConfig() VolumeSearchConfig {
	return VolumeSearchConfig{
		Iterations:       32,
		Tolerance:        big.NewInt(1),
		MaxCumImpactBps:  1000, // 10% across the loop
		MaxTradeFraction: 2000, // 20% of the entry reserve
	}
}

// OptimizeCycleVolume finds the input that maximizes simulated profit for
// one cycle, narrowing [lo,hi] one third at a time and keeping the best
// feasible candidate seen. Pure computation: never retries, returns nil
// when nothing feasible and profitable exists.
func OptimizeCycleVolume(tokens []common.Address, pools []market.Pool, cfg VolumeSearchConfig) *Path {
	if len(pools) == 0 || len(tokens) != len(pools)+1 {
		return nil
	}

	entryReserve := pools[0].Reserve(tokens[0])
	if entryReserve.Sign() == 0 {
		return nil
	}

	lo := big.NewInt(1)
	hi := new(big.Int).Mul(entryReserve, big.NewInt(cfg.MaxTradeFraction))
	hi.Div(hi, big.NewInt(market.FeePrecision))
	if hi.Cmp(lo) <= 0 {
		return nil
	}

	tolerance := cfg.Tolerance
	if tolerance == nil || tolerance.Sign() <= 0 {
		tolerance = big.NewInt(1)
	}

	var best *Path

	evaluate := func(amount *big.Int) (*Path, bool) {
		out, impact, err := SimulateCycle(tokens, pools, amount)
		if err != nil {
			return nil, false
		}
		if impact > cfg.MaxCumImpactBps {
			return nil, true // valid quote, but over the ceiling
		}
		profit := new(big.Int).Sub(out, amount)
		return &Path{
			Tokens:    tokens,
			Pools:     pools,
			AmountIn:  new(big.Int).Set(amount),
			AmountOut: out,
			Profit:    profit,
			ImpactBps: impact,
		}, true
	}

	three := big.NewInt(3)

	for i := 0; i < cfg.Iterations; i++ {
		span := new(big.Int).Sub(hi, lo)
		if span.Cmp(tolerance) <= 0 {
			break
		}

		third := new(big.Int).Div(span, three)
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)

		p1, ok1 := evaluate(m1)
		p2, ok2 := evaluate(m2)

		if !ok1 && !ok2 {
			// both probes failed outright - this path is broken
			return nil
		}

		// impact grows with volume, so a ceiling breach at the lower probe
		// rules out everything above it
		if p1 == nil && ok1 {
			hi = m1
			continue
		}

		// quote failure at the lower probe (dust rounding to zero) - go bigger
		if p1 == nil {
			lo = m1
			if p2 != nil {
				best = betterPath(best, p2)
			} else {
				hi = m2
			}
			continue
		}

		best = betterPath(best, p1)

		// breach or failure at the upper probe: feasible region is lower
		if p2 == nil {
			hi = m2
			continue
		}

		best = betterPath(best, p2)

		if p1.Profit.Cmp(p2.Profit) < 0 {
			lo = m1
		} else {
			hi = m2
		}
	}

	if best == nil || best.Profit.Sign() <= 0 {
		return nil
	}
	return best
}

func betterPath(a, b *Path) *Path {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Profit.Cmp(a.Profit) > 0 {
		return b
	}
	return a
}
