package genetic

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/market"
)

// candidate is one enumerated cycle, expanded once so every evaluation
// can reuse it.
type candidate struct {
	tokens []common.Address
	pools  []market.Pool
}

// chromosome is a set of candidate paths plus a flow split in bps of the
// order size. splits always sum to 10000 and stay aligned with paths.
type chromosome struct {
	paths  []int
	splits []int64
	fit    fitness
}

type fitness struct {
	evaluated bool
	feasible  bool
	surplus   *big.Int
	gas       *big.Int
	score     *big.Int
	legs      []*arbitrage.Path
}

func (c *chromosome) clone() *chromosome {
	dup := &chromosome{
		paths:  make([]int, len(c.paths)),
		splits: make([]int64, len(c.splits)),
	}
	copy(dup.paths, c.paths)
	copy(dup.splits, c.splits)
	return dup
}

func (c *chromosome) has(path int) bool {
	for _, p := range c.paths {
		if p == path {
			return true
		}
	}
	return false
}

// better orders feasible above infeasible, then by score.
func better(a, b *chromosome) bool {
	if a.fit.feasible != b.fit.feasible {
		return a.fit.feasible
	}
	if !a.fit.feasible {
		return false
	}
	return a.fit.score.Cmp(b.fit.score) > 0
}

func (o *Optimizer) randomChromosome(numCandidates int) *chromosome {
	size := 1 + o.rng.Intn(o.cfg.MaxPaths)
	if size > numCandidates {
		size = numCandidates
	}

	c := &chromosome{}
	for len(c.paths) < size {
		pick := o.rng.Intn(numCandidates)
		if !c.has(pick) {
			c.paths = append(c.paths, pick)
		}
	}

	c.splits = make([]int64, size)
	for i := range c.splits {
		c.splits[i] = int64(1 + o.rng.Intn(100))
	}
	normalizeSplits(c.splits)
	return c
}

// crossover cuts both parents' path lists at one point and splices them,
// dropping duplicates. Splits come along with their paths, then renormalize.
func (o *Optimizer) crossover(a, b *chromosome) *chromosome {
	c := &chromosome{}

	cut := o.rng.Intn(len(a.paths) + 1)
	for i := 0; i < cut; i++ {
		c.paths = append(c.paths, a.paths[i])
		c.splits = append(c.splits, a.splits[i])
	}
	for i := range b.paths {
		if len(c.paths) >= o.cfg.MaxPaths {
			break
		}
		if !c.has(b.paths[i]) {
			c.paths = append(c.paths, b.paths[i])
			c.splits = append(c.splits, b.splits[i])
		}
	}

	if len(c.paths) == 0 {
		return a.clone()
	}
	normalizeSplits(c.splits)
	return c
}

func (o *Optimizer) mutate(c *chromosome, numCandidates int) {
	c.fit = fitness{}

	switch o.rng.Intn(3) {
	case 0:
		// swap one path for an unused candidate
		if numCandidates <= len(c.paths) {
			return
		}
		for {
			pick := o.rng.Intn(numCandidates)
			if !c.has(pick) {
				c.paths[o.rng.Intn(len(c.paths))] = pick
				return
			}
		}
	case 1:
		// shift up to a fifth of one split onto another
		if len(c.splits) < 2 {
			return
		}
		from := o.rng.Intn(len(c.splits))
		to := o.rng.Intn(len(c.splits))
		if from == to {
			to = (to + 1) % len(c.splits)
		}
		shift := o.rng.Int63n(c.splits[from]/5 + 1)
		c.splits[from] -= shift
		c.splits[to] += shift
		normalizeSplits(c.splits)
	default:
		// resample the allocation entirely
		for i := range c.splits {
			c.splits[i] = int64(1 + o.rng.Intn(100))
		}
		normalizeSplits(c.splits)
	}
}

// normalizeSplits rescales to sum exactly 10000 with every entry >= 1.
func normalizeSplits(splits []int64) {
	var sum int64
	for i := range splits {
		if splits[i] < 1 {
			splits[i] = 1
		}
		sum += splits[i]
	}

	var scaled int64
	for i := range splits {
		splits[i] = splits[i] * market.FeePrecision / sum
		if splits[i] < 1 {
			splits[i] = 1
		}
		scaled += splits[i]
	}
	// rounding leftovers land on the first entry
	splits[0] += market.FeePrecision - scaled
	if splits[0] < 1 {
		splits[0] = 1
	}
}

// evaluate simulates every leg at its split volume. Any failed leg, zero
// allocation, or impact breach marks the whole chromosome infeasible.
func (o *Optimizer) evaluate(c *chromosome, cands []candidate, orderSize *big.Int) {
	if c.fit.evaluated {
		return
	}
	c.fit = fitness{evaluated: true}

	surplus := big.NewInt(0)
	hops := 0
	distinct := make(map[common.Address]bool)
	legs := make([]*arbitrage.Path, 0, len(c.paths))

	for i, ci := range c.paths {
		volume := new(big.Int).Mul(orderSize, big.NewInt(c.splits[i]))
		volume.Div(volume, big.NewInt(market.FeePrecision))
		if volume.Sign() <= 0 {
			return
		}

		cand := cands[ci]
		out, impact, err := arbitrage.SimulateCycle(cand.tokens, cand.pools, volume)
		if err != nil || impact > o.cfg.MaxCumImpactBps {
			return
		}

		profit := new(big.Int).Sub(out, volume)
		surplus.Add(surplus, profit)
		hops += len(cand.pools)
		for _, p := range cand.pools {
			distinct[p.Address()] = true
		}
		legs = append(legs, &arbitrage.Path{
			Tokens:    cand.tokens,
			Pools:     cand.pools,
			AmountIn:  volume,
			AmountOut: out,
			Profit:    profit,
			ImpactBps: impact,
		})
	}

	gas := new(big.Int).Mul(o.cfg.GasPerHop, big.NewInt(int64(hops)))
	net := new(big.Int).Sub(surplus, gas)

	score := new(big.Int).Set(net)
	if net.Sign() > 0 && o.cfg.DiversityBps > 0 {
		bonus := new(big.Int).Mul(net, big.NewInt(o.cfg.DiversityBps*int64(len(distinct))))
		bonus.Div(bonus, big.NewInt(market.FeePrecision))
		score.Add(score, bonus)
	}

	c.fit = fitness{
		evaluated: true,
		feasible:  true,
		surplus:   surplus,
		gas:       gas,
		score:     score,
		legs:      legs,
	}
}
