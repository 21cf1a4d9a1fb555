package genetic

import (
	"context"
	"math/big"
	"math/rand"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/graph"
)

// Config bounds the search. The wall-clock budget is the binding limit:
// generations stop the moment it runs out, whatever MaxGenerations says.
type Config struct {
	PopulationSize  int
	MaxGenerations  int
	MaxPaths        int // paths per chromosome
	MaxPathLength   int // hops per path
	CandidateLimit  int // cycles enumerated up front
	TournamentSize  int
	EliteCount      int
	CrossoverRate   float64
	MutationRate    float64
	TimeBudget      time.Duration
	RunnersUp       int
	GasPerHop       *big.Int
	MaxCumImpactBps int64
	DiversityBps    int64 // score bonus per distinct pool, in bps of net
	Seed            int64 // 0 seeds from the clock
}

func DefaultConfig() Config {
	return Config{
		PopulationSize:  40,
		MaxGenerations:  60,
		MaxPaths:        3,
		MaxPathLength:   4,
		CandidateLimit:  64,
		TournamentSize:  3,
		EliteCount:      4,
		CrossoverRate:   0.8,
		MutationRate:    0.25,
		TimeBudget:      50 * time.Millisecond,
		RunnersUp:       2,
		GasPerHop:       big.NewInt(0),
		MaxCumImpactBps: 1000,
		DiversityBps:    10,
	}
}

// Optimizer searches sets of cycles with split flow allocations. It earns
// its keep on fragmented markets, where one order routed down several
// parallel pools beats the best single path.
type Optimizer struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.PopulationSize < 2 {
		cfg.PopulationSize = def.PopulationSize
	}
	if cfg.MaxPaths < 1 {
		cfg.MaxPaths = def.MaxPaths
	}
	if cfg.MaxPathLength < 2 {
		cfg.MaxPathLength = def.MaxPathLength
	}
	if cfg.CandidateLimit < 1 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.TournamentSize < 2 {
		cfg.TournamentSize = def.TournamentSize
	}
	if cfg.EliteCount < 1 || cfg.EliteCount >= cfg.PopulationSize {
		cfg.EliteCount = 1
	}
	if cfg.GasPerHop == nil {
		cfg.GasPerHop = big.NewInt(0)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Optimizer{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Optimize evolves flow allocations over cycles through start, spending
// orderSize of the start token. Returns the best chromosome and up to
// RunnersUp distinct alternatives as ranked opportunities, best first.
// Abandons cleanly on context cancel or budget expiry, returning whatever
// best-so-far exists.
func (o *Optimizer) Optimize(ctx context.Context, g *graph.Graph, start common.Address, orderSize *big.Int) []*arbitrage.Opportunity {
	if orderSize == nil || orderSize.Sign() <= 0 {
		return nil
	}

	cycles := g.EnumerateCycles(start, o.cfg.MaxPathLength, o.cfg.CandidateLimit)
	if len(cycles) == 0 {
		return nil
	}
	cands := make([]candidate, len(cycles))
	for i, cyc := range cycles {
		tokens, pools := g.CyclePath(cyc)
		cands[i] = candidate{tokens: tokens, pools: pools}
	}

	deadline := time.Now().Add(o.cfg.TimeBudget)

	pop := make([]*chromosome, o.cfg.PopulationSize)
	for i := range pop {
		pop[i] = o.randomChromosome(len(cands))
		o.evaluate(pop[i], cands, orderSize)
	}
	sortPopulation(pop)

	for gen := 1; gen < o.cfg.MaxGenerations; gen++ {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}

		next := make([]*chromosome, 0, o.cfg.PopulationSize)
		next = append(next, pop[:o.cfg.EliteCount]...)

		for len(next) < o.cfg.PopulationSize {
			p1 := o.tournament(pop)
			p2 := o.tournament(pop)

			var child *chromosome
			if o.rng.Float64() < o.cfg.CrossoverRate {
				child = o.crossover(p1, p2)
			} else {
				child = p1.clone()
			}
			if o.rng.Float64() < o.cfg.MutationRate {
				o.mutate(child, len(cands))
			}

			o.evaluate(child, cands, orderSize)
			next = append(next, child)
		}

		pop = next
		sortPopulation(pop)
	}

	return o.winners(pop, start)
}

func (o *Optimizer) tournament(pop []*chromosome) *chromosome {
	best := pop[o.rng.Intn(len(pop))]
	for i := 1; i < o.cfg.TournamentSize; i++ {
		c := pop[o.rng.Intn(len(pop))]
		if better(c, best) {
			best = c
		}
	}
	return best
}

func sortPopulation(pop []*chromosome) {
	sort.Slice(pop, func(i, j int) bool {
		return better(pop[i], pop[j])
	})
}

// winners maps the fittest chromosomes onto opportunities, skipping
// anything infeasible or unprofitable net of gas, deduplicated by pool set.
func (o *Optimizer) winners(pop []*chromosome, start common.Address) []*arbitrage.Opportunity {
	var opps []*arbitrage.Opportunity
	seen := make(map[string]bool)

	for _, c := range pop {
		if len(opps) > o.cfg.RunnersUp {
			break
		}
		if !c.fit.feasible {
			continue
		}
		net := new(big.Int).Sub(c.fit.surplus, c.fit.gas)
		if net.Sign() <= 0 {
			continue
		}

		opp := &arbitrage.Opportunity{
			Token:        start,
			Paths:        c.fit.legs,
			EstProfit:    net,
			Source:       arbitrage.SourceGenetic,
			DiscoveredAt: time.Now(),
		}
		key := opp.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		opps = append(opps, opp)
	}

	return opps
}
