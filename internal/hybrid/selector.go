package hybrid

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/arbitrage"
	"github.com/pulkyeet/arb-engine/internal/graph"
)

// Searcher is the genetic optimizer as the selector sees it.
type Searcher interface {
	Optimize(ctx context.Context, g *graph.Graph, start common.Address, orderSize *big.Int) []*arbitrage.Opportunity
}

type SelectorConfig struct {
	MinOrderSize     *big.Int      // genetic search gate
	MinFragmentation float64       // genetic search gate, unless disabled
	FragGateDisabled bool
	MinMarkets       int           // genetic search gate
	MaxImpactBps     int64         // post-validation ceiling per path
	GATimeout        time.Duration // runtime past this counts as a failure
	BreakerFailures  int
	BreakerCooldown  time.Duration
	RuntimeAlpha     float64       // EMA smoothing for runtime tracking
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MinOrderSize:     big.NewInt(1),
		MinFragmentation: 2.5,
		MinMarkets:       4,
		MaxImpactBps:     1000,
		GATimeout:        200 * time.Millisecond,
		BreakerFailures:  3,
		BreakerCooldown:  time.Minute,
		RuntimeAlpha:     0.2,
	}
}

// Selector decides per instance whether the genetic optimizer earns its
// latency, always computes the deterministic baseline, and merges both
// result sets into one ranked, validated list.
type Selector struct {
	cfg      SelectorConfig
	detector *arbitrage.Detector
	searcher Searcher
	breaker  *Breaker

	mu         sync.Mutex
	detRuntime time.Duration // moving averages for future policy tuning
	gaRuntime  time.Duration
}

func NewSelector(cfg SelectorConfig, detector *arbitrage.Detector, searcher Searcher) *Selector {
	if cfg.MinOrderSize == nil {
		cfg.MinOrderSize = big.NewInt(1)
	}
	if cfg.RuntimeAlpha <= 0 || cfg.RuntimeAlpha > 1 {
		cfg.RuntimeAlpha = DefaultSelectorConfig().RuntimeAlpha
	}
	return &Selector{
		cfg:      cfg,
		detector: detector,
		searcher: searcher,
		breaker:  NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
}

// ShouldUseGA gates the genetic search on the instance profile. Every gate
// has to pass; the deterministic path runs either way.
func (s *Selector) ShouldUseGA(p InstanceProfile) bool {
	if p.OrderSize == nil || p.OrderSize.Cmp(s.cfg.MinOrderSize) < 0 {
		return false
	}
	if !s.cfg.FragGateDisabled && p.Fragmentation < s.cfg.MinFragmentation {
		return false
	}
	if p.MarketCount < s.cfg.MinMarkets {
		return false
	}
	if s.breaker.Tripped() {
		return false
	}
	return true
}

// Discover runs one evaluation instance: deterministic detection always,
// the genetic search concurrently when the profile warrants it, results
// merged, deduplicated by pool set, post-validated and ranked best first.
func (s *Selector) Discover(ctx context.Context, g *graph.Graph, start common.Address, orderSize *big.Int, volatility float64, block uint64) []*arbitrage.Opportunity {
	profile := Profile(g, orderSize, volatility)

	var (
		gaOpps []*arbitrage.Opportunity
		wg     sync.WaitGroup
	)

	if s.searcher != nil && s.ShouldUseGA(profile) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[hybrid] genetic search panicked: %v", r)
					s.breaker.RecordFailure()
				}
			}()

			began := time.Now()
			gaOpps = s.searcher.Optimize(ctx, g, start, orderSize)
			elapsed := time.Since(began)
			s.observeGA(elapsed)

			if s.cfg.GATimeout > 0 && elapsed > s.cfg.GATimeout {
				log.Printf("[hybrid] genetic search overran its budget: %s", elapsed)
				s.breaker.RecordFailure()
				return
			}
			s.breaker.RecordSuccess()
		}()
	}

	began := time.Now()
	var baseline []*arbitrage.Opportunity
	for _, path := range s.detector.Detect(g, start) {
		baseline = append(baseline, arbitrage.PathOpportunity(path, arbitrage.SourceDeterministic, block))
	}
	s.observeDetector(time.Since(began))

	wg.Wait()
	for _, opp := range gaOpps {
		opp.BlockNumber = block
	}

	return s.merge(baseline, gaOpps)
}

// merge deduplicates by pool set (keeping the more profitable duplicate),
// drops anything that fails post-validation, and ranks the rest.
func (s *Selector) merge(baseline, genetic []*arbitrage.Opportunity) []*arbitrage.Opportunity {
	combined := make([]*arbitrage.Opportunity, 0, len(baseline)+len(genetic))
	combined = append(combined, baseline...)
	combined = append(combined, genetic...)
	arbitrage.SortByProfit(combined)

	var out []*arbitrage.Opportunity
	seen := make(map[string]bool)
	for _, opp := range combined {
		key := opp.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		if !s.postValidate(opp) {
			log.Printf("[hybrid] dropped %s opportunity %s: failed post-validation", opp.Source, key)
			continue
		}
		out = append(out, opp)
	}
	return out
}

// postValidate re-simulates every leg against the snapshot: the volume has
// to clear every hop and the recorded impact bound. Search results that
// went stale mid-merge are dropped, not surfaced.
func (s *Selector) postValidate(opp *arbitrage.Opportunity) bool {
	if opp.EstProfit == nil || opp.EstProfit.Sign() <= 0 {
		return false
	}
	for _, path := range opp.Paths {
		if path.AmountIn == nil || path.AmountIn.Sign() <= 0 {
			return false
		}
		entry := path.Pools[0].Reserve(path.Tokens[0])
		if path.AmountIn.Cmp(entry) >= 0 {
			return false
		}
		out, impact, err := arbitrage.SimulateCycle(path.Tokens, path.Pools, path.AmountIn)
		if err != nil {
			return false
		}
		if impact > s.cfg.MaxImpactBps {
			return false
		}
		if out.Cmp(path.AmountIn) <= 0 {
			return false
		}
	}
	return true
}

// Runtimes returns the smoothed deterministic and genetic running times.
func (s *Selector) Runtimes() (detector, ga time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detRuntime, s.gaRuntime
}

func (s *Selector) observeDetector(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detRuntime = ema(s.detRuntime, d, s.cfg.RuntimeAlpha)
}

func (s *Selector) observeGA(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaRuntime = ema(s.gaRuntime, d, s.cfg.RuntimeAlpha)
}

func ema(prev, sample time.Duration, alpha float64) time.Duration {
	if prev == 0 {
		return sample
	}
	return time.Duration(alpha*float64(sample) + (1-alpha)*float64(prev))
}
