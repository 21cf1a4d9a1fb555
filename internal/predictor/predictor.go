package predictor

import (
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// additive confidence adjustments
const (
	volatilityBonus  = 10 // volatility in the upper half of the band
	momentumBonus    = 15 // |momentum| at or past strongMomentumBps
	reversionBonus   = 10 // reversion score at or past highReversionScore
	historyBonus     = 10 // a full long-average window of samples
	liquidityPenalty = 20 // smaller reserve under MinLiquidity

	strongMomentumBps  = 200
	highReversionScore = 70
)

type Config struct {
	Window       time.Duration // sample lookback
	MaxSamples   int
	ShortMA      int
	LongMA       int
	TrendBandBps int64 // hysteresis around the long average

	MinVolatilityBps      float64 // emit band, inclusive
	MaxVolatilityBps      float64
	ReversionFullScaleBps float64

	MinHistory   int      // samples required before any prediction
	MinLiquidity *big.Int // smaller reserve below this is penalized

	BaseConfidence        float64
	MinConfidence         float64
	PrePositionConfidence float64

	Horizon      time.Duration
	ProfileLimit int // LRU capacity across pools
}

func DefaultConfig() Config {
	return Config{
		Window:                10 * time.Minute,
		MaxSamples:            120,
		ShortMA:               5,
		LongMA:                20,
		TrendBandBps:          100,
		MinVolatilityBps:      10,
		MaxVolatilityBps:      500,
		ReversionFullScaleBps: 500,
		MinHistory:            5,
		MinLiquidity:          big.NewInt(1_000_000),
		BaseConfidence:        50,
		MinConfidence:         60,
		PrePositionConfidence: 80,
		Horizon:               30 * time.Second,
		ProfileLimit:          512,
	}
}

// Prediction is a statistical opportunity candidate handed to the
// capital allocator.
type Prediction struct {
	Pool           common.Address
	Token          common.Address   // side to hold for the predicted move
	Related        []common.Address // other pools quoting the same pair
	ExpectedReturn float64          // fractional, over Horizon
	Confidence     float64          // 0-100
	Horizon        time.Duration
	PrePosition    bool
	At             time.Time
}

// Score ranks predictions for capital assignment.
func (p *Prediction) Score() float64 {
	return p.ExpectedReturn * p.Confidence
}

// Predictor maintains rolling per-pool statistics and emits confidence-
// scored predictions for the capital allocator. Pools that stop showing
// up in snapshots age out of the LRU.
type Predictor struct {
	cfg      Config
	profiles *lru.Cache[common.Address, *PoolProfile]
}

func New(cfg Config) *Predictor {
	def := DefaultConfig()
	if cfg.ProfileLimit <= 0 {
		cfg.ProfileLimit = def.ProfileLimit
	}
	if cfg.MaxSamples < 2 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.ShortMA <= 0 || cfg.LongMA <= cfg.ShortMA {
		cfg.ShortMA, cfg.LongMA = def.ShortMA, def.LongMA
	}
	if cfg.MinLiquidity == nil {
		cfg.MinLiquidity = big.NewInt(0)
	}

	profiles, _ := lru.New[common.Address, *PoolProfile](cfg.ProfileLimit)
	return &Predictor{cfg: cfg, profiles: profiles}
}

// Observe folds one snapshot into the rolling statistics. Pools with a
// dead side are skipped; their profiles resume when reserves come back.
func (p *Predictor) Observe(snap *market.Snapshot) {
	for _, pool := range snap.Pools {
		t0, t1 := pool.Tokens()
		price, ok := PriceOf(pool, t1)
		if !ok {
			continue
		}

		prof, ok := p.profiles.Get(pool.Address())
		if !ok {
			prof = &PoolProfile{Pool: pool.Address(), Token0: t0, Token1: t1, Trend: TrendNeutral}
			p.profiles.Add(pool.Address(), prof)
		}
		prof.Liquidity = minReserve(pool)
		prof.observe(price, snap.Taken, p.cfg)
	}
}

// Predictions evaluates every profiled pool in the snapshot, best score
// first. Pools outside the volatility band, short on history, or short
// on confidence emit nothing.
func (p *Predictor) Predictions(snap *market.Snapshot) []*Prediction {
	var preds []*Prediction
	for _, pool := range snap.Pools {
		prof, ok := p.profiles.Get(pool.Address())
		if !ok {
			continue
		}
		if pred := p.evaluate(prof, pool, snap); pred != nil {
			preds = append(preds, pred)
		}
	}

	sort.Slice(preds, func(i, j int) bool {
		return preds[i].Score() > preds[j].Score()
	})
	return preds
}

func (p *Predictor) evaluate(prof *PoolProfile, pool market.Pool, snap *market.Snapshot) *Prediction {
	if prof.SampleCount() < p.cfg.MinHistory {
		return nil
	}
	if prof.VolatilityBps < p.cfg.MinVolatilityBps || prof.VolatilityBps > p.cfg.MaxVolatilityBps {
		return nil
	}
	long := prof.movingAverage(p.cfg.LongMA)
	if long <= 0 {
		return nil
	}

	confidence := p.cfg.BaseConfidence
	if prof.VolatilityBps >= (p.cfg.MinVolatilityBps+p.cfg.MaxVolatilityBps)/2 {
		confidence += volatilityBonus
	}
	if math.Abs(prof.MomentumBps) >= strongMomentumBps {
		confidence += momentumBonus
	}
	if prof.ReversionScore >= highReversionScore {
		confidence += reversionBonus
	}
	if prof.SampleCount() >= p.cfg.LongMA {
		confidence += historyBonus
	}
	if prof.Liquidity != nil && prof.Liquidity.Cmp(p.cfg.MinLiquidity) < 0 {
		confidence -= liquidityPenalty
	}
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence < p.cfg.MinConfidence {
		return nil
	}

	// trade the snap-back: hold whichever side the deviation made cheap
	token := prof.Token1
	if prof.LastPrice > long {
		token = prof.Token0
	}
	devBps := math.Abs(prof.LastPrice-long) / long * bpsPerUnit

	return &Prediction{
		Pool:    pool.Address(),
		Token:   token,
		Related: relatedPools(pool, snap),
		// expect half the gap to the average to close within the horizon
		ExpectedReturn: devBps / 2 / bpsPerUnit,
		Confidence:     confidence,
		Horizon:        p.cfg.Horizon,
		PrePosition:    confidence >= p.cfg.PrePositionConfidence,
		At:             snap.Taken,
	}
}

// AvgVolatilityBps averages profiled volatility across the snapshot's
// pools. This is the volatility proxy the hybrid selector profiles on.
func (p *Predictor) AvgVolatilityBps(snap *market.Snapshot) float64 {
	var sum float64
	n := 0
	for _, pool := range snap.Pools {
		prof, ok := p.profiles.Get(pool.Address())
		if !ok || prof.SampleCount() < 3 {
			continue
		}
		sum += prof.VolatilityBps
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (p *Predictor) ProfileCount() int {
	return p.profiles.Len()
}

// Profile returns the rolling statistics for one pool, if still cached.
func (p *Predictor) Profile(addr common.Address) (*PoolProfile, bool) {
	return p.profiles.Get(addr)
}

func relatedPools(pool market.Pool, snap *market.Snapshot) []common.Address {
	t0, t1 := pool.Tokens()
	var related []common.Address
	for _, other := range snap.ByToken[t0] {
		if other.Address() == pool.Address() {
			continue
		}
		o0, o1 := other.Tokens()
		if (o0 == t0 && o1 == t1) || (o0 == t1 && o1 == t0) {
			related = append(related, other.Address())
		}
	}
	return related
}
