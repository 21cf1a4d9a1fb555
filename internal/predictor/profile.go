package predictor

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

const bpsPerUnit = 10_000

// Trend classifies a pool's short-term direction.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

type sample struct {
	price float64
	at    time.Time
}

// PoolProfile is the rolling statistical state for one pool. Derived
// fields are refreshed after every observation, after samples that fell
// out of the lookback window are evicted.
type PoolProfile struct {
	Pool   common.Address
	Token0 common.Address
	Token1 common.Address

	samples []sample

	LastPrice      float64
	VolatilityBps  float64 // stddev of consecutive absolute returns
	MomentumBps    float64 // signed move across the whole window
	ReversionScore float64 // 0-100, deviation from the long average
	Trend          Trend
	Liquidity      *big.Int // smaller of the two reserves
}

func (p *PoolProfile) SampleCount() int {
	return len(p.samples)
}

func (p *PoolProfile) observe(price float64, at time.Time, cfg Config) {
	p.samples = append(p.samples, sample{price: price, at: at})

	cutoff := at.Add(-cfg.Window)
	for len(p.samples) > 0 && p.samples[0].at.Before(cutoff) {
		p.samples = p.samples[1:]
	}
	if n := len(p.samples) - cfg.MaxSamples; n > 0 {
		p.samples = p.samples[n:]
	}

	p.LastPrice = price
	p.VolatilityBps = p.volatility()
	p.MomentumBps = p.momentum()
	short := p.movingAverage(cfg.ShortMA)
	long := p.movingAverage(cfg.LongMA)
	p.Trend = classifyTrend(short, long, cfg.TrendBandBps, p.Trend)
	p.ReversionScore = reversionScore(price, long, cfg.ReversionFullScaleBps)
}

// volatility is the population stddev of consecutive absolute returns,
// in basis points. Needs three samples to mean anything.
func (p *PoolProfile) volatility() float64 {
	if len(p.samples) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(p.samples)-1)
	for i := 1; i < len(p.samples); i++ {
		prev := p.samples[i-1].price
		if prev <= 0 {
			continue
		}
		returns = append(returns, math.Abs(p.samples[i].price-prev)/prev*bpsPerUnit)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// momentum is the signed percentage move from the oldest sample to the
// newest, in basis points.
func (p *PoolProfile) momentum() float64 {
	if len(p.samples) < 2 {
		return 0
	}
	first := p.samples[0].price
	if first <= 0 {
		return 0
	}
	last := p.samples[len(p.samples)-1].price
	return (last - first) / first * bpsPerUnit
}

// movingAverage averages the most recent n samples, or all of them when
// fewer exist.
func (p *PoolProfile) movingAverage(n int) float64 {
	if n <= 0 || len(p.samples) == 0 {
		return 0
	}
	if n > len(p.samples) {
		n = len(p.samples)
	}
	var sum float64
	for _, s := range p.samples[len(p.samples)-n:] {
		sum += s.price
	}
	return sum / float64(n)
}

// classifyTrend keeps the previous state inside the hysteresis band so a
// price wobbling around its average does not flap bullish/bearish.
func classifyTrend(short, long float64, bandBps int64, prev Trend) Trend {
	if long <= 0 {
		return TrendNeutral
	}
	band := long * float64(bandBps) / bpsPerUnit
	switch {
	case short > long+band:
		return TrendBullish
	case short < long-band:
		return TrendBearish
	}
	if prev == "" {
		return TrendNeutral
	}
	return prev
}

// reversionScore maps deviation from the long average onto 0-100, where
// fullScaleBps of deviation saturates the score.
func reversionScore(price, longMA, fullScaleBps float64) float64 {
	if longMA <= 0 || fullScaleBps <= 0 {
		return 0
	}
	devBps := math.Abs(price-longMA) / longMA * bpsPerUnit
	score := devBps / fullScaleBps * 100
	if score > 100 {
		score = 100
	}
	return score
}

// PriceOf quotes token denominated in the pool's other token, as a float
// for the statistical layer. Trade sizing never touches this; sized
// trades stay in integer bps end to end.
func PriceOf(pool market.Pool, token common.Address) (float64, bool) {
	t0, t1 := pool.Tokens()
	var other common.Address
	switch token {
	case t0:
		other = t1
	case t1:
		other = t0
	default:
		return 0, false
	}

	own := pool.Reserve(token)
	quote := pool.Reserve(other)
	if own == nil || quote == nil || own.Sign() == 0 || quote.Sign() == 0 {
		return 0, false
	}

	price := ratio(quote, own)
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, false
	}
	return price, true
}

func minReserve(pool market.Pool) *big.Int {
	t0, t1 := pool.Tokens()
	r0, r1 := pool.Reserve(t0), pool.Reserve(t1)
	if r0.Cmp(r1) <= 0 {
		return new(big.Int).Set(r0)
	}
	return new(big.Int).Set(r1)
}

func ratio(num, den *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den)).Float64()
	return f
}
