package arbitrage

import (
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// SizerConfig carries the knobs for two-pool sizing. Amounts are in the
// smallest unit of the input token (wei-equivalent).
type SizerConfig struct {
	MinSpreadBps     int64    // reject spreads thinner than this
	MaxTradeFraction int64    // input cap as bps of the buy-side reserve
	MaxImpactBps     int64    // reject if the buy leg moves the rate more than this
	MinProfit        *big.Int // net-of-gas floor
	GasCostBase      *big.Int // flat gas estimate per round trip
	GasSurchargeBps  int64    // volume-proportional gas surcharge
	PricePrecision   *big.Int // fixed-point scale for cross-pool prices
}

func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		MinSpreadBps:     5,
		MaxTradeFraction: 2000, // 20%
		MaxImpactBps:     500,  // 5%
		MinProfit:        big.NewInt(0),
		GasCostBase:      big.NewInt(0),
		GasSurchargeBps:  0,
		PricePrecision:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
	}
}

type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	if cfg.PricePrecision == nil || cfg.PricePrecision.Sign() <= 0 {
		cfg.PricePrecision = DefaultSizerConfig().PricePrecision
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = big.NewInt(0)
	}
	if cfg.GasCostBase == nil {
		cfg.GasCostBase = big.NewInt(0)
	}
	return &Sizer{cfg: cfg}
}

// TwoPoolQuote is the sizer's model of a round trip: buy the quote token
// where it's cheap, value the proceeds at the other pool's marginal rate.
type TwoPoolQuote struct {
	TokenIn     common.Address
	TokenOut    common.Address
	BuyPool     market.Pool
	SellPool    market.Pool
	AmountIn    *big.Int
	ExpectedOut *big.Int
	GrossProfit *big.Int
	GasCost     *big.Int
	NetProfit   *big.Int
	SpreadBps   int64
	ImpactBps   int64
}

// SizeTwoPool computes the profit-maximizing input for a round trip between
// two pools quoting the same pair. base is the currency profit is taken in.
// Returns (nil, nil) when there is no opportunity; an error means a pool
// doesn't actually trade the pair.
func (s *Sizer) SizeTwoPool(a, b market.Pool, base, quote common.Address) (*TwoPoolQuote, error) {
	raBase, raQuote := a.Reserve(base), a.Reserve(quote)
	rbBase, rbQuote := b.Reserve(base), b.Reserve(quote)

	// zero reserves mean the pool is stale, not an error
	if raBase.Sign() == 0 || raQuote.Sign() == 0 || rbBase.Sign() == 0 || rbQuote.Sign() == 0 {
		return nil, nil
	}

	// quote-token price in base: reserveBase/reserveQuote. buy where lower.
	buy, sell := a, b
	if cmpPrice(raBase, raQuote, rbBase, rbQuote) > 0 {
		buy, sell = b, a
	}

	buyBase, buyQuote := buy.Reserve(base), buy.Reserve(quote)
	sellBase, sellQuote := sell.Reserve(base), sell.Reserve(quote)

	spread := spreadBps(sellBase, sellQuote, buyBase, buyQuote)
	if spread < s.cfg.MinSpreadBps {
		return nil, nil
	}

	// sell-side marginal price of the quote token, fixed point
	price, ok := fixedPointPrice(sellBase, sellQuote, s.cfg.PricePrecision)
	if !ok {
		return nil, nil
	}

	amountIn := s.closedFormInput(buyBase, buyQuote, price, buy.FeeBps())
	if amountIn.Sign() <= 0 {
		return nil, nil
	}

	// clamp to the configured fraction of the buy-side reserve
	maxIn := new(big.Int).Mul(buyBase, big.NewInt(s.cfg.MaxTradeFraction))
	maxIn.Div(maxIn, big.NewInt(market.FeePrecision))
	if amountIn.Cmp(maxIn) > 0 {
		amountIn = maxIn
	}

	out, err := buy.AmountOut(amountIn, base, quote)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, nil
	}

	impact, err := buy.PriceImpactBps(amountIn, base)
	if err != nil {
		return nil, err
	}
	if impact > s.cfg.MaxImpactBps {
		log.Printf("[sizer] dropped %s/%s round trip: impact %d bps over cap %d",
			buy.Venue(), sell.Venue(), impact, s.cfg.MaxImpactBps)
		return nil, nil
	}

	// value the proceeds at the sell-side marginal rate
	value := new(big.Int).Mul(out, price)
	value.Div(value, s.cfg.PricePrecision)

	gross := new(big.Int).Sub(value, amountIn)
	gas := s.EstimateGasCost(amountIn)
	net := new(big.Int).Sub(gross, gas)

	if net.Sign() <= 0 || net.Cmp(s.cfg.MinProfit) < 0 {
		return nil, nil
	}

	return &TwoPoolQuote{
		TokenIn:     base,
		TokenOut:    quote,
		BuyPool:     buy,
		SellPool:    sell,
		AmountIn:    amountIn,
		ExpectedOut: out,
		GrossProfit: gross,
		GasCost:     gas,
		NetProfit:   net,
		SpreadBps:   spread,
		ImpactBps:   impact,
	}, nil
}

// closedFormInput solves the fixed-price model: selling into depth (R1,R2)
// against an external price P maximizes profit at sqrt(R1*R2*P) - R1,
// shrunk by feeDen/(feeDen+feeNum) for the fee taken on input.
func (s *Sizer) closedFormInput(r1, r2, price *big.Int, feeBps int64) *big.Int {
	target := new(big.Int).Mul(r1, r2)
	target.Mul(target, price)
	target.Div(target, s.cfg.PricePrecision)

	in := Isqrt(target)
	in.Sub(in, r1)
	if in.Sign() <= 0 {
		return big.NewInt(0)
	}

	in.Mul(in, big.NewInt(market.FeePrecision))
	in.Div(in, big.NewInt(market.FeePrecision+feeBps))
	return in
}

// EstimateGasCost models gas as a flat base plus a per-unit-volume
// surcharge.
func (s *Sizer) EstimateGasCost(volume *big.Int) *big.Int {
	gas := new(big.Int).Set(s.cfg.GasCostBase)
	if s.cfg.GasSurchargeBps > 0 && volume != nil && volume.Sign() > 0 {
		surcharge := new(big.Int).Mul(volume, big.NewInt(s.cfg.GasSurchargeBps))
		surcharge.Div(surcharge, big.NewInt(market.FeePrecision))
		gas.Add(gas, surcharge)
	}
	return gas
}

// cmpPrice compares aBase/aQuote against bBase/bQuote without dividing.
func cmpPrice(aBase, aQuote, bBase, bQuote *big.Int) int {
	left := new(big.Int).Mul(aBase, bQuote)
	right := new(big.Int).Mul(bBase, aQuote)
	return left.Cmp(right)
}

// spreadBps is how far the sell-side price sits above the buy-side price.
func spreadBps(sellBase, sellQuote, buyBase, buyQuote *big.Int) int64 {
	num := new(big.Int).Mul(sellBase, buyQuote)
	den := new(big.Int).Mul(buyBase, sellQuote)
	if den.Sign() == 0 {
		return 0
	}
	num.Mul(num, big.NewInt(market.FeePrecision))
	num.Div(num, den)
	return num.Int64() - market.FeePrecision
}

// fixedPointPrice computes reserveBase*precision/reserveQuote in checked
// 256-bit math. Overflow means garbage reserves; callers treat that as no
// opportunity rather than propagating junk.
func fixedPointPrice(reserveBase, reserveQuote, precision *big.Int) (*big.Int, bool) {
	base, o1 := uint256.FromBig(reserveBase)
	prec, o2 := uint256.FromBig(precision)
	quote, o3 := uint256.FromBig(reserveQuote)
	if o1 || o2 || o3 || quote.IsZero() {
		return nil, false
	}

	num, overflow := new(uint256.Int).MulOverflow(base, prec)
	if overflow {
		return nil, false
	}
	num.Div(num, quote)
	return num.ToBig(), true
}
