package market

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// fee rates are basis points out of 10000
const FeePrecision = 10000

var (
	ErrZeroReserve  = errors.New("pool has a zero reserve")
	ErrUnknownToken = errors.New("token not traded by this pool")
)

// Pool is the capability surface the optimization core sees. Implementations
// wrap a concrete venue: an on-chain V2 pair, a replayed snapshot row, or a
// test fixture. Nothing above this interface knows protocol details.
type Pool interface {
	Address() common.Address
	Tokens() (common.Address, common.Address)
	Reserve(token common.Address) *big.Int
	FeeBps() int64
	Venue() string

	// AmountOut quotes the output for amountIn of tokenIn swapped to tokenOut.
	AmountOut(amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error)

	// PriceImpactBps estimates how far amountIn moves the realized rate off
	// the marginal rate, in basis points.
	PriceImpactBps(amountIn *big.Int, tokenIn common.Address) (int64, error)

	// Refresh re-reads venue state. Only the scheduler calls this, and only
	// between ticks.
	Refresh(ctx context.Context) error
}

// GetAmountOut computes the constant-product output with the fee taken on
// input: out = in*keep*Rout / (Rin*10000 + in*keep) where keep = 10000-feeBps.
// Returns zero (not an error) for non-positive input or empty reserves.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 || reserveOut == nil || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	keep := big.NewInt(FeePrecision - feeBps)

	amountInWithFee := new(big.Int).Mul(amountIn, keep)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(FeePrecision))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Div(numerator, denominator)
}

// PriceImpactBps for a constant-product swap: the realized rate is off the
// marginal rate by inWithFee/(Rin+inWithFee).
func PriceImpactBps(amountIn, reserveIn *big.Int, feeBps int64) int64 {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn == nil || reserveIn.Sign() <= 0 {
		return 0
	}

	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(FeePrecision-feeBps))
	inWithFee.Div(inWithFee, big.NewInt(FeePrecision))

	denom := new(big.Int).Add(reserveIn, inWithFee)
	impact := new(big.Int).Mul(inWithFee, big.NewInt(FeePrecision))
	impact.Div(impact, denom)

	return impact.Int64()
}
