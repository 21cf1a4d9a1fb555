package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an in-memory constant-product pool. Frozen tick snapshots and
// replayed history rows are Pairs; live venues refresh into one. Not safe
// for concurrent mutation - SetReserves is only called by the registry
// between ticks.
type Pair struct {
	addr     common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	feeBps   int64
	venue    string
}

func NewPair(addr, token0, token1 common.Address, reserve0, reserve1 *big.Int, feeBps int64, venue string) *Pair {
	return &Pair{
		addr:     addr,
		token0:   token0,
		token1:   token1,
		reserve0: new(big.Int).Set(reserve0),
		reserve1: new(big.Int).Set(reserve1),
		feeBps:   feeBps,
		venue:    venue,
	}
}

func (p *Pair) Address() common.Address {
	return p.addr
}

func (p *Pair) Tokens() (common.Address, common.Address) {
	return p.token0, p.token1
}

func (p *Pair) Reserve(token common.Address) *big.Int {
	switch token {
	case p.token0:
		return p.reserve0
	case p.token1:
		return p.reserve1
	}
	return big.NewInt(0)
}

func (p *Pair) FeeBps() int64 {
	return p.feeBps
}

func (p *Pair) Venue() string {
	return p.venue
}

func (p *Pair) AmountOut(amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	reserveIn, reserveOut, err := p.orient(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrZeroReserve
	}
	return GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps), nil
}

func (p *Pair) PriceImpactBps(amountIn *big.Int, tokenIn common.Address) (int64, error) {
	if tokenIn != p.token0 && tokenIn != p.token1 {
		return 0, ErrUnknownToken
	}
	reserveIn := p.Reserve(tokenIn)
	if reserveIn.Sign() == 0 {
		return 0, ErrZeroReserve
	}
	return PriceImpactBps(amountIn, reserveIn, p.feeBps), nil
}

// Refresh is a no-op: a Pair IS the refreshed state.
func (p *Pair) Refresh(ctx context.Context) error {
	return nil
}

// SetReserves replaces both reserves. Registry-only, between ticks.
func (p *Pair) SetReserves(reserve0, reserve1 *big.Int) {
	p.reserve0 = new(big.Int).Set(reserve0)
	p.reserve1 = new(big.Int).Set(reserve1)
}

// Clone returns a deep copy, used to freeze snapshots.
func (p *Pair) Clone() *Pair {
	return NewPair(p.addr, p.token0, p.token1, p.reserve0, p.reserve1, p.feeBps, p.venue)
}

func (p *Pair) orient(tokenIn, tokenOut common.Address) (reserveIn, reserveOut *big.Int, err error) {
	switch {
	case tokenIn == p.token0 && tokenOut == p.token1:
		return p.reserve0, p.reserve1, nil
	case tokenIn == p.token1 && tokenOut == p.token0:
		return p.reserve1, p.reserve0, nil
	}
	return nil, nil, ErrUnknownToken
}
