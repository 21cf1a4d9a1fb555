package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/pulkyeet/arb-engine/internal/eth"
)

// UniswapV2Pool is the live on-chain handle for a V2-style pair. Quotes are
// served from the embedded Pair state; Refresh re-reads getReserves through
// the shared RPC client (which owns the retry policy).
type UniswapV2Pool struct {
	pair   *Pair
	client *eth.Client
	abi    abi.ABI
	block  *big.Int // pinned block for historical scans, nil = latest
}

// LoadUniswapV2Pool discovers token0/token1 and pulls initial reserves for
// the pair at poolAddr. blockNum pins all reads (nil for latest).
func LoadUniswapV2Pool(ctx context.Context, client *eth.Client, poolAddr common.Address, venue string, feeBps int64, blockNum *big.Int) (*UniswapV2Pool, error) {
	contractABI, err := abi.JSON(strings.NewReader(eth.UniswapV2PairABI))
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}

	u := &UniswapV2Pool{client: client, abi: contractABI, block: blockNum}

	token0, err := u.callAddress(ctx, poolAddr, "token0")
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1, err := u.callAddress(ctx, poolAddr, "token1")
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	reserve0, reserve1, err := u.fetchReserves(ctx, poolAddr)
	if err != nil {
		return nil, fmt.Errorf("fetch reserves: %w", err)
	}

	u.pair = NewPair(poolAddr, token0, token1, reserve0, reserve1, feeBps, venue)
	return u, nil
}

func (u *UniswapV2Pool) Address() common.Address                  { return u.pair.Address() }
func (u *UniswapV2Pool) Tokens() (common.Address, common.Address) { return u.pair.Tokens() }
func (u *UniswapV2Pool) Reserve(token common.Address) *big.Int    { return u.pair.Reserve(token) }
func (u *UniswapV2Pool) FeeBps() int64                            { return u.pair.FeeBps() }
func (u *UniswapV2Pool) Venue() string                            { return u.pair.Venue() }

func (u *UniswapV2Pool) AmountOut(amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	return u.pair.AmountOut(amountIn, tokenIn, tokenOut)
}

func (u *UniswapV2Pool) PriceImpactBps(amountIn *big.Int, tokenIn common.Address) (int64, error) {
	return u.pair.PriceImpactBps(amountIn, tokenIn)
}

// Refresh re-reads reserves at the pinned block (or latest).
func (u *UniswapV2Pool) Refresh(ctx context.Context) error {
	reserve0, reserve1, err := u.fetchReserves(ctx, u.pair.Address())
	if err != nil {
		return err
	}
	u.pair.SetReserves(reserve0, reserve1)
	return nil
}

// PinBlock points subsequent reads at a specific block. Between ticks only.
func (u *UniswapV2Pool) PinBlock(blockNum *big.Int) {
	u.block = blockNum
}

// SetReserves lets the registry apply pushed updates to a live pool too.
func (u *UniswapV2Pool) SetReserves(reserve0, reserve1 *big.Int) {
	u.pair.SetReserves(reserve0, reserve1)
}

func (u *UniswapV2Pool) fetchReserves(ctx context.Context, poolAddr common.Address) (*big.Int, *big.Int, error) {
	data, err := u.abi.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}

	msg := ethereum.CallMsg{To: &poolAddr, Data: data}
	result, err := u.client.CallContract(ctx, msg, u.block)
	if err != nil {
		return nil, nil, fmt.Errorf("call getReserves: %w", err)
	}

	unpacked, err := u.abi.Unpack("getReserves", result)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack reserves: %w", err)
	}
	if len(unpacked) < 2 {
		return nil, nil, fmt.Errorf("unexpected unpack result length: %d", len(unpacked))
	}

	reserve0, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("reserve0 type assertion failed")
	}
	reserve1, ok := unpacked[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("reserve1 type assertion failed")
	}

	if err := checkReserve(reserve0); err != nil {
		return nil, nil, fmt.Errorf("reserve0: %w", err)
	}
	if err := checkReserve(reserve1); err != nil {
		return nil, nil, fmt.Errorf("reserve1: %w", err)
	}

	return reserve0, reserve1, nil
}

// checkReserve rejects values a V2 pair can't actually hold (reserves are
// uint112 on chain) instead of letting garbage flow into the math.
func checkReserve(v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("negative reserve")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return fmt.Errorf("reserve exceeds 256 bits")
	}
	if u.BitLen() > 112 {
		return fmt.Errorf("reserve exceeds uint112: %s", v.String())
	}
	return nil
}

func (u *UniswapV2Pool) callAddress(ctx context.Context, poolAddr common.Address, method string) (common.Address, error) {
	data, err := u.abi.Pack(method)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &poolAddr, Data: data}
	result, err := u.client.CallContract(ctx, msg, u.block)
	if err != nil {
		return common.Address{}, fmt.Errorf("call %s: %w", method, err)
	}

	return common.BytesToAddress(result), nil
}
