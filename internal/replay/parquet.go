package replay

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReserveRow matches the reserve-recorder parquet dumps: one row per pool
// per block, reserves as decimal strings because they overflow int64.
type ReserveRow struct {
	BlockNumber int64
	Timestamp   int64 // unix milliseconds
	Pool        string
	Token0      string
	Token1      string
	Reserve0    string
	Reserve1    string
	FeeBps      int64
	Venue       string
}

// ParseReserveRow validates one parquet row into a PoolSnapshot. Rows that
// fail validation are skipped by the ingester, never fatal.
func ParseReserveRow(row ReserveRow) (*PoolSnapshot, error) {
	if row.BlockNumber <= 0 {
		return nil, fmt.Errorf("missing block number")
	}
	pool, err := parseAddress(row.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	token0, err := parseAddress(row.Token0)
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1, err := parseAddress(row.Token1)
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}
	if token0 == token1 {
		return nil, fmt.Errorf("token0 == token1")
	}

	reserve0, err := parseBigInt(row.Reserve0)
	if err != nil {
		return nil, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := parseBigInt(row.Reserve1)
	if err != nil {
		return nil, fmt.Errorf("reserve1: %w", err)
	}

	if row.FeeBps < 0 || row.FeeBps >= 10_000 {
		return nil, fmt.Errorf("fee %d bps out of range", row.FeeBps)
	}

	venue := row.Venue
	if venue == "" {
		venue = "unknown"
	}

	return &PoolSnapshot{
		Block:    uint64(row.BlockNumber),
		Pool:     pool,
		Token0:   token0,
		Token1:   token1,
		Reserve0: reserve0,
		Reserve1: reserve1,
		FeeBps:   row.FeeBps,
		Venue:    venue,
		Recorded: time.UnixMilli(row.Timestamp),
	}, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	val, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big int %q", s)
	}
	if val.Sign() < 0 {
		return nil, fmt.Errorf("negative reserve %q", s)
	}
	return val, nil
}
