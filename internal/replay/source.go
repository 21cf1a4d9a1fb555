package replay

import (
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// PoolSnapshot is one pool's recorded state at one block.
type PoolSnapshot struct {
	Block    uint64
	Pool     common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	FeeBps   int64
	Venue    string
	Recorded time.Time
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS pool_snapshots (
	block_number INTEGER NOT NULL,
	pool         TEXT NOT NULL,
	token0       TEXT NOT NULL,
	token1       TEXT NOT NULL,
	reserve0     TEXT NOT NULL,
	reserve1     TEXT NOT NULL,
	fee_bps      INTEGER NOT NULL,
	venue        TEXT NOT NULL,
	recorded_at  INTEGER NOT NULL,
	PRIMARY KEY (block_number, pool)
);
`

// SnapshotDB holds ingested reserve history: every tracked pool's state at
// every recorded block. Re-ingesting a block replaces its rows.
type SnapshotDB struct {
	db *sql.DB
}

func NewSnapshotDB(dbPath string) (*SnapshotDB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(snapshotSchema); err != nil {
		return nil, fmt.Errorf("initialise schema: %w", err)
	}

	return &SnapshotDB{db: db}, nil
}

func (s *SnapshotDB) Close() error {
	return s.db.Close()
}

// BatchInsert stores snapshot rows in one transaction.
func (s *SnapshotDB) BatchInsert(rows []*PoolSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO pool_snapshots
		(block_number, pool, token0, token1, reserve0, reserve1, fee_bps, venue, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(
			row.Block,
			row.Pool.Hex(),
			row.Token0.Hex(),
			row.Token1.Hex(),
			row.Reserve0.String(),
			row.Reserve1.String(),
			row.FeeBps,
			row.Venue,
			row.Recorded.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Blocks lists the recorded blocks inside [start, end], ascending.
func (s *SnapshotDB) Blocks(start, end uint64) ([]uint64, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT block_number FROM pool_snapshots
		WHERE block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []uint64
	for rows.Next() {
		var b uint64
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// BlockRange returns the lowest and highest recorded block numbers. ok is
// false on an empty database.
func (s *SnapshotDB) BlockRange() (lo, hi uint64, ok bool, err error) {
	var loN, hiN sql.NullInt64
	err = s.db.QueryRow("SELECT MIN(block_number), MAX(block_number) FROM pool_snapshots").Scan(&loN, &hiN)
	if err != nil {
		return 0, 0, false, err
	}
	if !loN.Valid || !hiN.Valid {
		return 0, 0, false, nil
	}
	return uint64(loN.Int64), uint64(hiN.Int64), true, nil
}

// PoolsAt reconstructs the market at one block as frozen in-memory pairs,
// plus the recording time of the newest row. Rows with unparseable reserves
// are skipped - a corrupt row costs one pool, not the block.
func (s *SnapshotDB) PoolsAt(block uint64) ([]market.Pool, time.Time, error) {
	rows, err := s.db.Query(`
		SELECT pool, token0, token1, reserve0, reserve1, fee_bps, venue, recorded_at
		FROM pool_snapshots WHERE block_number = ?
		ORDER BY pool ASC
	`, block)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var pools []market.Pool
	var newest int64

	for rows.Next() {
		var poolHex, t0Hex, t1Hex, r0Str, r1Str, venue string
		var feeBps, recordedAt int64
		if err := rows.Scan(&poolHex, &t0Hex, &t1Hex, &r0Str, &r1Str, &feeBps, &venue, &recordedAt); err != nil {
			return nil, time.Time{}, err
		}

		reserve0, ok0 := new(big.Int).SetString(r0Str, 10)
		reserve1, ok1 := new(big.Int).SetString(r1Str, 10)
		if !ok0 || !ok1 {
			continue
		}

		pools = append(pools, market.NewPair(
			common.HexToAddress(poolHex),
			common.HexToAddress(t0Hex),
			common.HexToAddress(t1Hex),
			reserve0, reserve1, feeBps, venue,
		))
		if recordedAt > newest {
			newest = recordedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	return pools, time.UnixMilli(newest), nil
}

// Stats reports coverage for monitoring.
func (s *SnapshotDB) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pool_snapshots").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_rows"] = count

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT block_number) FROM pool_snapshots").Scan(&count); err != nil {
		return nil, err
	}
	stats["blocks_covered"] = count

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT pool) FROM pool_snapshots").Scan(&count); err != nil {
		return nil, err
	}
	stats["pools_tracked"] = count

	return stats, nil
}
