package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pulkyeet/arb-engine/internal/allocator"
	"github.com/pulkyeet/arb-engine/internal/arbitrage"
)

// engine outputs only: discovery writes the opportunity log, the allocator
// writes its closed book. Nothing in here is read back on the hot path.
const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	block_number  INTEGER NOT NULL,
	token         TEXT NOT NULL,
	source        TEXT NOT NULL,
	pool_set      TEXT NOT NULL,
	hops          INTEGER NOT NULL,
	volume        TEXT NOT NULL,
	est_profit    TEXT NOT NULL,
	impact_bps    INTEGER NOT NULL,
	discovered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_block ON opportunities(block_number);

CREATE TABLE IF NOT EXISTS closed_positions (
	position_id INTEGER NOT NULL,
	pool        TEXT NOT NULL,
	token       TEXT NOT NULL,
	amount      TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	entry_time  INTEGER NOT NULL,
	exit_time   INTEGER NOT NULL,
	reason      TEXT NOT NULL,
	pnl         TEXT NOT NULL,
	return_frac REAL NOT NULL,
	held_ms     INTEGER NOT NULL,
	PRIMARY KEY (position_id, exit_time)
);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	// WAL so the write paths never block a reader poking at the log
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialise schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveOpportunities appends one row per ranked opportunity, all in one
// transaction. A multi-path opportunity records its total volume and the
// worst leg's impact.
func (s *Store) SaveOpportunities(opps []*arbitrage.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO opportunities
		(block_number, token, source, pool_set, hops, volume, est_profit, impact_bps, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, opp := range opps {
		hops := 0
		var worstImpact int64
		for _, path := range opp.Paths {
			hops += path.Hops()
			if path.ImpactBps > worstImpact {
				worstImpact = path.ImpactBps
			}
		}

		_, err := stmt.Exec(
			opp.BlockNumber,
			opp.Token.Hex(),
			opp.Source,
			opp.Key(),
			hops,
			opp.TotalVolume().String(),
			opp.EstProfit.String(),
			worstImpact,
			opp.DiscoveredAt.Unix(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveClosedPositions appends the allocator's closed book entries.
func (s *Store) SaveClosedPositions(closed []*allocator.ClosedPosition) error {
	if len(closed) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO closed_positions
		(position_id, pool, token, amount, entry_price, exit_price, entry_time, exit_time, reason, pnl, return_frac, held_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cp := range closed {
		_, err := stmt.Exec(
			cp.ID,
			cp.Pool.Hex(),
			cp.Token.Hex(),
			cp.Amount.String(),
			cp.EntryPrice,
			cp.ExitPrice,
			cp.EntryTime.Unix(),
			cp.ExitTime.Unix(),
			cp.Reason,
			cp.PnL.String(),
			cp.Return,
			cp.Held.Milliseconds(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Stats reports row counts for monitoring.
func (s *Store) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM opportunities").Scan(&count); err != nil {
		return nil, err
	}
	stats["opportunities"] = count

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT block_number) FROM opportunities").Scan(&count); err != nil {
		return nil, err
	}
	stats["blocks_with_opportunities"] = count

	if err := s.db.QueryRow("SELECT COUNT(*) FROM closed_positions").Scan(&count); err != nil {
		return nil, err
	}
	stats["closed_positions"] = count

	return stats, nil
}
