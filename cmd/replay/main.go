package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/pulkyeet/arb-engine/internal/eth"
	"github.com/pulkyeet/arb-engine/internal/replay"
	"github.com/pulkyeet/arb-engine/internal/storage"
)

func main() {
	_ = godotenv.Load("../../.env")

	var (
		parquetFile = flag.String("file", "", "Parquet file of reserve snapshots to ingest first (optional)")
		dbPath      = flag.String("db", "data/snapshots.db", "Path to snapshot database")
		outPath     = flag.String("out", "data/results.db", "Path to results database (empty = don't persist)")
		startBlock  = flag.Uint64("start", 0, "Start block (0 = earliest recorded)")
		endBlock    = flag.Uint64("end", 0, "End block (0 = latest recorded)")
		anchorSym   = flag.String("anchor", "WETH", "Anchor token symbol (profit currency)")
		order       = flag.Float64("order", 1.0, "Order size in units of the anchor")
	)
	flag.Parse()

	anchor, ok := eth.KnownTokens[*anchorSym]
	if !ok {
		fmt.Printf("Unknown anchor token %s (known: WETH, USDC, USDT, DAI, WBTC)\n", *anchorSym)
		os.Exit(1)
	}

	if *parquetFile != "" {
		if err := ingest(*parquetFile, *dbPath); err != nil {
			fmt.Printf("Ingestion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
	}

	source, err := replay.NewSnapshotDB(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open snapshot database: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	if *startBlock == 0 || *endBlock == 0 {
		lo, hi, ok, err := source.BlockRange()
		if err != nil {
			fmt.Printf("Failed to read block range: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("Snapshot database is empty - ingest a parquet file first (-file)")
			os.Exit(1)
		}
		if *startBlock == 0 {
			*startBlock = lo
		}
		if *endBlock == 0 {
			*endBlock = hi
		}
	}
	if *startBlock > *endBlock {
		fmt.Println("Error: start block must be <= end block")
		os.Exit(1)
	}

	var store *storage.Store
	if *outPath != "" {
		store, err = storage.NewStore(*outPath)
		if err != nil {
			fmt.Printf("Failed to open results database: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	cfg := replay.DefaultConfig()
	cfg.Anchor = anchor.Address
	cfg.OrderSize = toUnits(*order, anchor.Decimals)

	runner := replay.NewRunner(source, store, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()

	report, err := runner.Run(ctx, *startBlock, *endBlock)
	if err != nil {
		fmt.Printf("Replay failed: %v\n", err)
		os.Exit(1)
	}

	report.Print()
	if store != nil {
		fmt.Printf("\n💾 Results saved to %s\n", *outPath)
	}
}

// ingest loads one parquet dump of reserve snapshots into the database.
// Rows that fail validation are skipped, never fatal.
func ingest(parquetFile, dbPath string) error {
	fmt.Printf("📥 Ingesting reserve snapshots from %s...\n", parquetFile)

	db, err := replay.NewSnapshotDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	fr, err := local.NewLocalFileReader(parquetFile)
	if err != nil {
		return fmt.Errorf("open parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(replay.ReserveRow), 4)
	if err != nil {
		return fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	fmt.Printf("📊 Total rows: %d\n", numRows)

	batchSize := 1000
	totalIngested := 0
	skipped := 0
	startTime := time.Now()

	for i := 0; i < numRows; i += batchSize {
		toRead := batchSize
		if i+toRead > numRows {
			toRead = numRows - i
		}

		rawRows, err := pr.ReadByNumber(toRead)
		if err != nil {
			log.Printf("Warning: failed to read batch at %d: %v", i, err)
			break
		}
		if len(rawRows) == 0 {
			break
		}

		batch := make([]*replay.PoolSnapshot, 0, len(rawRows))
		for _, rawRow := range rawRows {
			row, ok := rawRow.(replay.ReserveRow)
			if !ok {
				rowPtr, ok := rawRow.(*replay.ReserveRow)
				if !ok {
					skipped++
					continue
				}
				row = *rowPtr
			}

			snap, err := replay.ParseReserveRow(row)
			if err != nil {
				skipped++
				continue
			}
			batch = append(batch, snap)
		}

		if len(batch) > 0 {
			if err := db.BatchInsert(batch); err != nil {
				log.Printf("Warning: failed to insert batch: %v", err)
				continue
			}
		}
		totalIngested += len(batch)

		if totalIngested > 0 && totalIngested%10000 == 0 {
			elapsed := time.Since(startTime)
			rate := float64(totalIngested) / elapsed.Seconds()
			fmt.Printf("  ✓ Ingested %d rows (%.0f rows/s)\n", totalIngested, rate)
		}
	}

	fmt.Printf("\n✅ Ingestion complete!\n")
	fmt.Printf("  Total: %d rows (%d skipped)\n", totalIngested, skipped)
	fmt.Printf("  Time: %s\n", time.Since(startTime).Round(time.Millisecond))

	stats, err := db.Stats()
	if err != nil {
		return nil
	}
	fmt.Printf("\n📊 Database Stats:\n")
	fmt.Printf("  Snapshot rows: %d\n", stats["total_rows"])
	fmt.Printf("  Blocks covered: %d\n", stats["blocks_covered"])
	fmt.Printf("  Pools tracked: %d\n", stats["pools_tracked"])
	return nil
}

func toUnits(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Mul(big.NewFloat(amount), scale).Int(nil)
	return out
}
