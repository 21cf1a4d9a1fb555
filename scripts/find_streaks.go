// Finds runs of consecutive blocks that each carried at least one
// discovered opportunity in a results database. Long streaks point at
// mispricings that persisted across blocks instead of one-off noise.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

type blockRow struct {
	block      uint64
	count      int
	bestProfit float64
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run find_streaks.go <results.db> [min_streak]")
	}
	dbPath := os.Args[1]

	minStreak := 2
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n < 2 {
			log.Fatalf("bad min_streak %q (need an integer >= 2)", os.Args[2])
		}
		minStreak = n
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// est_profit is stored as a decimal string; REAL is plenty for display
	rows, err := db.Query(`
		SELECT block_number, COUNT(*), MAX(CAST(est_profit AS REAL))
		FROM opportunities
		GROUP BY block_number
		ORDER BY block_number ASC
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	var blocks []blockRow
	for rows.Next() {
		var r blockRow
		if err := rows.Scan(&r.block, &r.count, &r.bestProfit); err != nil {
			log.Fatal(err)
		}
		blocks = append(blocks, r)
	}
	if err := rows.Err(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\n%d blocks with opportunities in %s\n\n", len(blocks), dbPath)

	streaks := 0
	for i := 0; i < len(blocks); {
		j := i
		for j+1 < len(blocks) && blocks[j+1].block == blocks[j].block+1 {
			j++
		}

		if length := j - i + 1; length >= minStreak {
			streaks++
			fmt.Printf("found streak of %d blocks starting at %d:\n", length, blocks[i].block)
			for k := i; k <= j; k++ {
				fmt.Printf("	%d: %d opportunities (best %.4g)\n",
					blocks[k].block, blocks[k].count, blocks[k].bestProfit)
			}
			fmt.Println()
		}
		i = j + 1
	}

	if streaks == 0 {
		fmt.Printf("no streaks of %d+ consecutive blocks\n", minStreak)
	}
}
