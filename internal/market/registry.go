package market

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is one tick's immutable view of the market: every pool frozen at
// the same instant, indexed by token. Built once at tick start, read-only
// afterwards.
type Snapshot struct {
	Pools   []Pool
	ByToken map[common.Address][]Pool
	Block   uint64
	Taken   time.Time

	byAddr map[common.Address]Pool
}

// NewSnapshot indexes the given pools by token. Pools with a zero reserve
// are kept in Pools (for observability) but excluded from ByToken, so the
// graph never routes through them.
func NewSnapshot(pools []Pool, block uint64) *Snapshot {
	return NewSnapshotAt(pools, block, time.Now())
}

// NewSnapshotAt is NewSnapshot with an explicit capture time, for replaying
// recorded history on its own clock.
func NewSnapshotAt(pools []Pool, block uint64, taken time.Time) *Snapshot {
	snap := &Snapshot{
		Pools:   pools,
		ByToken: make(map[common.Address][]Pool),
		Block:   block,
		Taken:   taken,
		byAddr:  make(map[common.Address]Pool),
	}

	for _, p := range pools {
		snap.byAddr[p.Address()] = p
		t0, t1 := p.Tokens()
		if p.Reserve(t0).Sign() == 0 || p.Reserve(t1).Sign() == 0 {
			continue
		}
		snap.ByToken[t0] = append(snap.ByToken[t0], p)
		snap.ByToken[t1] = append(snap.ByToken[t1], p)
	}

	return snap
}

// Pool looks up a pool by address in this snapshot.
func (s *Snapshot) Pool(addr common.Address) (Pool, bool) {
	p, ok := s.byAddr[addr]
	return p, ok
}

type reserveUpdate struct {
	reserve0 *big.Int
	reserve1 *big.Int
	block    uint64
}

// Registry owns the live pool set. Ingestion lands in a staging area -
// new pools via AddPool, reserve writes via StageReserves - and is applied
// only by Commit, which the scheduler calls between ticks. A tick computes
// over Snapshot output, which is a frozen copy, so nothing the registry
// does afterwards can mutate the view a tick is reading.
type Registry struct {
	mu             sync.Mutex
	pools          map[common.Address]Pool
	order          []common.Address
	stagedPools    []Pool
	stagedReserves map[common.Address]reserveUpdate
	concurrency    int
	block          uint64
}

func NewRegistry(concurrency int) *Registry {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Registry{
		pools:          make(map[common.Address]Pool),
		stagedReserves: make(map[common.Address]reserveUpdate),
		concurrency:    concurrency,
	}
}

// AddPool stages a pool for inclusion at the next Commit.
func (r *Registry) AddPool(p Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stagedPools = append(r.stagedPools, p)
}

// StageReserves buffers a reserve update pushed by the ingestion
// collaborator. Applied at the next Commit; last write per pool wins.
func (r *Registry) StageReserves(addr common.Address, reserve0, reserve1 *big.Int, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stagedReserves[addr] = reserveUpdate{
		reserve0: new(big.Int).Set(reserve0),
		reserve1: new(big.Int).Set(reserve1),
		block:    block,
	}
}

// Commit swaps all staged state into the live set and returns how many
// pools were added or updated. Scheduler-only, between ticks.
func (r *Registry) Commit() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0

	for _, p := range r.stagedPools {
		if _, exists := r.pools[p.Address()]; !exists {
			r.order = append(r.order, p.Address())
		}
		r.pools[p.Address()] = p
		applied++
	}
	r.stagedPools = nil

	for addr, upd := range r.stagedReserves {
		p, ok := r.pools[addr]
		if !ok {
			log.Printf("[market] staged reserves for unknown pool %s, dropped", addr.Hex())
			continue
		}
		setter, ok := p.(interface{ SetReserves(r0, r1 *big.Int) })
		if !ok {
			log.Printf("[market] pool %s does not accept pushed reserves, dropped", addr.Hex())
			continue
		}
		setter.SetReserves(upd.reserve0, upd.reserve1)
		if upd.block > r.block {
			r.block = upd.block
		}
		applied++
	}
	r.stagedReserves = make(map[common.Address]reserveUpdate)

	return applied
}

// SetBlock pins the block number stamped onto snapshots.
func (r *Registry) SetBlock(block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = block
}

func (r *Registry) PoolCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Snapshot freezes the live pools into Pairs and returns the indexed view.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	frozen := make([]Pool, 0, len(r.pools))
	for _, addr := range r.order {
		p := r.pools[addr]
		t0, t1 := p.Tokens()
		frozen = append(frozen, NewPair(p.Address(), t0, t1, p.Reserve(t0), p.Reserve(t1), p.FeeBps(), p.Venue()))
	}

	return NewSnapshot(frozen, r.block)
}

// RefreshAll re-reads every live pool with bounded fan-out. Per-pool
// failures are logged and isolated; siblings keep going. Returns refreshed
// and failed counts. Scheduler-only, between ticks.
func (r *Registry) RefreshAll(ctx context.Context) (int, int) {
	r.mu.Lock()
	pools := make([]Pool, 0, len(r.pools))
	for _, addr := range r.order {
		pools = append(pools, r.pools[addr])
	}
	limit := r.concurrency
	r.mu.Unlock()

	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)

	var counterMu sync.Mutex
	refreshed := 0

loop:
	for _, p := range pools {
		select {
		case <-ctx.Done():
			// stop launching; whatever didn't refresh counts as failed
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(p Pool) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.Refresh(ctx); err != nil {
				log.Printf("[market] refresh %s (%s) failed: %v", p.Address().Hex(), p.Venue(), err)
				return
			}

			counterMu.Lock()
			refreshed++
			counterMu.Unlock()
		}(p)
	}

	wg.Wait()
	return refreshed, len(pools) - refreshed
}
