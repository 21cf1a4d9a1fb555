package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testPair(n byte, r0, r1 int64) *Pair {
	addr := common.BytesToAddress([]byte{0xAA, n})
	return NewPair(addr, testTokenX, testTokenY, big.NewInt(r0), big.NewInt(r1), 30, "uniswap")
}

func TestStagedPoolInvisibleUntilCommit(t *testing.T) {
	r := NewRegistry(4)

	r.AddPool(testPair(1, 1000, 2000))

	if got := r.PoolCount(); got != 0 {
		t.Fatalf("staged pool already live: count=%d", got)
	}
	if snap := r.Snapshot(); len(snap.Pools) != 0 {
		t.Fatalf("staged pool leaked into snapshot: %d pools", len(snap.Pools))
	}

	if applied := r.Commit(); applied != 1 {
		t.Fatalf("commit applied %d, want 1", applied)
	}
	if got := r.PoolCount(); got != 1 {
		t.Fatalf("pool not live after commit: count=%d", got)
	}
}

func TestSnapshotFrozenAgainstLaterWrites(t *testing.T) {
	r := NewRegistry(4)
	p := testPair(1, 1000, 2000)
	r.AddPool(p)
	r.Commit()

	snap := r.Snapshot()

	// stage + commit a reserve update after the snapshot was taken
	r.StageReserves(p.Address(), big.NewInt(7), big.NewInt(7), 100)
	r.Commit()

	got := snap.Pools[0].Reserve(testTokenX)
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("snapshot mutated by later commit: reserve=%s", got)
	}

	// a fresh snapshot sees the new state
	snap2 := r.Snapshot()
	if snap2.Pools[0].Reserve(testTokenX).Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("new snapshot missing committed update")
	}
	if snap2.Block != 100 {
		t.Errorf("snapshot block = %d, want 100", snap2.Block)
	}
}

func TestStagedReservesNotAppliedBeforeCommit(t *testing.T) {
	r := NewRegistry(4)
	p := testPair(1, 1000, 2000)
	r.AddPool(p)
	r.Commit()

	r.StageReserves(p.Address(), big.NewInt(1), big.NewInt(1), 5)

	snap := r.Snapshot()
	if snap.Pools[0].Reserve(testTokenX).Cmp(big.NewInt(1000)) != 0 {
		t.Fatal("staged reserves applied without commit")
	}
}

func TestSnapshotExcludesZeroReservePools(t *testing.T) {
	r := NewRegistry(4)
	r.AddPool(testPair(1, 1000, 2000))
	r.AddPool(testPair(2, 0, 2000))
	r.Commit()

	snap := r.Snapshot()

	if len(snap.Pools) != 2 {
		t.Fatalf("snapshot should keep all pools, got %d", len(snap.Pools))
	}
	if got := len(snap.ByToken[testTokenX]); got != 1 {
		t.Fatalf("zero-reserve pool routable: %d pools for tokenX", got)
	}
}

// refreshCounter implements Pool and counts concurrent refreshes
type refreshCounter struct {
	*Pair
	mu       sync.Mutex
	inflight int
	peak     int
	calls    atomic.Int64
	fail     bool
}

func (rc *refreshCounter) Refresh(ctx context.Context) error {
	rc.mu.Lock()
	rc.inflight++
	if rc.inflight > rc.peak {
		rc.peak = rc.inflight
	}
	rc.mu.Unlock()

	rc.calls.Add(1)

	rc.mu.Lock()
	rc.inflight--
	rc.mu.Unlock()

	if rc.fail {
		return errors.New("venue unreachable")
	}
	return nil
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	r := NewRegistry(2)

	good := &refreshCounter{Pair: testPair(1, 1000, 2000)}
	bad := &refreshCounter{Pair: testPair(2, 1000, 2000), fail: true}
	good2 := &refreshCounter{Pair: testPair(3, 1000, 2000)}

	r.AddPool(good)
	r.AddPool(bad)
	r.AddPool(good2)
	r.Commit()

	ok, failed := r.RefreshAll(context.Background())

	if ok != 2 || failed != 1 {
		t.Fatalf("refresh counts ok=%d failed=%d, want 2/1", ok, failed)
	}
	if good.calls.Load() != 1 || good2.calls.Load() != 1 {
		t.Error("sibling refreshes cancelled by one failure")
	}
}

func TestRefreshAllStopsOnCancel(t *testing.T) {
	r := NewRegistry(1)
	for i := byte(1); i <= 5; i++ {
		r.AddPool(&refreshCounter{Pair: testPair(i, 1000, 2000)})
	}
	r.Commit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, failed := r.RefreshAll(ctx)
	if ok+failed != 5 {
		t.Fatalf("counts don't cover pool set: ok=%d failed=%d", ok, failed)
	}
	t.Logf("cancelled refresh: ok=%d failed=%d", ok, failed)
}
