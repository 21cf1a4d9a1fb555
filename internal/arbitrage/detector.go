package arbitrage

import (
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/graph"
	"github.com/pulkyeet/arb-engine/internal/market"
)

// float noise guard: a relaxation must improve by more than this to count,
// otherwise rounding alone can fabricate cycles
const relaxEpsilon = 1e-9

// DetectorConfig bounds negative-cycle detection and per-cycle sizing.
type DetectorConfig struct {
	MaxPathLength int      // cycles longer than this many hops are discarded
	MinProfit     *big.Int // discard sized cycles below this
	Volume        VolumeSearchConfig
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxPathLength: 4,
		MinProfit:     big.NewInt(0),
		Volume:        DefaultVolumeSearchConfig(),
	}
}

// Detector finds arbitrage as negative cycles in the log-rate graph: a loop
// whose weights sum below zero multiplies to more than 1x.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinProfit == nil {
		cfg.MinProfit = big.NewInt(0)
	}
	if cfg.MaxPathLength < 2 {
		cfg.MaxPathLength = DefaultDetectorConfig().MaxPathLength
	}
	return &Detector{cfg: cfg}
}

// Detect relaxes from start for |tokens|-1 rounds, then uses one extra pass
// to flag reachable negative cycles. Each distinct cycle is reconstructed
// through predecessor links, sized independently, and kept if it clears the
// profit floor. A broken pool invalidates its own cycle only.
func (d *Detector) Detect(g *graph.Graph, start common.Address) []*Path {
	n := g.TokenCount()
	if n == 0 {
		return nil
	}
	startIdx, ok := g.TokenIndex(start)
	if !ok {
		return nil
	}

	dist := make([]float64, n)
	pred := make([]int, n) // edge index that last improved the node
	for i := range dist {
		dist[i] = math.Inf(1)
		pred[i] = -1
	}
	dist[startIdx] = 0

	relaxAll := func() bool {
		changed := false
		for ei := 0; ei < g.EdgeCount(); ei++ {
			e := g.Edge(ei)
			if e.Dead() {
				continue
			}
			fi, _ := g.TokenIndex(e.From)
			if math.IsInf(dist[fi], 1) {
				continue
			}
			ti, _ := g.TokenIndex(e.To)
			if dist[fi]+e.Weight < dist[ti]-relaxEpsilon {
				dist[ti] = dist[fi] + e.Weight
				pred[ti] = ei
				changed = true
			}
		}
		return changed
	}

	for round := 0; round < n-1; round++ {
		if !relaxAll() {
			break
		}
	}

	// extra pass: any edge that still relaxes sits on (or hangs off) a
	// negative cycle reachable from start
	var paths []*Path
	seen := make(map[string]bool)

	for ei := 0; ei < g.EdgeCount(); ei++ {
		e := g.Edge(ei)
		if e.Dead() {
			continue
		}
		fi, _ := g.TokenIndex(e.From)
		if math.IsInf(dist[fi], 1) {
			continue
		}
		ti, _ := g.TokenIndex(e.To)
		if dist[fi]+e.Weight >= dist[ti]-relaxEpsilon {
			continue
		}

		cycle := d.reconstruct(g, pred, ti)
		if cycle == nil {
			continue
		}

		tokens, pools := g.CyclePath(cycle)
		key := cycleKey(pools)
		if seen[key] {
			continue
		}
		seen[key] = true

		path := OptimizeCycleVolume(tokens, pools, d.cfg.Volume)
		if path == nil || path.Profit.Cmp(d.cfg.MinProfit) < 0 || path.Profit.Sign() <= 0 {
			continue
		}
		paths = append(paths, path)
	}

	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Profit.Cmp(paths[j].Profit) > 0
	})
	return paths
}

// reconstruct walks predecessor links back from a flagged node. The first
// n steps guarantee we land inside the cycle; the loop then closes it.
// Cycles over the hop cap are dropped - a truncated loop isn't tradeable.
func (d *Detector) reconstruct(g *graph.Graph, pred []int, from int) []int {
	n := g.TokenCount()

	// step inside the cycle
	v := from
	for i := 0; i < n; i++ {
		ei := pred[v]
		if ei < 0 {
			return nil
		}
		v, _ = g.TokenIndex(g.Edge(ei).From)
	}

	// collect edges until v repeats
	var reversed []int
	u := v
	for {
		ei := pred[u]
		if ei < 0 {
			return nil
		}
		reversed = append(reversed, ei)
		u, _ = g.TokenIndex(g.Edge(ei).From)
		if u == v {
			break
		}
		if len(reversed) > n {
			return nil // pred links corrupted, bail
		}
	}

	if len(reversed) > d.cfg.MaxPathLength || len(reversed) < 2 {
		return nil
	}

	// pred links point backwards; flip into travel order
	cycle := make([]int, len(reversed))
	for i, ei := range reversed {
		cycle[len(reversed)-1-i] = ei
	}
	return cycle
}

// cycleKey is rotation-independent so the same loop flagged off different
// edges dedups to one entry.
func cycleKey(pools []market.Pool) string {
	addrs := make([]string, len(pools))
	for i, p := range pools {
		addrs[i] = p.Address().Hex()
	}
	sort.Strings(addrs)
	return strings.Join(addrs, "|")
}
