package arbitrage

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
)

// where an opportunity came from
const (
	SourceDeterministic = "deterministic"
	SourceGenetic       = "genetic"
	SourceStatistical   = "statistical"
)

// Path is one cycle through the market with its optimized volume. Built
// during discovery, consumed by ranking, never persisted across ticks.
type Path struct {
	Tokens    []common.Address // first == last
	Pools     []market.Pool
	AmountIn  *big.Int
	AmountOut *big.Int
	Profit    *big.Int
	ImpactBps int64 // cumulative across hops
}

func (p *Path) Hops() int {
	return len(p.Pools)
}

// an opportunity as handed to the execution collaborator
type Opportunity struct {
	Token        common.Address // profit currency = cycle anchor
	Paths        []*Path        // deterministic: one; genetic: up to K with split volumes
	EstProfit    *big.Int       // total across paths
	Source       string
	BlockNumber  uint64
	DiscoveredAt time.Time
}

// Key is order-independent over the set of pools involved, used to dedup
// the same opportunity surfaced by different searches.
func (o *Opportunity) Key() string {
	seen := make(map[common.Address]bool)
	var addrs []string
	for _, path := range o.Paths {
		for _, pool := range path.Pools {
			if !seen[pool.Address()] {
				seen[pool.Address()] = true
				addrs = append(addrs, pool.Address().Hex())
			}
		}
	}
	sort.Strings(addrs)
	return strings.Join(addrs, "|")
}

func (o *Opportunity) TotalVolume() *big.Int {
	total := big.NewInt(0)
	for _, path := range o.Paths {
		if path.AmountIn != nil {
			total.Add(total, path.AmountIn)
		}
	}
	return total
}

// SortByProfit orders opportunities best first.
func SortByProfit(opps []*Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		return opps[i].EstProfit.Cmp(opps[j].EstProfit) > 0
	})
}

// PathOpportunity wraps a single discovered path as an opportunity.
func PathOpportunity(path *Path, source string, block uint64) *Opportunity {
	return &Opportunity{
		Token:        path.Tokens[0],
		Paths:        []*Path{path},
		EstProfit:    new(big.Int).Set(path.Profit),
		Source:       source,
		BlockNumber:  block,
		DiscoveredAt: time.Now(),
	}
}
