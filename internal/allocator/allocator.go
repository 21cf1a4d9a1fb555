package allocator

import (
	"log"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/arb-engine/internal/market"
	"github.com/pulkyeet/arb-engine/internal/predictor"
)

const bpsScale = 10_000

type Config struct {
	MaxTotalCapital *big.Int
	PositionPct     float64 // fraction of available capital per position
	KellyCap        float64
	MaxPositionSize *big.Int
	MinPositionSize *big.Int
	StopLossPct     float64
	TakeProfitPct   float64
	PositionTimeout time.Duration // grace past the expected exit
	MaxPositions    int
	UpdateInterval  time.Duration // monitor throttle
}

func DefaultConfig() Config {
	eth := big.NewInt(1_000_000_000_000_000_000)
	return Config{
		MaxTotalCapital: new(big.Int).Mul(big.NewInt(10), eth),
		PositionPct:     0.10,
		KellyCap:        0.5,
		MaxPositionSize: new(big.Int).Mul(big.NewInt(2), eth),
		MinPositionSize: new(big.Int).Div(eth, big.NewInt(100)),
		StopLossPct:     0.05,
		TakeProfitPct:   0.10,
		PositionTimeout: 5 * time.Minute,
		MaxPositions:    5,
		UpdateInterval:  time.Second,
	}
}

// Allocator owns the speculative capital book: available vs deployed,
// the open positions, and the closed history. All mutation goes through
// one mutex, so the book can run beside discovery but never races
// against itself.
type Allocator struct {
	cfg Config

	mu        sync.Mutex
	available *big.Int
	deployed  *big.Int
	swept     *big.Int // realized profit moved out past the capital cap
	positions map[uint64]*Position
	nextID    uint64
	history   []*ClosedPosition
	lastPass  time.Time
}

func New(cfg Config) *Allocator {
	def := DefaultConfig()
	if cfg.MaxTotalCapital == nil || cfg.MaxTotalCapital.Sign() <= 0 {
		cfg.MaxTotalCapital = def.MaxTotalCapital
	}
	if cfg.MaxPositionSize == nil {
		cfg.MaxPositionSize = def.MaxPositionSize
	}
	if cfg.MinPositionSize == nil {
		cfg.MinPositionSize = big.NewInt(0)
	}
	if cfg.KellyCap <= 0 || cfg.KellyCap > 1 {
		cfg.KellyCap = def.KellyCap
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}

	return &Allocator{
		cfg:       cfg,
		available: new(big.Int).Set(cfg.MaxTotalCapital),
		deployed:  big.NewInt(0),
		swept:     big.NewInt(0),
		positions: make(map[uint64]*Position),
	}
}

// KellyFraction is clamp((p*b - q)/b, 0, limit) with confidence as the
// win probability p and expectedReturn as the payoff b, both in [0,1].
// Modest edges go negative and clamp to zero: rejected, not floored.
func KellyFraction(confidence, expectedReturn, limit float64) float64 {
	if expectedReturn <= 0 {
		return 0
	}
	f := (confidence*expectedReturn - (1 - confidence)) / expectedReturn
	if f <= 0 {
		return 0
	}
	if f > limit {
		f = limit
	}
	return f
}

// SizePosition returns the capital to commit against a prediction, or
// zero when the Kelly fraction or the minimum-size floor rejects it.
func (a *Allocator) SizePosition(confidence, expectedReturn float64, available *big.Int) *big.Int {
	kelly := KellyFraction(confidence, expectedReturn, a.cfg.KellyCap)
	if kelly == 0 {
		return big.NewInt(0)
	}

	base := mulFraction(available, a.cfg.PositionPct)
	if base.Cmp(a.cfg.MaxPositionSize) > 0 {
		base = new(big.Int).Set(a.cfg.MaxPositionSize)
	}

	size := mulFraction(base, kelly)
	if size.Cmp(a.cfg.MinPositionSize) < 0 {
		return big.NewInt(0)
	}
	return size
}

// Consider opens positions for pre-position flagged predictions, best
// score first, until capital or the position cap runs out. One position
// per pool.
func (a *Allocator) Consider(preds []*predictor.Prediction, snap *market.Snapshot, now time.Time) []*Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	ranked := make([]*predictor.Prediction, 0, len(preds))
	for _, pred := range preds {
		if pred.PrePosition {
			ranked = append(ranked, pred)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score() > ranked[j].Score() })

	var opened []*Position
	for _, pred := range ranked {
		if len(a.positions) >= a.cfg.MaxPositions {
			log.Printf("[allocator] position cap %d reached, %s passed over", a.cfg.MaxPositions, pred.Pool.Hex())
			break
		}
		if a.hasPositionOn(pred.Pool) {
			continue
		}

		pool, ok := snap.Pool(pred.Pool)
		if !ok {
			continue
		}
		price, ok := predictor.PriceOf(pool, pred.Token)
		if !ok {
			continue
		}

		size := a.SizePosition(pred.Confidence/100, pred.ExpectedReturn, a.available)
		if size.Sign() == 0 {
			continue
		}
		if size.Cmp(a.available) > 0 {
			log.Printf("[allocator] insufficient capital for %s", pred.Pool.Hex())
			continue
		}

		a.available.Sub(a.available, size)
		a.deployed.Add(a.deployed, size)
		a.nextID++
		pos := &Position{
			ID:           a.nextID,
			Pool:         pred.Pool,
			Token:        pred.Token,
			Amount:       size,
			EntryPrice:   price,
			EntryTime:    now,
			StopLoss:     price * (1 - a.cfg.StopLossPct),
			TakeProfit:   price * (1 + a.cfg.TakeProfitPct),
			ExpectedExit: now.Add(pred.Horizon),
		}
		a.positions[pos.ID] = pos
		opened = append(opened, pos.clone())
		log.Printf("[allocator] opened position %d on %s: %s committed", pos.ID, pos.Pool.Hex(), size.String())
	}
	return opened
}

// Monitor reprices every open position against the snapshot and closes
// any that crossed its stop, hit its target, or overstayed the expected
// exit plus the timeout. Throttled; a call inside the update interval
// does nothing.
func (a *Allocator) Monitor(snap *market.Snapshot, now time.Time) []*ClosedPosition {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastPass.IsZero() && now.Sub(a.lastPass) < a.cfg.UpdateInterval {
		return nil
	}
	a.lastPass = now

	ids := make([]uint64, 0, len(a.positions))
	for id := range a.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var closed []*ClosedPosition
	for _, id := range ids {
		pos := a.positions[id]
		deadline := pos.ExpectedExit.Add(a.cfg.PositionTimeout)

		price, ok := a.currentPrice(pos, snap)
		if !ok {
			// unquotable this tick; hold until the price returns or the
			// position times out at its entry mark
			if now.After(deadline) {
				closed = append(closed, a.closeLocked(id, pos.EntryPrice, now, ReasonTimeout))
			}
			continue
		}

		switch {
		case price <= pos.StopLoss:
			closed = append(closed, a.closeLocked(id, price, now, ReasonStopLoss))
		case price >= pos.TakeProfit:
			closed = append(closed, a.closeLocked(id, price, now, ReasonProfit))
		case now.After(deadline):
			closed = append(closed, a.closeLocked(id, price, now, ReasonTimeout))
		}
	}
	return closed
}

// Close force-closes one position at the snapshot's current price.
// False when the id is unknown; nothing mutates.
func (a *Allocator) Close(id uint64, snap *market.Snapshot, now time.Time) (*ClosedPosition, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.positions[id]
	if !ok {
		log.Printf("[allocator] close of unknown position %d", id)
		return nil, false
	}

	price, ok := a.currentPrice(pos, snap)
	if !ok {
		price = pos.EntryPrice
	}
	return a.closeLocked(id, price, now, ReasonManual), true
}

func (a *Allocator) currentPrice(pos *Position, snap *market.Snapshot) (float64, bool) {
	pool, ok := snap.Pool(pos.Pool)
	if !ok {
		return 0, false
	}
	return predictor.PriceOf(pool, pos.Token)
}

func (a *Allocator) closeLocked(id uint64, price float64, now time.Time, reason string) *ClosedPosition {
	pos := a.positions[id]
	delete(a.positions, id)

	ret := 0.0
	if pos.EntryPrice > 0 {
		ret = (price - pos.EntryPrice) / pos.EntryPrice
	}
	pnl := mulFraction(pos.Amount, ret)

	a.deployed.Sub(a.deployed, pos.Amount)
	a.available.Add(a.available, pos.Amount)
	a.available.Add(a.available, pnl)

	// profit past the working-capital cap is swept out, keeping
	// deployed+available inside MaxTotalCapital
	total := new(big.Int).Add(a.available, a.deployed)
	if excess := total.Sub(total, a.cfg.MaxTotalCapital); excess.Sign() > 0 {
		a.available.Sub(a.available, excess)
		a.swept.Add(a.swept, excess)
	}

	cp := &ClosedPosition{
		Position:  *pos.clone(),
		ExitPrice: price,
		ExitTime:  now,
		Reason:    reason,
		PnL:       pnl,
		Return:    ret,
		Held:      now.Sub(pos.EntryTime),
	}
	a.history = append(a.history, cp)
	log.Printf("[allocator] closed position %d on %s: %s, pnl %s", id, pos.Pool.Hex(), reason, pnl.String())
	return cp
}

type Performance struct {
	Trades  int
	Wins    int
	WinRate float64
	NetPnL  *big.Int
	Sharpe  float64
	AvgHold time.Duration
}

// Performance aggregates the closed history on demand. Sharpe is the
// naive per-trade approximation: mean return over its stddev.
func (a *Allocator) Performance() Performance {
	a.mu.Lock()
	defer a.mu.Unlock()

	perf := Performance{NetPnL: big.NewInt(0)}
	if len(a.history) == 0 {
		return perf
	}

	returns := make([]float64, 0, len(a.history))
	var heldTotal time.Duration
	for _, cp := range a.history {
		perf.Trades++
		if cp.PnL.Sign() > 0 {
			perf.Wins++
		}
		perf.NetPnL.Add(perf.NetPnL, cp.PnL)
		returns = append(returns, cp.Return)
		heldTotal += cp.Held
	}
	perf.WinRate = float64(perf.Wins) / float64(perf.Trades)
	perf.AvgHold = heldTotal / time.Duration(perf.Trades)

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	if std := math.Sqrt(variance); std > 0 {
		perf.Sharpe = mean / std
	}
	return perf
}

func (a *Allocator) Available() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.available)
}

func (a *Allocator) Deployed() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.deployed)
}

// Swept is realized profit beyond the working-capital cap.
func (a *Allocator) Swept() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.swept)
}

// OpenPositions returns copies of the open book, id order.
func (a *Allocator) OpenPositions() []*Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Position, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Allocator) hasPositionOn(pool common.Address) bool {
	for _, pos := range a.positions {
		if pos.Pool == pool {
			return true
		}
	}
	return false
}

func mulFraction(x *big.Int, f float64) *big.Int {
	bps := int64(math.Round(f * bpsScale))
	out := new(big.Int).Mul(x, big.NewInt(bps))
	return out.Quo(out, big.NewInt(bpsScale))
}
