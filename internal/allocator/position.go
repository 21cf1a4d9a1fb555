package allocator

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// close reasons recorded on exit
const (
	ReasonStopLoss = "stop-loss"
	ReasonProfit   = "profit"
	ReasonTimeout  = "timeout"
	ReasonManual   = "manual"
)

// Position is capital committed ahead of a predicted move. Owned by the
// allocator; everything handed out is a copy.
type Position struct {
	ID           uint64
	Pool         common.Address
	Token        common.Address // the side held
	Amount       *big.Int       // committed capital
	EntryPrice   float64
	EntryTime    time.Time
	StopLoss     float64
	TakeProfit   float64
	ExpectedExit time.Time
}

func (p *Position) clone() *Position {
	c := *p
	c.Amount = new(big.Int).Set(p.Amount)
	return &c
}

// ClosedPosition is a position moved to history, with its outcome.
type ClosedPosition struct {
	Position
	ExitPrice float64
	ExitTime  time.Time
	Reason    string
	PnL       *big.Int
	Return    float64 // fractional, feeds the Sharpe approximation
	Held      time.Duration
}
