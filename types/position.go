package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a paired position
type PositionStatus int

const (
	StatusPending PositionStatus = iota
	StatusOpen
	StatusExiting
	StatusClosed
)

func (s PositionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOpen:
		return "open"
	case StatusExiting:
		return "exiting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is a paired holding of both tokens of one Up/Down market.
// While Open both legs hold shares; a partial exit zeroes one leg and the
// position stays Open until the other leg exits.
type Position struct {
	MarketID  string
	EnteredAt time.Time
	Status    PositionStatus

	UpShares   decimal.Decimal
	UpEntry    decimal.Decimal
	DownShares decimal.Decimal
	DownEntry  decimal.Decimal

	UpExit     decimal.Decimal
	DownExit   decimal.Decimal
	ExitReason string
	ClosedAt   time.Time

	Realized decimal.Decimal // accumulated across partial and full exits
}

// TotalCost is the remaining entry cost across both legs
func (p Position) TotalCost() decimal.Decimal {
	return p.UpShares.Mul(p.UpEntry).Add(p.DownShares.Mul(p.DownEntry))
}

// GuaranteedPayout is what the position pays regardless of resolution:
// the smaller leg's share count times the $1 settlement.
func (p Position) GuaranteedPayout() decimal.Decimal {
	if p.UpShares.LessThan(p.DownShares) {
		return p.UpShares
	}
	return p.DownShares
}

// CurrentValue marks the remaining legs to the given bids
func (p Position) CurrentValue(upBid, downBid decimal.Decimal) decimal.Decimal {
	return p.UpShares.Mul(upBid).Add(p.DownShares.Mul(downBid))
}

// UnrealizedPnL is current value minus remaining cost
func (p Position) UnrealizedPnL(upBid, downBid decimal.Decimal) decimal.Decimal {
	return p.CurrentValue(upBid, downBid).Sub(p.TotalCost())
}

// BidPair carries the sell-side quotes for one market
type BidPair struct {
	UpBid   decimal.Decimal
	DownBid decimal.Decimal
}

// RiskState is the risk manager's externally visible state
type RiskState struct {
	ConsecutiveLosses int
	DailyPnL          decimal.Decimal
	LastLossAt        time.Time
	Paused            bool
	PauseReason       string
	PauseUntil        time.Time
}
