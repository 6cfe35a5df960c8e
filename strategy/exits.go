package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ExitKind classifies what an exit check recommends
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitPartial
	ExitFull
)

// ExitHint is the evaluator's recommendation for an open position
type ExitHint struct {
	Kind   ExitKind
	Side   types.Direction // which leg, for partial exits
	Reason string
}

// ExitConfig tunes the exit rules
type ExitConfig struct {
	TakeProfitBid decimal.Decimal // sell a leg once its bid reaches this
	StopLossPct   decimal.Decimal // full exit when unrealized loss hits this fraction of cost
	DeadlineSec   float64         // full exit this close to resolution
}

// DefaultExitConfig returns the tuned defaults
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		TakeProfitBid: decimal.NewFromFloat(0.95),
		StopLossPct:   decimal.NewFromFloat(0.20),
		DeadlineSec:   30,
	}
}

// CheckExit examines an open position against current bids and the clock.
// Partial take-profit beats the other rules: a leg trading near $1 is as
// good as resolved and frees capital immediately.
func CheckExit(cfg ExitConfig, pos *types.Position, upBid, downBid decimal.Decimal, timeRemaining float64) ExitHint {
	if pos == nil || pos.Status != types.StatusOpen {
		return ExitHint{Kind: ExitNone}
	}

	if timeRemaining <= cfg.DeadlineSec {
		return ExitHint{
			Kind:   ExitFull,
			Reason: fmt.Sprintf("deadline: %.0fs to resolution", timeRemaining),
		}
	}

	if pos.UpShares.IsPositive() && upBid.GreaterThanOrEqual(cfg.TakeProfitBid) {
		return ExitHint{
			Kind:   ExitPartial,
			Side:   types.Up,
			Reason: fmt.Sprintf("take profit: up bid %s", upBid.StringFixed(2)),
		}
	}
	if pos.DownShares.IsPositive() && downBid.GreaterThanOrEqual(cfg.TakeProfitBid) {
		return ExitHint{
			Kind:   ExitPartial,
			Side:   types.Down,
			Reason: fmt.Sprintf("take profit: down bid %s", downBid.StringFixed(2)),
		}
	}

	cost := pos.TotalCost()
	if cost.IsPositive() {
		loss := pos.UnrealizedPnL(upBid, downBid).Neg()
		if loss.GreaterThanOrEqual(cost.Mul(cfg.StopLossPct)) {
			return ExitHint{
				Kind:   ExitFull,
				Reason: fmt.Sprintf("stop loss: down %s on cost %s", loss.StringFixed(2), cost.StringFixed(2)),
			}
		}
	}

	return ExitHint{Kind: ExitNone}
}
