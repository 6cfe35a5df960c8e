package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MANAGER - Paired two-token position lifecycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// One open position per market, both legs entered together. A partial
// exit zeroes one leg and realizes its P&L while the position stays Open
// on the remaining leg. Closed positions move to history.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PositionManager owns all position state. The engine is the only caller.
type PositionManager struct {
	mu      sync.Mutex
	open    map[string]*types.Position // market id -> position
	history []types.Position

	now func() time.Time
}

// NewPositionManager creates an empty manager
func NewPositionManager() *PositionManager {
	return &PositionManager{
		open: make(map[string]*types.Position),
		now:  time.Now,
	}
}

// Open records a freshly entered position. At most one open position per
// market; a second open for the same market is an error.
func (pm *PositionManager) Open(marketID string, upShares, upEntry, downShares, downEntry decimal.Decimal) (types.Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.open[marketID]; exists {
		return types.Position{}, fmt.Errorf("position already open for market %s", marketID)
	}

	pos := &types.Position{
		MarketID:   marketID,
		EnteredAt:  pm.now(),
		Status:     types.StatusOpen,
		UpShares:   upShares,
		UpEntry:    upEntry,
		DownShares: downShares,
		DownEntry:  downEntry,
	}
	pm.open[marketID] = pos

	log.Info().
		Str("market", marketID).
		Str("up", upShares.StringFixed(2)).
		Str("down", downShares.StringFixed(2)).
		Str("cost", pos.TotalCost().StringFixed(2)).
		Msg("📌 Position opened")
	return *pos, nil
}

// Get returns a copy of the open position for a market
func (pm *PositionManager) Get(marketID string) (types.Position, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos, ok := pm.open[marketID]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// HasOpen reports whether a market has an open position
func (pm *PositionManager) HasOpen(marketID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.open[marketID]
	return ok
}

// OpenPositions returns copies of all open positions
func (pm *PositionManager) OpenPositions() []types.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]types.Position, 0, len(pm.open))
	for _, pos := range pm.open {
		out = append(out, *pos)
	}
	return out
}

// PartialExit sells one leg at the given price. The leg's share count goes
// to zero, its realized P&L accrues, and the position stays Open.
func (pm *PositionManager) PartialExit(marketID string, side types.Direction, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos, ok := pm.open[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no open position for market %s", marketID)
	}

	var realized decimal.Decimal
	switch side {
	case types.Up:
		if pos.UpShares.IsZero() {
			return decimal.Zero, fmt.Errorf("up leg already exited for market %s", marketID)
		}
		realized = pos.UpShares.Mul(exitPrice.Sub(pos.UpEntry))
		pos.UpShares = decimal.Zero
		pos.UpExit = exitPrice
	case types.Down:
		if pos.DownShares.IsZero() {
			return decimal.Zero, fmt.Errorf("down leg already exited for market %s", marketID)
		}
		realized = pos.DownShares.Mul(exitPrice.Sub(pos.DownEntry))
		pos.DownShares = decimal.Zero
		pos.DownExit = exitPrice
	default:
		return decimal.Zero, fmt.Errorf("partial exit needs a side")
	}

	pos.Realized = pos.Realized.Add(realized)

	log.Info().
		Str("market", marketID).
		Str("side", side.String()).
		Str("price", exitPrice.StringFixed(2)).
		Str("realized", realized.StringFixed(2)).
		Msg("✂️ Partial exit")
	return realized, nil
}

// Close sells every remaining leg at the given bids and moves the position
// to history. Returns the P&L realized by this close (excluding earlier
// partial exits).
func (pm *PositionManager) Close(marketID string, upBid, downBid decimal.Decimal, reason string) (decimal.Decimal, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos, ok := pm.open[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no open position for market %s", marketID)
	}

	realized := decimal.Zero
	if pos.UpShares.IsPositive() {
		realized = realized.Add(pos.UpShares.Mul(upBid.Sub(pos.UpEntry)))
		pos.UpShares = decimal.Zero
		pos.UpExit = upBid
	}
	if pos.DownShares.IsPositive() {
		realized = realized.Add(pos.DownShares.Mul(downBid.Sub(pos.DownEntry)))
		pos.DownShares = decimal.Zero
		pos.DownExit = downBid
	}

	pos.Realized = pos.Realized.Add(realized)
	pos.Status = types.StatusClosed
	pos.ExitReason = reason
	pos.ClosedAt = pm.now()

	pm.history = append(pm.history, *pos)
	delete(pm.open, marketID)

	log.Info().
		Str("market", marketID).
		Str("reason", reason).
		Str("realized", realized.StringFixed(2)).
		Str("total", pos.Realized.StringFixed(2)).
		Msg("🏁 Position closed")
	return realized, nil
}

// TotalExposure sums remaining entry cost over open positions
func (pm *PositionManager) TotalExposure() decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	total := decimal.Zero
	for _, pos := range pm.open {
		total = total.Add(pos.TotalCost())
	}
	return total
}

// UnrealizedPnL aggregates over open positions given current bids.
// Markets without a quote contribute zero.
func (pm *PositionManager) UnrealizedPnL(bids map[string]types.BidPair) decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	total := decimal.Zero
	for id, pos := range pm.open {
		quote, ok := bids[id]
		if !ok {
			continue
		}
		total = total.Add(pos.UnrealizedPnL(quote.UpBid, quote.DownBid))
	}
	return total
}

// History returns copies of all closed positions, oldest first
func (pm *PositionManager) History() []types.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]types.Position, len(pm.history))
	copy(out, pm.history)
	return out
}
