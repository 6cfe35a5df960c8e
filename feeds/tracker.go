package feeds

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE TRACKER - Interval candle and rolling momentum window
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tracks where spot sits relative to the current interval's open. The open
// is the first trade of the interval; when started mid-interval it is
// seeded from a 1-second kline at the boundary. A short rolling window of
// trades supplies momentum and the taker-flow confidence estimate.
//
// ═══════════════════════════════════════════════════════════════════════════════

// windowTrade is one trade retained in the rolling window
type windowTrade struct {
	price        decimal.Decimal
	qty          decimal.Decimal
	time         int64 // ms
	isBuyerMaker bool
}

// symbolState is the per-symbol candle and window
type symbolState struct {
	candleOpen    decimal.Decimal
	intervalStart time.Time
	window        []windowTrade
}

// PriceTracker converts raw trades into direction signals
type PriceTracker struct {
	windowSpan     time.Duration
	moveThreshold  float64
	intervalLength time.Duration
	candles        CandleSource

	onSignal func(types.DirectionSignal)

	mu      sync.RWMutex
	symbols map[string]*symbolState

	now func() time.Time
}

// NewPriceTracker creates a tracker. candles may be nil; the first trade of
// an interval then defines the open.
func NewPriceTracker(windowSpan time.Duration, moveThreshold float64, intervalLength time.Duration, candles CandleSource, onSignal func(types.DirectionSignal)) *PriceTracker {
	return &PriceTracker{
		windowSpan:     windowSpan,
		moveThreshold:  moveThreshold,
		intervalLength: intervalLength,
		candles:        candles,
		onSignal:       onSignal,
		symbols:        make(map[string]*symbolState),
		now:            time.Now,
	}
}

// intervalStartFor aligns an instant down to its interval boundary
func (t *PriceTracker) intervalStartFor(at time.Time) time.Time {
	return at.Truncate(t.intervalLength)
}

// CandleOpen returns the current interval open for a symbol
func (t *PriceTracker) CandleOpen(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return decimal.Zero
	}
	return st.candleOpen
}

// OnTrade ingests one spot trade and emits a direction signal when the
// move from the interval open clears the threshold.
func (t *PriceTracker) OnTrade(trade Trade) {
	tradeTime := time.UnixMilli(trade.Time)
	boundary := t.intervalStartFor(tradeTime)

	t.mu.Lock()
	st, ok := t.symbols[trade.Symbol]
	if !ok {
		st = &symbolState{}
		t.symbols[trade.Symbol] = st
		t.seedOpen(st, trade, boundary)
	}

	// interval rollover: this trade opens the new candle
	if boundary.After(st.intervalStart) {
		st.candleOpen = trade.Price
		st.intervalStart = boundary
		st.window = st.window[:0]
		log.Debug().
			Str("symbol", trade.Symbol).
			Str("open", trade.Price.StringFixed(2)).
			Time("interval", boundary).
			Msg("Interval rollover")
	}

	st.window = append(st.window, windowTrade{
		price:        trade.Price,
		qty:          trade.Quantity,
		time:         trade.Time,
		isBuyerMaker: trade.IsBuyerMaker,
	})
	cutoff := trade.Time - t.windowSpan.Milliseconds()
	for len(st.window) > 0 && st.window[0].time < cutoff {
		st.window = st.window[1:]
	}

	signal, emit := t.buildSignal(trade, st)
	t.mu.Unlock()

	if emit && t.onSignal != nil {
		t.onSignal(signal)
	}
}

// seedOpen establishes the interval open for a symbol first seen mid-interval
func (t *PriceTracker) seedOpen(st *symbolState, trade Trade, boundary time.Time) {
	st.intervalStart = boundary
	st.candleOpen = trade.Price

	if t.candles == nil {
		return
	}
	open, err := t.candles.OpenAt(trade.Symbol, boundary)
	if err != nil {
		log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("Failed to seed interval open, using first trade")
		return
	}
	st.candleOpen = open
}

// buildSignal computes the direction signal for the latest trade.
// Caller holds the lock.
func (t *PriceTracker) buildSignal(trade Trade, st *symbolState) (types.DirectionSignal, bool) {
	if st.candleOpen.IsZero() {
		return types.DirectionSignal{}, false
	}

	move := trade.Price.Sub(st.candleOpen).Div(st.candleOpen).InexactFloat64()
	momentum := 0.0
	if len(st.window) > 0 && !st.window[0].price.IsZero() {
		momentum = trade.Price.Sub(st.window[0].price).Div(st.window[0].price).InexactFloat64()
	}

	direction := types.Neutral
	switch {
	case move >= t.moveThreshold:
		direction = types.Up
	case move <= -t.moveThreshold:
		direction = types.Down
	}

	expectedWinner := types.Down.String()
	if move > 0 {
		expectedWinner = types.Up.String()
	}

	signal := types.DirectionSignal{
		Symbol:         trade.Symbol,
		Timestamp:      trade.Time,
		CandleOpen:     st.candleOpen,
		Price:          trade.Price,
		MoveFromOpen:   move,
		Momentum:       momentum,
		Direction:      direction,
		Confidence:     t.flowConfidence(st, direction),
		ExpectedWinner: expectedWinner,
	}

	return signal, direction != types.Neutral
}

// flowConfidence is the fraction of window taker volume aligned with the
// signal direction. Taker buys push up, taker sells push down.
func (t *PriceTracker) flowConfidence(st *symbolState, direction types.Direction) float64 {
	if direction == types.Neutral {
		return 0.5
	}

	buyVol := decimal.Zero
	sellVol := decimal.Zero
	for _, w := range st.window {
		if w.isBuyerMaker {
			sellVol = sellVol.Add(w.qty)
		} else {
			buyVol = buyVol.Add(w.qty)
		}
	}

	total := buyVol.Add(sellVol)
	if total.IsZero() {
		return 0.5
	}

	aligned := buyVol
	if direction == types.Down {
		aligned = sellVol
	}
	return aligned.Div(total).InexactFloat64()
}
