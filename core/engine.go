package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/exec"
	"github.com/polyedge/updown/model"
	"github.com/polyedge/updown/risk"
	"github.com/polyedge/updown/storage"
	"github.com/polyedge/updown/strategy"
	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Snapshot / DirectionSignal → Evaluator (surface-backed) → Risk → Sizing
//   → Execution (two legs) → Position lifecycle → Storage / Events
//
// The engine is the sole mutator of positions and risk state. Everything
// it consumes arrives by value over its channels.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	heartbeatInterval = 1 * time.Second

	// a direction signal older than this no longer informs entries
	directionStaleAfter = 5 * time.Second

	// minimum spacing between automatic re-discoveries after an
	// interval rolls over
	rediscoverEvery = 10 * time.Second

	kellyFloor = 0.1
	kellyCap   = 0.25
)

// Discoverer supplies the market working set on start and refresh
type Discoverer interface {
	DiscoverMarkets() ([]types.Market, error)
}

// Stats is the engine's running tally
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	TotalPnL    decimal.Decimal
}

type Engine struct {
	mu sync.RWMutex

	// Components
	evaluator  *strategy.Evaluator
	exitCfg    strategy.ExitConfig
	surface    *model.Surface
	calculator *model.Calculator
	vol        *model.VolEstimator
	positions  *PositionManager
	riskMgr    *risk.Manager
	executor   exec.Executor
	db         *storage.Database
	discoverer Discoverer

	// Sizing
	baseSize decimal.Decimal

	// Working set
	markets      map[string]types.Market
	onMarkets    func([]types.Market)
	lastDiscover time.Time

	// Latest observations
	lastSnapshot  *types.SynchronizedSnapshot
	lastDirection map[string]types.DirectionSignal // symbol -> latest

	// Channels
	snapshotCh  chan types.SynchronizedSnapshot
	directionCh chan types.DirectionSignal
	refreshCh   chan struct{}
	events      chan types.Event

	// Stats
	stats Stats

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

// NewEngine wires the orchestrator. db and discoverer may be nil.
func NewEngine(
	evaluator *strategy.Evaluator,
	exitCfg strategy.ExitConfig,
	surface *model.Surface,
	calculator *model.Calculator,
	vol *model.VolEstimator,
	positions *PositionManager,
	riskMgr *risk.Manager,
	executor exec.Executor,
	db *storage.Database,
	discoverer Discoverer,
	baseSize decimal.Decimal,
) *Engine {
	return &Engine{
		evaluator:     evaluator,
		exitCfg:       exitCfg,
		surface:       surface,
		calculator:    calculator,
		vol:           vol,
		positions:     positions,
		riskMgr:       riskMgr,
		executor:      executor,
		db:            db,
		discoverer:    discoverer,
		baseSize:      baseSize,
		markets:       make(map[string]types.Market),
		lastDirection: make(map[string]types.DirectionSignal),
		snapshotCh:    make(chan types.SynchronizedSnapshot, 64),
		directionCh:   make(chan types.DirectionSignal, 64),
		refreshCh:     make(chan struct{}, 1),
		events:        make(chan types.Event, 256),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// SetMarkets replaces the working set and tells the listener about it
func (e *Engine) SetMarkets(markets []types.Market) {
	e.mu.Lock()
	e.markets = make(map[string]types.Market, len(markets))
	for _, m := range markets {
		e.markets[m.ID] = m
	}
	listener := e.onMarkets
	e.mu.Unlock()

	log.Info().Int("markets", len(markets)).Msg("Working set updated")
	if listener != nil {
		listener(markets)
	}
}

// SetMarketListener registers a callback invoked after every working-set
// change, so subscribers like the book feed can follow the token set.
func (e *Engine) SetMarketListener(fn func([]types.Market)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMarkets = fn
}

// Markets returns a copy of the working set
func (e *Engine) Markets() []types.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m)
	}
	return out
}

// Events exposes the engine's event stream
func (e *Engine) Events() <-chan types.Event {
	return e.events
}

// Stats returns a copy of the running tally
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// OnSnapshot accepts a synchronizer snapshot. Never blocks: when the
// engine lags the oldest queued snapshot is simply dropped.
func (e *Engine) OnSnapshot(snap types.SynchronizedSnapshot) {
	select {
	case e.snapshotCh <- snap:
	default:
		select {
		case <-e.snapshotCh:
		default:
		}
		select {
		case e.snapshotCh <- snap:
		default:
		}
	}
}

// OnDirectionSignal accepts a price-tracker signal
func (e *Engine) OnDirectionSignal(sig types.DirectionSignal) {
	select {
	case e.directionCh <- sig:
	default:
	}
}

// Refresh asks the engine to re-discover its market working set
func (e *Engine) Refresh() {
	select {
	case e.refreshCh <- struct{}{}:
	default:
	}
}

// Start launches the engine loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.recover()
	e.discover()

	go e.run()
	log.Info().Msg("⚡ Engine started")
}

// Stop shuts the loop down and waits for it to drain
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	<-e.doneCh
	close(e.events)
	log.Info().Msg("Engine stopped")
}

// recover reloads open positions and risk state after a crash
func (e *Engine) recover() {
	if e.db == nil {
		return
	}

	if state, ok, err := e.db.LoadRiskState(); err != nil {
		log.Warn().Err(err).Msg("Risk state recovery failed")
	} else if ok {
		e.riskMgr.Restore(state)
		log.Info().Int("consec_losses", state.ConsecutiveLosses).Msg("Risk state restored")
	}

	positions, err := e.db.LoadOpenPositions()
	if err != nil {
		log.Warn().Err(err).Msg("Position recovery failed")
		return
	}
	for _, pos := range positions {
		if _, err := e.positions.Open(pos.MarketID, pos.UpShares, pos.UpEntry, pos.DownShares, pos.DownEntry); err != nil {
			log.Warn().Err(err).Str("market", pos.MarketID).Msg("Position recovery skipped")
		}
	}
	if len(positions) > 0 {
		log.Info().Int("positions", len(positions)).Msg("Open positions recovered")
	}
}

func (e *Engine) discover() {
	if e.discoverer == nil {
		return
	}

	e.mu.Lock()
	e.lastDiscover = e.now()
	e.mu.Unlock()

	markets, err := e.discoverer.DiscoverMarkets()
	if err != nil {
		log.Error().Err(err).Msg("Market discovery failed")
		return
	}
	e.SetMarkets(markets)
}

// refreshExpired re-discovers the working set once an interval has rolled
// past its resolution time, so the engine does not sit on dead markets
// until the next external refresh.
func (e *Engine) refreshExpired() {
	if e.discoverer == nil {
		return
	}

	now := e.now()
	e.mu.RLock()
	recent := now.Sub(e.lastDiscover) < rediscoverEvery
	expired := false
	for _, m := range e.markets {
		if m.IntervalEnd.Before(now) {
			expired = true
			break
		}
	}
	e.mu.RUnlock()

	if expired && !recent {
		e.discover()
	}
}

func (e *Engine) run() {
	defer close(e.doneCh)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case snap := <-e.snapshotCh:
			e.processSnapshot(snap)
		case sig := <-e.directionCh:
			e.processDirection(sig)
		case <-heartbeat.C:
			e.checkExits()
			e.refreshExpired()
		case <-e.refreshCh:
			e.discover()
		}
	}
}

// processSnapshot runs entry or exit checks for every market in the set
func (e *Engine) processSnapshot(snap types.SynchronizedSnapshot) {
	e.mu.Lock()
	s := snap
	e.lastSnapshot = &s
	e.mu.Unlock()

	if spot := snap.BestSpot(); spot != nil && e.vol != nil {
		e.vol.AddPrice(spot.Price, spot.Timestamp)
	}

	for _, market := range e.Markets() {
		if e.positions.HasOpen(market.ID) {
			e.checkExit(market, snap)
		} else {
			e.tryEnter(market, snap)
		}
	}
}

// processDirection stores the tracker's view and runs a bulk entry check
func (e *Engine) processDirection(sig types.DirectionSignal) {
	e.mu.Lock()
	e.lastDirection[sig.Symbol] = sig
	snap := e.lastSnapshot
	e.mu.Unlock()

	if snap == nil {
		return
	}
	for _, market := range e.Markets() {
		if market.Symbol == sig.Symbol && !e.positions.HasOpen(market.ID) {
			e.tryEnter(market, *snap)
		}
	}
}

// checkExits runs the heartbeat exit sweep against the latest snapshot
func (e *Engine) checkExits() {
	e.mu.RLock()
	snap := e.lastSnapshot
	e.mu.RUnlock()

	if snap == nil {
		return
	}
	for _, market := range e.Markets() {
		if e.positions.HasOpen(market.ID) {
			e.checkExit(market, *snap)
		}
	}
}

// marketContext builds a point-in-time quote from the snapshot books
func (e *Engine) marketContext(market types.Market, snap types.SynchronizedSnapshot) (types.MarketContext, bool) {
	upBook, okUp := snap.Books[market.UpToken]
	downBook, okDown := snap.Books[market.DownToken]
	if !okUp || !okDown {
		return types.MarketContext{}, false
	}

	now := e.now()
	return types.MarketContext{
		MarketID:      market.ID,
		Timestamp:     snap.Timestamp,
		UpAsk:         upBook.BestAsk,
		DownAsk:       downBook.BestAsk,
		UpBid:         upBook.BestBid,
		DownBid:       downBook.BestBid,
		TimeRemaining: market.IntervalEnd.Sub(now).Seconds(),
		Session:       types.SessionFor(now),
	}, true
}

// evaluatorInput assembles the evaluator's view for one market
func (e *Engine) evaluatorInput(market types.Market, snap types.SynchronizedSnapshot, ctx *types.MarketContext) strategy.Input {
	in := strategy.Input{
		Symbol:    market.Symbol,
		Timestamp: snap.Timestamp,
		Market:    ctx,
	}

	if spot := snap.BestSpot(); spot != nil {
		in.Spot = spot.Price
	}

	e.mu.RLock()
	dir, ok := e.lastDirection[market.Symbol]
	e.mu.RUnlock()
	if ok && snap.Timestamp-dir.Timestamp <= directionStaleAfter.Milliseconds() {
		in.Momentum = dir.Momentum
		in.Deviation = dir.MoveFromOpen
		in.CandleOpen = dir.CandleOpen
	}

	// surface-backed model output when the quote is complete
	if ctx != nil && ctx.UpAsk.IsPositive() && ctx.DownAsk.IsPositive() {
		regime := types.VolAll
		if e.vol != nil {
			regime = e.vol.Regime()
		}
		lookup := e.surface.Lookup(in.Deviation, ctx.TimeRemaining, regime, ctx.Session)
		out := e.calculator.Evaluate(lookup, ctx.UpAsk, ctx.DownAsk, in.Deviation, regime)
		in.Model = &out
	}
	return in
}

// tryEnter runs the full entry sequence for one market
func (e *Engine) tryEnter(market types.Market, snap types.SynchronizedSnapshot) {
	ctx, ok := e.marketContext(market, snap)
	if !ok || ctx.TimeRemaining <= 0 {
		return
	}

	if allowed, reason := e.riskMgr.CanTrade(); !allowed {
		e.emit(types.Event{
			Type: types.EventEntryBlocked, Time: e.now(),
			MarketID: market.ID, Reason: reason,
		})
		return
	}

	in := e.evaluatorInput(market, snap, &ctx)
	signals := e.evaluator.Evaluate(in)

	var chosen *types.UnifiedSignal
	for i := range signals {
		e.emit(types.Event{
			Type: types.EventSignalDetected, Time: e.now(),
			MarketID: market.ID, Tier: signals[i].Tier,
			Direction: signals[i].Direction, Reason: signals[i].Reason,
		})
		if chosen == nil && signals[i].IsActionable() {
			chosen = &signals[i]
		}
	}
	if chosen == nil {
		return
	}

	size := e.sizeFor(chosen)
	if allowed, reason := e.riskMgr.CanIncreaseExposure(e.positions.TotalExposure(), size); !allowed {
		e.emit(types.Event{
			Type: types.EventEntryBlocked, Time: e.now(),
			MarketID: market.ID, Tier: chosen.Tier, Reason: reason,
		})
		return
	}

	e.enter(market, ctx, chosen, size)
}

// sizeFor scales the base size by the model's clamped Kelly fraction
func (e *Engine) sizeFor(signal *types.UnifiedSignal) decimal.Decimal {
	if signal.Model == nil {
		return e.baseSize
	}
	kelly := signal.Model.Kelly
	if kelly < kellyFloor {
		kelly = kellyFloor
	}
	if kelly > kellyCap {
		kelly = kellyCap
	}
	return e.baseSize.Mul(decimal.NewFromFloat(kelly))
}

// enter buys both legs. The pair is atomic from the manager's view: a
// partial leg failure opens nothing and records the error.
func (e *Engine) enter(market types.Market, ctx types.MarketContext, signal *types.UnifiedSignal, size decimal.Decimal) {
	combined := ctx.CombinedAsk()
	if !combined.IsPositive() {
		return
	}
	shares := size.Div(combined)

	log.Info().
		Str("market", market.ID).
		Str("tier", signal.Tier.String()).
		Str("direction", signal.Direction.String()).
		Float64("edge", signal.ExpectedEdge).
		Str("size", size.StringFixed(2)).
		Msg("🎯 SIGNAL ACTIONABLE")

	upResult := e.executor.PlaceOrder(market.UpToken, "BUY", ctx.UpAsk, shares)
	if !upResult.Success {
		e.entryFailed(market, signal, "up leg failed", upResult.Err)
		return
	}
	downResult := e.executor.PlaceOrder(market.DownToken, "BUY", ctx.DownAsk, shares)
	if !downResult.Success {
		// surrender: no half-leg position
		e.entryFailed(market, signal, "down leg failed after up leg fill", downResult.Err)
		return
	}

	pos, err := e.positions.Open(market.ID,
		upResult.FilledSize, upResult.FilledPrice,
		downResult.FilledSize, downResult.FilledPrice)
	if err != nil {
		e.entryFailed(market, signal, "position open rejected", err)
		return
	}

	e.mu.Lock()
	e.stats.TotalTrades++
	e.mu.Unlock()

	e.persistPosition(pos)
	e.emit(types.Event{
		Type: types.EventPositionOpened, Time: e.now(),
		MarketID: market.ID, Tier: signal.Tier, Direction: signal.Direction,
		Price: combined, Size: size,
	})
}

func (e *Engine) entryFailed(market types.Market, signal *types.UnifiedSignal, reason string, err error) {
	if err != nil {
		reason = reason + ": " + err.Error()
	}
	log.Error().Str("market", market.ID).Str("reason", reason).Msg("Entry failed")
	e.emit(types.Event{
		Type: types.EventEntryFailed, Time: e.now(),
		MarketID: market.ID, Tier: signal.Tier, Reason: reason,
	})
}

// checkExit consults the exit rules for one open position
func (e *Engine) checkExit(market types.Market, snap types.SynchronizedSnapshot) {
	ctx, ok := e.marketContext(market, snap)
	if !ok {
		return
	}
	pos, ok := e.positions.Get(market.ID)
	if !ok {
		return
	}

	hint := strategy.CheckExit(e.exitCfg, &pos, ctx.UpBid, ctx.DownBid, ctx.TimeRemaining)
	switch hint.Kind {
	case strategy.ExitPartial:
		e.partialExit(market, ctx, hint)
	case strategy.ExitFull:
		e.fullExit(market, ctx, hint.Reason)
	}
}

func (e *Engine) partialExit(market types.Market, ctx types.MarketContext, hint strategy.ExitHint) {
	pos, ok := e.positions.Get(market.ID)
	if !ok {
		return
	}

	token, bid, shares := market.UpToken, ctx.UpBid, pos.UpShares
	if hint.Side == types.Down {
		token, bid, shares = market.DownToken, ctx.DownBid, pos.DownShares
	}
	if !shares.IsPositive() {
		return
	}

	result := e.executor.PlaceOrder(token, "SELL", bid, shares)
	if !result.Success {
		log.Error().Err(result.Err).Str("market", market.ID).Msg("Partial exit order failed")
		return
	}

	realized, err := e.positions.PartialExit(market.ID, hint.Side, result.FilledPrice)
	if err != nil {
		log.Error().Err(err).Str("market", market.ID).Msg("Partial exit bookkeeping failed")
		return
	}

	if updated, ok := e.positions.Get(market.ID); ok {
		e.persistPosition(updated)
	}
	e.emit(types.Event{
		Type: types.EventPartialExit, Time: e.now(),
		MarketID: market.ID, Direction: hint.Side,
		Price: result.FilledPrice, PnL: realized, Reason: hint.Reason,
	})
}

func (e *Engine) fullExit(market types.Market, ctx types.MarketContext, reason string) {
	pos, ok := e.positions.Get(market.ID)
	if !ok {
		return
	}

	if pos.UpShares.IsPositive() {
		result := e.executor.PlaceOrder(market.UpToken, "SELL", ctx.UpBid, pos.UpShares)
		if !result.Success {
			log.Error().Err(result.Err).Str("market", market.ID).Msg("Exit order failed, position stays open")
			return
		}
	}
	if pos.DownShares.IsPositive() {
		result := e.executor.PlaceOrder(market.DownToken, "SELL", ctx.DownBid, pos.DownShares)
		if !result.Success {
			log.Error().Err(result.Err).Str("market", market.ID).Msg("Exit order failed, position stays open")
			return
		}
	}

	if _, err := e.positions.Close(market.ID, ctx.UpBid, ctx.DownBid, reason); err != nil {
		log.Error().Err(err).Str("market", market.ID).Msg("Close bookkeeping failed")
		return
	}

	// the whole trade's realized P&L, partial exits included
	var closed types.Position
	for _, h := range e.positions.History() {
		if h.MarketID == market.ID {
			closed = h
		}
	}
	total := closed.Realized

	e.riskMgr.RecordTrade(total)
	e.mu.Lock()
	if total.IsNegative() {
		e.stats.Losses++
	} else {
		e.stats.Wins++
	}
	e.stats.TotalPnL = e.stats.TotalPnL.Add(total)
	e.mu.Unlock()

	e.persistPosition(closed)
	e.persistRisk()
	e.emit(types.Event{
		Type: types.EventPositionClosed, Time: e.now(),
		MarketID: market.ID, PnL: total, Reason: reason,
	})
}

func (e *Engine) persistPosition(pos types.Position) {
	if e.db == nil {
		return
	}
	if err := e.db.SavePosition(pos); err != nil {
		log.Warn().Err(err).Str("market", pos.MarketID).Msg("Position persist failed")
	}
}

func (e *Engine) persistRisk() {
	if e.db == nil {
		return
	}
	if err := e.db.SaveRiskState(e.riskMgr.State()); err != nil {
		log.Warn().Err(err).Msg("Risk persist failed")
	}
}

// emit publishes an event without ever blocking the loop
func (e *Engine) emit(event types.Event) {
	if e.db != nil && event.Type != types.EventSignalDetected {
		if err := e.db.SaveEvent(event); err != nil {
			log.Debug().Err(err).Msg("Event persist failed")
		}
	}
	select {
	case e.events <- event:
	default:
	}
}
