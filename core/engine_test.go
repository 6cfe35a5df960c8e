package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyedge/updown/exec"
	"github.com/polyedge/updown/model"
	"github.com/polyedge/updown/risk"
	"github.com/polyedge/updown/strategy"
	"github.com/polyedge/updown/types"
)

type placedOrder struct {
	token string
	side  string
	price decimal.Decimal
	size  decimal.Decimal
}

// fakeExecutor records orders and fails on demand per token
type fakeExecutor struct {
	orders []placedOrder
	fail   map[string]bool
}

func (f *fakeExecutor) PlaceOrder(tokenID, side string, price, size decimal.Decimal) exec.Result {
	f.orders = append(f.orders, placedOrder{tokenID, side, price, size})
	if f.fail[tokenID] {
		return exec.Result{Err: errors.New("order rejected")}
	}
	return exec.Result{Success: true, OrderID: "ord-1", FilledSize: size, FilledPrice: price}
}

func (f *fakeExecutor) GetOrderBook(tokenID string) (types.OrderBookUpdate, error) {
	return types.OrderBookUpdate{}, nil
}

func (f *fakeExecutor) GetOrderBooksBatch(tokenIDs []string) (map[string]types.OrderBookUpdate, error) {
	return nil, nil
}

// fakeDiscoverer serves a fixed working set and counts lookups
type fakeDiscoverer struct {
	markets []types.Market
	calls   int
}

func (f *fakeDiscoverer) DiscoverMarkets() ([]types.Market, error) {
	f.calls++
	return f.markets, nil
}

var engineNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func loadTestSurface(t *testing.T) *model.Surface {
	t.Helper()
	path := filepath.Join(t.TempDir(), "surface.json")
	data := `{
		"config": {"deviation_step": 0.001, "deviation_range": [-0.005, 0.005], "confidence_level": 0.95},
		"buckets": {"0|0.001|600|all|all": {"n": 40, "wins": 22, "win_rate": 0.55, "ci_lower": 0.39, "ci_upper": 0.70}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	surface, err := model.LoadSurface(path)
	require.NoError(t, err)
	return surface
}

func newTestEngine(t *testing.T, executor exec.Executor) *Engine {
	t.Helper()
	engine := NewEngine(
		strategy.NewEvaluator(strategy.DefaultConfig()),
		strategy.DefaultExitConfig(),
		loadTestSurface(t),
		model.NewCalculator(model.CalculatorConfig{MinEdge: 0.03, MinConfidence: 0.5}),
		model.NewVolEstimator(time.Minute),
		NewPositionManager(),
		risk.NewManager(risk.Limits{
			MaxConsecutiveLosses: 3,
			CooldownAfterLoss:    5 * time.Minute,
			MaxDailyLoss:         decimal.NewFromInt(100),
			MaxTotalExposure:     decimal.NewFromInt(200),
		}),
		executor,
		nil, nil,
		decimal.NewFromInt(10),
	)
	engine.now = func() time.Time { return engineNow }
	return engine
}

func testMarket() types.Market {
	return types.Market{
		ID:          "0xcond",
		Symbol:      "BTCUSDT",
		UpToken:     "tok-up",
		DownToken:   "tok-down",
		IntervalEnd: engineNow.Add(10 * time.Minute),
	}
}

// dutchSnapshot quotes both sides summing below $1
func dutchSnapshot() types.SynchronizedSnapshot {
	return types.SynchronizedSnapshot{
		Timestamp: engineNow.UnixMilli(),
		Books: map[string]types.OrderBookUpdate{
			"tok-up":   {TokenID: "tok-up", BestBid: d(0.47), BestAsk: d(0.48)},
			"tok-down": {TokenID: "tok-down", BestBid: d(0.49), BestAsk: d(0.50)},
		},
	}
}

func drainEvents(e *Engine) []types.Event {
	var out []types.Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []types.Event) []types.EventType {
	out := make([]types.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestEngineEntersOnDutchBook(t *testing.T) {
	executor := &fakeExecutor{}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	engine.processSnapshot(dutchSnapshot())

	require.True(t, engine.positions.HasOpen("0xcond"))
	require.Len(t, executor.orders, 2)
	assert.Equal(t, "tok-up", executor.orders[0].token)
	assert.Equal(t, "BUY", executor.orders[0].side)
	assert.Equal(t, "tok-down", executor.orders[1].token)
	assert.True(t, executor.orders[0].size.Equal(executor.orders[1].size))

	assert.Equal(t, 1, engine.Stats().TotalTrades)

	events := eventTypes(drainEvents(engine))
	assert.Contains(t, events, types.EventSignalDetected)
	assert.Contains(t, events, types.EventPositionOpened)
}

func TestEngineSurrendersOnPartialLegFailure(t *testing.T) {
	executor := &fakeExecutor{fail: map[string]bool{"tok-down": true}}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	engine.processSnapshot(dutchSnapshot())

	// up leg filled, down leg failed: no half-leg position survives
	require.Len(t, executor.orders, 2)
	assert.False(t, engine.positions.HasOpen("0xcond"))
	assert.Equal(t, 0, engine.Stats().TotalTrades)
	assert.Contains(t, eventTypes(drainEvents(engine)), types.EventEntryFailed)
}

func TestEngineBlocksEntryWhenRiskPaused(t *testing.T) {
	executor := &fakeExecutor{}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	for i := 0; i < 3; i++ {
		engine.riskMgr.RecordTrade(decimal.NewFromInt(-10))
	}

	engine.processSnapshot(dutchSnapshot())

	assert.Empty(t, executor.orders)
	assert.False(t, engine.positions.HasOpen("0xcond"))
	assert.Contains(t, eventTypes(drainEvents(engine)), types.EventEntryBlocked)
}

func TestEnginePartialExitOnTakeProfit(t *testing.T) {
	executor := &fakeExecutor{}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	engine.processSnapshot(dutchSnapshot())
	require.True(t, engine.positions.HasOpen("0xcond"))
	executor.orders = nil
	drainEvents(engine)

	// up bid rallies to the take-profit level
	snap := dutchSnapshot()
	book := snap.Books["tok-up"]
	book.BestBid = d(0.96)
	book.BestAsk = d(0.97)
	snap.Books["tok-up"] = book

	engine.processSnapshot(snap)

	require.Len(t, executor.orders, 1)
	assert.Equal(t, "tok-up", executor.orders[0].token)
	assert.Equal(t, "SELL", executor.orders[0].side)

	pos, ok := engine.positions.Get("0xcond")
	require.True(t, ok)
	assert.Equal(t, types.StatusOpen, pos.Status)
	assert.True(t, pos.UpShares.IsZero())
	assert.True(t, pos.DownShares.IsPositive())
	assert.True(t, pos.Realized.IsPositive())

	assert.Contains(t, eventTypes(drainEvents(engine)), types.EventPartialExit)
}

func TestEngineFullExitNearDeadline(t *testing.T) {
	executor := &fakeExecutor{}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	engine.processSnapshot(dutchSnapshot())
	require.True(t, engine.positions.HasOpen("0xcond"))
	executor.orders = nil
	drainEvents(engine)

	// clock moves to 20s before resolution
	engine.now = func() time.Time { return engineNow.Add(10*time.Minute - 20*time.Second) }
	engine.processSnapshot(dutchSnapshot())

	require.Len(t, executor.orders, 2)
	assert.Equal(t, "SELL", executor.orders[0].side)
	assert.Equal(t, "SELL", executor.orders[1].side)

	assert.False(t, engine.positions.HasOpen("0xcond"))
	require.Len(t, engine.positions.History(), 1)

	stats := engine.Stats()
	assert.Equal(t, 1, stats.Losses) // bought at asks, sold at bids
	assert.True(t, stats.TotalPnL.IsNegative())

	assert.Contains(t, eventTypes(drainEvents(engine)), types.EventPositionClosed)
}

func TestEngineNotifiesMarketListener(t *testing.T) {
	engine := newTestEngine(t, &fakeExecutor{})

	var seen []types.Market
	engine.SetMarketListener(func(markets []types.Market) { seen = markets })

	engine.SetMarkets([]types.Market{testMarket()})

	require.Len(t, seen, 1)
	assert.Equal(t, "0xcond", seen[0].ID)
}

func TestEngineRediscoversExpiredInterval(t *testing.T) {
	next := types.Market{
		ID:          "0xnext",
		Symbol:      "BTCUSDT",
		UpToken:     "tok-up-2",
		DownToken:   "tok-down-2",
		IntervalEnd: engineNow.Add(15 * time.Minute),
	}
	disc := &fakeDiscoverer{markets: []types.Market{next}}

	engine := newTestEngine(t, &fakeExecutor{})
	engine.discoverer = disc

	var seen []types.Market
	engine.SetMarketListener(func(markets []types.Market) { seen = markets })

	expired := testMarket()
	expired.IntervalEnd = engineNow.Add(-time.Minute)
	engine.SetMarkets([]types.Market{expired})

	engine.refreshExpired()

	assert.Equal(t, 1, disc.calls)
	markets := engine.Markets()
	require.Len(t, markets, 1)
	assert.Equal(t, "0xnext", markets[0].ID)
	require.Len(t, seen, 1)
	assert.Equal(t, "0xnext", seen[0].ID)

	// a fresh working set does not trigger another lookup
	engine.refreshExpired()
	assert.Equal(t, 1, disc.calls)

	// an expired set inside the re-discovery spacing window waits
	engine.SetMarkets([]types.Market{expired})
	engine.refreshExpired()
	assert.Equal(t, 1, disc.calls)
}

func TestEngineExitFailureKeepsPositionOpen(t *testing.T) {
	executor := &fakeExecutor{}
	engine := newTestEngine(t, executor)
	engine.SetMarkets([]types.Market{testMarket()})

	engine.processSnapshot(dutchSnapshot())
	require.True(t, engine.positions.HasOpen("0xcond"))

	executor.fail = map[string]bool{"tok-down": true}
	engine.now = func() time.Time { return engineNow.Add(10*time.Minute - 20*time.Second) }
	engine.processSnapshot(dutchSnapshot())

	// the down-leg sell failed, so nothing was closed
	assert.True(t, engine.positions.HasOpen("0xcond"))
	assert.Empty(t, engine.positions.History())
	assert.Equal(t, 0, engine.Stats().Losses)
}
