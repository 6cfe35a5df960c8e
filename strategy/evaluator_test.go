package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyedge/updown/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func market(upAsk, downAsk float64, timeRemaining float64) *types.MarketContext {
	return &types.MarketContext{
		MarketID:      "0xcondition",
		UpAsk:         d(upAsk),
		DownAsk:       d(downAsk),
		UpBid:         d(upAsk - 0.01),
		DownBid:       d(downAsk - 0.01),
		TimeRemaining: timeRemaining,
		Session:       types.SessionAsia,
	}
}

func TestDutchBookDetection(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())

	signals := ev.Evaluate(Input{
		Symbol: "BTCUSDT",
		Market: market(0.48, 0.50, 600),
	})
	require.Len(t, signals, 1)

	s := signals[0]
	assert.Equal(t, types.TierDutchBook, s.Tier)
	assert.Equal(t, types.Up, s.Direction) // up is the cheaper side
	assert.InDelta(t, 0.02, s.ExpectedEdge, 1e-9)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Equal(t, "0xcondition", s.MarketID)
	assert.True(t, s.IsActionable())
}

func TestDutchBookNotTriggeredAtFairPricing(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())

	signals := ev.Evaluate(Input{Market: market(0.50, 0.50, 600)})
	assert.Empty(t, signals)

	// exactly at the threshold does not trigger
	signals = ev.Evaluate(Input{Market: market(0.49, 0.50, 600)})
	assert.Empty(t, signals)
}

func TestLagArbOnMomentum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MomentumMinEdge = 0.001
	ev := NewEvaluator(cfg)

	signals := ev.Evaluate(Input{
		Symbol:   "BTCUSDT",
		Momentum: 0.002,
		Market:   market(0.50, 0.49, 600),
	})
	require.Len(t, signals, 1)

	s := signals[0]
	assert.Equal(t, types.TierLagArb, s.Tier)
	assert.Equal(t, types.Up, s.Direction)
	// no model output: edge falls back to 2x momentum, fixed confidence
	assert.InDelta(t, 0.004, s.ExpectedEdge, 1e-9)
	assert.Equal(t, 0.7, s.Confidence)
}

func TestLagArbUsesModelWhenAvailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MomentumMinEdge = 0.01
	ev := NewEvaluator(cfg)

	model := &types.ModelOutput{
		EdgeAfterFees: 0.06,
		Confidence:    0.85,
		Reliable:      true,
		Direction:     types.Down,
	}
	signals := ev.Evaluate(Input{
		Momentum: -0.002,
		Market:   market(0.50, 0.49, 600),
		Model:    model,
	})

	var lag *types.UnifiedSignal
	for i := range signals {
		if signals[i].Tier == types.TierLagArb {
			lag = &signals[i]
		}
	}
	require.NotNil(t, lag)
	assert.Equal(t, types.Down, lag.Direction) // momentum sign, not model direction
	assert.Equal(t, 0.06, lag.ExpectedEdge)
	assert.Equal(t, 0.85, lag.Confidence)
}

func TestLagArbRejectsThinEdge(t *testing.T) {
	ev := NewEvaluator(DefaultConfig()) // min edge 0.03

	signals := ev.Evaluate(Input{
		Momentum: 0.002, // fallback edge 0.004 < 0.03
		Market:   market(0.50, 0.49, 600),
	})
	assert.Empty(t, signals)
}

func TestMomentumTierGates(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())
	model := &types.ModelOutput{
		EdgeAfterFees: 0.05,
		Confidence:    0.8,
		Reliable:      true,
		Direction:     types.Up,
	}

	signals := ev.Evaluate(Input{Market: market(0.50, 0.49, 600), Model: model})
	require.Len(t, signals, 1)
	assert.Equal(t, types.TierMomentum, signals[0].Tier)
	assert.Equal(t, types.Up, signals[0].Direction)
	assert.Equal(t, 0.05, signals[0].ExpectedEdge)

	// too close to resolution suppresses this tier only
	signals = ev.Evaluate(Input{Market: market(0.50, 0.49, 120), Model: model})
	assert.Empty(t, signals)

	// an unreliable bucket never reaches this tier
	unreliable := *model
	unreliable.Reliable = false
	signals = ev.Evaluate(Input{Market: market(0.50, 0.49, 600), Model: &unreliable})
	assert.Empty(t, signals)
}

func TestFlashCrashContrarian(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())

	signals := ev.Evaluate(Input{Deviation: -0.06})
	require.Len(t, signals, 1)

	s := signals[0]
	assert.Equal(t, types.TierFlashCrash, s.Tier)
	assert.Equal(t, types.Up, s.Direction) // fade the crash
	assert.InDelta(t, 0.03, s.ExpectedEdge, 1e-9)
	assert.Equal(t, 0.4, s.Confidence)

	// threshold is exclusive
	signals = ev.Evaluate(Input{Deviation: 0.05})
	assert.Empty(t, signals)

	signals = ev.Evaluate(Input{Deviation: 0.051})
	require.Len(t, signals, 1)
	assert.Equal(t, types.Down, signals[0].Direction)
}

func TestEvaluateTierOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MomentumMinEdge = 0.001
	ev := NewEvaluator(cfg)

	// dutch book pricing plus momentum plus a crash-sized deviation
	in := Input{
		Momentum:  0.002,
		Deviation: -0.06,
		Market:    market(0.48, 0.50, 600),
	}
	signals := ev.Evaluate(in)
	require.Len(t, signals, 3)
	assert.Equal(t, types.TierDutchBook, signals[0].Tier)
	assert.Equal(t, types.TierLagArb, signals[1].Tier)
	assert.Equal(t, types.TierFlashCrash, signals[2].Tier)
	for i := 1; i < len(signals); i++ {
		assert.Greater(t, signals[i].Priority(), signals[i-1].Priority())
	}
}

func TestEvaluateIsPure(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())
	in := Input{
		Symbol:    "ETHUSDT",
		Momentum:  0.002,
		Deviation: -0.06,
		Market:    market(0.48, 0.50, 600),
	}

	first := ev.Evaluate(in)
	second := ev.Evaluate(in)
	assert.Equal(t, first, second)
}

func TestEvaluateNoMarketSkipsBookTiers(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())

	// without a market context only the crash tier can fire
	signals := ev.Evaluate(Input{Momentum: 0.01, Deviation: -0.06})
	require.Len(t, signals, 1)
	assert.Equal(t, types.TierFlashCrash, signals[0].Tier)
}
