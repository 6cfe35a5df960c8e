package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL EVALUATOR - Four-tier detection over one aligned observation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Stateless and reentrant. Every invocation sees one point-in-time input
// and returns all triggered signals in tier-priority order. Tier 1 locks
// risk-free combined-ask discounts, tier 2 trades the spot-vs-oracle lag,
// tier 3 trades the surface edge, tier 4 fades extreme moves.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds the evaluator thresholds
type Config struct {
	DutchBookThreshold    decimal.Decimal // combined ask below this is free money
	MaxCombinedPrice      decimal.Decimal
	MomentumTrigger       float64
	MomentumMinEdge       float64
	MomentumMinConfidence float64
	MinTimeRemaining      float64 // seconds
	FlashCrashThreshold   float64
	ReversionTarget       float64
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		DutchBookThreshold:    decimal.NewFromFloat(0.99),
		MaxCombinedPrice:      decimal.NewFromFloat(0.995),
		MomentumTrigger:       0.001,
		MomentumMinEdge:       0.03,
		MomentumMinConfidence: 0.5,
		MinTimeRemaining:      300,
		FlashCrashThreshold:   0.05,
		ReversionTarget:       0.5,
	}
}

// Input is one observation to evaluate. Market and Model are optional;
// tiers that need them are skipped when absent.
type Input struct {
	Symbol     string
	Timestamp  int64 // ms
	Momentum   float64
	Deviation  float64 // move from interval open, fraction
	Spot       decimal.Decimal
	CandleOpen decimal.Decimal
	Market     *types.MarketContext
	Model      *types.ModelOutput
}

// Evaluator detects signals across the four tiers
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator with the given thresholds
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate returns all triggered signals sorted by tier priority. Pure:
// the same input always yields the same signals in the same order.
func (e *Evaluator) Evaluate(in Input) []types.UnifiedSignal {
	var signals []types.UnifiedSignal

	// built in ascending tier order, so the slice is already ranked
	if s, ok := e.dutchBook(in); ok {
		signals = append(signals, s)
	}
	if s, ok := e.lagArb(in); ok {
		signals = append(signals, s)
	}
	if s, ok := e.momentum(in); ok {
		signals = append(signals, s)
	}
	if s, ok := e.flashCrash(in); ok {
		signals = append(signals, s)
	}
	return signals
}

// dutchBook fires when both sides together cost less than the $1 payout
func (e *Evaluator) dutchBook(in Input) (types.UnifiedSignal, bool) {
	if in.Market == nil {
		return types.UnifiedSignal{}, false
	}
	combined := in.Market.CombinedAsk()
	if combined.IsZero() || !combined.LessThan(e.cfg.DutchBookThreshold) {
		return types.UnifiedSignal{}, false
	}

	// direction points at the cheaper side, tie goes Up
	direction := types.Up
	if in.Market.DownAsk.LessThan(in.Market.UpAsk) {
		direction = types.Down
	}

	profit := decimal.NewFromInt(1).Sub(combined).InexactFloat64()
	return e.signal(in, types.TierDutchBook, direction, profit, 1.0,
		fmt.Sprintf("combined ask %s", combined.StringFixed(3))), true
}

// lagArb trades spot momentum the oracle has not priced in yet
func (e *Evaluator) lagArb(in Input) (types.UnifiedSignal, bool) {
	if in.Market == nil || math.Abs(in.Momentum) < e.cfg.MomentumTrigger {
		return types.UnifiedSignal{}, false
	}
	combined := in.Market.CombinedAsk()
	if combined.IsZero() || !combined.LessThan(e.cfg.MaxCombinedPrice) {
		return types.UnifiedSignal{}, false
	}

	direction := types.Up
	if in.Momentum < 0 {
		direction = types.Down
	}

	edge := 2 * math.Abs(in.Momentum)
	confidence := 0.7
	if in.Model != nil && in.Model.HasEdge() {
		edge = in.Model.EdgeAfterFees
		confidence = in.Model.Confidence
	}
	if edge < e.cfg.MomentumMinEdge {
		return types.UnifiedSignal{}, false
	}

	return e.signal(in, types.TierLagArb, direction, edge, confidence,
		fmt.Sprintf("momentum %.4f ahead of oracle", in.Momentum)), true
}

// momentum trades the surface edge directly
func (e *Evaluator) momentum(in Input) (types.UnifiedSignal, bool) {
	if in.Market == nil || in.Model == nil || !in.Model.HasEdge() {
		return types.UnifiedSignal{}, false
	}
	if in.Model.EdgeAfterFees < e.cfg.MomentumMinEdge ||
		in.Model.Confidence < e.cfg.MomentumMinConfidence ||
		in.Market.TimeRemaining < e.cfg.MinTimeRemaining {
		return types.UnifiedSignal{}, false
	}

	return e.signal(in, types.TierMomentum, in.Model.Direction,
		in.Model.EdgeAfterFees, in.Model.Confidence,
		fmt.Sprintf("model edge %.4f", in.Model.EdgeAfterFees)), true
}

// flashCrash fades a move past the crash threshold, betting on reversion.
// The threshold is exclusive: a move exactly at it does not trigger.
func (e *Evaluator) flashCrash(in Input) (types.UnifiedSignal, bool) {
	if math.Abs(in.Deviation) <= e.cfg.FlashCrashThreshold {
		return types.UnifiedSignal{}, false
	}

	// contrarian: fade the move
	direction := types.Down
	if in.Deviation < 0 {
		direction = types.Up
	}

	edge := math.Abs(in.Deviation) * e.cfg.ReversionTarget
	return e.signal(in, types.TierFlashCrash, direction, edge, 0.4,
		fmt.Sprintf("deviation %.4f past crash threshold", in.Deviation)), true
}

func (e *Evaluator) signal(in Input, tier types.SignalTier, direction types.Direction, edge, confidence float64, reason string) types.UnifiedSignal {
	s := types.UnifiedSignal{
		Tier:         tier,
		Direction:    direction,
		Symbol:       in.Symbol,
		Timestamp:    in.Timestamp,
		Momentum:     in.Momentum,
		CandleOpen:   in.CandleOpen,
		Spot:         in.Spot,
		MoveFromOpen: in.Deviation,
		Market:       in.Market,
		Model:        in.Model,
		ExpectedEdge: edge,
		Confidence:   confidence,
		Reason:       reason,
	}
	if in.Market != nil {
		s.MarketID = in.Market.MarketID
	}
	return s
}
