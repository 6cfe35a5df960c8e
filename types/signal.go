package types

import (
	"github.com/shopspring/decimal"
)

// actionableConfidence is the floor below which a signal is never acted on
const actionableConfidence = 0.4

// ModelOutput is the probability model's view of one market at one instant
type ModelOutput struct {
	ProbUp        float64
	CILower       float64
	CIUpper       float64
	Reliable      bool
	EdgeAfterFees float64
	Confidence    float64 // 0..1
	Kelly         float64 // 0..0.25
	Direction     Direction
	Deviation     float64 // move from interval open, fraction
	VolRegime     string
	Tradeable     bool
	RejectReason  string
}

// HasEdge reports whether the model sees a positive post-fee edge it trusts
func (m ModelOutput) HasEdge() bool {
	return m.EdgeAfterFees > 0 && m.Reliable
}

// UnifiedSignal is the evaluator's output record
type UnifiedSignal struct {
	Tier         SignalTier
	Direction    Direction
	Symbol       string
	MarketID     string
	Timestamp    int64 // ms
	Momentum     float64
	CandleOpen   decimal.Decimal
	Spot         decimal.Decimal
	MoveFromOpen float64
	Market       *MarketContext
	Model        *ModelOutput
	ExpectedEdge float64
	Confidence   float64
	Reason       string
}

// IsActionable reports whether the engine may trade on this signal
func (s UnifiedSignal) IsActionable() bool {
	return s.Direction != Neutral && s.Confidence >= actionableConfidence && s.ExpectedEdge > 0
}

// Priority returns the numeric tier priority (lower trades first)
func (s UnifiedSignal) Priority() int {
	return int(s.Tier)
}

// DirectionSignal is the price tracker's per-trade output: where the
// reference asset sits relative to its interval open.
type DirectionSignal struct {
	Symbol         string
	Timestamp      int64 // ms
	CandleOpen     decimal.Decimal
	Price          decimal.Decimal
	MoveFromOpen   float64 // fraction
	Momentum       float64 // fraction over the rolling window
	Direction      Direction
	Confidence     float64 // aligned volume fraction, 0.5 when neutral
	ExpectedWinner string  // "UP" or "DOWN"
}
