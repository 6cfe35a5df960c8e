package model

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE CALCULATOR - Surface probability vs market-implied probability
// ═══════════════════════════════════════════════════════════════════════════════

// CalculatorConfig tunes when an edge is considered tradeable
type CalculatorConfig struct {
	FeeRate         float64
	MinEdge         float64
	MinConfidence   float64
	RequireReliable bool
}

// Calculator turns a surface lookup and a market quote into a model output
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates an edge calculator
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Evaluate computes direction, conservative edge after fees, confidence
// and Kelly fraction for one market quote.
func (c *Calculator) Evaluate(lookup LookupResult, upAsk, downAsk decimal.Decimal, deviation float64, volRegime string) types.ModelOutput {
	out := types.ModelOutput{
		ProbUp:    lookup.WinRate,
		CILower:   lookup.CILower,
		CIUpper:   lookup.CIUpper,
		Reliable:  lookup.Reliable,
		Deviation: deviation,
		VolRegime: volRegime,
	}

	combined := upAsk.Add(downAsk)
	if combined.IsZero() || upAsk.IsNegative() || downAsk.IsNegative() {
		out.Direction = types.Neutral
		out.RejectReason = "invalid quote"
		return out
	}

	// market-implied probability of Up
	pUp := upAsk.Div(combined).InexactFloat64()

	edgeUp := lookup.WinRate - pUp
	edgeDown := -edgeUp

	switch {
	case edgeUp > 0:
		out.Direction = types.Up
	case edgeDown > 0:
		out.Direction = types.Down
	default:
		out.Direction = types.Neutral
	}

	// conservative edge takes the CI bound on the chosen side
	var conservative float64
	switch out.Direction {
	case types.Up:
		conservative = lookup.CILower - pUp
	case types.Down:
		conservative = pUp - lookup.CIUpper
	}

	feeDrag := 2 * c.cfg.FeeRate // entry + exit
	out.EdgeAfterFees = conservative - feeDrag
	if out.Direction == types.Neutral {
		out.EdgeAfterFees = 0
	}

	ciWidth := lookup.CIUpper - lookup.CILower
	out.Confidence = 0.6*(1-math.Exp(-float64(lookup.SampleSize)/30.0)) +
		0.4*math.Max(0, 1-ciWidth)

	out.Kelly = c.kelly(lookup.WinRate, out.Direction, upAsk, downAsk)

	switch {
	case out.Direction == types.Neutral:
		out.RejectReason = "no positive edge"
	case out.EdgeAfterFees < c.cfg.MinEdge:
		out.RejectReason = "edge below minimum"
	case out.Confidence < c.cfg.MinConfidence:
		out.RejectReason = "confidence below minimum"
	case c.cfg.RequireReliable && !lookup.Reliable:
		out.RejectReason = "bucket not reliable"
	default:
		out.Tradeable = true
	}
	return out
}

// kelly computes the clamped Kelly fraction for the chosen side.
// b is the net payout odds of a winning $1 bet at the side's ask.
func (c *Calculator) kelly(probUp float64, direction types.Direction, upAsk, downAsk decimal.Decimal) float64 {
	var p float64
	var price decimal.Decimal
	switch direction {
	case types.Up:
		p, price = probUp, upAsk
	case types.Down:
		p, price = 1-probUp, downAsk
	default:
		return 0
	}

	priceF := price.InexactFloat64()
	if priceF <= 0 || priceF >= 1 {
		return 0
	}

	b := (1 - priceF) * (1 - c.cfg.FeeRate) / priceF
	if b <= 0 {
		return 0
	}

	kelly := (p*b - (1 - p)) / b
	if kelly < 0 {
		return 0
	}
	if kelly > 0.25 {
		return 0.25
	}
	return kelly
}
