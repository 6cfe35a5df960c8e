package model

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/polyedge/updown/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestEvaluateTradeableUp(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{FeeRate: 0.01, MinEdge: 0.02, MinConfidence: 0.5})
	lookup := LookupResult{WinRate: 0.60, CILower: 0.55, CIUpper: 0.65, Reliable: true, SampleSize: 100}

	out := calc.Evaluate(lookup, d(0.50), d(0.50), 0.0025, types.VolHigh)

	assert.Equal(t, types.Up, out.Direction)
	// conservative edge 0.55-0.50 minus round-trip fees 0.02
	assert.InDelta(t, 0.03, out.EdgeAfterFees, 1e-9)
	assert.True(t, out.Tradeable)
	assert.Empty(t, out.RejectReason)
	assert.True(t, out.HasEdge())

	// kelly at even odds: b = 0.99, f = (0.6*0.99 - 0.4) / 0.99
	assert.InDelta(t, 0.19596, out.Kelly, 1e-4)
}

func TestEvaluateDirectionDown(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{})
	lookup := LookupResult{WinRate: 0.40, CILower: 0.35, CIUpper: 0.45, Reliable: true, SampleSize: 100}

	out := calc.Evaluate(lookup, d(0.50), d(0.50), -0.001, types.VolMedium)

	assert.Equal(t, types.Down, out.Direction)
	// conservative edge on the Down side uses the upper CI bound
	assert.InDelta(t, 0.05, out.EdgeAfterFees, 1e-9)
	assert.True(t, out.Tradeable)
}

func TestEvaluateNeutralWhenNoEdge(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{})
	lookup := LookupResult{WinRate: 0.50, CILower: 0.45, CIUpper: 0.55, Reliable: true, SampleSize: 100}

	out := calc.Evaluate(lookup, d(0.50), d(0.50), 0, types.VolLow)

	assert.Equal(t, types.Neutral, out.Direction)
	assert.Zero(t, out.EdgeAfterFees)
	assert.Zero(t, out.Kelly)
	assert.False(t, out.Tradeable)
	assert.Equal(t, "no positive edge", out.RejectReason)
}

func TestEvaluateConfidenceFormula(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{})
	lookup := LookupResult{WinRate: 0.60, CILower: 0.50, CIUpper: 0.70, Reliable: true, SampleSize: 30}

	out := calc.Evaluate(lookup, d(0.50), d(0.50), 0.002, types.VolMedium)

	want := 0.6*(1-math.Exp(-1)) + 0.4*0.8
	assert.InDelta(t, want, out.Confidence, 1e-9)
}

func TestEvaluateKellyClamped(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{MinEdge: 0.01})
	lookup := LookupResult{WinRate: 0.90, CILower: 0.85, CIUpper: 0.95, Reliable: true, SampleSize: 200}

	out := calc.Evaluate(lookup, d(0.30), d(0.72), 0.004, types.VolHigh)

	assert.Equal(t, types.Up, out.Direction)
	assert.Equal(t, 0.25, out.Kelly)
}

func TestEvaluateRejectReasons(t *testing.T) {
	lookup := LookupResult{WinRate: 0.60, CILower: 0.55, CIUpper: 0.65, Reliable: true, SampleSize: 100}

	calc := NewCalculator(CalculatorConfig{MinEdge: 0.10})
	out := calc.Evaluate(lookup, d(0.50), d(0.50), 0, types.VolMedium)
	assert.False(t, out.Tradeable)
	assert.Equal(t, "edge below minimum", out.RejectReason)

	calc = NewCalculator(CalculatorConfig{MinConfidence: 0.99})
	out = calc.Evaluate(lookup, d(0.50), d(0.50), 0, types.VolMedium)
	assert.False(t, out.Tradeable)
	assert.Equal(t, "confidence below minimum", out.RejectReason)

	unreliable := lookup
	unreliable.Reliable = false
	calc = NewCalculator(CalculatorConfig{RequireReliable: true})
	out = calc.Evaluate(unreliable, d(0.50), d(0.50), 0, types.VolMedium)
	assert.False(t, out.Tradeable)
	assert.Equal(t, "bucket not reliable", out.RejectReason)
	assert.False(t, out.HasEdge())
}

func TestEvaluateInvalidQuote(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{})
	lookup := LookupResult{WinRate: 0.60, CILower: 0.55, CIUpper: 0.65, Reliable: true, SampleSize: 100}

	out := calc.Evaluate(lookup, decimal.Zero, decimal.Zero, 0, types.VolMedium)

	assert.Equal(t, types.Neutral, out.Direction)
	assert.False(t, out.Tradeable)
	assert.Equal(t, "invalid quote", out.RejectReason)
}
