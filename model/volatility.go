package model

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// Return-stddev thresholds separating the volatility regimes. Derived from
// the same historical distribution the surface was fitted on.
const (
	volLowCutoff  = 0.0004
	volHighCutoff = 0.0012
)

// RegimeFor classifies a per-second return standard deviation
func RegimeFor(stddev float64) string {
	switch {
	case stddev < volLowCutoff:
		return types.VolLow
	case stddev > volHighCutoff:
		return types.VolHigh
	default:
		return types.VolMedium
	}
}

// volSample is one retained price observation
type volSample struct {
	price float64
	time  int64 // ms
}

// VolEstimator keeps a rolling window of spot prices and reports the
// current volatility regime from the stddev of log returns.
type VolEstimator struct {
	span time.Duration

	mu      sync.RWMutex
	samples []volSample
}

// NewVolEstimator creates an estimator with the given window span
func NewVolEstimator(span time.Duration) *VolEstimator {
	return &VolEstimator{span: span}
}

// AddPrice ingests one spot observation
func (v *VolEstimator) AddPrice(price decimal.Decimal, timestamp int64) {
	p := price.InexactFloat64()
	if p <= 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.samples = append(v.samples, volSample{price: p, time: timestamp})
	cutoff := timestamp - v.span.Milliseconds()
	for len(v.samples) > 0 && v.samples[0].time < cutoff {
		v.samples = v.samples[1:]
	}
}

// Stddev returns the standard deviation of log returns in the window
func (v *VolEstimator) Stddev() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.samples) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(v.samples)-1)
	for i := 1; i < len(v.samples); i++ {
		returns = append(returns, math.Log(v.samples[i].price/v.samples[i-1].price))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// Regime returns the current volatility regime, VolMedium until the
// window has enough samples.
func (v *VolEstimator) Regime() string {
	v.mu.RLock()
	n := len(v.samples)
	v.mu.RUnlock()

	if n < 3 {
		return types.VolMedium
	}
	return RegimeFor(v.Stddev())
}
