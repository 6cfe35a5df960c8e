package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/polyedge/updown/types"
)

func TestRegimeForCutoffs(t *testing.T) {
	assert.Equal(t, types.VolLow, RegimeFor(0.0001))
	assert.Equal(t, types.VolMedium, RegimeFor(0.0004))
	assert.Equal(t, types.VolMedium, RegimeFor(0.0010))
	assert.Equal(t, types.VolMedium, RegimeFor(0.0012))
	assert.Equal(t, types.VolHigh, RegimeFor(0.0020))
}

func TestEstimatorDefaultsToMedium(t *testing.T) {
	v := NewVolEstimator(time.Minute)

	assert.Equal(t, types.VolMedium, v.Regime())
	v.AddPrice(d(65000), 1000)
	v.AddPrice(d(65001), 2000)
	assert.Equal(t, types.VolMedium, v.Regime())
}

func TestEstimatorClassifiesRegimes(t *testing.T) {
	calm := NewVolEstimator(time.Minute)
	for i := int64(0); i < 10; i++ {
		calm.AddPrice(d(65000), i*1000)
	}
	assert.Equal(t, types.VolLow, calm.Regime())

	wild := NewVolEstimator(time.Minute)
	for i := int64(0); i < 10; i++ {
		price := 65000.0
		if i%2 == 1 {
			price = 65300
		}
		wild.AddPrice(d(price), i*1000)
	}
	assert.Equal(t, types.VolHigh, wild.Regime())
}

func TestEstimatorWindowPruning(t *testing.T) {
	v := NewVolEstimator(10 * time.Second)

	// a wild past that scrolls out of the window
	v.AddPrice(d(65000), 0)
	v.AddPrice(d(66000), 1000)
	v.AddPrice(d(64000), 2000)
	for i := int64(0); i < 10; i++ {
		v.AddPrice(d(65000), 20000+i*1000)
	}

	assert.Equal(t, types.VolLow, v.Regime())
}
