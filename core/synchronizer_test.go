package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyedge/updown/types"
)

func priceAt(source types.PriceSource, price float64, ts int64) types.PriceUpdate {
	return types.PriceUpdate{
		Source:    source,
		Symbol:    "BTCUSDT",
		Price:     d(price),
		Timestamp: ts,
	}
}

func TestPublishKeepsLatestPerSource(t *testing.T) {
	var published []types.SynchronizedSnapshot
	sync := NewSynchronizer(time.Hour, 8, func(s types.SynchronizedSnapshot) {
		published = append(published, s)
	})

	sync.OnPrice(priceAt(types.SourceSpotDirect, 65000, 1000))
	sync.OnPrice(priceAt(types.SourceSpotDirect, 65010, 2000))
	sync.OnBook(types.OrderBookUpdate{TokenID: "tok-up", BestBid: d(0.48), BestAsk: d(0.49)})

	sync.Publish()
	require.Len(t, published, 1)

	snap := published[0]
	require.NotNil(t, snap.SpotDirect)
	assert.True(t, snap.SpotDirect.Price.Equal(d(65010)))
	assert.Equal(t, int64(2000), snap.SpotDirect.Timestamp)
	assert.Nil(t, snap.OracleChain)
	require.Contains(t, snap.Books, "tok-up")

	latest, ok := sync.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.Timestamp, latest.Timestamp)
}

func TestLagUsesPreferredSources(t *testing.T) {
	sync := NewSynchronizer(time.Hour, 8, nil)

	// direct beats venue on the spot side, venue beats chain on the oracle side
	sync.OnPrice(priceAt(types.SourceSpotDirect, 65000, 5000))
	sync.OnPrice(priceAt(types.SourceSpotVenue, 64990, 4000))
	sync.OnPrice(priceAt(types.SourceOracleVenue, 64950, 3000))
	sync.OnPrice(priceAt(types.SourceOracleChain, 64900, 1000))
	sync.Publish()

	stats := sync.Lag()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, int64(2000), stats.MinMs)
	assert.Equal(t, int64(2000), stats.MaxMs)
	assert.Equal(t, int64(2000), stats.P50Ms)
	assert.False(t, stats.HasP95)
	assert.False(t, stats.HasP99)
}

func TestRingEvictsOldest(t *testing.T) {
	sync := NewSynchronizer(time.Hour, 4, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	sync.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 6; i++ {
		sync.Publish()
	}

	history := sync.History(0)
	require.Len(t, history, 4)
	// the two oldest snapshots fell off; order is oldest first
	assert.Equal(t, base.Add(3*time.Second).UnixMilli(), history[0].Timestamp)
	assert.Equal(t, base.Add(6*time.Second).UnixMilli(), history[3].Timestamp)

	history = sync.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, base.Add(5*time.Second).UnixMilli(), history[0].Timestamp)
}

func TestLagPercentileSampleFloors(t *testing.T) {
	sync := NewSynchronizer(time.Hour, 64, nil)

	for i := 1; i <= 20; i++ {
		sync.OnPrice(priceAt(types.SourceSpotDirect, 65000, 1000+int64(i)))
		sync.OnPrice(priceAt(types.SourceOracleChain, 64950, 1000))
		sync.Publish()
	}

	stats := sync.Lag()
	assert.Equal(t, 20, stats.Count)
	assert.Equal(t, int64(1), stats.MinMs)
	assert.Equal(t, int64(20), stats.MaxMs)
	assert.Equal(t, int64(10), stats.P50Ms)
	assert.True(t, stats.HasP95)
	assert.Equal(t, int64(19), stats.P95Ms)
	// p99 needs 100 samples
	assert.False(t, stats.HasP99)
}

func TestStopHaltsPublisherNotIngest(t *testing.T) {
	sync := NewSynchronizer(time.Hour, 8, nil)
	sync.Start()
	sync.Stop()

	sync.OnPrice(priceAt(types.SourceSpotDirect, 65000, 1000))
	sync.Publish()

	latest, ok := sync.Latest()
	require.True(t, ok)
	require.NotNil(t, latest.SpotDirect)
	assert.True(t, latest.SpotDirect.Price.Equal(d(65000)))
}
