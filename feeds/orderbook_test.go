package feeds

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func level(price, size float64) PriceLevel {
	return PriceLevel{Price: d(price), Size: d(size)}
}

func seededBook() *TokenBook {
	book := NewTokenBook("tok-up")
	book.ReplaceSnapshot(
		[]PriceLevel{level(0.47, 100), level(0.48, 50)},
		[]PriceLevel{level(0.49, 80), level(0.50, 200)},
		1000,
	)
	return book
}

func TestSnapshotTopOfBook(t *testing.T) {
	snap := seededBook().Snapshot()

	assert.Equal(t, "tok-up", snap.TokenID)
	assert.True(t, snap.BestBid.Equal(d(0.48)))
	assert.True(t, snap.BidSize.Equal(d(50)))
	assert.True(t, snap.BestAsk.Equal(d(0.49)))
	assert.True(t, snap.AskSize.Equal(d(80)))
	assert.Equal(t, int64(1000), snap.Timestamp)
}

func TestDeltaMovesBest(t *testing.T) {
	book := seededBook()

	book.ApplyDelta(SideBid, d(0.485), d(30), true, 2000)
	snap := book.Snapshot()
	assert.True(t, snap.BestBid.Equal(d(0.485)))
	assert.True(t, snap.BidSize.Equal(d(30)))

	// removing the level restores the previous best
	book.ApplyDelta(SideBid, d(0.485), decimal.Zero, true, 3000)
	snap = book.Snapshot()
	assert.True(t, snap.BestBid.Equal(d(0.48)))
	assert.Equal(t, int64(3000), snap.Timestamp)
}

func TestDeltaWithoutSizeRetainsLastKnown(t *testing.T) {
	book := seededBook()

	// drop the level, then a size-less delta reinstates it at the last size
	book.ApplyDelta(SideAsk, d(0.49), decimal.Zero, true, 2000)
	assert.True(t, book.Snapshot().BestAsk.Equal(d(0.50)))

	book.ApplyDelta(SideAsk, d(0.49), decimal.Zero, false, 3000)
	snap := book.Snapshot()
	assert.True(t, snap.BestAsk.Equal(d(0.49)))
	assert.True(t, snap.AskSize.Equal(d(80)))

	// a size-less delta at a never-seen price is a no-op
	book.ApplyDelta(SideAsk, d(0.33), decimal.Zero, false, 4000)
	assert.True(t, book.Snapshot().BestAsk.Equal(d(0.49)))
}

func TestReplaceSnapshotDiscardsOldLevels(t *testing.T) {
	book := seededBook()
	book.ReplaceSnapshot(
		[]PriceLevel{level(0.40, 10)},
		[]PriceLevel{level(0.60, 10)},
		5000,
	)

	snap := book.Snapshot()
	assert.True(t, snap.BestBid.Equal(d(0.40)))
	assert.True(t, snap.BestAsk.Equal(d(0.60)))
}

func TestSnapshotIdempotentUnderReplay(t *testing.T) {
	book := seededBook()
	before := book.Snapshot()

	// replaying the same delta twice leaves the book unchanged
	book.ApplyDelta(SideBid, d(0.48), d(50), true, 1000)
	book.ApplyDelta(SideBid, d(0.48), d(50), true, 1000)

	assert.Equal(t, before, book.Snapshot())
}

func TestEmptyBookSnapshot(t *testing.T) {
	snap := NewTokenBook("tok-down").Snapshot()

	assert.Equal(t, "tok-down", snap.TokenID)
	assert.True(t, snap.BestBid.IsZero())
	assert.True(t, snap.BestAsk.IsZero())
	assert.True(t, snap.Mid().IsZero())
}
