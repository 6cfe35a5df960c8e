package feeds

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN BOOK - Normalized per-token order book state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Maintains full level maps per side so deltas can be applied out of band.
// A delta that omits its size reuses the last size seen at that level; a
// size of zero removes the level. Top of book is recomputed on read.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Side of the book a level belongs to
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// TokenBook is the full book for one outcome token
type TokenBook struct {
	tokenID string

	mu   sync.RWMutex
	bids map[string]decimal.Decimal // price string -> size
	asks map[string]decimal.Decimal
	// last non-zero size seen per level, used when a delta omits size
	lastBidSize map[string]decimal.Decimal
	lastAskSize map[string]decimal.Decimal
	updatedAt   int64 // ms
}

// NewTokenBook creates an empty book for a token
func NewTokenBook(tokenID string) *TokenBook {
	return &TokenBook{
		tokenID:     tokenID,
		bids:        make(map[string]decimal.Decimal),
		asks:        make(map[string]decimal.Decimal),
		lastBidSize: make(map[string]decimal.Decimal),
		lastAskSize: make(map[string]decimal.Decimal),
	}
}

// TokenID returns the token this book tracks
func (b *TokenBook) TokenID() string {
	return b.tokenID
}

// ReplaceSnapshot discards all levels and installs the snapshot
func (b *TokenBook) ReplaceSnapshot(bids, asks []PriceLevel, timestamp int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]decimal.Decimal, len(bids))
	b.asks = make(map[string]decimal.Decimal, len(asks))
	for _, l := range bids {
		if l.Size.IsPositive() {
			b.bids[l.Price.String()] = l.Size
			b.lastBidSize[l.Price.String()] = l.Size
		}
	}
	for _, l := range asks {
		if l.Size.IsPositive() {
			b.asks[l.Price.String()] = l.Size
			b.lastAskSize[l.Price.String()] = l.Size
		}
	}
	b.updatedAt = timestamp
}

// ApplyDelta updates one level. hasSize=false means the delta did not carry
// a size and the previously seen size at that price is retained.
func (b *TokenBook) ApplyDelta(side Side, price decimal.Decimal, size decimal.Decimal, hasSize bool, timestamp int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels, lastSize := b.bids, b.lastBidSize
	if side == SideAsk {
		levels, lastSize = b.asks, b.lastAskSize
	}
	key := price.String()

	if !hasSize {
		if prev, ok := lastSize[key]; ok {
			levels[key] = prev
		}
		b.updatedAt = timestamp
		return
	}

	if size.IsZero() {
		delete(levels, key)
	} else {
		levels[key] = size
		lastSize[key] = size
	}
	b.updatedAt = timestamp
}

// PriceLevel is one (price, size) pair
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Snapshot returns the normalized top-of-book
func (b *TokenBook) Snapshot() types.OrderBookUpdate {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bestBid, bidSize := bestLevel(b.bids, true)
	bestAsk, askSize := bestLevel(b.asks, false)

	return types.OrderBookUpdate{
		TokenID:   b.tokenID,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		BidSize:   bidSize,
		AskSize:   askSize,
		Timestamp: b.updatedAt,
	}
}

// bestLevel scans for the highest bid or lowest ask
func bestLevel(levels map[string]decimal.Decimal, highest bool) (decimal.Decimal, decimal.Decimal) {
	var bestPrice, bestSize decimal.Decimal
	found := false
	for key, size := range levels {
		price, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if !found ||
			(highest && price.GreaterThan(bestPrice)) ||
			(!highest && price.LessThan(bestPrice)) {
			bestPrice, bestSize = price, size
			found = true
		}
	}
	return bestPrice, bestSize
}
