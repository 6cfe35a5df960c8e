package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction of a price move or trade recommendation
type Direction int

const (
	Neutral Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "NEUTRAL"
	}
}

// SignalTier orders signal families by priority. Lower value = higher priority.
type SignalTier int

const (
	TierDutchBook  SignalTier = 1
	TierLagArb     SignalTier = 2
	TierMomentum   SignalTier = 3
	TierFlashCrash SignalTier = 4
)

func (t SignalTier) String() string {
	switch t {
	case TierDutchBook:
		return "dutch_book"
	case TierLagArb:
		return "lag_arb"
	case TierMomentum:
		return "momentum"
	case TierFlashCrash:
		return "flash_crash"
	default:
		return "unknown"
	}
}

// PriceSource tags which feed produced a PriceUpdate
type PriceSource int

const (
	SourceSpotDirect  PriceSource = iota // exchange trade stream
	SourceSpotVenue                      // venue-side real-time spot
	SourceOracleVenue                    // venue-side oracle mirror
	SourceOracleChain                    // on-chain aggregator poll
)

func (s PriceSource) String() string {
	switch s {
	case SourceSpotDirect:
		return "spot_direct"
	case SourceSpotVenue:
		return "spot_venue"
	case SourceOracleVenue:
		return "oracle_venue"
	case SourceOracleChain:
		return "oracle_chain"
	default:
		return "unknown"
	}
}

// PriceUpdate is one observation from one feed
type PriceUpdate struct {
	Source    PriceSource
	Symbol    string
	Price     decimal.Decimal
	Timestamp int64  // ms
	Sequence  uint64 // oracle round id, 0 when the feed has no sequencing
}

// OrderBookUpdate is the normalized top-of-book for one token
type OrderBookUpdate struct {
	TokenID   string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp int64 // ms
}

// Mid returns the mid price. When one side is absent the mid falls back
// to the side that is present.
func (b OrderBookUpdate) Mid() decimal.Decimal {
	switch {
	case b.BestBid.IsZero():
		return b.BestAsk
	case b.BestAsk.IsZero():
		return b.BestBid
	default:
		return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
	}
}

// Spread returns ask - bid
func (b OrderBookUpdate) Spread() decimal.Decimal {
	return b.BestAsk.Sub(b.BestBid)
}

// SynchronizedSnapshot is one time-aligned sample across all feeds.
// Each source slot is nil until that feed has produced at least one update.
type SynchronizedSnapshot struct {
	Timestamp   int64 // ms, publisher tick time
	SpotDirect  *PriceUpdate
	SpotVenue   *PriceUpdate
	OracleVenue *PriceUpdate
	OracleChain *PriceUpdate
	Books       map[string]OrderBookUpdate // token id -> latest book
}

// BestSpot returns the preferred spot observation: direct over venue-side.
func (s SynchronizedSnapshot) BestSpot() *PriceUpdate {
	if s.SpotDirect != nil {
		return s.SpotDirect
	}
	return s.SpotVenue
}

// BestOracle returns the preferred oracle observation: venue-side over on-chain.
func (s SynchronizedSnapshot) BestOracle() *PriceUpdate {
	if s.OracleVenue != nil {
		return s.OracleVenue
	}
	return s.OracleChain
}

// LagMs returns spot timestamp minus oracle timestamp, using the same
// source preference as BestSpot/BestOracle. ok is false until both
// slots are populated.
func (s SynchronizedSnapshot) LagMs() (lag int64, ok bool) {
	spot := s.BestSpot()
	oracle := s.BestOracle()
	if spot == nil || oracle == nil {
		return 0, false
	}
	return spot.Timestamp - oracle.Timestamp, true
}

// DivergencePct returns (spot - oracle) / oracle as a fraction
func (s SynchronizedSnapshot) DivergencePct() (float64, bool) {
	spot := s.BestSpot()
	oracle := s.BestOracle()
	if spot == nil || oracle == nil || oracle.Price.IsZero() {
		return 0, false
	}
	div := spot.Price.Sub(oracle.Price).Div(oracle.Price)
	return div.InexactFloat64(), true
}

// Market is one Up/Down prediction market in the working set
type Market struct {
	ID          string
	Symbol      string // reference asset symbol, e.g. BTCUSDT
	UpToken     string
	DownToken   string
	IntervalEnd time.Time // resolution time
}

// MarketContext is a point-in-time quote for one market
type MarketContext struct {
	MarketID      string
	Timestamp     int64 // ms
	UpAsk         decimal.Decimal
	DownAsk       decimal.Decimal
	UpBid         decimal.Decimal
	DownBid       decimal.Decimal
	TimeRemaining float64 // seconds to resolution
	Session       string
}

// CombinedAsk returns up_ask + down_ask
func (m MarketContext) CombinedAsk() decimal.Decimal {
	return m.UpAsk.Add(m.DownAsk)
}

// CombinedBid returns up_bid + down_bid
func (m MarketContext) CombinedBid() decimal.Decimal {
	return m.UpBid.Add(m.DownBid)
}

// IsDutchBook reports whether buying both sides locks in a risk-free return
func (m MarketContext) IsDutchBook() bool {
	return m.CombinedAsk().LessThan(decimal.NewFromInt(1))
}

// Trading sessions used to stratify the probability surface (UTC)
const (
	SessionAsia    = "asia"
	SessionEurope  = "europe"
	SessionOverlap = "us_eu_overlap"
	SessionUS      = "us"
	SessionLateUS  = "late_us"
	SessionAll     = "all"
)

// SessionFor classifies a wall-clock instant into a trading session tag
func SessionFor(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 7:
		return SessionAsia
	case h < 12:
		return SessionEurope
	case h < 16:
		return SessionOverlap
	case h < 21:
		return SessionUS
	default:
		return SessionLateUS
	}
}

// Volatility regimes used to stratify the probability surface
const (
	VolLow    = "low"
	VolMedium = "medium"
	VolHigh   = "high"
	VolAll    = "all"
)
