package core

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEED SYNCHRONIZER - Time-aligned view across all price sources
// ═══════════════════════════════════════════════════════════════════════════════
//
// Feeds push updates as they arrive; the synchronizer keeps only the latest
// observation per source and publishes an aligned snapshot on a fixed tick.
// Snapshots land in a bounded ring so lag statistics and recent history
// stay queryable without unbounded growth.
//
// ═══════════════════════════════════════════════════════════════════════════════

// LagStats summarizes spot-vs-oracle lag over the retained history.
// P95 requires at least 20 samples and P99 at least 100; HasP95/HasP99
// report whether enough history exists.
type LagStats struct {
	Count  int
	MinMs  int64
	MaxMs  int64
	P50Ms  int64
	P95Ms  int64
	P99Ms  int64
	HasP95 bool
	HasP99 bool
}

const (
	minSamplesP95 = 20
	minSamplesP99 = 100
)

// Synchronizer aligns all feeds onto one publication clock
type Synchronizer struct {
	tickEvery  time.Duration
	onSnapshot func(types.SynchronizedSnapshot)
	spool      *Spooler

	mu     sync.RWMutex
	latest map[types.PriceSource]*types.PriceUpdate
	books  map[string]types.OrderBookUpdate

	ring  []types.SynchronizedSnapshot
	head  int // next write position
	count int

	running bool
	stopCh  chan struct{}

	now func() time.Time
}

// NewSynchronizer creates a synchronizer with the given tick and history size
func NewSynchronizer(tickEvery time.Duration, ringSize int, onSnapshot func(types.SynchronizedSnapshot)) *Synchronizer {
	if ringSize <= 0 {
		ringSize = 10000
	}
	return &Synchronizer{
		tickEvery:  tickEvery,
		onSnapshot: onSnapshot,
		latest:     make(map[types.PriceSource]*types.PriceUpdate),
		books:      make(map[string]types.OrderBookUpdate),
		ring:       make([]types.SynchronizedSnapshot, ringSize),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// SetSpool attaches a CSV spooler that records every published snapshot
func (s *Synchronizer) SetSpool(spool *Spooler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spool = spool
}

// OnPrice ingests a feed update, keeping only the latest per source
func (s *Synchronizer) OnPrice(update types.PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := update
	s.latest[update.Source] = &u
}

// OnBook ingests a top-of-book update
func (s *Synchronizer) OnBook(book types.OrderBookUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.TokenID] = book
}

// Start launches the publisher
func (s *Synchronizer) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.publishLoop()
	log.Info().Dur("tick", s.tickEvery).Int("ring", len(s.ring)).Msg("⏱️ Synchronizer started")
}

// Stop halts the publisher. Ingest and reads keep working so shutdown
// consumers can still inspect state.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Info().Msg("Synchronizer stopped")
}

func (s *Synchronizer) publishLoop() {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Publish()
		}
	}
}

// Publish captures and distributes one snapshot. Exposed so callers with
// their own clock can drive publication directly.
func (s *Synchronizer) Publish() {
	snapshot := s.capture()

	s.mu.Lock()
	s.ring[s.head] = snapshot
	s.head = (s.head + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	spool := s.spool
	s.mu.Unlock()

	if spool != nil {
		spool.Record(snapshot)
	}
	if s.onSnapshot != nil {
		s.onSnapshot(snapshot)
	}
}

// capture assembles a snapshot from the current per-source state
func (s *Synchronizer) capture() types.SynchronizedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := types.SynchronizedSnapshot{
		Timestamp:   s.now().UnixMilli(),
		SpotDirect:  s.latest[types.SourceSpotDirect],
		SpotVenue:   s.latest[types.SourceSpotVenue],
		OracleVenue: s.latest[types.SourceOracleVenue],
		OracleChain: s.latest[types.SourceOracleChain],
	}

	if len(s.books) > 0 {
		snapshot.Books = make(map[string]types.OrderBookUpdate, len(s.books))
		for id, book := range s.books {
			snapshot.Books[id] = book
		}
	}
	return snapshot
}

// Latest returns the most recently published snapshot
func (s *Synchronizer) Latest() (types.SynchronizedSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return types.SynchronizedSnapshot{}, false
	}
	idx := (s.head - 1 + len(s.ring)) % len(s.ring)
	return s.ring[idx], true
}

// History returns up to n snapshots, oldest first
func (s *Synchronizer) History(n int) []types.SynchronizedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > s.count {
		n = s.count
	}
	out := make([]types.SynchronizedSnapshot, 0, n)
	start := (s.head - n + len(s.ring)) % len(s.ring)
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Lag returns the stats over every retained snapshot with both sides present
func (s *Synchronizer) Lag() LagStats {
	s.mu.RLock()
	lags := make([]int64, 0, s.count)
	start := (s.head - s.count + len(s.ring)) % len(s.ring)
	for i := 0; i < s.count; i++ {
		snap := s.ring[(start+i)%len(s.ring)]
		if lag, ok := snap.LagMs(); ok {
			lags = append(lags, lag)
		}
	}
	s.mu.RUnlock()

	stats := LagStats{Count: len(lags)}
	if len(lags) == 0 {
		return stats
	}

	sort.Slice(lags, func(i, j int) bool { return lags[i] < lags[j] })
	stats.MinMs = lags[0]
	stats.MaxMs = lags[len(lags)-1]
	stats.P50Ms = percentile(lags, 0.50)
	if len(lags) >= minSamplesP95 {
		stats.P95Ms = percentile(lags, 0.95)
		stats.HasP95 = true
	}
	if len(lags) >= minSamplesP99 {
		stats.P99Ms = percentile(lags, 0.99)
		stats.HasP99 = true
	}
	return stats
}

// percentile uses the nearest-rank method on a sorted slice
func percentile(sorted []int64, q float64) int64 {
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
