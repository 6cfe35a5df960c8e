package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOOK FEED - CLOB market channel
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to the CLOB market channel for the outcome tokens in the
// working set. Full book snapshots replace state; price_change deltas
// patch it. Every change surfaces the token's normalized top-of-book to
// the synchronizer.
//
// ═══════════════════════════════════════════════════════════════════════════════

const bookPingInterval = 5 * time.Second

// BookFeed maintains order book state for a set of outcome tokens
type BookFeed struct {
	wsURL          string
	reconnectDelay time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	onBook func(types.OrderBookUpdate)

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	books   map[string]*TokenBook // token id -> book
	tokens  []string
}

// bookMsg covers both snapshot and delta events on the market channel
type bookMsg struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Timestamp string     `json:"timestamp"`
	Bids      []wsLevel  `json:"bids"`
	Asks      []wsLevel  `json:"asks"`
	Changes   []wsChange `json:"price_changes"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsChange struct {
	AssetID string  `json:"asset_id"`
	Price   string  `json:"price"`
	Size    *string `json:"size"` // nil when the delta omits size
	Side    string  `json:"side"`
}

// NewBookFeed creates a book feed for the given outcome tokens
func NewBookFeed(wsURL string, tokens []string, onBook func(types.OrderBookUpdate)) *BookFeed {
	books := make(map[string]*TokenBook, len(tokens))
	for _, t := range tokens {
		books[t] = NewTokenBook(t)
	}
	return &BookFeed{
		wsURL:          wsURL,
		reconnectDelay: defaultReconnectDelay,
		onBook:         onBook,
		stopCh:         make(chan struct{}),
		books:          books,
		tokens:         tokens,
	}
}

// SetReconnectDelay overrides the pause between reconnect attempts
func (f *BookFeed) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		f.reconnectDelay = d
	}
}

// Start connects and begins processing book events
func (f *BookFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Int("tokens", len(f.tokens)).Msg("📡 Book feed started")
}

// Stop closes the connection
func (f *BookFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
	log.Info().Msg("Book feed stopped")
}

// SetTokens replaces the working set. A changed set drops the live
// connection so the read loop resubscribes with the new tokens.
func (f *BookFeed) SetTokens(tokens []string) {
	f.mu.Lock()
	changed := !equalTokens(f.tokens, tokens)
	f.tokens = tokens
	for _, t := range tokens {
		if _, ok := f.books[t]; !ok {
			f.books[t] = NewTokenBook(t)
		}
	}
	running := f.running
	f.mu.Unlock()

	if !changed || !running {
		return
	}
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
	log.Info().Int("tokens", len(tokens)).Msg("📡 Book subscription set changed, resubscribing")
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Book returns the current top-of-book for a token
func (f *BookFeed) Book(tokenID string) (types.OrderBookUpdate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	book, ok := f.books[tokenID]
	if !ok {
		return types.OrderBookUpdate{}, false
	}
	return book.Snapshot(), true
}

func (f *BookFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *BookFeed) connectionLoop() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Book WebSocket connection failed")
			time.Sleep(f.reconnectDelay)
			continue
		}

		pingStop := make(chan struct{})
		go f.pingLoop(pingStop)
		f.readLoop()
		close(pingStop)

		if f.isRunning() {
			log.Warn().Msg("Book WebSocket disconnected, reconnecting...")
			time.Sleep(f.reconnectDelay)
		}
	}
}

func (f *BookFeed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	f.mu.RLock()
	tokens := make([]string, len(f.tokens))
	copy(tokens, f.tokens)
	f.mu.RUnlock()

	// market channel subscription covers snapshots and deltas
	sub := map[string]interface{}{
		"type":       "market",
		"assets_ids": tokens,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	log.Info().Int("tokens", len(tokens)).Msg("🔌 Book WebSocket connected")
	return nil
}

func (f *BookFeed) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(bookPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		case <-stop:
			return
		case <-f.stopCh:
			return
		}
	}
}

func (f *BookFeed) readLoop() {
	for f.isRunning() {
		msgType, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Warn().Err(err).Msg("Book WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage || len(message) == 0 {
			continue
		}
		if string(message) == "PONG" {
			continue
		}
		f.processMessage(message)
	}
}

func (f *BookFeed) processMessage(data []byte) {
	var msgs []bookMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Try single message
		var msg bookMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("Book message not JSON, skipping")
			return
		}
		msgs = []bookMsg{msg}
	}

	for _, msg := range msgs {
		switch msg.EventType {
		case "book":
			f.handleSnapshot(msg)
		case "price_change":
			f.handleDeltas(msg)
		}
	}
}

func (f *BookFeed) handleSnapshot(msg bookMsg) {
	book := f.bookFor(msg.AssetID)
	if book == nil {
		return
	}

	book.ReplaceSnapshot(parseLevels(msg.Bids), parseLevels(msg.Asks), parseTimestamp(msg.Timestamp))
	f.emit(book)
}

func (f *BookFeed) handleDeltas(msg bookMsg) {
	ts := parseTimestamp(msg.Timestamp)
	touched := make(map[string]*TokenBook)

	for _, ch := range msg.Changes {
		book := f.bookFor(ch.AssetID)
		if book == nil {
			continue
		}

		price, err := decimal.NewFromString(ch.Price)
		if err != nil {
			continue
		}

		side := SideBid
		if ch.Side == "SELL" || ch.Side == "sell" || ch.Side == "ask" {
			side = SideAsk
		}

		var size decimal.Decimal
		hasSize := ch.Size != nil
		if hasSize {
			size, err = decimal.NewFromString(*ch.Size)
			if err != nil {
				continue
			}
		}

		book.ApplyDelta(side, price, size, hasSize, ts)
		touched[ch.AssetID] = book
	}

	for _, book := range touched {
		f.emit(book)
	}
}

func (f *BookFeed) bookFor(tokenID string) *TokenBook {
	if tokenID == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.books[tokenID]
}

func (f *BookFeed) emit(book *TokenBook) {
	if f.onBook != nil {
		f.onBook(book.Snapshot())
	}
}

func parseLevels(raw []wsLevel) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Size: size})
	}
	return levels
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	ts, err := decimal.NewFromString(s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return ts.IntPart()
}
