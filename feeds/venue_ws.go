package feeds

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE FEED - Venue-side spot and oracle mirrors
// ═══════════════════════════════════════════════════════════════════════════════
//
// The venue publishes its own view of spot prices and of the oracle it
// resolves against over one multiplexed socket. Both matter: the oracle
// mirror is what actually settles markets, and the venue spot shows what
// other participants see.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	topicSpot   = "crypto_prices"
	topicOracle = "crypto_prices_chainlink"

	venuePingInterval = 10 * time.Second
)

// VenueFeed streams the venue's spot and oracle price mirrors
type VenueFeed struct {
	wsURL          string
	symbols        map[string]string // venue pair (lowercase, e.g. "btc/usd") -> exchange symbol
	reconnectDelay time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	onPrice func(types.PriceUpdate)

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	latest  map[types.PriceSource]map[string]decimal.Decimal
}

type venueSubscription struct {
	Action        string       `json:"action"`
	Subscriptions []venueTopic `json:"subscriptions"`
}

type venueTopic struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type venueMsg struct {
	Topic   string `json:"topic"`
	Payload struct {
		Symbol    string  `json:"symbol"`
		Value     float64 `json:"value"`
		Timestamp int64   `json:"timestamp"` // ms
	} `json:"payload"`
}

// NewVenueFeed creates a venue feed. symbols maps venue pair names to the
// exchange symbols the rest of the system keys on.
func NewVenueFeed(wsURL string, symbols map[string]string, onPrice func(types.PriceUpdate)) *VenueFeed {
	return &VenueFeed{
		wsURL:          wsURL,
		symbols:        symbols,
		reconnectDelay: defaultReconnectDelay,
		onPrice:        onPrice,
		stopCh:         make(chan struct{}),
		latest: map[types.PriceSource]map[string]decimal.Decimal{
			types.SourceSpotVenue:   make(map[string]decimal.Decimal),
			types.SourceOracleVenue: make(map[string]decimal.Decimal),
		},
	}
}

// SetReconnectDelay overrides the pause between reconnect attempts
func (f *VenueFeed) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		f.reconnectDelay = d
	}
}

// Start connects and begins streaming
func (f *VenueFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.runLoop()
	log.Info().Msg("🏛️ Venue price feed started")
}

// Stop closes the connection and halts reconnects
func (f *VenueFeed) Stop() {
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
	log.Info().Msg("Venue feed stopped")
}

// LatestPrice returns the last price seen from the given venue source
func (f *VenueFeed) LatestPrice(source types.PriceSource, symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest[source][symbol]
}

func (f *VenueFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *VenueFeed) runLoop() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Venue WebSocket connection failed")
			time.Sleep(f.reconnectDelay)
			continue
		}

		pingStop := make(chan struct{})
		go f.pingLoop(pingStop)
		f.readMessages()
		close(pingStop)

		if f.isRunning() {
			log.Warn().Msg("Venue WebSocket disconnected, reconnecting...")
			time.Sleep(f.reconnectDelay)
		}
	}
}

func (f *VenueFeed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	sub := venueSubscription{
		Action: "subscribe",
		Subscriptions: []venueTopic{
			{Topic: topicSpot, Type: "update"},
			{Topic: topicOracle, Type: "update"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	log.Info().Str("url", f.wsURL).Msg("🔌 Venue WebSocket connected")
	return nil
}

// pingLoop keeps the venue connection alive with its text-level ping
func (f *VenueFeed) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(venuePingInterval)
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
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		case <-stop:
			return
		case <-f.stopCh:
			return
		}
	}
}

func (f *VenueFeed) readMessages() {
	for f.isRunning() {
		msgType, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("Venue WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage || len(message) == 0 {
			continue
		}
		if string(message) == "pong" {
			continue
		}
		f.handleMessage(message)
	}
}

func (f *VenueFeed) handleMessage(data []byte) {
	var msg venueMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Msg("Venue message not JSON, skipping")
		return
	}

	var source types.PriceSource
	switch msg.Topic {
	case topicSpot:
		source = types.SourceSpotVenue
	case topicOracle:
		source = types.SourceOracleVenue
	default:
		return
	}

	symbol, ok := f.symbols[strings.ToLower(msg.Payload.Symbol)]
	if !ok || msg.Payload.Value <= 0 {
		return
	}

	price := decimal.NewFromFloat(msg.Payload.Value)
	ts := msg.Payload.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	f.mu.Lock()
	f.latest[source][symbol] = price
	f.mu.Unlock()

	if f.onPrice != nil {
		f.onPrice(types.PriceUpdate{
			Source:    source,
			Symbol:    symbol,
			Price:     price,
			Timestamp: ts,
		})
	}
}
