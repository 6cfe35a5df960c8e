package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPOT FEED - Direct exchange trade stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// Connects to the exchange combined stream and surfaces every trade as it
// prints. This is the lowest-latency spot source and the preferred input for
// the synchronizer's spot slot.
//
// ═══════════════════════════════════════════════════════════════════════════════

// defaultReconnectDelay applies to every WebSocket feed unless overridden
const defaultReconnectDelay = 5 * time.Second

// Trade is one spot trade print
type Trade struct {
	Symbol       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Time         int64 // ms
	IsBuyerMaker bool  // true means the taker sold
}

// SpotFeed streams trades from the exchange over WebSocket
type SpotFeed struct {
	wsURL          string
	symbols        []string
	reconnectDelay time.Duration

	conn *websocket.Conn

	onTrade func(Trade)
	onPrice func(types.PriceUpdate)

	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	latest     map[string]decimal.Decimal
	reconnects int
}

// combinedMsg is the envelope of the exchange combined stream
type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeMsg is the exchange trade event payload
type tradeMsg struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// NewSpotFeed creates a spot feed for the given symbols
func NewSpotFeed(wsURL string, symbols []string, onTrade func(Trade), onPrice func(types.PriceUpdate)) *SpotFeed {
	return &SpotFeed{
		wsURL:          wsURL,
		symbols:        symbols,
		reconnectDelay: defaultReconnectDelay,
		onTrade:        onTrade,
		onPrice:        onPrice,
		stopCh:         make(chan struct{}),
		latest:         make(map[string]decimal.Decimal),
	}
}

// SetReconnectDelay overrides the pause between reconnect attempts
func (f *SpotFeed) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		f.reconnectDelay = d
	}
}

// Start connects and begins streaming trades
func (f *SpotFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.runLoop()
	log.Info().Strs("symbols", f.symbols).Msg("📈 Spot feed started")
}

// Stop closes the connection and halts reconnects
func (f *SpotFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Spot feed stopped")
}

// IsConnected reports whether the feed has a live connection and data
func (f *SpotFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running && len(f.latest) > 0
}

// LatestPrice returns the last trade price seen for a symbol
func (f *SpotFeed) LatestPrice(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest[symbol]
}

// Reconnects returns how many times the feed has had to reconnect
func (f *SpotFeed) Reconnects() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reconnects
}

func (f *SpotFeed) runLoop() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Spot WebSocket connection failed")
			time.Sleep(f.reconnectDelay)
			continue
		}

		f.readMessages()

		if f.isRunning() {
			f.mu.Lock()
			f.reconnects++
			f.mu.Unlock()
			log.Warn().Msg("Spot WebSocket disconnected, reconnecting...")
			time.Sleep(f.reconnectDelay)
		}
	}
}

func (f *SpotFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *SpotFeed) connect() error {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	url := fmt.Sprintf("%s?streams=%s", f.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Str("url", url).Msg("🔌 Spot WebSocket connected")
	return nil
}

func (f *SpotFeed) readMessages() {
	for f.isRunning() {
		msgType, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("Spot WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage || len(message) == 0 {
			continue
		}
		f.handleMessage(message)
	}
}

func (f *SpotFeed) handleMessage(data []byte) {
	var envelope combinedMsg
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Debug().Err(err).Msg("Spot message not JSON, skipping")
		return
	}
	if len(envelope.Data) == 0 {
		return
	}

	var msg tradeMsg
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		log.Debug().Err(err).Str("stream", envelope.Stream).Msg("Malformed trade payload")
		return
	}
	if msg.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}
	qty, _ := decimal.NewFromString(msg.Quantity)

	f.mu.Lock()
	f.latest[msg.Symbol] = price
	f.mu.Unlock()

	if f.onTrade != nil {
		f.onTrade(Trade{
			Symbol:       msg.Symbol,
			Price:        price,
			Quantity:     qty,
			Time:         msg.TradeTime,
			IsBuyerMaker: msg.IsBuyerMaker,
		})
	}
	if f.onPrice != nil {
		f.onPrice(types.PriceUpdate{
			Source:    types.SourceSpotDirect,
			Symbol:    msg.Symbol,
			Price:     price,
			Timestamp: msg.TradeTime,
		})
	}
}
