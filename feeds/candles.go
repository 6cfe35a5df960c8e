package feeds

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// CandleSource answers "what did the reference asset open at" for an
// interval boundary. Used to seed the tracker when starting mid-interval.
type CandleSource interface {
	OpenAt(symbol string, t time.Time) (decimal.Decimal, error)
}

// RESTCandles fetches 1-second klines from the exchange REST API
type RESTCandles struct {
	url    string
	client *http.Client
}

// NewRESTCandles creates a kline fetcher against the given endpoint
func NewRESTCandles(url string) *RESTCandles {
	return &RESTCandles{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// OpenAt returns the open of the 1-second candle at the given instant
func (c *RESTCandles) OpenAt(symbol string, t time.Time) (decimal.Decimal, error) {
	startMs := t.Unix() * 1000
	endMs := startMs + 1000

	url := fmt.Sprintf("%s?symbol=%s&interval=1s&startTime=%d&endTime=%d&limit=1",
		c.url, symbol, startMs, endMs)

	resp, err := c.client.Get(url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch 1s kline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("kline status %d", resp.StatusCode)
	}

	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode kline: %w", err)
	}
	if len(raw) == 0 || len(raw[0]) < 2 {
		return decimal.Zero, fmt.Errorf("no kline data for timestamp %d", t.Unix())
	}

	openStr, ok := raw[0][1].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected kline format")
	}
	open, err := decimal.NewFromString(openStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse open: %w", err)
	}
	return open, nil
}
