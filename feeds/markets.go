package feeds

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET SCANNER - Working-set discovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// Up/Down markets use timestamp-aligned slugs, one per interval boundary.
// The scanner resolves the slug for the current interval per symbol and
// returns the token pair and resolution time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// slugPrefixes maps exchange symbols to the venue's slug prefixes
var slugPrefixes = map[string]string{
	"BTCUSDT": "bitcoin",
	"ETHUSDT": "ethereum",
	"SOLUSDT": "solana",
	"XRPUSDT": "xrp",
}

// MarketScanner discovers the current interval market per symbol
type MarketScanner struct {
	apiURL         string
	symbols        []string
	intervalLength time.Duration
	httpClient     *http.Client

	now func() time.Time
}

// NewMarketScanner creates a scanner against the venue metadata API
func NewMarketScanner(apiURL string, symbols []string, intervalLength time.Duration) *MarketScanner {
	return &MarketScanner{
		apiURL:         apiURL,
		symbols:        symbols,
		intervalLength: intervalLength,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		now:            time.Now,
	}
}

// DiscoverMarkets returns the active Up/Down market for every symbol.
// Symbols without a live market are skipped, not errors.
func (s *MarketScanner) DiscoverMarkets() ([]types.Market, error) {
	boundary := s.now().Truncate(s.intervalLength)

	var markets []types.Market
	for _, symbol := range s.symbols {
		prefix, ok := slugPrefixes[symbol]
		if !ok {
			prefix = strings.ToLower(strings.TrimSuffix(symbol, "USDT"))
		}

		slug := fmt.Sprintf("%s-up-or-down-%dm-%d",
			prefix, int(s.intervalLength.Minutes()), boundary.Unix())

		market, err := s.fetchBySlug(slug, symbol)
		if err != nil {
			log.Debug().Str("slug", slug).Err(err).Msg("Market not found")
			continue
		}
		markets = append(markets, market)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("no active markets for %v", s.symbols)
	}
	return markets, nil
}

func (s *MarketScanner) fetchBySlug(slug, symbol string) (types.Market, error) {
	url := fmt.Sprintf("%s/events?slug=%s", s.apiURL, slug)

	resp, err := s.httpClient.Get(url)
	if err != nil {
		return types.Market{}, err
	}
	defer resp.Body.Close()

	var events []struct {
		ID      string `json:"id"`
		Slug    string `json:"slug"`
		Active  bool   `json:"active"`
		Closed  bool   `json:"closed"`
		EndDate string `json:"endDate"`
		Markets []struct {
			ConditionID  string `json:"conditionId"`
			ClobTokenIds string `json:"clobTokenIds"`
		} `json:"markets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return types.Market{}, fmt.Errorf("decode events: %w", err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return types.Market{}, fmt.Errorf("no event for slug %s", slug)
	}

	event := events[0]
	if !event.Active || event.Closed {
		return types.Market{}, fmt.Errorf("event %s not live", slug)
	}

	// clobTokenIds is a JSON array string: [up, down]
	var tokenIDs []string
	if err := json.Unmarshal([]byte(event.Markets[0].ClobTokenIds), &tokenIDs); err != nil {
		return types.Market{}, fmt.Errorf("parse token ids: %w", err)
	}
	if len(tokenIDs) < 2 {
		return types.Market{}, fmt.Errorf("expected 2 tokens, got %d", len(tokenIDs))
	}

	var endDate time.Time
	if event.EndDate != "" {
		endDate, _ = time.Parse(time.RFC3339, event.EndDate)
	}
	if endDate.IsZero() {
		endDate = s.now().Truncate(s.intervalLength).Add(s.intervalLength)
	}

	return types.Market{
		ID:          event.Markets[0].ConditionID,
		Symbol:      symbol,
		UpToken:     tokenIDs[0],
		DownToken:   tokenIDs[1],
		IntervalEnd: endDate,
	}, nil
}
