package exec

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION CLIENT - CLOB order placement
// ═══════════════════════════════════════════════════════════════════════════════
//
// Narrow surface the engine trades through. In dry-run mode fills are
// synthesized at the requested price and size; live mode signs orders and
// submits them to the CLOB REST API.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Result is the outcome of one order attempt
type Result struct {
	Success     bool
	OrderID     string
	FilledSize  decimal.Decimal
	FilledPrice decimal.Decimal
	Err         error
}

// Executor is the execution surface the engine depends on
type Executor interface {
	PlaceOrder(tokenID, side string, price, size decimal.Decimal) Result
	GetOrderBook(tokenID string) (types.OrderBookUpdate, error)
	GetOrderBooksBatch(tokenIDs []string) (map[string]types.OrderBookUpdate, error)
}

// Config carries the client credentials and mode
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	PrivateKey string // hex, optional in dry-run
	Funder     string
	DryRun     bool
}

// Client talks to the CLOB REST API
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	funder     string
	privateKey *ecdsa.PrivateKey
	address    string
	dryRun     bool
	httpClient *http.Client
}

// NewClient creates an execution client
func NewClient(cfg Config) (*Client, error) {
	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		funder:     cfg.Funder,
		dryRun:     cfg.DryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		client.privateKey = pk
		client.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}
	if !cfg.DryRun && client.privateKey == nil {
		return nil, fmt.Errorf("live trading requires a private key")
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("mode", mode).
		Str("address", client.address).
		Msg("🚀 Execution client initialized")
	return client, nil
}

// IsDryRun reports whether fills are synthesized
func (c *Client) IsDryRun() bool {
	return c.dryRun
}

// PlaceOrder submits one limit order. Dry-run synthesizes an immediate
// full fill at the requested price.
func (c *Client) PlaceOrder(tokenID, side string, price, size decimal.Decimal) Result {
	if c.dryRun {
		orderID := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("order_id", orderID).
			Str("token", shortToken(tokenID)).
			Str("side", side).
			Str("price", price.StringFixed(2)).
			Str("size", size.StringFixed(2)).
			Msg("📝 DRY RUN: Order would be placed")
		return Result{
			Success:     true,
			OrderID:     orderID,
			FilledSize:  size,
			FilledPrice: price,
		}
	}

	order := map[string]interface{}{
		"tokenID":       tokenID,
		"price":         price.String(),
		"size":          size.String(),
		"side":          side,
		"maker":         c.funder,
		"expiration":    time.Now().Add(time.Minute).Unix(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return Result{Err: fmt.Errorf("signing failed: %w", err)}
	}
	order["signature"] = signature

	resp, err := c.post("/order", order)
	if err != nil {
		return Result{Err: err}
	}

	var result struct {
		OrderID    string `json:"orderID"`
		Status     string `json:"status"`
		TakingSize string `json:"takingAmount"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return Result{Err: fmt.Errorf("parse response: %w", err)}
	}
	if result.Error != "" {
		return Result{Err: fmt.Errorf("API error: %s", result.Error)}
	}

	filled := size
	if f, err := decimal.NewFromString(result.TakingSize); err == nil && f.IsPositive() {
		filled = f
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Msg("✅ Order placed")
	return Result{
		Success:     true,
		OrderID:     result.OrderID,
		FilledSize:  filled,
		FilledPrice: price,
	}
}

// GetOrderBook fetches one token's book via REST
func (c *Client) GetOrderBook(tokenID string) (types.OrderBookUpdate, error) {
	resp, err := c.get("/book?token_id=" + tokenID)
	if err != nil {
		return types.OrderBookUpdate{}, err
	}
	return parseBook(tokenID, resp)
}

// GetOrderBooksBatch fetches several books in one call
func (c *Client) GetOrderBooksBatch(tokenIDs []string) (map[string]types.OrderBookUpdate, error) {
	params := make([]map[string]string, len(tokenIDs))
	for i, id := range tokenIDs {
		params[i] = map[string]string{"token_id": id}
	}

	resp, err := c.post("/books", params)
	if err != nil {
		return nil, err
	}

	var raw []bookResponse
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse books: %w", err)
	}

	books := make(map[string]types.OrderBookUpdate, len(raw))
	for _, b := range raw {
		books[b.AssetID] = b.toUpdate()
	}
	return books, nil
}

type bookResponse struct {
	AssetID string `json:"asset_id"`
	Bids    []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
	Timestamp string `json:"timestamp"`
}

// toUpdate reduces a full REST book to top-of-book. Bids arrive ascending
// and asks descending from this endpoint, so best is the last entry.
func (b bookResponse) toUpdate() types.OrderBookUpdate {
	update := types.OrderBookUpdate{TokenID: b.AssetID, Timestamp: time.Now().UnixMilli()}
	if ts, err := decimal.NewFromString(b.Timestamp); err == nil {
		update.Timestamp = ts.IntPart()
	}
	if n := len(b.Bids); n > 0 {
		update.BestBid, _ = decimal.NewFromString(b.Bids[n-1].Price)
		update.BidSize, _ = decimal.NewFromString(b.Bids[n-1].Size)
	}
	if n := len(b.Asks); n > 0 {
		update.BestAsk, _ = decimal.NewFromString(b.Asks[n-1].Price)
		update.AskSize, _ = decimal.NewFromString(b.Asks[n-1].Size)
	}
	return update
}

func parseBook(tokenID string, data []byte) (types.OrderBookUpdate, error) {
	var raw bookResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("parse book: %w", err)
	}
	if raw.AssetID == "" {
		raw.AssetID = tokenID
	}
	return raw.toUpdate(), nil
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 16 {
		return tokenID
	}
	return tokenID[:16] + "..."
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	hash := crypto.Keccak256([]byte(message + c.apiSecret))
	return hexutil.Encode(hash)
}
