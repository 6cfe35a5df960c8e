package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORACLE FEED - On-chain aggregator poll
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls latestRoundData on the aggregator contract over public JSON-RPC.
// Slowest of the four sources but authoritative: a round that landed on
// chain is what the venue will resolve against. Updates dedupe by round id
// so downstream only sees genuine oracle movement.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// latestRoundData() selector
	latestRoundDataSelector = "0xfeaf968c"

	oracleDecimals = 8

	// consecutive non-rate-limit failures before rotating to the next RPC
	rotateAfterErrors = 3

	maxBackoff = 30 * time.Second
)

// OracleFeed polls an on-chain price aggregator
type OracleFeed struct {
	rpcURLs  []string
	feedAddr string
	symbol   string
	interval time.Duration

	httpClient *http.Client
	onPrice    func(types.PriceUpdate)

	mu            sync.RWMutex
	running       bool
	stopCh        chan struct{}
	urlIndex      int
	lastRound     uint64
	latest        decimal.Decimal
	consecErrors  int
	consecLimited int
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewOracleFeed creates an oracle poller for one aggregator contract
func NewOracleFeed(rpcURLs []string, feedAddr, symbol string, interval time.Duration, onPrice func(types.PriceUpdate)) *OracleFeed {
	return &OracleFeed{
		rpcURLs:    rpcURLs,
		feedAddr:   feedAddr,
		symbol:     symbol,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		onPrice:    onPrice,
		stopCh:     make(chan struct{}),
	}
}

// Start begins polling the aggregator
func (f *OracleFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.pollLoop()
	log.Info().
		Str("feed", f.feedAddr).
		Dur("interval", f.interval).
		Msg("⛓️ Oracle feed started")
}

// Stop halts polling
func (f *OracleFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	log.Info().Msg("Oracle feed stopped")
}

// LatestPrice returns the last on-chain answer seen
func (f *OracleFeed) LatestPrice() decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// LastRound returns the last round id seen
func (f *OracleFeed) LastRound() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastRound
}

func (f *OracleFeed) pollLoop() {
	// first poll immediately, then on the ticker
	f.poll()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *OracleFeed) poll() {
	round, answer, updatedAt, err := f.latestRoundData()
	if err != nil {
		f.handleError(err)
		return
	}

	f.mu.Lock()
	f.consecErrors = 0
	f.consecLimited = 0
	if round == f.lastRound {
		f.mu.Unlock()
		return
	}
	f.lastRound = round
	f.latest = answer
	f.mu.Unlock()

	log.Debug().
		Uint64("round", round).
		Str("price", answer.StringFixed(2)).
		Msg("Oracle round update")

	if f.onPrice != nil {
		f.onPrice(types.PriceUpdate{
			Source:    types.SourceOracleChain,
			Symbol:    f.symbol,
			Price:     answer,
			Timestamp: updatedAt * 1000,
			Sequence:  round,
		})
	}
}

// handleError backs off on rate limits and rotates the RPC endpoint after
// repeated hard failures.
func (f *OracleFeed) handleError(err error) {
	if isRateLimited(err) {
		f.mu.Lock()
		f.consecLimited++
		n := f.consecLimited
		f.mu.Unlock()

		backoff := time.Duration(n) * 10 * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("Oracle RPC rate limited")
		select {
		case <-time.After(backoff):
		case <-f.stopCh:
		}
		return
	}

	f.mu.Lock()
	f.consecErrors++
	rotate := f.consecErrors >= rotateAfterErrors
	if rotate {
		f.consecErrors = 0
		f.urlIndex = (f.urlIndex + 1) % len(f.rpcURLs)
	}
	url := f.rpcURLs[f.urlIndex]
	f.mu.Unlock()

	if rotate {
		log.Warn().Err(err).Str("rpc", url).Msg("Oracle RPC failing, rotated endpoint")
	} else {
		log.Error().Err(err).Msg("Oracle RPC call failed")
	}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate") ||
		strings.Contains(msg, "too many")
}

// latestRoundData calls the aggregator and decodes (roundId, answer, updatedAt)
func (f *OracleFeed) latestRoundData() (round uint64, answer decimal.Decimal, updatedAt int64, err error) {
	f.mu.RLock()
	url := f.rpcURLs[f.urlIndex]
	f.mu.RUnlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []interface{}{
			map[string]string{"to": f.feedAddr, "data": latestRoundDataSelector},
			"latest",
		},
		ID: 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, decimal.Zero, 0, err
	}

	resp, err := f.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, decimal.Zero, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decimal.Zero, 0, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, decimal.Zero, 0, err
	}
	if rpcResp.Error != nil {
		return 0, decimal.Zero, 0, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	raw, err := hexutil.Decode(rpcResp.Result)
	if err != nil {
		return 0, decimal.Zero, 0, fmt.Errorf("decode result: %w", err)
	}
	// latestRoundData returns 5 words: roundId, answer, startedAt, updatedAt, answeredInRound
	if len(raw) < 160 {
		return 0, decimal.Zero, 0, fmt.Errorf("short result: %d bytes", len(raw))
	}

	roundID := new(big.Int).SetBytes(raw[0:32])
	answerInt := new(big.Int).SetBytes(raw[32:64])
	updated := new(big.Int).SetBytes(raw[96:128])

	if answerInt.Sign() <= 0 {
		return 0, decimal.Zero, 0, fmt.Errorf("non-positive oracle answer")
	}

	answer = decimal.NewFromBigInt(answerInt, -oracleDecimals)
	return roundID.Uint64(), answer, updated.Int64(), nil
}
