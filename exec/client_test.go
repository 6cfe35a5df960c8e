package exec

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientLiveRequiresKey(t *testing.T) {
	_, err := NewClient(Config{DryRun: false})
	assert.Error(t, err)

	_, err = NewClient(Config{DryRun: true})
	assert.NoError(t, err)
}

func TestDryRunSynthesizesFill(t *testing.T) {
	client, err := NewClient(Config{DryRun: true})
	require.NoError(t, err)

	price := decimal.NewFromFloat(0.48)
	size := decimal.NewFromFloat(20.8)
	result := client.PlaceOrder("tok-up", "BUY", price, size)

	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.True(t, strings.HasPrefix(result.OrderID, "DRY_"))
	assert.True(t, result.FilledPrice.Equal(price))
	assert.True(t, result.FilledSize.Equal(size))
}

func TestGetOrderBookTakesLastEntries(t *testing.T) {
	// bids ascending, asks descending: best of each side is the last entry
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-up", r.URL.Query().Get("token_id"))
		w.Write([]byte(`{
			"asset_id": "tok-up",
			"bids": [{"price":"0.40","size":"500"},{"price":"0.47","size":"120"}],
			"asks": [{"price":"0.60","size":"300"},{"price":"0.49","size":"80"}],
			"timestamp": "1700000000000"
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, DryRun: true})
	require.NoError(t, err)

	book, err := client.GetOrderBook("tok-up")
	require.NoError(t, err)
	assert.True(t, book.BestBid.Equal(decimal.NewFromFloat(0.47)))
	assert.True(t, book.BidSize.Equal(decimal.NewFromInt(120)))
	assert.True(t, book.BestAsk.Equal(decimal.NewFromFloat(0.49)))
	assert.True(t, book.AskSize.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, int64(1700000000000), book.Timestamp)
}

func TestGetOrderBooksBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`[
			{"asset_id":"tok-up","bids":[{"price":"0.47","size":"100"}],"asks":[{"price":"0.49","size":"100"}]},
			{"asset_id":"tok-down","bids":[{"price":"0.50","size":"100"}],"asks":[{"price":"0.52","size":"100"}]}
		]`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, DryRun: true})
	require.NoError(t, err)

	books, err := client.GetOrderBooksBatch([]string{"tok-up", "tok-down"})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.True(t, books["tok-up"].BestAsk.Equal(decimal.NewFromFloat(0.49)))
	assert.True(t, books["tok-down"].BestBid.Equal(decimal.NewFromFloat(0.50)))
}

func TestHTTPErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, DryRun: true})
	require.NoError(t, err)

	_, err = client.GetOrderBook("tok-up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
