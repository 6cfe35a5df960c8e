package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SURFACE_PATH", "surface.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, 100*time.Millisecond, cfg.TickEvery)
	assert.Equal(t, 15*time.Minute, cfg.IntervalLength)
	assert.True(t, cfg.DutchBookMax.Equal(decimal.NewFromFloat(0.99)))
	assert.Equal(t, 0.05, cfg.FlashCrashTrigger)
	assert.Equal(t, 3, cfg.MaxConsecLosses)
	assert.True(t, cfg.BaseSize.Equal(decimal.NewFromInt(10)))
	assert.NotEmpty(t, cfg.OracleRPCURLs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SURFACE_PATH", "surface.json")
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("INTERVAL_LENGTH", "1h")
	t.Setenv("MOMENTUM_MIN_EDGE", "0.05")
	t.Setenv("MAX_DAILY_LOSS", "250")
	t.Setenv("ORACLE_RPC_URLS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, time.Hour, cfg.IntervalLength)
	assert.Equal(t, 0.05, cfg.MomentumMinEdge)
	assert.True(t, cfg.MaxDailyLoss.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.OracleRPCURLs)
}

func TestLoadValidation(t *testing.T) {
	// surface path is mandatory
	t.Setenv("SURFACE_PATH", "")
	_, err := Load()
	assert.Error(t, err)

	// live trading needs a wallet key
	t.Setenv("SURFACE_PATH", "surface.json")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("WALLET_PRIVATE_KEY", "")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("DRY_RUN", "true")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	_, err = Load()
	assert.Error(t, err)
}
