// updown - real-time research and trading engine for Up/Down interval markets.
//
// Ingests four asynchronous price sources (direct exchange trades, the
// venue's spot and oracle mirrors, on-chain aggregator polling) plus the
// outcome-token order books, aligns them on a fixed publication tick, and
// evaluates every snapshot through a tiered signal detector backed by a
// frozen empirical probability surface. When live trading is enabled the
// engine drives paired two-leg entries with partial-exit handling and
// risk circuit breakers.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/core"
	"github.com/polyedge/updown/exec"
	"github.com/polyedge/updown/feeds"
	"github.com/polyedge/updown/internal/config"
	"github.com/polyedge/updown/model"
	"github.com/polyedge/updown/notify"
	"github.com/polyedge/updown/risk"
	"github.com/polyedge/updown/storage"
	"github.com/polyedge/updown/strategy"
	"github.com/polyedge/updown/types"
)

const version = "1.2.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Strs("symbols", cfg.Symbols).
		Bool("dry_run", cfg.DryRun).
		Msg("⚡ updown engine starting...")

	// Probability surface is mandatory; refusing to trade blind
	surface, err := model.LoadSurface(cfg.SurfacePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load probability surface")
	}

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	executor, err := exec.NewClient(exec.Config{
		BaseURL:    cfg.CLOBURL,
		APIKey:     cfg.CLOBApiKey,
		APISecret:  cfg.CLOBApiSecret,
		Passphrase: cfg.CLOBPassphrase,
		PrivateKey: cfg.PrivateKey,
		Funder:     cfg.FunderAddress,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize execution client")
	}

	// ====== CORE COMPONENTS ======

	calculator := model.NewCalculator(model.CalculatorConfig{
		FeeRate:       cfg.FeeRate,
		MinEdge:       cfg.MomentumMinEdge,
		MinConfidence: cfg.MomentumMinConf,
	})
	vol := model.NewVolEstimator(5 * time.Minute)

	evaluator := strategy.NewEvaluator(strategy.Config{
		DutchBookThreshold:    cfg.DutchBookMax,
		MaxCombinedPrice:      cfg.LagArbMaxCombined,
		MomentumTrigger:       cfg.MomentumTrigger,
		MomentumMinEdge:       cfg.MomentumMinEdge,
		MomentumMinConfidence: cfg.MomentumMinConf,
		MinTimeRemaining:      cfg.MinTimeRemaining,
		FlashCrashThreshold:   cfg.FlashCrashTrigger,
		ReversionTarget:       cfg.ReversionFraction,
	})

	riskMgr := risk.NewManager(risk.Limits{
		MaxConsecutiveLosses: cfg.MaxConsecLosses,
		CooldownAfterLoss:    time.Duration(cfg.CooldownSeconds) * time.Second,
		MaxDailyLoss:         cfg.MaxDailyLoss,
		MaxTotalExposure:     cfg.MaxExposure,
	})
	positions := core.NewPositionManager()

	scanner := feeds.NewMarketScanner("https://gamma-api.polymarket.com", cfg.Symbols, cfg.IntervalLength)

	engine := core.NewEngine(
		evaluator, strategy.DefaultExitConfig(),
		surface, calculator, vol,
		positions, riskMgr, executor, db, scanner,
		cfg.BaseSize,
	)

	// ====== SYNCHRONIZER & FEEDS ======

	synchronizer := core.NewSynchronizer(cfg.TickEvery, cfg.RingSize, engine.OnSnapshot)
	if cfg.SpoolPath != "" {
		spool, err := core.NewSpooler(cfg.SpoolPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open snapshot spool")
		}
		defer spool.Close()
		synchronizer.SetSpool(spool)
	}

	tracker := feeds.NewPriceTracker(
		cfg.WindowSpan, cfg.MoveThreshold, cfg.IntervalLength,
		feeds.NewRESTCandles(cfg.KlinesURL),
		engine.OnDirectionSignal,
	)

	spotFeed := feeds.NewSpotFeed(cfg.SpotWSURL, cfg.Symbols, tracker.OnTrade, synchronizer.OnPrice)
	venueFeed := feeds.NewVenueFeed(cfg.VenueWSURL, venuePairs(cfg.Symbols), synchronizer.OnPrice)
	oracleFeed := feeds.NewOracleFeed(cfg.OracleRPCURLs, cfg.OracleFeedAddr, cfg.Symbols[0], cfg.OraclePollEvery, synchronizer.OnPrice)

	engine.Start()

	bookFeed := feeds.NewBookFeed(cfg.BookWSURL, marketTokens(engine.Markets()), synchronizer.OnBook)
	spotFeed.SetReconnectDelay(cfg.ReconnectEvery)
	venueFeed.SetReconnectDelay(cfg.ReconnectEvery)
	bookFeed.SetReconnectDelay(cfg.ReconnectEvery)

	// follow interval rollovers and manual refreshes onto the book stream
	engine.SetMarketListener(func(markets []types.Market) {
		bookFeed.SetTokens(marketTokens(markets))
	})

	spotFeed.Start()
	venueFeed.Start()
	oracleFeed.Start()
	bookFeed.Start()
	synchronizer.Start()

	// ====== NOTIFICATIONS ======

	notifier, err := notify.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram disabled")
	}
	go func() {
		for event := range engine.Events() {
			notifier.Notify(event)
		}
	}()

	// Daily reset at local midnight
	go func() {
		for {
			now := time.Now()
			time.Sleep(nextMidnight(now).Sub(now))
			riskMgr.ResetDaily()
		}
	}()

	log.Info().Msg("✅ All systems online")

	// ====== SIGNALS ======

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range quit {
		if sig == syscall.SIGHUP {
			log.Info().Msg("🔄 Refresh signal, re-discovering markets")
			engine.Refresh()
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("🛑 Received shutdown signal")
		break
	}

	// Graceful shutdown: engine first so nothing trades against dead feeds
	log.Info().Msg("Shutting down...")

	engine.Stop()
	synchronizer.Stop()
	bookFeed.Stop()
	oracleFeed.Stop()
	venueFeed.Stop()
	spotFeed.Stop()
	db.Close()

	log.Info().Msg("👋 Goodbye!")
}

// venuePairs maps exchange symbols to the venue's pair naming
func venuePairs(symbols []string) map[string]string {
	pairs := make(map[string]string, len(symbols))
	for _, s := range symbols {
		base := strings.ToLower(strings.TrimSuffix(s, "USDT"))
		pairs[base+"/usd"] = s
	}
	return pairs
}

// marketTokens flattens the working set into its outcome token ids
func marketTokens(markets []types.Market) []string {
	tokens := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		tokens = append(tokens, m.UpToken, m.DownToken)
	}
	return tokens
}

// nextMidnight returns the first local midnight after t, in t's zone
func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
