// Command trader runs the paper-trading engine: market stream, per-symbol
// evaluation workers, refinement loop, history store and the HTTP facade.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paperbot/trading-engine/internal/adapter"
	"github.com/paperbot/trading-engine/internal/api"
	"github.com/paperbot/trading-engine/internal/arbitrage"
	"github.com/paperbot/trading-engine/internal/config"
	"github.com/paperbot/trading-engine/internal/engine"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/history/filestore"
	"github.com/paperbot/trading-engine/internal/history/pgstore"
	"github.com/paperbot/trading-engine/internal/notify"
	"github.com/paperbot/trading-engine/internal/observability"
	"github.com/paperbot/trading-engine/internal/strategyparam"
	"github.com/paperbot/trading-engine/internal/stream"
)

const (
	exitOK          = 0
	exitConfig      = 1
	exitStore       = 2
	exitInterrupted = 130
)

const (
	initialBalance  = 1000
	journalDir      = "data"
	bootstrapBars   = 200
	arbScanInterval = 5 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	log := observability.NewLogger(os.Stderr, *logLevel)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store history.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Msg("database unreachable")
			return exitStore
		}
		store = pg
		log.Info().Msg("history: postgres store")
	} else {
		fs, err := filestore.Open(journalDir)
		if err != nil {
			log.Error().Err(err).Msg("journal directory unusable")
			return exitStore
		}
		store = fs
		log.Info().Str("dir", journalDir).Msg("history: file store")
	}
	defer store.Close()

	params := strategyparam.Default()
	if cfg.StrategySeedFile != "" {
		seeded, err := strategyparam.LoadSeedFile(cfg.StrategySeedFile)
		if err != nil {
			log.Error().Err(err).Msg("strategy seed file invalid")
			return exitConfig
		}
		params = seeded
	}

	metrics := observability.NewMetrics()
	notifier := notify.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)

	mkt := stream.New(stream.GorillaDialer{}, stream.NewBinanceBootstrapper(), stream.DecodeBinanceKline, stream.BinanceWSURL)
	symbols := cfg.Symbols()
	for _, sym := range symbols {
		if err := mkt.Bootstrap(ctx, sym, cfg.Timeframe, bootstrapBars); err != nil {
			// Bootstrap failure is transient: the symbol starts
			// unstable and the breaker gates it until data arrives.
			log.Warn().Err(err).Str("symbol", sym).Msg("bootstrap failed, starting cold")
		}
		go mkt.Subscribe(ctx, sym, cfg.Timeframe)
	}

	eng := engine.New(engine.Options{
		Config:         cfg,
		Logger:         log,
		Store:          store,
		Market:         mkt,
		Notifier:       notifier,
		Metrics:        metrics,
		InitialParams:  params,
		InitialBalance: initialBalance,
	})

	venues := []adapter.Venue{
		adapter.NewBinance(),
		adapter.NewKuCoin(cfg.KuCoinAPIKey, cfg.KuCoinAPISecret, cfg.KuCoinAPIPassphrase),
		adapter.NewBybit(),
	}
	arb := arbitrage.New(venues, cfg.PaperSlippageBps, cfg.MinExpectedEdge, log)
	go arbScanLoop(ctx, arb, symbols)

	server := api.New(eng, cfg.BackendPort, cfg.CORSOrigin, metrics.Handler(), log)
	server.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	interrupted := false
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		interrupted = sig == os.Interrupt
		cancel()
		<-engineDone
	case <-engineDone:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	if interrupted {
		return exitInterrupted
	}
	return exitOK
}

// arbScanLoop runs the opportunistic cross-venue scan. Opportunities are
// logged; execution stays operator-driven.
func arbScanLoop(ctx context.Context, arb *arbitrage.Orchestrator, symbols []string) {
	tick := time.NewTicker(arbScanInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, sym := range symbols {
				arb.Scan(ctx, sym)
			}
		}
	}
}
