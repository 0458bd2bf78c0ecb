package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/params"
	"github.com/uhyunpark/stockex/pkg/api"
	"github.com/uhyunpark/stockex/pkg/app/core/engine"
	"github.com/uhyunpark/stockex/pkg/app/core/ledger"
	"github.com/uhyunpark/stockex/pkg/app/core/market"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/events"
	"github.com/uhyunpark/stockex/pkg/metrics"
	"github.com/uhyunpark/stockex/pkg/storage"
	"github.com/uhyunpark/stockex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics ----
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// ---- Storage + Ledger ----
	var store *storage.PebbleStore
	var ledgerStore ledger.Store
	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		store, err = storage.Open(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("storage_open_failed", "err", err)
		}
		defer store.Close()
		ledgerStore = store
	}
	led := ledger.New(ledgerStore, logger)
	if store != nil {
		accounts, err := store.LoadAccounts()
		if err != nil {
			sugar.Fatalw("load_accounts_failed", "err", err)
		}
		positions, err := store.LoadPositions()
		if err != nil {
			sugar.Fatalw("load_positions_failed", "err", err)
		}
		if err := led.Load(accounts, positions); err != nil {
			sugar.Fatalw("ledger_load_failed", "err", err)
		}
		sugar.Infow("ledger_loaded", "accounts", len(accounts), "positions", len(positions))
	}

	// ---- Instruments ----
	registry := market.NewRegistry()
	for _, spec := range cfg.Instruments {
		if _, err := registry.Register(spec.ID, spec.TotalShares, spec.LockedShares); err != nil {
			sugar.Fatalw("instrument_register_failed", "instrument", spec.ID, "err", err)
		}
	}
	sugar.Infow("instruments_registered", "count", registry.Count())

	// ---- Events ----
	bus := events.NewBus(cfg.Engine.EventBuffer, logger, m)
	bus.Subscribe(events.NewLogSink(logger))

	hub := api.NewHub(logger)
	bus.Subscribe(hub)

	var kafkaSink *events.KafkaSink
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafkaSink = events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		bus.Subscribe(kafkaSink)
	}
	var rdb *redis.Client
	if cfg.Events.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		bus.Subscribe(events.NewRedisPriceSink(rdb, cfg.Events.RedisPrefix))
	}

	// ---- Engine ----
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithPublisher(bus),
	}
	if store != nil {
		opts = append(opts, engine.WithJournal(store))
	}
	eng := engine.New(engine.Config{
		MarketBuyBufferBps: cfg.Engine.MarketBuyBufferBps,
		TradeHistory:       cfg.Engine.TradeHistory,
		OrderHistory:       cfg.Engine.OrderHistory,
	}, registry, led, opts...)

	if store != nil {
		orders, err := store.LoadOpenOrders()
		if err != nil {
			sugar.Fatalw("load_orders_failed", "err", err)
		}
		var trades []order.Trade
		for _, inst := range registry.List() {
			recent, err := store.LoadRecentTrades(inst.ID(), cfg.Engine.TradeHistory)
			if err != nil {
				sugar.Fatalw("load_trades_failed", "instrument", inst.ID(), "err", err)
			}
			trades = append(trades, recent...)
		}
		if err := eng.Restore(orders, trades); err != nil {
			sugar.Fatalw("restore_failed", "err", err)
		}
		for _, inst := range registry.List() {
			digest, err := eng.Digest(inst.ID())
			if err != nil {
				sugar.Fatalw("digest_failed", "instrument", inst.ID(), "err", err)
			}
			sugar.Infow("book_restored", "instrument", inst.ID(), "digest", hex.EncodeToString(digest[:8]))
		}
	}

	// Initial allocation: the whole tradable float goes to the issuer the
	// first time an instrument boots with no shares in anyone's hands
	for _, spec := range cfg.Instruments {
		if spec.Issuer == "" || led.TotalShares(spec.ID) > 0 {
			continue
		}
		inst, err := registry.Get(spec.ID)
		if err != nil {
			sugar.Fatalw("instrument_lookup_failed", "instrument", spec.ID, "err", err)
		}
		if err := eng.Issue(ctx, spec.Issuer, spec.ID, inst.OutstandingTradable(), 0); err != nil {
			sugar.Fatalw("initial_issue_failed", "instrument", spec.ID, "issuer", spec.Issuer, "err", err)
		}
	}

	go bus.Run(context.Background())
	go hub.Run(ctx)

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		AllowedOrigins: cfg.API.AllowedOrigins,
		TickSize:       cfg.API.TickSize,
	}, eng, hub, promReg, logger)

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("exchange_started", "api_addr", cfg.API.Addr, "data_dir", cfg.Node.DataDir)
	<-ctx.Done()
	sugar.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}

	// Drain events before closing the sinks behind them
	bus.Close()
	select {
	case <-bus.Done():
	case <-shutdownCtx.Done():
		sugar.Warn("event_drain_timeout")
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			sugar.Warnw("kafka_close_failed", "err", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
