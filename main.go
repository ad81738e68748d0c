package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/audit"
	"execution-core/internal/broker"
	"execution-core/internal/bus"
	"execution-core/internal/engine"
	"execution-core/internal/ledger"
	"execution-core/internal/lifecycle"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/strategy"
	"execution-core/pkg/config"
	"execution-core/pkg/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Printf("execution core starting (version=%s dry_run=%v symbols=%v)", buildVersion, cfg.DryRun, cfg.Symbols)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	feedCtx, feedCancel := context.WithCancel(rootCtx)
	defer feedCancel()

	// Persistence
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	log.Printf("store: using %s", cfg.DBPath)

	// Core services
	signalBus := bus.NewBus(cfg.SignalBuffer)
	riskLedger := ledger.New(ledger.RiskBudget{
		MaxNotionalPerPosition: cfg.MaxNotionalPerPosition,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
	})
	log.Printf("ledger: notional cap %.2f, concurrent cap %d", cfg.MaxNotionalPerPosition, cfg.MaxConcurrentPositions)

	paper := broker.NewPaper(broker.PaperConfig{
		SlippageBps: cfg.SlippageBps,
		FillSteps:   cfg.FillSteps,
		RatePerSec:  cfg.BrokerRatePerSec,
		Burst:       cfg.BrokerBurst,
	}, time.Now().UnixNano())

	tracker := lifecycle.NewTracker(paper, riskLedger.LastPrice, lifecycle.Config{
		MaxAttempts:  cfg.PlaceMaxAttempts,
		BackoffBase:  cfg.PlaceBackoffBase,
		PollInterval: cfg.PollInterval,
	})

	metrics := monitor.NewMetrics()
	recorder := audit.NewRecorder(st)
	go recorder.Run(rootCtx, signalBus.AuditTap())

	// Order engine
	eng := engine.New(engine.Config{
		BaseOrderNotional: cfg.BaseOrderNotional,
		DryRun:            cfg.DryRun,
		Shards:            cfg.EngineShards,
	}, signalBus, riskLedger, tracker, recorder, metrics)
	engineDone := make(chan struct{})
	go func() {
		eng.Run(rootCtx)
		close(engineDone)
	}()
	if cfg.DryRun {
		log.Println("engine: dry-run mode, fills are simulated")
	}

	// Strategies
	stratConfigs, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		log.Fatalf("strategies: load %s: %v", cfg.StrategiesPath, err)
	}
	strategies, err := strategy.BuildAll(stratConfigs)
	if err != nil {
		log.Fatalf("strategies: %v", err)
	}
	log.Printf("strategies: %d active", len(strategies))

	// Market data
	feed := &market.MockFeed{
		Symbols:    cfg.Symbols,
		StartPrice: cfg.FeedStartPrice,
		Step:       cfg.FeedStep,
		Interval:   cfg.FeedInterval,
		Seed:       time.Now().UnixNano(),
	}
	feed.Start(feedCtx)

	runner := &strategy.Runner{
		Bus:        signalBus,
		Ledger:     riskLedger,
		Metrics:    metrics,
		Strategies: strategies,
		OnPrice:    paper.SetPrice,
	}
	runnerDone := make(chan struct{})
	go func() {
		runner.Run(feedCtx, feed.Bars())
		close(runnerDone)
	}()

	// Mirror position snapshots for offline inspection. Trades stay the
	// source of truth.
	go mirrorPositions(rootCtx, riskLedger, st)

	// API
	server := api.NewServer(riskLedger, tracker, recorder, metrics, st, api.SystemMeta{
		DryRun:  cfg.DryRun,
		Symbols: cfg.Symbols,
		Version: buildVersion,
		Started: time.Now().UTC(),
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Stop intake first: feed, then runner, then the bus. The engine drains
	// whatever was already published before orders get canceled.
	feedCancel()
	<-runnerDone
	signalBus.Close()
	<-engineDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	rootCancel()
	log.Println("shutdown complete")
}

// mirrorPositions periodically writes the ledger's open positions to the
// store, deleting rows for symbols that went flat.
func mirrorPositions(ctx context.Context, l *ledger.Ledger, st *store.Store) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()

	prev := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cur := make(map[string]struct{})
			for _, p := range l.Positions() {
				cur[p.Symbol] = struct{}{}
				err := st.UpsertPosition(ctx, store.PositionRow{
					Symbol:    p.Symbol,
					Qty:       p.Qty,
					AvgCost:   p.AvgCost,
					LastPrice: p.LastPrice,
				})
				if err != nil {
					log.Printf("mirror: %v", err)
				}
			}
			for sym := range prev {
				if _, ok := cur[sym]; !ok {
					if err := st.UpsertPosition(ctx, store.PositionRow{Symbol: sym}); err != nil {
						log.Printf("mirror: %v", err)
					}
				}
			}
			prev = cur
		}
	}
}
