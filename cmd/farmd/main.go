package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/api"
	"github.com/wnt/farmdash/internal/config"
	"github.com/wnt/farmdash/internal/database"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/logger"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/queue"
	"github.com/wnt/farmdash/internal/rpc"
	"github.com/wnt/farmdash/internal/services"
	"github.com/wnt/farmdash/internal/worker"
)

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	baseLogger := logger.WithAccount(logger.New(cfg.LogLevel), cfg.Account)

	farms, ordered, err := config.LoadFarms(cfg.FarmsFile)
	if err != nil {
		log.Fatalf("Failed to load farms: %v", err)
	}

	pool, err := rpc.NewPool(cfg.RPCEndpoints, cfg.RPCRateLimit, rpc.DialEthclient, baseLogger)
	if err != nil {
		log.Fatalf("Failed to create RPC pool: %v", err)
	}
	reader := ledger.NewEVMReader(rpc.NewFetcher(pool, baseLogger), farms)

	prices := services.NewPriceClient(cfg.PriceAPIURL, cfg.PriceChain, reader, cfg.PriceTTL, baseLogger)
	poolStats := services.NewPoolStatsService(reader, prices, farms)

	queueClient, err := queue.NewClient(cfg.RedisURL, baseLogger)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer queueClient.Close()
	sink := ledger.NewQueueSink(queueClient, farms, cfg.Account, baseLogger)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	store := database.NewStore(db, cfg.Account, baseLogger)

	registry := position.NewRegistry()
	clock := ledger.SystemClock{}
	manager := worker.NewManager(worker.Options{
		RefreshInterval:   cfg.RefreshInterval,
		ClaimTickInterval: cfg.ClaimTickInterval,
		ResultPoll:        cfg.ResultPollInterval,
		StuckTimeout:      cfg.StuckActionTimeout,
	}, registry, queueClient, sink, clock, baseLogger)
	manager.WatchEndpoints(pool)

	sources := worker.Sources{
		Balances:   reader,
		Staked:     reader,
		Rewards:    reader,
		Prices:     prices,
		Pools:      poolStats,
		Allowances: reader,
		Locks:      reader,
		Clock:      clock,
	}

	machines := make(map[string]*action.Machine, len(ordered))
	for _, farm := range ordered {
		m := action.NewMachine(action.Config{
			PositionID:   farm.ID,
			Account:      cfg.Account,
			Spender:      farm.Contract,
			DepositToken: farm.DepositToken,
			EarnToken:    farm.EarnToken,
			ZapSources:   farm.ZapSources,
		}, action.Dependencies{
			Approvals:  sink,
			Actions:    sink,
			Allowances: reader,
			Balances:   reader,
			Clock:      clock,
			Recorder:   store,
			OnSettled:  manager.OnSettled,
		}, baseLogger)
		machines[farm.ID] = m

		// Seed the registry so a failed first refresh still serves stale values
		if last, err := store.RestoreSnapshot(context.Background(), cfg.Account, farm); err == nil {
			registry.Put(last)
			baseLogger.Info().Str("position_id", farm.ID).Time("built_at", last.BuiltAt).Msg("Restored last snapshot")
		} else if !errors.Is(err, database.ErrNotFound) {
			baseLogger.Warn().Err(err).Str("position_id", farm.ID).Msg("Failed to restore last snapshot")
		}

		w := worker.NewWorker(farm, cfg.Account, sources, registry, m, store, cfg.ReadTimeout, baseLogger)
		if err := manager.Add(w); err != nil {
			log.Fatalf("Failed to register worker: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker manager: %v", err)
	}

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(api.Config{Registry: registry, Machines: machines, History: store, Clock: clock, Logger: baseLogger}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, srv := range []*http.Server{apiServer, metricsServer} {
		srv := srv
		go func() {
			baseLogger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				baseLogger.Error().Err(err).Str("addr", srv.Addr).Msg("HTTP server failed")
				stop()
			}
		}()
	}

	baseLogger.Info().Int("farms", len(farms)).Msg("farmdash started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			baseLogger.Warn().Err(err).Str("addr", srv.Addr).Msg("HTTP server shutdown")
		}
	}
	if err := manager.Stop(); err != nil {
		baseLogger.Error().Err(err).Msg("Worker manager stopped with error")
	}
}
