package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinwatch/src/admission"
	"coinwatch/src/config"
	"coinwatch/src/helpers"
	"coinwatch/src/interfaces"
	"coinwatch/src/logger"
	"coinwatch/src/network"
	"coinwatch/src/scheduler"
	"coinwatch/src/server"
	"coinwatch/src/storage"
	"coinwatch/src/store"
	"coinwatch/src/upstream"

	"github.com/joho/godotenv"
)

// -----------------------------------------------------------------------------

func main() {

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 1. Logger
	appLogger := logger.GetLogger()
	if err := appLogger.Configure(cfg.LogLevel, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Printf("Error configuring logger: %v\n", err)
		os.Exit(1)
	}
	mainLog := appLogger.WithComponent("main")
	mainLog.WithFields(logger.Fields{
		"name":      cfg.Name,
		"env":       config.AppEnvironment(),
		"mem_limit": helpers.GetRecommendedMemoryLimit(),
	}).Info("starting up")

	// 2. Persistence backend
	var persistence interfaces.IPersistence
	switch cfg.Storage.DBType {
	case "sqlite":
		persistence, err = storage.NewSQLiteStore(cfg.MConfig, appLogger)
	case "postgres":
		persistence, err = storage.NewPostgresStore(cfg.MConfig, appLogger)
	default:
		persistence, err = storage.NewCSVStore(cfg.MConfig, appLogger)
	}
	if err != nil {
		mainLog.WithError(err).Fatal("failed to create persistence backend")
	}
	if err := persistence.Initialize(); err != nil {
		mainLog.WithError(err).Fatal("failed to initialize persistence backend")
	}
	defer persistence.Close()

	// 3. State store, seeded with the last persisted snapshot so restarts
	// serve data immediately and change tracking has a baseline.
	stateStore := store.NewStateStore(appLogger)
	if seed, err := persistence.Load(); err != nil {
		mainLog.WithError(err).Warn("could not load persisted snapshot, starting cold")
	} else if seed != nil {
		stateStore.Seed(seed)
		mainLog.WithFields(logger.Fields{"assets": len(seed)}).Info("seeded state from persistence")
	}

	// 4. Upstream client
	var netMgr interfaces.INetworkManager = network.NewAsyncNetworkManager(cfg.MConfig, appLogger)
	exchange := upstream.NewExchangeClient(cfg.MConfig, netMgr, appLogger)

	// 5. Admission control
	limiter := admission.NewRateLimiter(cfg.Limits, appLogger)
	breaker := admission.NewCircuitBreaker(
		cfg.Limits.BreakerFailures,
		time.Duration(cfg.Limits.BreakerCooldownSecs)*time.Second,
		appLogger,
	)

	// 6. Hub and scheduler, tied together for lazy activation: a subscriber
	// joining before the first fetch kicks an immediate refresh.
	hub := server.NewHub(cfg.MConfig, appLogger)
	sched := scheduler.NewScheduler(cfg.MConfig, appLogger, exchange, stateStore, persistence, breaker, hub)
	hub.SetActivate(sched.RefreshNow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go sched.Run(ctx)

	// 7. HTTP server
	srv := server.NewCoinwatchServer(cfg.MConfig, appLogger, hub, stateStore, limiter, breaker, exchange, sched)
	go func() {
		if err := srv.Start(); err != nil {
			mainLog.WithError(err).Error("server failed")
			cancel()
		}
	}()

	// 8. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		mainLog.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	if err := srv.Stop(); err != nil {
		mainLog.WithError(err).Warn("server stop reported error")
	}
	mainLog.Info("shutdown complete")
}
