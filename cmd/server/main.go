package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safetymap/safetymap/internal/api"
	"github.com/safetymap/safetymap/internal/auth"
	"github.com/safetymap/safetymap/internal/config"
	"github.com/safetymap/safetymap/internal/intel"
	"github.com/safetymap/safetymap/internal/logging"
	"github.com/safetymap/safetymap/internal/metrics"
	"github.com/safetymap/safetymap/internal/scheduler"
	"github.com/safetymap/safetymap/internal/server"
	"github.com/safetymap/safetymap/internal/store"
	"github.com/safetymap/safetymap/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting safetymap")

	// Remote backend is optional: a missing or unreachable database means
	// the coordinator runs on the local store from the start.
	var remote store.Store
	if cfg.Database.URL != "" {
		remoteCfg := store.DefaultRemoteConfig()
		remoteCfg.URL = cfg.Database.URL
		remoteCfg.ConnectTimeout = cfg.Sync.ConnectTimeout

		remoteStore, err := store.NewRemoteStore(context.Background(), remoteCfg, logger)
		if err != nil {
			logger.Warn("remote store unavailable, running on local store", "error", err)
		} else {
			if err := remoteStore.Migrate("./migrations"); err != nil {
				logger.Warn("failed to run migrations, continuing anyway", "error", err)
			}
			remote = remoteStore
			defer remoteStore.Close()
			logger.Info("remote store connected")
		}
	} else {
		logger.Info("no DATABASE_URL configured, running on local store")
	}

	local, err := store.NewLocalStore(cfg.Database.LocalStorePath, logger)
	if err != nil {
		logger.Error("failed to open local store", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	// AI collaborations are optional too: without an API key the service
	// runs without scanning, cleanup advice, or analysis.
	var (
		advisor syncer.DedupAdvisor
		scanner api.ThreatScanner
		analyst api.SituationAnalyst
	)
	intelClient, err := intel.NewClient(intel.ConfigFromEnv(), logger)
	if err != nil {
		logger.Warn("AI features disabled", "error", err)
	} else {
		advisor = intelClient
		scanner = intelClient
		analyst = intelClient
	}

	httpCollector, err := metrics.NewHTTPCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	syncCollector, err := metrics.NewSyncCollector(httpCollector.Registry())
	if err != nil {
		logger.Error("failed to init sync metrics", "error", err)
		os.Exit(1)
	}

	coordinator := syncer.New(remote, local, advisor, syncCollector, syncer.Config{
		ConnectTimeout: cfg.Sync.ConnectTimeout,
	}, logger)

	if err := coordinator.SeedIfEmpty(context.Background()); err != nil {
		logger.Warn("seeding failed", "error", err)
	}

	// The startup subscription drives the bind-state machine (remote
	// changefeed, connect-timeout failover) and feeds the stream hub that
	// backs /api/reports/stream.
	streamHub := api.NewStreamHub(logger)
	unsubscribe, err := coordinator.Subscribe(context.Background(), streamHub.OnReports, streamHub.OnLastUpdated)
	if err != nil {
		logger.Error("failed to subscribe to report feed", "error", err)
		os.Exit(1)
	}
	defer unsubscribe()

	gate := auth.NewGate(cfg.Auth.AccessCodeHash, cfg.Auth.JWTSecret)
	if !gate.Enabled() {
		logger.Warn("admin access code not configured, privileged routes disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", httpCollector.Handler())

	handler := api.NewHandler(coordinator, scanner, analyst, gate, streamHub, logger)
	api.SetupRoutes(mux, handler, gate)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if scanner != nil && cfg.Scan.Enabled {
		scanScheduler := scheduler.NewScanScheduler(scanner, coordinator, cfg.Scan.Interval, logger)
		go scanScheduler.Start(rootCtx)
		defer scanScheduler.Stop()
	}

	srv := server.New(cfg.Server, logger, httpCollector.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("safetymap started successfully")
	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	<-rootCtx.Done()

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
