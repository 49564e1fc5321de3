package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/handlers"
	"stridelab-garmin-sync/internal/insights"
	"stridelab-garmin-sync/internal/metrics"
	"stridelab-garmin-sync/internal/middleware"
	"stridelab-garmin-sync/internal/oauth"
	syncer "stridelab-garmin-sync/internal/sync"
	"stridelab-garmin-sync/internal/tokens"
	"stridelab-garmin-sync/internal/worker"
)

func main() {
	syncUser := flag.String("sync-user", "", "Run one sync for the given user id and exit")
	trigger := flag.String("trigger", "manual", "Sync trigger for -sync-user: manual or backfill")

	flag.Parse()

	if *syncUser != "" {
		runCLI(*syncUser, *trigger)
		return
	}

	runServer()
}

func runCLI(userID, trigger string) {
	// Quiet structured logging for CLI use
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if trigger != syncer.TriggerManual && trigger != syncer.TriggerBackfill {
		fmt.Fprintf(os.Stderr, "Error: -trigger must be manual or backfill\n")
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cipher, err := tokens.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid token encryption key: %v\n", err)
		os.Exit(1)
	}

	client := garmin.NewClient(cfg.GarminAPIBaseURL, cfg.GarminTokenURL,
		cfg.GarminClientID, cfg.GarminClientSecret, cfg.HTTPTimeout, slog.Default())
	store := tokens.NewStore(db, client, cipher, slog.Default())
	orchestrator := syncer.NewOrchestrator(db, store, client, slog.Default())

	result := orchestrator.SyncUser(context.Background(), syncer.Request{
		UserID:  userID,
		Trigger: trigger,
	})

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status != 200 {
		os.Exit(1)
	}
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting stridelab-garmin-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	cipher, err := tokens.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		logger.Error("Invalid token encryption key", "error", err)
		os.Exit(1)
	}

	garminClient := garmin.NewClient(cfg.GarminAPIBaseURL, cfg.GarminTokenURL,
		cfg.GarminClientID, cfg.GarminClientSecret, cfg.HTTPTimeout, logger)
	tokenStore := tokens.NewStore(db, garminClient, cipher, logger)
	orchestrator := syncer.NewOrchestrator(db, tokenStore, garminClient, logger)

	// NATS is optional: without it derived metrics still land in the
	// database, they just don't feed the insights pipeline.
	var publisher *insights.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Error("Failed to connect to NATS, insights disabled", "error", err)
		} else {
			defer nc.Close()
			publisher = insights.NewPublisher(nc, cfg.NATSInsightsSubject, logger)
			logger.Info("Connected to NATS", "url", cfg.NATSURL, "subject", cfg.NATSInsightsSubject)
		}
	}

	oauthManager := oauth.NewManager(cfg, db, garminClient, cipher)
	oauthManager.SetOnConnected(func(userID string) {
		result := orchestrator.SyncUser(context.Background(), syncer.Request{
			UserID:  userID,
			Trigger: syncer.TriggerBackfill,
		})
		logger.Info("Initial backfill finished",
			"user_id", userID,
			"status", result.Status,
			"activities", result.ActivitiesUpserted,
			"daily_metrics", result.DailyMetricsUpserted)
	})

	oauthHandler := handlers.NewOAuthHandler(oauthManager, cfg)
	webhookHandler := handlers.NewWebhookHandler(db, cfg)
	syncHandler := handlers.NewSyncHandler(orchestrator, cfg)
	derivedHandler := handlers.NewDerivedHandler(db, cfg)

	mux := http.NewServeMux()

	mux.Handle("/oauth-start", middleware.WrapHandler(metrics.EndpointOAuthStart, oauthHandler.HandleAuthStart))
	mux.Handle("/oauth-callback", middleware.WrapHandler(metrics.EndpointOAuthCallback, oauthHandler.HandleCallback))
	mux.Handle("/garmin/webhook", middleware.WrapHandler(metrics.EndpointWebhook, webhookHandler.HandleExport))
	mux.Handle("/sync", middleware.WrapHandler(metrics.EndpointSync, syncHandler.HandleSync))
	mux.Handle("/derived", middleware.WrapHandler(metrics.EndpointDerived, derivedHandler.HandleGet))

	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	workerInstance := worker.NewWorker(db, publisher, cfg.WorkerConcurrency)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		logger.Info("Starting derive worker")
		if err := workerInstance.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Derive worker failed", "error", err)
		}
	}()

	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(workerCtx, db, 15*time.Second)
		}()
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	workerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	logger.Info("Server stopped")
}
