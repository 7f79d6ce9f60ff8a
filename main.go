package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"drug-analytics/api"
	"drug-analytics/app"
	"drug-analytics/config"
	"drug-analytics/services"
	"drug-analytics/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	logging, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Failed to initialize stores", zap.Error(err))
	}

	if cfg.JWTSecret == "" {
		logging.Warn("JWT_SECRET not set, upload and query endpoints are unauthenticated (in-memory store only)")
	}

	deps := api.Deps{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		MaxUploadBytes: cfg.MaxUploadBytes,
		JWTSecret:      cfg.JWTSecret,
		APISecretKey:   cfg.APISecretKey,
		Uploads:        a.Ingestion,
		Statuses:       a.Tracker,
		Drugs:          a.Query,
		Processor:      a.Ingestion,
		Log:            logging,
	}

	// Inline-Verarbeitung für lokalen Betrieb ohne Bucket-Notifications.
	var pool *worker.Pool
	if cfg.InlineProcessing {
		pool = worker.NewPool(cfg.WorkerCount, logging)
		pool.Start(context.Background())
		dispatcher := services.NewInlineDispatcher(a.Ingestion, pool, services.DispatchConfig{
			SubmitTimeout:     cfg.DispatchTimeout,
			ProcessingTimeout: cfg.ProcessingTimeout,
		}, logging)
		deps.Dispatch = dispatcher.Dispatch
		logging.Info("Inline processing enabled", zap.Int("workers", cfg.WorkerCount))
	}

	monitor := services.NewStaleUploadMonitor(a.Tracker, cfg.StaleAfter, logging)
	if err := monitor.Start(cfg.StaleCheckSchedule); err != nil {
		logging.Fatal("Failed to schedule stale upload check", zap.Error(err))
	}

	router := api.NewRouter(deps)

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
	monitor.Stop()
	if pool != nil {
		pool.Stop()
	}
}
