package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/config"
	"github.com/mamadbah2/bloodbank/internal/metrics"
	"github.com/mamadbah2/bloodbank/internal/repository/mongodb"
	"github.com/mamadbah2/bloodbank/internal/repository/sheets"
	"github.com/mamadbah2/bloodbank/internal/scheduler"
	"github.com/mamadbah2/bloodbank/internal/server/handlers"
	"github.com/mamadbah2/bloodbank/internal/server/router"
	alertsvc "github.com/mamadbah2/bloodbank/internal/service/alerts"
	"github.com/mamadbah2/bloodbank/internal/service/bloodbank"
	reportingsvc "github.com/mamadbah2/bloodbank/internal/service/reporting"
	alertclient "github.com/mamadbah2/bloodbank/pkg/clients/alerts"
	"github.com/mamadbah2/bloodbank/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Logging.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	mongoRepo, err := mongodb.NewMongoDBRepository(startCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
	if err != nil {
		baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
	}
	defer func() {
		if err := mongoRepo.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}()

	var notifier bloodbank.Notifier = alertsvc.NewLogNotifier(baseLogger.Named("svc.alerts"))
	if cfg.Alerts.WebhookURL != "" {
		webhook := alertsvc.NewWebhookNotifier(
			alertclient.NewClient(cfg.Alerts),
			alertsvc.NewCooldown(alertsvc.DefaultCooldown),
			baseLogger.Named("svc.alerts.webhook"))
		notifier = alertsvc.Multi{notifier, webhook}
		baseLogger.Info("alert webhook enabled")
	}

	recorder := metrics.NewRecorder()

	engine, err := bloodbank.New(bloodbank.SettingsFromConfig(cfg.Inventory), baseLogger.Named("svc.bloodbank"),
		bloodbank.WithStore(mongoRepo),
		bloodbank.WithNotifier(notifier),
		bloodbank.WithMetrics(recorder))
	if err != nil {
		baseLogger.Fatal("failed to build engine", zap.Error(err))
	}
	if err := engine.Restore(startCtx); err != nil {
		baseLogger.Fatal("failed to restore engine state", zap.Error(err))
	}

	var sheetsRepo sheets.Repository
	if cfg.Sheets.Enabled() {
		repo, err := sheets.NewGoogleSheetRepository(startCtx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		sheetsRepo = repo
	} else {
		baseLogger.Warn("google sheets not configured, daily report goes to mongodb only")
	}
	reportingSvc := reportingsvc.NewService(engine, sheetsRepo, mongoRepo, baseLogger.Named("svc.reporting"))

	sched, err := scheduler.NewScheduler(cfg.Scheduler, engine, reportingSvc, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to build scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	inventoryHandler := handlers.NewInventoryHandler(engine, baseLogger.Named("handlers.inventory"))
	requestHandler := handlers.NewRequestHandler(engine, baseLogger.Named("handlers.requests"))
	httpEngine := router.New(inventoryHandler, requestHandler, recorder.Handler(), baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpEngine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := engine.Flush(shutdownCtx); err != nil {
		baseLogger.Error("pending writes lost on shutdown", zap.Error(err))
	}
}
