package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/api"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/app"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("gastos-scheduler"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid config")
	}

	ctx := appLogger.WithContext(context.Background())

	components, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize ingestion components")
	}
	defer components.Close()

	sched, err := components.NewScheduler(&cfg.Scheduler, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize scheduler")
	}
	sched.Start()

	if cfg.Scheduler.RunOnStart {
		if _, err := sched.Trigger(); err != nil {
			appLogger.WithError(err).Warn("Startup run not started")
		}
	}

	router := api.SetupRouter(sched, &cfg.Server, appLogger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
			"cron": cfg.Scheduler.Cron,
		}).Info("Starting scheduler service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// An in-flight run gets the rest of the shutdown window to finish.
	if err := sched.Stop(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Ingestion run still in flight at exit")
	}

	appLogger.Info("Server exited")
}
