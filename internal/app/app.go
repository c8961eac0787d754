// Package app wires configuration into the ingestion components shared by
// the scheduler service and the ingest CLI.
package app

import (
	"context"
	"fmt"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/amount"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/rates"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/service"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/source"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/storage"
)

// App holds the wired components.
type App struct {
	Store      repository.ReleaseStore
	Pipeline   *service.Pipeline
	Recomputer *service.Recomputer
	Health     *scheduler.HealthChecker
}

// Build opens the store and assembles the pipeline.
// Parameters:
//   - ctx: context bounding store connection.
//   - cfg: validated configuration.
//   - log: base logger.
//
// Returns:
//   - *App: wired components; call Close when done.
//   - error: non-nil if the store, fallback table or archive cannot be set up.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	fallback := rates.DefaultFallback()
	if cfg.Rates.FallbackFile != "" {
		t, err := rates.LoadFallback(cfg.Rates.FallbackFile)
		if err != nil {
			return nil, fmt.Errorf("load fallback rates: %w", err)
		}
		fallback = t
	}
	engine := amount.NewEngine(fallback, cfg.Rates.SpecialUnit)
	provider := rates.NewProvider(&cfg.Rates, log)

	var archive service.Archiver
	if cfg.Archive.Enabled {
		objects, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("init archive storage: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("archive bucket %s: %w", cfg.Archive.Bucket, err)
		}
		archive = storage.NewRawArchive(objects, cfg.Archive.Prefix, log)
		log.WithField("bucket", cfg.Archive.Bucket).Info("Raw document archive enabled")
	}

	store, err := repository.Open(ctx, &cfg.Database, log)
	if err != nil {
		return nil, err
	}

	discovery := source.NewFeedDiscovery(&cfg.Feed, source.DefaultIDExtractor(), log)
	orchestrator := service.NewFetchOrchestrator(source.NewFetcher(&cfg.Feed), service.FetchOptions{
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
		GroupDelay:  cfg.Ingest.GroupDelay,
		BatchDelay:  cfg.Ingest.BatchDelay,
	})
	persister := service.NewPersister(store, engine, archive, cfg.Ingest.UpsertBatchSize)

	restarter := scheduler.NewCommandRestarter(cfg.Recovery.RestartCommand, cfg.Recovery.Timeout, log)

	return &App{
		Store:      store,
		Pipeline:   service.NewPipeline(discovery, orchestrator, persister, provider, store, cfg.Ingest.LookbackMonths),
		Recomputer: service.NewRecomputer(store, engine, provider, cfg.Ingest.UpsertBatchSize),
		Health:     scheduler.NewHealthChecker(store, restarter, cfg.Recovery.SettleDelay, log),
	}, nil
}

// NewScheduler builds the cron-driven scheduler around the pipeline.
func (a *App) NewScheduler(cfg *config.SchedulerConfig, log *logger.Logger) (*scheduler.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(a.Pipeline, a.Health, scheduler.Options{
		Cron:       cfg.Cron,
		Location:   loc,
		ErrorReset: cfg.ErrorReset,
	}, log)
}

// Close releases the store connection.
func (a *App) Close() error {
	return a.Store.Close()
}
