package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/source"
	"github.com/google/uuid"
)

// RateSource yields the rate table for one run.
type RateSource interface {
	Fetch(ctx context.Context) domain.RateSnapshot
}

// Pipeline runs discovery, dedup, fetch and persistence for a set of periods.
type Pipeline struct {
	discoverer   source.Discoverer
	dedup        *Deduplicator
	orchestrator *FetchOrchestrator
	persister    *Persister
	rates        RateSource
	store        repository.ReleaseStore
	lookback     int
	now          func() time.Time
}

func NewPipeline(
	discoverer source.Discoverer,
	orchestrator *FetchOrchestrator,
	persister *Persister,
	rates RateSource,
	store repository.ReleaseStore,
	lookbackMonths int,
) *Pipeline {
	if lookbackMonths < 1 {
		lookbackMonths = 1
	}
	return &Pipeline{
		discoverer:   discoverer,
		dedup:        NewDeduplicator(store),
		orchestrator: orchestrator,
		persister:    persister,
		rates:        rates,
		store:        store,
		lookback:     lookbackMonths,
		now:          time.Now,
	}
}

// DefaultPeriods returns the months a scheduled run covers, oldest first.
func (p *Pipeline) DefaultPeriods(now time.Time) []domain.Period {
	return domain.PeriodOf(now).Lookback(p.lookback)
}

// Run ingests periods in order. A period whose index cannot be read is
// reported in the returned error while the remaining periods still run.
// A persistence failure aborts the run.
func (p *Pipeline) Run(ctx context.Context, periods []domain.Period) (*domain.RunStats, error) {
	start := time.Now()
	if logger.GetRunID(ctx) == "" {
		ctx = logger.SetRunID(ctx, uuid.NewString())
	}
	stats := &domain.RunStats{}
	snap := p.rates.Fetch(ctx)

	var errs []error
	for _, period := range periods {
		stats.Periods = append(stats.Periods, period.Key())
		pctx := logger.SetPeriod(ctx, period.Key())

		if err := p.runPeriod(pctx, period, snap, stats); err != nil {
			var perr *periodError
			if errors.As(err, &perr) {
				errs = append(errs, err)
				continue
			}
			stats.Duration = time.Since(start)
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	logger.With(logger.Fields{
		"discovered":     stats.Discovered,
		"existing":       stats.Existing,
		"fetched":        stats.Fetched,
		"fetch_failed":   stats.FetchFailed,
		"inserted":       stats.Inserted,
		"updated":        stats.Updated,
		"unchanged":      stats.Unchanged,
		"skipped":        stats.Skipped,
		"persist_failed": stats.PersistFailed,
	}).WithDuration(stats.Duration).Info(ctx, "Pipeline run finished")

	return stats, errors.Join(errs...)
}

type periodError struct {
	period domain.Period
	err    error
}

func (e *periodError) Error() string {
	return fmt.Sprintf("period %s: %v", e.period, e.err)
}

func (e *periodError) Unwrap() error {
	return e.err
}

func (p *Pipeline) runPeriod(ctx context.Context, period domain.Period, snap domain.RateSnapshot, stats *domain.RunStats) error {
	log := logger.FromContext(ctx).WithComponent("pipeline")

	descriptors, err := p.discoverer.Discover(ctx, period)
	if err != nil {
		log.WithError(err).Error("Discovery failed")
		return &periodError{period: period, err: err}
	}
	stats.Discovered += len(descriptors)

	diff, err := p.dedup.Diff(ctx, descriptors)
	if err != nil {
		return err
	}
	stats.Existing += len(diff.Existing)

	log.WithFields(logger.Fields{
		"discovered":      len(descriptors),
		"existing":        len(diff.Existing),
		logger.FieldCount: len(diff.New),
	}).Info("Fetching new releases")

	sink := func(ctx context.Context, batch []FetchResult) error {
		docs := make([]*source.FetchedDocument, 0, len(batch))
		for _, r := range batch {
			if r.Err != nil || r.Document == nil {
				stats.FetchFailed++
				log.WithField(logger.FieldReleaseID, r.Descriptor.ID).WithError(r.Err).Warn("Fetch failed")
				continue
			}
			stats.Fetched++
			docs = append(docs, r.Document)
		}

		us, err := p.persister.UpsertBatch(ctx, docs, snap)
		if err != nil {
			return err
		}
		stats.Inserted += us.Inserted
		stats.Updated += us.Updated
		stats.Unchanged += us.Unchanged
		stats.Skipped += us.Skipped
		stats.PersistFailed += us.Failed

		logger.With(logger.Fields{
			logger.FieldBatch: len(batch),
			"inserted":        us.Inserted,
			"updated":         us.Updated,
			"failed":          us.Failed,
		}).Info(ctx, "Batch persisted")
		return nil
	}

	if _, err := p.orchestrator.FetchAll(ctx, diff.New, sink); err != nil {
		return err
	}

	if n, err := p.store.CountByPeriod(ctx, period.Key()); err == nil {
		log.WithField(logger.FieldCount, n).Info("Period stored")
	}
	return nil
}
