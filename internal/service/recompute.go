package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/amount"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
)

// Recomputer refreshes amounts stored under an older calculation version.
type Recomputer struct {
	store    repository.ReleaseStore
	engine   *amount.Engine
	rates    RateSource
	subBatch int
	now      func() time.Time
}

func NewRecomputer(store repository.ReleaseStore, engine *amount.Engine, rates RateSource, subBatch int) *Recomputer {
	if subBatch <= 0 {
		subBatch = 100
	}
	return &Recomputer{store: store, engine: engine, rates: rates, subBatch: subBatch, now: time.Now}
}

// RecomputeStale recomputes up to limit stale records (0 means no limit)
// with a fresh rate snapshot.
func (r *Recomputer) RecomputeStale(ctx context.Context, limit int) (UpsertStats, error) {
	var stats UpsertStats
	log := logger.FromContext(ctx).WithComponent("recompute")

	stale, err := r.store.ListStale(ctx, domain.CalculationVersion, limit)
	if err != nil {
		return stats, fmt.Errorf("recompute: %w", err)
	}
	if len(stale) == 0 {
		log.Info("No stale records")
		return stats, nil
	}

	snap := r.rates.Fetch(ctx)
	now := r.now().UTC()

	pending := make([]pendingRecord, 0, len(stale))
	for _, rec := range stale {
		var prev *float64
		if rec.Amount != nil {
			v := rec.Amount.PrimaryAmount
			prev = &v
		}
		summary := r.engine.Compute(rec.Awards, snap, amount.Options{
			IncludeVersionInfo: true,
			WasVersionUpdate:   true,
			PreviousAmount:     prev,
			ComputedAt:         now,
		})
		rec.Amount = &summary
		rec.Source.IngestedAt = now

		hash, err := rec.Fingerprint()
		if err != nil {
			stats.Failed++
			continue
		}
		rec.ContentHash = hash
		pending = append(pending, pendingRecord{record: rec, existed: true})
	}

	p := &Persister{store: r.store, subBatch: r.subBatch}
	for start := 0; start < len(pending); start += r.subBatch {
		end := min(start+r.subBatch, len(pending))
		stats.Add(p.write(ctx, pending[start:end], log))
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(stale),
		"updated":         stats.Updated,
		"failed":          stats.Failed,
	}).Info(ctx, "Recompute finished")
	return stats, nil
}
